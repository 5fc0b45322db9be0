// Package mcp implements the Model Context Protocol server for AKSI.
//
// The MCP server exposes the validation, causality, decision and task
// capabilities of the HTTP API as MCP tools and resources, so MCP-compatible
// agents can check their drafts before anything is posted to a tracker.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/causality"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/service/orchestrator"
	"github.com/konard/MILANA808-Milana-backend/internal/service/quality"
)

// TaskRunner schedules and reports background analyze-and-act tasks.
type TaskRunner interface {
	Submit(ctx context.Context, req orchestrator.Request) (string, error)
	Status(ctx context.Context, id string) (model.Task, error)
}

// Deps are the services the MCP tools call into.
type Deps struct {
	Validator    *quality.Validator
	Causality    *causality.Engine
	Orchestrator *orchestrator.Orchestrator
	Tasks        TaskRunner
	Events       eventlog.Recorder
	Logger       *slog.Logger

	// DefaultRepository is used by aksi_submit_task when neither the caller
	// nor the client's workspace roots name one.
	DefaultRepository string
}

// Server wraps the MCP server with AKSI's service layer.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	deps        Deps
	logger      *slog.Logger
	submits     *submitTracker
	rootsCache  *rootsCache
	defaultRepo string
}

// New creates and configures a new MCP server with all resources, tools and prompts.
func New(deps Deps, version string) *Server {
	if deps.Events == nil {
		deps.Events = eventlog.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:        deps,
		logger:      deps.Logger,
		submits:     newSubmitTracker(10 * time.Minute),
		rootsCache:  newRootsCache(),
		defaultRepo: deps.DefaultRepository,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"aksi",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `AKSI checks issue and pull request drafts before they are posted.
Call aksi_validate_issue or aksi_validate_pr on every draft and fix reported errors first.
Use aksi_submit_task to run a repository analysis in the background and aksi_task_status to poll it.`

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// jsonResult encodes v as the single text content of a tool result.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}},
	}, nil
}
