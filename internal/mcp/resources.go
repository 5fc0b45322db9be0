package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	statsURI           = "aksi://stats"
	recentDecisionsURI = "aksi://decisions/recent"
)

func (s *Server) registerResources() {
	// aksi://stats: workflow counters and autonomy metrics.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			statsURI,
			"AKSI Stats",
			mcplib.WithResourceDescription("Workflow counters, autonomy metrics and the action threshold"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	// aksi://decisions/recent: the autonomy engine's recent decisions.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentDecisionsURI,
			"Recent Decisions",
			mcplib.WithResourceDescription("The 20 most recent autonomy decisions, oldest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDecisionsRecent,
	)
}

func (s *Server) handleStatsResource(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(statsURI, s.stats())
}

func (s *Server) handleDecisionsRecent(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(recentDecisionsURI, map[string]any{
		"decisions": s.deps.Orchestrator.Autonomy().History(20),
	})
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
