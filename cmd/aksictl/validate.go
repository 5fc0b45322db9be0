package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/causality"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/service/quality"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "validate", Short: "Score drafts offline"}
	cmd.AddCommand(validateIssueCmd())
	cmd.AddCommand(validatePRCmd())
	return cmd
}

func validateIssueCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Score an issue draft (YAML: title, body, labels, existing_issues)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var draft model.ValidateIssueRequest
			if err := readDraft(cmd, file, &draft); err != nil {
				return err
			}
			v := quality.New(eventlog.Nop{})
			res := v.ValidateIssue(cmd.Context(), draft.Title, draft.Body, draft.Labels, draft.ExistingIssues)
			return printValidation(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "draft file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func validatePRCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "pr",
		Short: "Score a pull request draft (YAML: title, body, files_changed, target_branch)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var draft model.ValidatePRRequest
			if err := readDraft(cmd, file, &draft); err != nil {
				return err
			}
			v := quality.New(eventlog.Nop{})
			res := v.ValidatePR(cmd.Context(), draft.Title, draft.Body, draft.FilesChanged, draft.TargetBranch)
			return printValidation(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "draft file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func causalityCmd() *cobra.Command {
	var problem string
	var patterns []string
	var similar int
	cmd := &cobra.Command{
		Use:   "causality",
		Short: "Build a causality chain for a problem statement",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(problem) == "" {
				return fmt.Errorf("--problem required")
			}
			research := map[string]any{"patterns": patterns}
			if similar > 0 {
				research["similar_issues"] = make([]any, similar)
			}
			chain := causality.New(eventlog.Nop{}).Analyze(context.Background(), map[string]any{"problem": problem}, research)

			out := cmd.OutOrStdout()
			if viper.GetBool("json") {
				return printJSON(out, chain)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendRow(table.Row{"Root cause", chain.RootCause})
			tw.AppendRow(table.Row{"Factors", strings.Join(chain.ContributingFactors, "\n")})
			tw.AppendRow(table.Row{"Outcomes", strings.Join(chain.ExpectedOutcomes, "\n")})
			tw.AppendRow(table.Row{"Confidence", fmt.Sprintf("%.2f", chain.Confidence)})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&problem, "problem", "", "problem statement")
	cmd.Flags().StringSliceVar(&patterns, "pattern", nil, "observed pattern (repeatable)")
	cmd.Flags().IntVar(&similar, "similar", 0, "number of similar issues found")
	return cmd
}

// readDraft decodes a YAML (or JSON, which is valid YAML) draft file.
func readDraft(cmd *cobra.Command, path string, dst any) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	if err := yaml.NewDecoder(r).Decode(dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func printValidation(out io.Writer, res model.ValidationResult) error {
	if viper.GetBool("json") {
		return printJSON(out, res)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Kind", "Message"})
	for _, e := range res.Errors {
		tw.AppendRow(table.Row{"error", e})
	}
	for _, w := range res.Warnings {
		tw.AppendRow(table.Row{"warning", w})
	}
	for _, s := range res.Suggestions {
		tw.AppendRow(table.Row{"suggestion", s})
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("valid=%t", res.IsValid), fmt.Sprintf("score=%.2f", res.Score)})
	tw.Render()
	return nil
}
