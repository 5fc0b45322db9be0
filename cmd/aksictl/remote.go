package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/konard/MILANA808-Milana-backend/sdk/go/aksi"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), h)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) storage=%s uptime=%ds\n",
				h.Service, h.Status, h.Version, h.Storage, h.Uptime)
			return nil
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Submit and inspect analyze-and-act tasks"}
	cmd.AddCommand(taskSubmitCmd())
	cmd.AddCommand(taskStatusCmd())
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var repository, action, idemKey string
	var issue int
	var wait bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a background task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repository == "" {
				return fmt.Errorf("--repo required")
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			req := aksi.TaskRequest{Repository: repository, Action: action}
			if issue > 0 {
				req.IssueNumber = &issue
			}
			accepted, err := c.SubmitTask(cmd.Context(), req, idemKey)
			if err != nil {
				return err
			}
			if !wait {
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), accepted)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "task %s %s\n", accepted.TaskID, accepted.Status)
				return nil
			}
			task, err := c.WaitTask(cmd.Context(), accepted.TaskID, time.Second)
			if err != nil {
				return err
			}
			return printTask(cmd, task)
		},
	}
	cmd.Flags().StringVar(&repository, "repo", "", "repository (owner/name)")
	cmd.Flags().StringVar(&action, "action", "analyze", "analyze, create or update")
	cmd.Flags().IntVar(&issue, "issue", 0, "issue number")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "Idempotency-Key header")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the task finishes")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			task, err := c.GetTask(cmd.Context(), args[0])
			if aksi.IsNotFound(err) {
				return fmt.Errorf("task %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return printTask(cmd, task)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show orchestrator statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			s := resp.Stats
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Metric", "Value"})
			tw.AppendRows([]table.Row{
				{"issues created", s.IssuesCreated},
				{"issues updated", s.IssuesUpdated},
				{"analyses performed", s.AnalysesPerformed},
				{"active tasks", s.ActiveTasks},
				{"decisions made", s.AutonomyMetrics.DecisionsMade},
				{"avg confidence", fmt.Sprintf("%.2f", s.AutonomyMetrics.AvgConfidence)},
				{"success rate", fmt.Sprintf("%.2f", s.SuccessRate)},
				{"threshold", fmt.Sprintf("%.2f", resp.Threshold)},
				{"should act", s.ShouldAct},
			})
			tw.Render()
			return nil
		},
	}
}

func printTask(cmd *cobra.Command, task *aksi.Task) error {
	if viper.GetBool("json") {
		return printJSON(cmd.OutOrStdout(), task)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"ID", "Status", "Repository", "Action", "Error"})
	tw.AppendRow(table.Row{task.ID, task.Status, task.Repository, task.Action, task.Error})
	tw.Render()
	return nil
}
