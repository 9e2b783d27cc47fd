package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/convoy/internal/models"
	"github.com/zulandar/convoy/internal/tracker"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit, inspect and cancel simulation tasks",
	}

	cmd.AddCommand(newTaskSubmitCmd())
	cmd.AddCommand(newTaskProgressCmd())
	cmd.AddCommand(newTaskCancelCmd())
	return cmd
}

func newTaskSubmitCmd() *cobra.Command {
	var (
		configPath string
		task       models.Task
		delayRange string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start a simulation task",
		Long: `Persists a new task and opens its first conversations. Replies and
further conversations are driven by a running "convoy serve".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if delayRange != "" {
				r, err := parseDelayRange(delayRange)
				if err != nil {
					return err
				}
				task.ConsumerMessageDelayRange = r
			}
			return runTaskSubmit(cmd, configPath, &task)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to convoy config file")
	cmd.Flags().StringVar(&task.AccountID, "account", "", "account id (required)")
	cmd.Flags().StringVar(&task.ID, "request", "", "request id (required)")
	cmd.Flags().IntVar(&task.MaxConversations, "max", 1, "total conversations to run")
	cmd.Flags().IntVar(&task.ConcurrentConversations, "concurrent", 1, "conversations open at once")
	cmd.Flags().IntVar(&task.MaxTurns, "max-turns", 0, "agent turns before closing (0 = config default, negative = unlimited)")
	cmd.Flags().BoolVar(&task.UseDelays, "delays", true, "delay consumer replies")
	cmd.Flags().BoolVar(&task.UseFakeNames, "fake-names", false, "give consumers generated names")
	cmd.Flags().StringVar(&delayRange, "delay-range", "", "reply delay window in seconds, e.g. 5-15")
	cmd.Flags().StringVar(&task.SkillID, "skill", "", "routing skill id")
	cmd.Flags().StringVar(&task.Scenario, "scenario", "", "scenario prompt for the consumer")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("request")
	return cmd
}

func parseDelayRange(s string) (models.DelayRange, error) {
	var r models.DelayRange
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d-%d", &r.Min, &r.Max); err != nil {
		return r, fmt.Errorf("invalid --delay-range %q: want MIN-MAX", s)
	}
	if !r.Valid() {
		return r, fmt.Errorf("invalid --delay-range %q: min must be <= max", s)
	}
	return r, nil
}

func runTaskSubmit(cmd *cobra.Command, configPath string, task *models.Task) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if task.SkillID == "" {
		task.SkillID = cfg.Platform.SkillID
	}
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.tracker.StartTask(context.Background(), task)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s started with %d conversation(s): %s\n",
		task.ID, len(ids), strings.Join(ids, ", "))
	return nil
}

func newTaskProgressCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "progress ACCOUNT REQUEST",
		Short: "Show a task's progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskProgress(cmd, configPath, args[0], args[1], asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to convoy config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print progress as JSON")
	return cmd
}

func runTaskProgress(cmd *cobra.Command, configPath, accountID, requestID string, asJSON bool) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	task, err := a.tracker.GetTask(ctx, accountID, requestID)
	if err != nil {
		return err
	}
	p, err := a.tracker.GetTaskProgress(ctx, task)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Status   models.TaskStatus `json:"status"`
			Progress tracker.Progress  `json:"progress"`
		}{task.Status, p})
	}

	fmt.Fprintf(out, "Task %s (%s)\n", task.ID, task.Status)
	fmt.Fprintf(out, "  Completed:  %d/%d\n", p.Completed, task.MaxConversations)
	fmt.Fprintf(out, "  In flight:  %d\n", p.Inflight)
	fmt.Fprintf(out, "  Pending:    %d\n", p.Pending)
	fmt.Fprintf(out, "  Remaining:  %d\n", p.Remaining)
	if task.ErrorReason != "" {
		fmt.Fprintf(out, "  Error:      %s\n", task.ErrorReason)
	}
	return nil
}

func newTaskCancelCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cancel ACCOUNT REQUEST",
		Short: "Cancel a running task",
		Long:  "Stops a task from opening new conversations. Conversations already open are left to finish.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.tracker.CancelTask(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s\n", task.ID, task.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to convoy config file")
	return cmd
}
