package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/swarmguard/schedulerd/internal/canon"
	"github.com/swarmguard/schedulerd/internal/config"
	"github.com/swarmguard/schedulerd/internal/control"
	"github.com/swarmguard/schedulerd/internal/ledger"
)

var (
	executeSchedulerName string
	executeTaskName      string
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "force-run a qualified task on a running instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExecute()
	},
}

func init() {
	executeCmd.Flags().StringVar(&executeSchedulerName, "scheduler_name", "", "scheduler name")
	executeCmd.Flags().StringVar(&executeTaskName, "task_name", "", "qualified task name: Routine.YYYY-MM-DDTHH:MM:SS")
	_ = executeCmd.MarkFlagRequired("scheduler_name")
	_ = executeCmd.MarkFlagRequired("task_name")
}

// runExecute mirrors scheduler.py's execute_func: it looks up the task's
// ledger history purely to warn the operator if the name is unrecognised
// (UnknownTaskForExecute, spec.md §7 — "log and ignore"), then sends the
// qualified name as a force-run instruction over the control channel
// regardless, since the daemon is the authority on pendingMap membership.
func runExecute() error {
	routineName, instance, err := canon.SplitQualifiedName(executeTaskName)
	if err != nil {
		return fmt.Errorf("parse task name %s: %w", executeTaskName, err)
	}

	configPath, err := resolveConfigPath(executeSchedulerName)
	if err != nil {
		return fmt.Errorf("resolve instance %s: %w", executeSchedulerName, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	led, err := ledger.OpenReadOnly(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	rows, err := led.TaskResult(routineName, instance)
	led.Close()
	if err != nil {
		return fmt.Errorf("query task result: %w", err)
	}
	if len(rows) == 0 {
		slog.Error("could not find task, check input", "task_name", executeTaskName)
	}

	if _, err := control.Send(cfg.Port(), executeTaskName); err != nil {
		return fmt.Errorf("send execute instruction: %w", err)
	}
	fmt.Printf("execute instruction sent for %s\n", executeTaskName)
	return nil
}
