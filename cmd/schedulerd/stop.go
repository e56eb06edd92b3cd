package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmguard/schedulerd/internal/config"
	"github.com/swarmguard/schedulerd/internal/control"
)

var stopSchedulerName string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "send a graceful shutdown instruction to a running instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop()
	},
}

func init() {
	stopCmd.Flags().StringVar(&stopSchedulerName, "scheduler_name", "", "scheduler name")
	_ = stopCmd.MarkFlagRequired("scheduler_name")
}

// runStop mirrors scheduler.py's end_func: locate the running instance's
// config file, read its persisted control-channel port, and send the
// literal "stop" instruction (spec.md §4.5).
func runStop() error {
	configPath, err := resolveConfigPath(stopSchedulerName)
	if err != nil {
		return fmt.Errorf("resolve instance %s: %w", stopSchedulerName, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := control.Send(cfg.Port(), control.Stop); err != nil {
		return fmt.Errorf("send stop instruction: %w", err)
	}
	fmt.Printf("stop instruction sent to %s\n", stopSchedulerName)
	return nil
}
