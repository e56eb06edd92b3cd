package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swarmguard/schedulerd/internal/canon"
	"github.com/swarmguard/schedulerd/internal/config"
	"github.com/swarmguard/schedulerd/internal/ledger"
)

var (
	statusSchedulerName string
	statusRoutineName   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the current open-state status table for a running instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSchedulerName, "scheduler_name", "", "scheduler name")
	statusCmd.Flags().StringVar(&statusRoutineName, "routine_name", "", "check status of a specific routine")
	_ = statusCmd.MarkFlagRequired("scheduler_name")
}

// runStatus mirrors scheduler.py's status_func: open the instance's
// ledger directly (read-only use of the control channel is not needed —
// status is a query, not an instruction) and print the current open-state
// rows as a column-aligned pipe table.
func runStatus() error {
	configPath, err := resolveConfigPath(statusSchedulerName)
	if err != nil {
		return fmt.Errorf("resolve instance %s: %w", statusSchedulerName, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	led, err := ledger.OpenReadOnly(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	rows, err := led.CurrentStatus(statusRoutineName)
	if err != nil {
		return fmt.Errorf("query current status: %w", err)
	}

	printStatusTable(rows)
	return nil
}

func printStatusTable(rows []ledger.Row) {
	header := []string{"Name", "Instance", "Status", "TimeStamp"}
	cells := make([][4]string, len(rows))
	widths := [4]int{len(header[0]), len(header[1]), len(header[2]), len(header[3])}

	for i, row := range rows {
		cells[i] = [4]string{row.Routine, canon.FormatTime(row.Instance), string(row.State), canon.FormatTime(row.Stamp)}
		for c, v := range cells[i] {
			if len(v) > widths[c] {
				widths[c] = len(v)
			}
		}
	}

	line := "-" + strings.Repeat("-", sum(widths[:])+len(widths))
	printRow := func(vals [4]string) {
		parts := make([]string, 4)
		for i, v := range vals {
			parts[i] = padRight(v, widths[i])
		}
		fmt.Println("|" + strings.Join(parts, "|"))
	}

	fmt.Println(line)
	printRow([4]string{header[0], header[1], header[2], header[3]})
	fmt.Println(line)
	for _, c := range cells {
		printRow(c)
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func sum(vals []int) int {
	total := 0
	for _, v := range vals {
		total += v
	}
	return total
}
