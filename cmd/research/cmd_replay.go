package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"researchcore/internal/orchestrator"
)

var replayCmd = &cobra.Command{
	Use:   "replay <trace-file>",
	Short: "Replay a recorded orchestrator decision trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := orchestrator.ReplayEvents(args[0])
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		for _, e := range events {
			fmt.Printf("[%s] %-20s %v\n", e.Timestamp.Format("15:04:05.000"), e.Step, e.Data)
		}
		fmt.Printf("%d decision events\n", len(events))
		return nil
	},
}
