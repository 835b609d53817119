package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"researchcore/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect learned site schemas",
}

var schemaDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump every learned schema record",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := schema.Open(cfg.Schema.Path)
		if err != nil {
			return fmt.Errorf("open schema registry: %w", err)
		}
		for _, s := range reg.All() {
			status := "ok"
			if s.Stale {
				status = "stale"
			} else if s.NeedsRecalibration() {
				status = "needs_recalibration"
			}
			fmt.Printf("%-30s %-18s v%-3d %-20s selectors=%d\n", s.Domain, s.PageType, s.Version, status, len(s.Selectors))
		}
		return nil
	},
}
