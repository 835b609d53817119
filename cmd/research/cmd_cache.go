package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the response cache",
}

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List cache entries and their freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Cache.Dir
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no cache entries (directory does not exist)")
				return nil
			}
			return fmt.Errorf("read cache dir: %w", err)
		}

		type row struct {
			ID        string `json:"id"`
			QueryText string `json:"query_text"`
			Intent    string `json:"intent"`
			Quality   float64 `json:"quality_score"`
			CreatedAt string `json:"created_at"`
		}
		var rows []row
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" || e.Name() == "index.json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			var parsed struct {
				ID         string  `json:"id"`
				QueryText  string  `json:"query_text"`
				Intent     string  `json:"intent"`
				Quality    float64 `json:"quality_score"`
				CreatedAt  string  `json:"created_at"`
			}
			if json.Unmarshal(data, &parsed) != nil {
				continue
			}
			rows = append(rows, row{
				ID:        parsed.ID,
				QueryText: parsed.QueryText,
				Intent:    parsed.Intent,
				Quality:   parsed.Quality,
				CreatedAt: parsed.CreatedAt,
			})
		}

		if len(rows) == 0 {
			fmt.Println("no cache entries")
			return nil
		}
		for _, r := range rows {
			fmt.Printf("%-26s %-14s q=%.2f %-20s %s\n", r.ID, r.Intent, r.Quality, r.CreatedAt, truncateLine(r.QueryText, 60))
		}
		return nil
	},
}

func truncateLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
