// Package main implements the research CLI: a thin Cobra front door over
// internal/orchestrator's single research() operation, plus inspection
// commands for the durable caches this module builds up over time.
//
// File index:
//   - main.go        - entry point, rootCmd, global flags
//   - cmd_run.go     - runCmd: research run <query>, wireDeps()
//   - cmd_cache.go   - cacheCmd, cacheInspectCmd: research cache inspect
//   - cmd_schema.go  - schemaCmd, schemaDumpCmd: research schema dump
//   - cmd_replay.go  - replayCmd: research replay <trace-file>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"researchcore/internal/config"
	"researchcore/internal/logging"
)

var (
	verbose    bool
	configPath string
	stateDir   string

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "Adaptive Web Research Core - headless-browser product/information research",
	Long: `research drives a headless browser through search engines and vendor
sites, learns extraction schemas as it goes, validates findings against
derived requirements, and emits ranked results.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("build zap logger: %w", err)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if stateDir != "" {
			cfg.StatePaths.Root = stateDir
		}

		if err := logging.Initialize(cfg.StatePaths.Root, logging.Config{
			DebugMode:  cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (defaults applied if absent)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "override the state directory from config")

	cacheCmd.AddCommand(cacheInspectCmd)
	schemaCmd.AddCommand(schemaDumpCmd)

	rootCmd.AddCommand(runCmd, cacheCmd, schemaCmd, replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
