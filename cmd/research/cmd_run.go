package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"researchcore/internal/browser"
	"researchcore/internal/cache"
	"researchcore/internal/domain"
	"researchcore/internal/enginehealth"
	"researchcore/internal/intelligence"
	"researchcore/internal/llm"
	"researchcore/internal/navigator"
	"researchcore/internal/orchestrator"
	"researchcore/internal/ratelimit"
	"researchcore/internal/researchindex"
	"researchcore/internal/schema"
	"researchcore/internal/sitecache"
	"researchcore/internal/vendor"
	"researchcore/internal/vendorsearch"
)

var (
	runSessionID string
	runIntent    string
	runMode      string
	runBudget    int
	runForce     bool
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run a research query end to end",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		deps, cleanup, err := wireDeps(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		sessionID := runSessionID
		if sessionID == "" {
			sessionID = fmt.Sprintf("cli-%d", time.Now().UnixNano())
		}
		mode := domain.ModeStandard
		if runMode == "deep" {
			mode = domain.ModeDeep
		}

		query := domain.Query{
			Text:         args[0],
			SessionID:    sessionID,
			Intent:       domain.Intent(runIntent),
			Mode:         mode,
			Budget:       runBudget,
			ForceRefresh: runForce,
		}
		if query.Intent == "" {
			query.Intent = domain.IntentCommerce
		}

		result, err := orchestrator.Research(ctx, deps, query)
		if err != nil {
			return fmt.Errorf("research: %w", err)
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "conversation session id (default: generated)")
	runCmd.Flags().StringVar(&runIntent, "intent", "", "navigation|site_search|commerce|informational")
	runCmd.Flags().StringVar(&runMode, "mode", "standard", "standard|deep")
	runCmd.Flags().IntVar(&runBudget, "budget", 0, "soft page/call budget hint")
	runCmd.Flags().BoolVar(&runForce, "force-refresh", false, "bypass the response cache")
}

// wireDeps constructs every collaborator orchestrator.Deps needs from the
// loaded config, mirroring the teacher's pattern of building its shard
// dependency graph once at CLI entry (cmd/nerd's runInstruction setup).
func wireDeps(ctx context.Context) (orchestrator.Deps, func(), error) {
	if err := os.MkdirAll(cfg.StatePaths.Root, 0o755); err != nil {
		return orchestrator.Deps{}, nil, fmt.Errorf("create state dir: %w", err)
	}

	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	inv, err := llm.NewGenAIInvoker(ctx, apiKey, cfg.LLM.Model, cfg.LLM.MaxRetries)
	if err != nil {
		return orchestrator.Deps{}, nil, err
	}

	mgr := browser.NewManager(browser.Config{
		DebuggerURL:         cfg.Browser.DebuggerURL,
		Launch:              cfg.Browser.Launch,
		Headless:            cfg.Browser.Headless,
		ViewportWidth:       cfg.Browser.ViewportWidth,
		ViewportHeight:      cfg.Browser.ViewportHeight,
		NavigationTimeoutMs: cfg.Browser.NavigationTimeoutMs,
		SessionStateDir:     resolvePath(cfg.Browser.SessionStateDir),
	})
	if err := mgr.Start(ctx); err != nil {
		return orchestrator.Deps{}, nil, fmt.Errorf("start browser manager: %w", err)
	}

	searcher := browser.NewSearcher(mgr, cfg.Browser.SearchEngines)
	var sink browser.InterventionSink
	if cfg.Browser.HumanAssistEnabled {
		sink = browser.NewManualSink()
	}
	fetcher := browser.NewFetcher(mgr, time.Duration(cfg.Browser.InterventionWaitSec)*time.Second, sink)

	rl := ratelimit.New(ratelimit.Config{
		MinDelay:       time.Duration(cfg.RateLimiter.MinDelayMs) * time.Millisecond,
		BackoffOnBlock: time.Duration(cfg.RateLimiter.BackoffOnBlockMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.RateLimiter.MaxBackoffMs) * time.Millisecond,
	})
	eh := enginehealth.New(enginehealth.Config{
		BaseCooldown: time.Duration(cfg.EngineHealth.BaseCooldownMs) * time.Millisecond,
		MaxCooldown:  time.Duration(cfg.EngineHealth.MaxCooldownMs) * time.Millisecond,
	})

	schemas, err := schema.Open(resolvePath(cfg.Schema.Path))
	if err != nil {
		return orchestrator.Deps{}, nil, err
	}
	quarantine, _ := time.ParseDuration(cfg.Vendor.QuarantineDuration)
	vendors, err := vendor.Open(resolvePath(cfg.Vendor.Path), vendor.Config{
		BlockThreshold:     cfg.Vendor.BlockThreshold,
		QuarantineDuration: quarantine,
	})
	if err != nil {
		return orchestrator.Deps{}, nil, err
	}
	siteKnowledge, err := sitecache.Open(resolvePath(cfg.StatePaths.SiteKnowledge))
	if err != nil {
		return orchestrator.Deps{}, nil, err
	}

	respCache, err := cache.Open(resolvePath(cfg.Cache.Dir), cache.Thresholds{
		SemanticMin:         cfg.Cache.SemanticThreshold,
		LexicalMin:          cfg.Cache.LexicalThreshold,
		SemanticWeight:      cfg.Cache.SemanticWeight,
		LexicalWeight:       cfg.Cache.LexicalWeight,
		StaleGraceExcellent: cfg.Cache.StaleGraceExcellent,
	})
	if err != nil {
		return orchestrator.Deps{}, nil, err
	}

	idx, err := researchindex.Open(resolvePath(cfg.Index.Path))
	if err != nil {
		return orchestrator.Deps{}, nil, err
	}

	nav := navigator.New(mgr, fetcher, inv, 0)

	defaultTTL, _ := time.ParseDuration(cfg.Cache.DefaultTTL)

	var tracer *orchestrator.Tracer
	if cfg.Trace.Enabled {
		tracer, err = orchestrator.NewTracer(resolvePath(cfg.Trace.Path))
		if err != nil {
			return orchestrator.Deps{}, nil, err
		}
	}

	deps := orchestrator.Deps{
		Intelligence: intelligence.Deps{
			Manager:      mgr,
			Searcher:     searcher,
			Fetcher:      fetcher,
			RateLimiter:  rl,
			EngineHealth: eh,
			Invoker:      inv,
			TokenBudget:  4000,
		},
		VendorSearch: vendorsearch.Deps{
			Manager:          mgr,
			Fetcher:          fetcher,
			Navigator:        nav,
			Schemas:          schemas,
			Vendors:          vendors,
			SiteKnowledge:    siteKnowledge,
			Invoker:          inv,
			Concurrency:      cfg.Concurrency.VendorConcurrency,
			PerVendorTimeout: cfg.Timeouts.PerVendorBudget,
			TokenBudget:      4000,
		},
		Navigator:              nav,
		Cache:                  respCache,
		Index:                  idx,
		SiteKnowledge:          siteKnowledge,
		Vendors:                vendors,
		Invoker:                inv,
		Tracer:                 tracer,
		MaxSources:             6,
		VendorLimit:            8,
		DeepMaxPasses:          cfg.Deep.MaxPasses,
		KnowledgeMinSimilarity: cfg.Knowledge.ConfidenceThreshold,
		KnowledgeTopK:          5,
		DefaultCacheTTL:        defaultTTL,
	}

	cleanup := func() {
		_ = tracer.Close()
		_ = idx.Close()
		_ = mgr.Shutdown(context.Background())
	}
	return deps, cleanup, nil
}

// resolvePath leaves absolute paths untouched; relative paths (the config
// defaults are all relative, e.g. "state/cache") resolve against the
// current working directory, same as the teacher's config path handling.
func resolvePath(p string) string {
	return p
}
