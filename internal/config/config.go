// Package config holds the research core's configuration: LLM endpoint,
// browser launch options, rate-limiter/engine-health thresholds, cache and
// index defaults, concurrency caps, and state-file paths. Adapted from
// codeNERD's internal/config/config.go: a single YAML Config struct with
// DefaultConfig() and environment-variable overrides, reloadable via
// fsnotify.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config holds all research-core configuration.
type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Browser     BrowserConfig     `yaml:"browser"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	EngineHealth EngineHealthConfig `yaml:"engine_health"`
	Cache       CacheConfig       `yaml:"cache"`
	Index       IndexConfig       `yaml:"index"`
	Vendor      VendorConfig      `yaml:"vendor"`
	Schema      SchemaConfig      `yaml:"schema"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	StatePaths  StatePaths        `yaml:"state_paths"`
	Logging     LoggingConfig     `yaml:"logging"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge"`
	Deep        DeepModeConfig    `yaml:"deep_mode"`
	Trace       TraceConfig       `yaml:"trace"`
}

// LLMConfig configures the LLM invocation capability (internal/llm).
type LLMConfig struct {
	Provider    string `yaml:"provider"` // "gemini"
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int    `yaml:"max_retries"`
}

// BrowserConfig configures go-rod launch/session behavior (C1, C4, C5).
type BrowserConfig struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            bool     `yaml:"headless"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
	SessionStateDir     string   `yaml:"session_state_dir"`
	SearchEngines       []string `yaml:"search_engines"`
	HumanAssistEnabled  bool     `yaml:"human_assist_enabled"`
	InterventionWaitSec int      `yaml:"intervention_wait_seconds"`
}

// RateLimiterConfig configures the global search rate limiter (C2).
type RateLimiterConfig struct {
	MinDelayMs     int `yaml:"min_delay_ms"`
	BackoffOnBlockMs int `yaml:"backoff_on_block_ms"`
	MaxBackoffMs   int `yaml:"max_backoff_ms"`
}

// EngineHealthConfig configures per-engine cooldown policy (C3).
type EngineHealthConfig struct {
	BaseCooldownMs int `yaml:"base_cooldown_ms"`
	MaxCooldownMs  int `yaml:"max_cooldown_ms"`
}

// CacheConfig configures the response cache (C15).
type CacheConfig struct {
	Enabled             bool    `yaml:"enabled"`
	Dir                 string  `yaml:"dir"`
	DefaultTTL          string  `yaml:"default_ttl"`
	SemanticThreshold    float64 `yaml:"semantic_threshold"`
	LexicalThreshold     float64 `yaml:"lexical_threshold"`
	SemanticWeight      float64 `yaml:"semantic_weight"`
	LexicalWeight       float64 `yaml:"lexical_weight"`
	StaleGraceExcellent float64 `yaml:"stale_grace_excellent"`
}

// IndexConfig configures the research index (C16).
type IndexConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// VendorConfig configures the vendor registry (C9).
type VendorConfig struct {
	Path                string `yaml:"path"`
	BlockThreshold      int    `yaml:"block_threshold"`
	QuarantineDuration  string `yaml:"quarantine_duration"`
}

// SchemaConfig configures the schema registry (C8).
type SchemaConfig struct {
	Path string `yaml:"path"`
}

// ConcurrencyConfig bounds parallel work (§5).
type ConcurrencyConfig struct {
	VendorConcurrency int `yaml:"vendor_concurrency"`
}

// TimeoutsConfig holds the per-suspension-point timeouts (§5).
type TimeoutsConfig struct {
	PageFetch        time.Duration `yaml:"page_fetch"`
	LLMCall          time.Duration `yaml:"llm_call"`
	PerVendorBudget  time.Duration `yaml:"per_vendor_budget"`
	InterventionWait time.Duration `yaml:"intervention_wait"`
}

// StatePaths holds on-disk locations for durable state (§6).
type StatePaths struct {
	Root         string `yaml:"root"`
	SiteKnowledge string `yaml:"site_knowledge"`
}

// LoggingConfig mirrors logging.Config for YAML loading.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// KnowledgeConfig configures the knowledge retriever (C17).
type KnowledgeConfig struct {
	CompletenessThreshold float64 `yaml:"completeness_threshold"`
	ConfidenceThreshold   float64 `yaml:"confidence_threshold"`
}

// DeepModeConfig bounds iterative deep-mode research (C14).
type DeepModeConfig struct {
	MaxPasses int `yaml:"max_passes"`
}

// TraceConfig configures the optional orchestrator decision trace.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the baseline configuration (spec.md §6 defaults).
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Temperature: 0.2,
			MaxRetries:  3,
		},
		Browser: BrowserConfig{
			Headless:            true,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
			SessionStateDir:     "state/sessions",
			SearchEngines:       []string{"duckduckgo", "bing", "google"},
			HumanAssistEnabled:  true,
			InterventionWaitSec: 120,
		},
		RateLimiter: RateLimiterConfig{
			MinDelayMs:       15000,
			BackoffOnBlockMs: 30000,
			MaxBackoffMs:     10 * 60 * 1000,
		},
		EngineHealth: EngineHealthConfig{
			BaseCooldownMs: 60000,
			MaxCooldownMs:  30 * 60 * 1000,
		},
		Cache: CacheConfig{
			Enabled:             true,
			Dir:                 "state/cache",
			DefaultTTL:          "24h",
			SemanticThreshold:   0.80,
			LexicalThreshold:    0.15,
			SemanticWeight:      0.7,
			LexicalWeight:       0.3,
			StaleGraceExcellent: 1.5,
		},
		Index: IndexConfig{
			Enabled: true,
			Path:    "state/research_index.db",
		},
		Vendor: VendorConfig{
			Path:               "state/vendor_registry.jsonl",
			BlockThreshold:     3,
			QuarantineDuration: "24h",
		},
		Schema: SchemaConfig{
			Path: "state/site_schemas.jsonl",
		},
		Concurrency: ConcurrencyConfig{
			VendorConcurrency: 3,
		},
		Timeouts: TimeoutsConfig{
			PageFetch:        30 * time.Second,
			LLMCall:          30 * time.Second,
			PerVendorBudget:  60 * time.Second,
			InterventionWait: 120 * time.Second,
		},
		StatePaths: StatePaths{
			Root:          "state",
			SiteKnowledge: "state/site_knowledge.jsonl",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
		Knowledge: KnowledgeConfig{
			CompletenessThreshold: 0.75,
			ConfidenceThreshold:   0.6,
		},
		Deep: DeepModeConfig{
			MaxPasses: 10,
		},
		Trace: TraceConfig{
			Enabled: false,
			Path:    "state/trace.jsonl",
		},
	}
}

// Load reads YAML config from path, falling back to defaults for a missing
// file, then applies environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(c *Config) {
	if key := os.Getenv("RESEARCHCORE_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("RESEARCHCORE_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if root := os.Getenv("RESEARCHCORE_STATE_ROOT"); root != "" {
		c.StatePaths.Root = root
	}
}

// Watcher reloads Config from disk whenever the backing file changes, and
// calls onReload with the new value. Grounded on the teacher's
// internal/core/mangle_watcher.go fsnotify pattern.
type Watcher struct {
	mu       sync.Mutex
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	done     chan struct{}
}

// WatchFile starts watching path for changes and invokes onReload with the
// freshly loaded Config on every write event. Cancel via Close().
func WatchFile(path string, onReload func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	cw := &Watcher{path: path, watcher: w, onReload: onReload, done: make(chan struct{})}
	go cw.loop()
	return cw, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			cb := w.onReload
			w.mu.Unlock()
			if cb != nil {
				cb(cfg)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
