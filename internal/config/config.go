// Package config loads docharvest configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates all run settings.
type Config struct {
	Input      InputConfig      `mapstructure:"input"`
	Output     OutputConfig     `mapstructure:"output"`
	Run        RunConfig        `mapstructure:"run"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Render     RenderConfig     `mapstructure:"render"`
	Download   DownloadConfig   `mapstructure:"download"`
	Relevance  RelevanceConfig  `mapstructure:"relevance"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Result     ResultConfig     `mapstructure:"result"`
	Report     ReportConfig     `mapstructure:"report"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// InputConfig describes the seed table.
type InputConfig struct {
	Path string `mapstructure:"path"`
	// URLColumn forces the seed column; when empty URLColumns are tried, then values are sniffed.
	URLColumn  string   `mapstructure:"url_column"`
	URLColumns []string `mapstructure:"url_columns"`
	// TitleColumn names the column whose value prefixes document artifact names.
	TitleColumn   string `mapstructure:"title_column"`
	CountryColumn string `mapstructure:"country_column"`
	// Limit caps how many work items are processed per run (0 = all).
	Limit int `mapstructure:"limit"`
}

// OutputConfig describes the result table (which doubles as the checkpoint) and artifact dirs.
type OutputConfig struct {
	Path        string `mapstructure:"path"`
	DocumentDir string `mapstructure:"document_dir"`
	TextDir     string `mapstructure:"text_dir"`
	// FlushEvery persists the table after this many completed items (0 = only at the end).
	FlushEvery int `mapstructure:"flush_every"`
}

// RunConfig controls URL-level dispatch.
type RunConfig struct {
	Concurrency          int `mapstructure:"concurrency"`
	DelayMinMs           int `mapstructure:"delay_min_ms"`
	DelayMaxMs           int `mapstructure:"delay_max_ms"`
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// NavigationConfig controls recursive site traversal.
type NavigationConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	MaxDepth         int      `mapstructure:"max_depth"`
	MaxLinksPerPage  int      `mapstructure:"max_links_per_page"`
	MinContentLength int      `mapstructure:"min_content_length"`
	ContentSelectors []string `mapstructure:"content_selectors"`
	DelayMinMs       int      `mapstructure:"delay_min_ms"`
	DelayMaxMs       int      `mapstructure:"delay_max_ms"`
}

// RenderConfig selects and tunes the page renderer.
type RenderConfig struct {
	// Engine is "chromedp" or "static".
	Engine string `mapstructure:"engine"`
	// FallbackStatic switches to the static engine when Chrome cannot start.
	FallbackStatic      bool     `mapstructure:"fallback_static"`
	ExecPath            string   `mapstructure:"exec_path"`
	ShowWindow          bool     `mapstructure:"show_window"`
	UserAgents          []string `mapstructure:"user_agents"`
	NavTimeoutSeconds   int      `mapstructure:"nav_timeout_seconds"`
	ReadyTimeoutSeconds int      `mapstructure:"ready_timeout_seconds"`
	SettleMinMs         int      `mapstructure:"settle_min_ms"`
	SettleMaxMs         int      `mapstructure:"settle_max_ms"`
	ScrollPauseMs       int      `mapstructure:"scroll_pause_ms"`
	MaxBodyBytes        int      `mapstructure:"max_body_bytes"`
}

// Render engines.
const (
	EngineChromedp = "chromedp"
	EngineStatic   = "static"
)

// DownloadConfig controls document downloads.
type DownloadConfig struct {
	Concurrency          int     `mapstructure:"concurrency"`
	MaxPerItem           int     `mapstructure:"max_per_item"`
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	MaxBytes             int64   `mapstructure:"max_bytes"`
	SkipExistingMinBytes int64   `mapstructure:"skip_existing_min_bytes"`
	MaxAttempts          int     `mapstructure:"max_attempts"`
	BackoffInitialMs     int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs         int     `mapstructure:"backoff_max_ms"`
	PerHostRPS           float64 `mapstructure:"per_host_rps"`
	PerHostBurst         int     `mapstructure:"per_host_burst"`
}

// RelevanceConfig holds the scoring vocabulary.
type RelevanceConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

// CheckpointConfig decides which prior rows count as done.
type CheckpointConfig struct {
	Resume        bool     `mapstructure:"resume"`
	DoneTokens    []string `mapstructure:"done_tokens"`
	WarningIsDone bool     `mapstructure:"warning_is_done"`
}

// ResultConfig tunes the final text classification.
type ResultConfig struct {
	MinTextLength    int `mapstructure:"min_text_length"`
	MinDocumentText  int `mapstructure:"min_document_text"`
	MinFallbackText  int `mapstructure:"min_fallback_text"`
	MaxCellChars     int `mapstructure:"max_cell_chars"`
	DisplayInlineMax int `mapstructure:"display_inline_max"`
}

// ReportConfig shapes the end-of-run summary.
type ReportConfig struct {
	WarningCountsAsFailure bool `mapstructure:"warning_counts_as_failure"`
}

// StorageConfig configures the optional GCS mirror of text artifacts.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Defaults returns the configuration used when no file or environment overrides are present.
// Input and output paths are left empty.
func Defaults() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg) //nolint:errcheck // static defaults always decode
	return cfg
}

func setDefaults(v *viper.Viper) {
	// keys without a default are invisible to AutomaticEnv during Unmarshal
	v.SetDefault("input.path", "")
	v.SetDefault("input.url_column", "")
	v.SetDefault("output.path", "")
	v.SetDefault("render.exec_path", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("input.url_columns", []string{"URL", "url", "link", "website", "source_url", "web_address"})
	v.SetDefault("input.title_column", "Policy initiative ID")
	v.SetDefault("input.country_column", "Country")
	v.SetDefault("input.limit", 0)
	v.SetDefault("output.document_dir", "downloaded_documents")
	v.SetDefault("output.text_dir", "extracted_texts")
	v.SetDefault("output.flush_every", 5)
	v.SetDefault("run.concurrency", 3)
	v.SetDefault("run.delay_min_ms", 2000)
	v.SetDefault("run.delay_max_ms", 5000)
	v.SetDefault("run.shutdown_grace_seconds", 60)
	v.SetDefault("navigation.enabled", true)
	v.SetDefault("navigation.max_depth", 2)
	v.SetDefault("navigation.max_links_per_page", 3)
	v.SetDefault("navigation.min_content_length", 200)
	v.SetDefault("navigation.delay_min_ms", 2000)
	v.SetDefault("navigation.delay_max_ms", 4000)
	v.SetDefault("render.engine", "chromedp")
	v.SetDefault("render.fallback_static", true)
	v.SetDefault("render.nav_timeout_seconds", 45)
	v.SetDefault("render.ready_timeout_seconds", 10)
	v.SetDefault("render.settle_min_ms", 2000)
	v.SetDefault("render.settle_max_ms", 3000)
	v.SetDefault("render.scroll_pause_ms", 1000)
	v.SetDefault("render.max_body_bytes", 10*1024*1024)
	v.SetDefault("download.concurrency", 3)
	v.SetDefault("download.max_per_item", 10)
	v.SetDefault("download.timeout_seconds", 120)
	v.SetDefault("download.max_bytes", int64(50*1024*1024))
	v.SetDefault("download.skip_existing_min_bytes", int64(1024))
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.backoff_initial_ms", 2000)
	v.SetDefault("download.backoff_max_ms", 10000)
	v.SetDefault("download.per_host_rps", 0.0)
	v.SetDefault("download.per_host_burst", 1)
	v.SetDefault("checkpoint.resume", true)
	v.SetDefault("checkpoint.done_tokens", []string{"success", "warning"})
	v.SetDefault("checkpoint.warning_is_done", true)
	v.SetDefault("result.min_text_length", 100)
	v.SetDefault("result.min_document_text", 100)
	v.SetDefault("result.min_fallback_text", 200)
	v.SetDefault("result.max_cell_chars", 32000)
	v.SetDefault("result.display_inline_max", 1000)
	v.SetDefault("report.warning_counts_as_failure", true)
	v.SetDefault("storage.prefix", "texts")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.Concurrency <= 0 {
		return fmt.Errorf("run.concurrency must be > 0")
	}
	if c.Run.DelayMinMs < 0 || c.Run.DelayMaxMs < c.Run.DelayMinMs {
		return fmt.Errorf("run.delay_min_ms must be >= 0 and <= run.delay_max_ms")
	}
	if c.Navigation.MaxDepth < 0 {
		return fmt.Errorf("navigation.max_depth must be >= 0")
	}
	if c.Navigation.MaxLinksPerPage <= 0 {
		return fmt.Errorf("navigation.max_links_per_page must be > 0")
	}
	if c.Navigation.DelayMinMs < 0 || c.Navigation.DelayMaxMs < c.Navigation.DelayMinMs {
		return fmt.Errorf("navigation.delay_min_ms must be >= 0 and <= navigation.delay_max_ms")
	}
	switch c.Render.Engine {
	case EngineChromedp, EngineStatic:
	default:
		return fmt.Errorf("render.engine must be %q or %q, got %q", EngineChromedp, EngineStatic, c.Render.Engine)
	}
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be > 0")
	}
	if c.Download.MaxPerItem < 0 {
		return fmt.Errorf("download.max_per_item must be >= 0")
	}
	if c.Download.TimeoutSeconds <= 0 {
		return fmt.Errorf("download.timeout_seconds must be > 0")
	}
	if c.Download.MaxAttempts <= 0 {
		return fmt.Errorf("download.max_attempts must be > 0")
	}
	if c.Result.MaxCellChars <= 0 {
		return fmt.Errorf("result.max_cell_chars must be > 0")
	}
	if c.Output.FlushEvery < 0 {
		return fmt.Errorf("output.flush_every must be >= 0")
	}
	return nil
}

// RequirePaths checks the input and output tables are set; only a full run needs them.
func (c Config) RequirePaths() error {
	if strings.TrimSpace(c.Input.Path) == "" {
		return fmt.Errorf("input.path is required")
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return fmt.Errorf("output.path is required")
	}
	return nil
}

// ShutdownGrace is how long in-flight items may finish after an interrupt.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Run.ShutdownGraceSeconds) * time.Second
}

// DownloadTimeout is the per-request document timeout.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// RunDelay returns the bounds of the pause taken after each work item.
func (c Config) RunDelay() (time.Duration, time.Duration) {
	return ms(c.Run.DelayMinMs), ms(c.Run.DelayMaxMs)
}

// NavigationDelay returns the bounds of the pause between page visits.
func (c Config) NavigationDelay() (time.Duration, time.Duration) {
	return ms(c.Navigation.DelayMinMs), ms(c.Navigation.DelayMaxMs)
}

// Backoff returns the retry backoff bounds for document downloads.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return ms(c.Download.BackoffInitialMs), ms(c.Download.BackoffMaxMs)
}

// EffectiveMaxDepth is the navigation depth actually used; disabling navigation renders the root only.
func (c Config) EffectiveMaxDepth() int {
	if !c.Navigation.Enabled {
		return 0
	}
	return c.Navigation.MaxDepth
}
