// Package config loads and validates collector configuration from
// config files and environment variables via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/lumen-medical/medcollect/internal/logger"
)

// ErrBadConfig marks configuration errors that must abort a run before
// any network activity.
var ErrBadConfig = errors.New("invalid configuration")

// Default collection settings.
const (
	DefaultRequestsPerSecond = 1.0
	DefaultMaxRetries        = 3
	DefaultRequestTimeout    = 30 * time.Second
	DefaultRetryBaseDelay    = 2 * time.Second
	DefaultBatchSize         = 500
	DefaultUserAgent         = "LumenMedicalBot/1.0 (research@lumen-medical.ai)"
	DefaultOutputDir         = "data/raw"
)

// Config is the root configuration object. Each scraper receives its own
// resolved copy; there is no shared mutable configuration state.
type Config struct {
	App       App           `mapstructure:"app"`
	Logger    logger.Config `mapstructure:"logger"`
	Collector Collector     `mapstructure:"collector"`
	Sources   Sources       `mapstructure:"sources"`
}

// App holds application-level settings.
type App struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Collector holds shared collection defaults. Per-source settings
// override these where present.
type Collector struct {
	OutputDir         string        `mapstructure:"output_dir"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	BatchSize         int           `mapstructure:"batch_size"`
	RespectRobotsTxt  bool          `mapstructure:"respect_robots_txt"`
	DedupDB           string        `mapstructure:"dedup_db"`
}

// Source holds the per-source settings a scraper can override.
type Source struct {
	Enabled           bool     `mapstructure:"enabled"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	MaxRetries        int      `mapstructure:"max_retries"`
	MaxResults        int      `mapstructure:"max_results"`
	APIKey            string   `mapstructure:"api_key"`
	Email             string   `mapstructure:"email"`
	Queries           []string `mapstructure:"queries"`
	Drugs             []string `mapstructure:"drugs"`
	Categories        []string `mapstructure:"categories"`
	XMLPath           string   `mapstructure:"xml_path"`
}

// Sources groups the per-source configuration blocks.
type Sources struct {
	PubMed         Source `mapstructure:"pubmed"`
	OpenFDA        Source `mapstructure:"openfda"`
	DailyMed       Source `mapstructure:"dailymed"`
	RxNorm         Source `mapstructure:"rxnorm"`
	ClinicalTrials Source `mapstructure:"clinicaltrials"`
	DrugBank       Source `mapstructure:"drugbank"`
	FDAGuidance    Source `mapstructure:"fda_guidance"`
}

// Load unmarshals the current Viper state into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	if err := viper.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %w", ErrBadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks invariants that must hold before any network activity.
func (c *Config) Validate() error {
	if c.Collector.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: requests_per_second must be > 0, got %v",
			ErrBadConfig, c.Collector.RequestsPerSecond)
	}

	if c.Collector.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0, got %d",
			ErrBadConfig, c.Collector.MaxRetries)
	}

	if c.Collector.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be > 0, got %d",
			ErrBadConfig, c.Collector.BatchSize)
	}

	if err := validateUserAgent(c.Collector.UserAgent); err != nil {
		return err
	}

	return validateOutputDir(c.Collector.OutputDir)
}

// validateUserAgent enforces the ethical-scraping requirement that the
// User-Agent identifies the operator with contact information.
func validateUserAgent(ua string) error {
	if ua == "" {
		return fmt.Errorf("%w: user_agent is required", ErrBadConfig)
	}

	if !strings.Contains(ua, "@") && !strings.Contains(ua, "http") {
		return fmt.Errorf("%w: user_agent %q must include contact info (email or URL)",
			ErrBadConfig, ua)
	}

	return nil
}

// validateOutputDir ensures the output directory exists and is writable.
func validateOutputDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: output_dir is required", ErrBadConfig)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create output dir %s: %w", ErrBadConfig, dir, err)
	}

	marker := filepath.Join(dir, ".write_check")
	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		return fmt.Errorf("%w: output dir %s not writable: %w", ErrBadConfig, dir, err)
	}
	_ = os.Remove(marker)

	return nil
}

// ForSource resolves the effective collection settings for one source,
// applying per-source overrides on top of the shared defaults.
func (c *Config) ForSource(src Source) Collector {
	resolved := c.Collector

	if src.RequestsPerSecond > 0 {
		resolved.RequestsPerSecond = src.RequestsPerSecond
	}

	if src.MaxRetries > 0 {
		resolved.MaxRetries = src.MaxRetries
	}

	return resolved
}
