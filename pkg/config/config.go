package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the optimizer.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords) must
// only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	Database DatabaseConfig `yaml:"database"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Patterns PatternsConfig `yaml:"patterns"`
	Planner  PlannerConfig  `yaml:"planner"`
	Executor ExecutorConfig `yaml:"executor"`
	Learning LearningConfig `yaml:"learning"`
	Cache    CacheConfig    `yaml:"cache"`
	Rewriter RewriterConfig `yaml:"rewriter"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

// DatabaseConfig holds the target database connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DB_DRIVER" env-default:"mysql"` // mysql or postgres
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"3306"`
	User     string `yaml:"user" env:"DB_USER" env-default:"root"`
	Password string `yaml:"-" env:"DB_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DB_DATABASE" env-default:""`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSLMODE" env-default:"disable"` // postgres only
}

// AnalyzerConfig tunes index analysis and classification.
type AnalyzerConfig struct {
	// RedundancyThreshold is the minimum ordered-prefix overlap ratio above
	// which two indexes on the same table are considered duplicates.
	RedundancyThreshold float64 `yaml:"redundancy_threshold" env:"ANALYZER_REDUNDANCY_THRESHOLD" env-default:"0.8"`
	// InefficiencyThreshold is the effectiveness score below which an index
	// is classified as inefficient.
	InefficiencyThreshold float64 `yaml:"inefficiency_threshold" env:"ANALYZER_INEFFICIENCY_THRESHOLD" env-default:"40"`
	// DriftRowDeltaRatio is the relative row-count change between snapshots
	// that counts as schema drift.
	DriftRowDeltaRatio float64 `yaml:"drift_row_delta_ratio" env:"ANALYZER_DRIFT_ROW_DELTA_RATIO" env-default:"0.1"`
}

// PatternsConfig tunes query-pattern mining and recommendation generation.
type PatternsConfig struct {
	// RegenerateEvery regenerates the recommendation list every N observations.
	RegenerateEvery int `yaml:"regenerate_every" env:"PATTERNS_REGENERATE_EVERY" env-default:"25"`
	// MinFrequency is the observation count below which a pattern never
	// becomes a recommendation.
	MinFrequency int `yaml:"min_frequency" env:"PATTERNS_MIN_FREQUENCY" env-default:"3"`
	// MinConfidence is the confidence threshold for emitting a recommendation.
	MinConfidence int `yaml:"min_confidence" env:"PATTERNS_MIN_CONFIDENCE" env-default:"75"`
	// MaxRecommendations caps the regenerated recommendation list.
	MaxRecommendations int `yaml:"max_recommendations" env:"PATTERNS_MAX_RECOMMENDATIONS" env-default:"20"`
}

// PlannerConfig tunes plan assembly and risk assessment.
type PlannerConfig struct {
	// CompositeMinUsage is the minimum rows-examined count for a
	// single-column index to participate in a composite merge.
	CompositeMinUsage int64 `yaml:"composite_min_usage" env:"PLANNER_COMPOSITE_MIN_USAGE" env-default:"100"`
	// LargeTablesStr is a comma-separated list of tables where any DDL is
	// flagged as high risk.
	LargeTablesStr string `yaml:"large_tables" env:"PLANNER_LARGE_TABLES" env-default:""`
	// LargeTables is the parsed form of LargeTablesStr (not from config file).
	LargeTables []string `yaml:"-"`
}

// ExecutorConfig tunes DDL batch execution.
type ExecutorConfig struct {
	// BatchSize is the number of actions executed before pausing.
	BatchSize int `yaml:"batch_size" env:"EXECUTOR_BATCH_SIZE" env-default:"5"`
	// BatchPause is how long to wait between batches to bound database load.
	BatchPause time.Duration `yaml:"batch_pause" env:"EXECUTOR_BATCH_PAUSE" env-default:"2s"`
}

// LearningConfig tunes the learning subsystem.
type LearningConfig struct {
	// HistoryCap bounds the learning record history.
	HistoryCap int `yaml:"history_cap" env:"LEARNING_HISTORY_CAP" env-default:"50"`
}

// CacheConfig tunes the per-query result cache.
type CacheConfig struct {
	// MaxEntries is the LRU capacity.
	MaxEntries int `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"1000"`
	// TTL is the default entry time-to-live.
	TTL time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"5m"`
	// SweepInterval is how often the background sweep removes expired entries.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"CACHE_SWEEP_INTERVAL" env-default:"1m"`
}

// RewriterConfig tunes the query rewrite layer.
type RewriterConfig struct {
	// DefaultLimit is the row cap injected into unbounded SELECTs.
	DefaultLimit int `yaml:"default_limit" env:"REWRITER_DEFAULT_LIMIT" env-default:"1000"`
	// AddIndexHints enables index-usage hint annotation.
	AddIndexHints bool `yaml:"add_index_hints" env:"REWRITER_ADD_INDEX_HINTS" env-default:"false"`
}

// AnalysisConfig tunes execution-plan analysis.
type AnalysisConfig struct {
	// SlowQueryMillis is the execution time above which a query is recorded
	// as slow.
	SlowQueryMillis float64 `yaml:"slow_query_millis" env:"ANALYSIS_SLOW_QUERY_MILLIS" env-default:"1000"`
	// HistorySize bounds the ring of recent analyses.
	HistorySize int `yaml:"history_size" env:"ANALYSIS_HISTORY_SIZE" env-default:"100"`
	// SlowQueryListSize bounds the slow-query list.
	SlowQueryListSize int `yaml:"slow_query_list_size" env:"ANALYSIS_SLOW_QUERY_LIST_SIZE" env-default:"50"`
}

// Load reads configuration from path with environment variable overrides.
// A missing config file is not an error; env vars and defaults apply alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cfg.parseComplexFields()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.Planner.LargeTables = splitCommaList(c.Planner.LargeTablesStr)
}

func (c *Config) validate() error {
	if c.Database.Driver != "mysql" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Analyzer.RedundancyThreshold <= 0 || c.Analyzer.RedundancyThreshold > 1 {
		return fmt.Errorf("redundancy_threshold must be in (0, 1], got %v", c.Analyzer.RedundancyThreshold)
	}
	if c.Executor.BatchSize < 1 {
		return fmt.Errorf("executor batch_size must be at least 1, got %d", c.Executor.BatchSize)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max_entries must be at least 1, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative, got %v", c.Cache.TTL)
	}
	return nil
}

func splitCommaList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
