package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/larose/harvest/search"
	"github.com/larose/harvest/search/collect"
	"github.com/larose/harvest/search/index"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	TimeoutPolicyTruncate = "truncate"
	TimeoutPolicyFail     = "fail"
)

// Config captures the index, search, logging and metrics settings.
type Config struct {
	Index   IndexConfig   `toml:"index" yaml:"index"`
	Search  SearchConfig  `toml:"search" yaml:"search"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// IndexConfig configures the on-disk index.
type IndexConfig struct {
	Directory         string `toml:"directory" yaml:"directory"`
	StoredCompression string `toml:"stored_compression" yaml:"stored_compression"`
}

// SearchConfig configures query executions.
type SearchConfig struct {
	// Parallelism is how many segments are scanned concurrently. A negative
	// value uses one goroutine per CPU.
	Parallelism int `toml:"parallelism" yaml:"parallelism"`
	// Timeout is the budget of one execution, 0 for none.
	Timeout                Duration `toml:"timeout" yaml:"timeout"`
	TimeoutPolicy          string   `toml:"timeout_policy" yaml:"timeout_policy"`
	DeadlineCheckInterval  uint32   `toml:"deadline_check_interval" yaml:"deadline_check_interval"`
	TotalHitCountThreshold uint64   `toml:"total_hit_count_threshold" yaml:"total_hit_count_threshold"`
	FieldSortTracksScores  *bool    `toml:"field_sort_tracks_scores" yaml:"field_sort_tracks_scores"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
}

// DefaultConfig returns the baseline configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		Index: IndexConfig{
			Directory:         "data/index",
			StoredCompression: string(index.NoCompression),
		},
		Search: SearchConfig{
			Parallelism:            1,
			TimeoutPolicy:          TimeoutPolicyTruncate,
			DeadlineCheckInterval:  collect.DefaultCheckInterval,
			TotalHitCountThreshold: 1000,
			FieldSortTracksScores:  boolPtr(false),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: boolPtr(false), Listen: ":9090"},
	}
}

// Load reads the provided config path, merging it onto the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var fileCfg Config
	switch ext {
	case ".toml":
		if err := toml.Unmarshal(content, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("parse toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		return Config{}, errors.New("config file must be .toml, .yaml, or .yml")
	}

	merged := mergeConfig(cfg, fileCfg)
	if err := merged.Validate(); err != nil {
		return Config{}, err
	}

	return merged, nil
}

func mergeConfig(base, override Config) Config {
	if override.Index.Directory != "" {
		base.Index.Directory = override.Index.Directory
	}
	if override.Index.StoredCompression != "" {
		base.Index.StoredCompression = override.Index.StoredCompression
	}

	if override.Search.Parallelism != 0 {
		base.Search.Parallelism = override.Search.Parallelism
	}
	if override.Search.Timeout != 0 {
		base.Search.Timeout = override.Search.Timeout
	}
	if override.Search.TimeoutPolicy != "" {
		base.Search.TimeoutPolicy = override.Search.TimeoutPolicy
	}
	if override.Search.DeadlineCheckInterval != 0 {
		base.Search.DeadlineCheckInterval = override.Search.DeadlineCheckInterval
	}
	if override.Search.TotalHitCountThreshold != 0 {
		base.Search.TotalHitCountThreshold = override.Search.TotalHitCountThreshold
	}
	if override.Search.FieldSortTracksScores != nil {
		base.Search.FieldSortTracksScores = override.Search.FieldSortTracksScores
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Metrics.Enabled != nil {
		base.Metrics.Enabled = override.Metrics.Enabled
	}
	if override.Metrics.Listen != "" {
		base.Metrics.Listen = override.Metrics.Listen
	}

	return base
}

// Validate reports the first setting out of its allowed values.
func (cfg Config) Validate() error {
	if _, err := index.ParseCompression(cfg.Index.StoredCompression); err != nil {
		return fmt.Errorf("index.stored_compression: %w", err)
	}

	switch cfg.Search.TimeoutPolicy {
	case TimeoutPolicyTruncate, TimeoutPolicyFail:
	default:
		return fmt.Errorf("search.timeout_policy must be %q or %q, got %q", TimeoutPolicyTruncate, TimeoutPolicyFail, cfg.Search.TimeoutPolicy)
	}

	if cfg.Search.Timeout < 0 {
		return fmt.Errorf("search.timeout must not be negative, got %s", time.Duration(cfg.Search.Timeout))
	}

	if _, err := cfg.Logging.level(); err != nil {
		return err
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", cfg.Logging.Format)
	}

	return nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Conversions
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

func (cfg IndexConfig) WriterOptions() ([]index.IndexWriterOption, error) {
	compression, err := index.ParseCompression(cfg.StoredCompression)
	if err != nil {
		return nil, err
	}

	return []index.IndexWriterOption{index.WithStoredCompression(compression)}, nil
}

func (cfg SearchConfig) SearcherOptions() []search.Option {
	return []search.Option{
		search.WithParallelism(cfg.Parallelism),
		search.WithFieldSortScores(cfg.FieldSortTracksScores != nil && *cfg.FieldSortTracksScores),
	}
}

// NewDeadline starts the deadline of one execution, nil when no timeout is
// configured.
func (cfg SearchConfig) NewDeadline(opts ...collect.DeadlineOption) *collect.Deadline {
	if cfg.Timeout <= 0 {
		return nil
	}

	options := []collect.DeadlineOption{collect.WithCheckInterval(cfg.DeadlineCheckInterval)}
	if cfg.TimeoutPolicy == TimeoutPolicyFail {
		options = append(options, collect.FailOnTimeout())
	}

	return collect.NewDeadline(time.Duration(cfg.Timeout), append(options, opts...)...)
}

func (cfg LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the configured handler writing to w.
func (cfg LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := cfg.level()
	if err != nil {
		return nil, err
	}

	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, options)), nil
	}
	return slog.New(slog.NewTextHandler(w, options)), nil
}

func (cfg MetricsConfig) IsEnabled() bool {
	return cfg.Enabled != nil && *cfg.Enabled
}

func boolPtr(v bool) *bool {
	return &v
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Duration
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// Duration reads "250ms"-style strings from TOML and YAML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
