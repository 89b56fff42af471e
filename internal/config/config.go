// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/thesis-harvester/internal/classifier"
	"github.com/JakeFAU/thesis-harvester/internal/crawler"
)

// Driver names accepted by db.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Retry strategies accepted by fetcher.retry.strategy.
const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	DataDir    string           `mapstructure:"data_dir" yaml:"data_dir"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	DB         DBConfig         `mapstructure:"db" yaml:"db"`
	Crawler    CrawlerConfig    `mapstructure:"crawler" yaml:"crawler"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher" yaml:"fetcher"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Sync       SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development" yaml:"development"`
	Level       string `mapstructure:"level" yaml:"level"`
}

// DBConfig selects and locates the persistent store.
type DBConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	Path            string        `mapstructure:"path" yaml:"path"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// CrawlerConfig governs the listing frontier and crawl budget.
type CrawlerConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	SearchPath     string `mapstructure:"search_path" yaml:"search_path"`
	Query          string `mapstructure:"query" yaml:"query"`
	SortBy         string `mapstructure:"sort_by" yaml:"sort_by"`
	Order          string `mapstructure:"order" yaml:"order"`
	ResultsPerPage int    `mapstructure:"results_per_page" yaml:"results_per_page"`
	MaxPage        int    `mapstructure:"max_page" yaml:"max_page"`
	MaxDocuments   int    `mapstructure:"max_documents" yaml:"max_documents"`
	OnParseFailure string `mapstructure:"on_parse_failure" yaml:"on_parse_failure"`
	CacheDir       string `mapstructure:"cache_dir" yaml:"cache_dir"`
}

// FetcherConfig configures the HTTP client, courtesy delay and retries.
type FetcherConfig struct {
	UserAgent     string        `mapstructure:"user_agent" yaml:"user_agent"`
	Delay         time.Duration `mapstructure:"delay" yaml:"delay"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	RespectRobots bool          `mapstructure:"respect_robots" yaml:"respect_robots"`
	Retry         RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig selects the fetch retry policy.
type RetryConfig struct {
	Strategy    string        `mapstructure:"strategy" yaml:"strategy"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay" yaml:"delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// ClassifierConfig overrides the file classifier constraints. Empty lists keep
// the built-in keyword lists.
type ClassifierConfig struct {
	MaxSizeMB   float64  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	LimitSize   bool     `mapstructure:"limit_size" yaml:"limit_size"`
	OpenMarkers []string `mapstructure:"open_markers" yaml:"open_markers"`
	Whitelist   []string `mapstructure:"whitelist" yaml:"whitelist"`
	Blacklist   []string `mapstructure:"blacklist" yaml:"blacklist"`
}

// SyncConfig controls where and how fast files are downloaded.
type SyncConfig struct {
	BaseDir       string        `mapstructure:"base_dir" yaml:"base_dir"`
	CourtesyDelay time.Duration `mapstructure:"courtesy_delay" yaml:"courtesy_delay"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"data-dir":         "data_dir",
	"db-driver":        "db.driver",
	"db-path":          "db.path",
	"dsn":              "db.dsn",
	"max-documents":    "crawler.max_documents",
	"max-page":         "crawler.max_page",
	"on-parse-failure": "crawler.on_parse_failure",
	"delay":            "fetcher.delay",
	"max-size-mb":      "classifier.max_size_mb",
	"base-dir":         "sync.base_dir",
	"courtesy-delay":   "sync.courtesy_delay",
	"addr":             "server.addr",
	"log-level":        "logging.level",
	"dev":              "logging.development",
}

// Load builds a Config from defaults, an optional YAML file, HARVEST_* environment
// variables and any flags in flags that were set explicitly, in increasing order
// of precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

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
	cfg.applyDataDir()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.busy_timeout", 5*time.Second)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("crawler.base_url", "https://skemman.is")
	v.SetDefault("crawler.search_path", "/simple-search")
	v.SetDefault("crawler.query", "*")
	v.SetDefault("crawler.sort_by", "score")
	v.SetDefault("crawler.order", "desc")
	v.SetDefault("crawler.results_per_page", 25)
	v.SetDefault("crawler.max_page", 2000)
	v.SetDefault("crawler.max_documents", 10)
	v.SetDefault("crawler.on_parse_failure", string(crawler.FailureSkip))
	v.SetDefault("fetcher.user_agent", "thesis-harvester/0.1")
	v.SetDefault("fetcher.delay", time.Second)
	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.max_body_bytes", 100<<20)
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("fetcher.retry.strategy", RetryFixed)
	v.SetDefault("fetcher.retry.max_attempts", 5)
	v.SetDefault("fetcher.retry.delay", time.Second)
	v.SetDefault("fetcher.retry.max_delay", 30*time.Second)
	v.SetDefault("classifier.max_size_mb", classifier.DefaultMaxSizeMB)
	v.SetDefault("classifier.limit_size", true)
	v.SetDefault("sync.courtesy_delay", 2*time.Second)
	v.SetDefault("server.addr", ":8080")
}

// applyDataDir fills paths that default to locations under DataDir.
func (c *Config) applyDataDir() {
	if c.DB.Path == "" {
		c.DB.Path = filepath.Join(c.DataDir, "db", "harvest.db")
	}
	if c.Crawler.CacheDir == "" {
		c.Crawler.CacheDir = filepath.Join(c.DataDir, "cache")
	}
	if c.Sync.BaseDir == "" {
		c.Sync.BaseDir = filepath.Join(c.DataDir, "pdf")
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("db.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("db.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DB.Driver)
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if c.Crawler.ResultsPerPage <= 0 {
		return fmt.Errorf("crawler.results_per_page must be > 0")
	}
	if c.Crawler.MaxPage < 2 {
		return fmt.Errorf("crawler.max_page must be >= 2")
	}
	if _, err := crawler.ParseFailurePolicy(c.Crawler.OnParseFailure); err != nil {
		return fmt.Errorf("crawler.on_parse_failure: %w", err)
	}
	if c.Fetcher.Delay < 0 {
		return fmt.Errorf("fetcher.delay must be >= 0")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	switch c.Fetcher.Retry.Strategy {
	case RetryFixed, RetryExponential:
	default:
		return fmt.Errorf("fetcher.retry.strategy must be %q or %q", RetryFixed, RetryExponential)
	}
	if c.Fetcher.Retry.MaxAttempts < 1 {
		return fmt.Errorf("fetcher.retry.max_attempts must be >= 1")
	}
	if c.Fetcher.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetcher.max_body_bytes must be > 0")
	}
	if c.Classifier.LimitSize && c.Classifier.MaxSizeMB <= 0 {
		return fmt.Errorf("classifier.max_size_mb must be > 0 when limit_size is set")
	}
	if c.Classifier.LimitSize && float64(c.Fetcher.MaxBodyBytes) < c.Classifier.MaxSizeMB*1e6 {
		return fmt.Errorf("fetcher.max_body_bytes (%d) must cover classifier.max_size_mb (%g MB)",
			c.Fetcher.MaxBodyBytes, c.Classifier.MaxSizeMB)
	}
	if c.Sync.CourtesyDelay < 0 {
		return fmt.Errorf("sync.courtesy_delay must be >= 0")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

// Constraints converts the classifier section into classifier constraints.
func (c ClassifierConfig) Constraints() classifier.Constraints {
	cons := classifier.DefaultConstraints()
	cons.MaxSizeMB = c.MaxSizeMB
	cons.LimitSize = c.LimitSize
	if len(c.OpenMarkers) > 0 {
		cons.OpenMarkers = c.OpenMarkers
	}
	if len(c.Whitelist) > 0 {
		cons.Whitelist = c.Whitelist
	}
	if len(c.Blacklist) > 0 {
		cons.Blacklist = c.Blacklist
	}
	return cons
}

// RetryPolicy builds the configured fetch retry policy.
func (c FetcherConfig) RetryPolicy() crawler.RetryPolicy {
	if c.Retry.Strategy == RetryExponential {
		return crawler.NewExponentialRetryPolicy(c.Retry.MaxAttempts, c.Retry.Delay, c.Retry.MaxDelay)
	}
	return crawler.NewFixedRetryPolicy(c.Retry.MaxAttempts, c.Retry.Delay)
}

// FailurePolicy returns the parsed crawler.on_parse_failure value.
func (c CrawlerConfig) FailurePolicy() crawler.FailurePolicy {
	p, err := crawler.ParseFailurePolicy(c.OnParseFailure)
	if err != nil {
		return crawler.FailureSkip
	}
	return p
}
