// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fightgraph-crawler/internal/archive/gcs"
	"github.com/JakeFAU/fightgraph-crawler/internal/archive/local"
	"github.com/JakeFAU/fightgraph-crawler/internal/ingest"
	"github.com/JakeFAU/fightgraph-crawler/internal/record"
)

// EnvPrefix prefixes environment overrides, e.g. INGEST_STORE_BACKEND.
const EnvPrefix = "INGEST"

// Store, archive and notify backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Pipeline PipelineConfig          `mapstructure:"pipeline"`
	Store    StoreConfig             `mapstructure:"store"`
	Crawler  CrawlerConfig           `mapstructure:"crawler"`
	Families map[string]FamilyConfig `mapstructure:"families"`
	Resume   ResumeConfig            `mapstructure:"resume"`
	Archive  ArchiveConfig           `mapstructure:"archive"`
	Notify   NotifyConfig            `mapstructure:"notify"`
	Status   StatusConfig            `mapstructure:"status"`
	Logging  LoggingConfig           `mapstructure:"logging"`
}

// PipelineConfig controls batching and the ingest worker pool.
type PipelineConfig struct {
	BatchSize     int                          `mapstructure:"batch_size"`
	Workers       int                          `mapstructure:"workers"`
	QueueDepth    int                          `mapstructure:"queue_depth"`
	DrainAttempts uint                         `mapstructure:"drain_attempts"`
	DrainDelay    time.Duration                `mapstructure:"drain_delay"`
	Hash          map[string]ingest.HashPolicy `mapstructure:"hash"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
}

// PostgresConfig configures the postgres pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests uint32        `mapstructure:"half_open_requests"`
}

// CrawlerConfig governs the fetch engine.
type CrawlerConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Concurrency    int           `mapstructure:"concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerDomain  float64       `mapstructure:"rate_per_domain"`
	Burst          int           `mapstructure:"burst"`
	Proxies        []string      `mapstructure:"proxies"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryHTTPCodes []int         `mapstructure:"retry_http_codes"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
}

// FamilyConfig holds the seeds of one crawl family.
type FamilyConfig struct {
	Seeds     []string `mapstructure:"seeds"`
	PageCount int      `mapstructure:"page_count"`
}

// ResumeConfig sizes the known-link cache.
type ResumeConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// ArchiveConfig selects where raw pages are kept.
type ArchiveConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// NotifyConfig selects where flush events are published.
type NotifyConfig struct {
	Backend string       `mapstructure:"backend"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds Pub/Sub coordinates.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// StatusConfig controls the status HTTP server. An empty Addr disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and INGEST_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// weightClasses are the listing pages the participants family walks by default.
var weightClasses = []string{
	"Atomweight-105-pounds",
	"Strawweight-115-pounds",
	"Flyweight-125-pounds",
	"Bantamweight-135-pounds",
	"Featherweight-145-pounds",
	"Lightweight-155-pounds",
	"Welterweight-170-pounds",
	"Middleweight-185-pounds",
	"Light_Heavyweight-205-pounds",
	"Heavyweight-265-pounds",
	"Super_Heavyweight-over-265-pounds",
}

func participantSeeds() []string {
	seeds := make([]string, 0, len(weightClasses))
	for _, wc := range weightClasses {
		seeds = append(seeds, "https://www.tapology.com/search/mma-fighters-by-weight-class/"+wc)
	}
	return seeds
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.batch_size", 250)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 1024)
	v.SetDefault("pipeline.drain_attempts", 3)
	v.SetDefault("pipeline.drain_delay", "500ms")
	v.SetDefault("pipeline.hash.participant_profile.exclude_sequences", true)

	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.sqlite.path", "fightgraph.db")
	v.SetDefault("store.sqlite.busy_timeout_ms", 5000)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 8)
	v.SetDefault("store.postgres.min_conns", 1)
	v.SetDefault("store.postgres.max_conn_lifetime", "30m")
	v.SetDefault("store.breaker.enabled", true)
	v.SetDefault("store.breaker.failure_threshold", 5)
	v.SetDefault("store.breaker.open_timeout", "30s")
	v.SetDefault("store.breaker.half_open_requests", 1)

	v.SetDefault("crawler.user_agent", "fightgraph-crawler/0.1")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.rate_per_domain", 2.0)
	v.SetDefault("crawler.burst", 2)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.retry_http_codes", []int{429, 500, 502, 503, 504, 522, 524, 408})
	v.SetDefault("crawler.backoff_initial", "500ms")
	v.SetDefault("crawler.backoff_max", "10s")
	v.SetDefault("crawler.respect_robots", false)

	v.SetDefault("families.organizations.page_count", 59)
	v.SetDefault("families.organizations.seeds", []string{"https://www.tapology.com/fightcenter/promotions"})
	v.SetDefault("families.participants.seeds", participantSeeds())
	v.SetDefault("families.profiles.seeds", []string{"http://www.ufcstats.com/statistics/fighters?char=*&page=all"})
	v.SetDefault("resume.cache_size", 10000)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.local.base_dir", "")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.gcs.prefix", "")
	v.SetDefault("notify.backend", BackendNone)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "ingest-flushes")
	v.SetDefault("status.addr", ":9090")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	for name := range c.Pipeline.Hash {
		if !knownVariant(name) {
			return fmt.Errorf("pipeline.hash.%s: unknown record variant", name)
		}
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Store.SQLite.Path) == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Store.Postgres.DSN) == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q must be one of memory, sqlite, postgres", c.Store.Backend)
	}

	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.BackoffMax < c.Crawler.BackoffInitial {
		return fmt.Errorf("crawler.backoff_max must be >= crawler.backoff_initial")
	}

	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Archive.Local.BaseDir) == "" {
			return fmt.Errorf("archive.local.base_dir is required for the local archive")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Archive.GCS.Bucket) == "" {
			return fmt.Errorf("archive.gcs.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q must be one of none, memory, local, gcs", c.Archive.Backend)
	}

	switch c.Notify.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.Topic == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("notify.backend %q must be one of none, memory, pubsub", c.Notify.Backend)
	}
	return nil
}

// HashPolicies returns the per-variant hash policies. Variants without configuration use the default
// policy.
func (c Config) HashPolicies() ingest.Policies {
	policies := ingest.DefaultPolicies()
	for name, policy := range c.Pipeline.Hash {
		policies[record.Variant(name)] = policy
	}
	return policies
}

// Family returns the configuration of the named family.
func (c Config) Family(name string) FamilyConfig {
	return c.Families[strings.ToLower(name)]
}

func knownVariant(name string) bool {
	for _, v := range record.Variants() {
		if string(v) == name {
			return true
		}
	}
	return false
}
