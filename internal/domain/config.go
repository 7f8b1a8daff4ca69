package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`
	Scoring    ScoringConfig    `json:"scoring" yaml:"scoring"`
	Worker     WorkerConfig     `json:"worker" yaml:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
}

// ScoringConfig tunes the scoring orchestrator.
type ScoringConfig struct {
	// Workers bounds the number of customers scored concurrently.
	Workers int `json:"workers" yaml:"workers"`

	// CacheTTL is how long a report is served from cache. Zero disables caching.
	CacheTTL time.Duration `json:"cacheTtl" yaml:"cacheTtl"`

	// Ranking maps the sum of the three scores to a label.
	Ranking RankingConfig `json:"ranking" yaml:"ranking"`
}

// RankingConfig is an ordered list of inclusive score-sum ranges.
type RankingConfig struct {
	Tiers    []RankTier `json:"tiers" yaml:"tiers"`
	Fallback string     `json:"fallback" yaml:"fallback"`
}

// RankTier labels sums in [MinSum, MaxSum].
type RankTier struct {
	MinSum int    `json:"minSum" yaml:"minSum"`
	MaxSum int    `json:"maxSum" yaml:"maxSum"`
	Label  string `json:"label" yaml:"label"`
}

// DefaultRanking is the automatic ranking used when none is configured.
func DefaultRanking() RankingConfig {
	return RankingConfig{
		Tiers: []RankTier{
			{MinSum: 13, MaxSum: 15, Label: "Diamond"},
			{MinSum: 10, MaxSum: 12, Label: "Gold"},
			{MinSum: 7, MaxSum: 9, Label: "Silver"},
		},
		Fallback: "Bronze",
	}
}

// WorkerConfig controls the asynchronous scoring worker.
type WorkerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// TenantIDs to subscribe for. Empty subscribes for every tenant.
	TenantIDs []string `json:"tenantIds" yaml:"tenantIds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process cache and channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Scoring: ScoringConfig{
			Workers:  8,
			CacheTTL: 5 * time.Minute,
			Ranking:  DefaultRanking(),
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
		MaxOpenConns: 20,
		MaxIdleConns: 5,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   500,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5 * time.Second,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
