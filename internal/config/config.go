// Package config assembles a domain.Config from presets, .env files, an
// optional YAML file and KESTREL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KESTREL_"

// Options controls where Load looks.
type Options struct {
	// EnvFiles are loaded with godotenv. Missing files are skipped.
	// Variables already set in the process win.
	EnvFiles []string

	// File is an optional YAML config. ${VAR} references are expanded.
	File string
}

// Load builds the runtime configuration.
func Load(opts Options) (*domain.Config, error) {
	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}

	var raw []byte
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		raw = []byte(os.ExpandEnv(string(data)))
	}

	tier, err := selectTier(raw)
	if err != nil {
		return nil, err
	}
	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", opts.File, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat env file %s: %w", f, err)
		}
		present = append(present, f)
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// selectTier picks the preset. KESTREL_TIER beats the file's tier key.
func selectTier(raw []byte) (domain.Tier, error) {
	if v := os.Getenv(EnvPrefix + "TIER"); v != "" {
		return parseTier(v)
	}
	if len(raw) == 0 {
		return domain.TierCommunity, nil
	}
	var head struct {
		Tier string `yaml:"tier"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("parse config file: %w", err)
	}
	if head.Tier == "" {
		return domain.TierCommunity, nil
	}
	return parseTier(head.Tier)
}

func parseTier(v string) (domain.Tier, error) {
	switch t := domain.Tier(strings.ToLower(strings.TrimSpace(v))); t {
	case domain.TierCommunity, domain.TierPro:
		return t, nil
	default:
		return "", fmt.Errorf("unknown tier %q", v)
	}
}

// applyEnv overlays KESTREL_* variables.
func applyEnv(cfg *domain.Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("HOST", &cfg.Server.Host)
	num("PORT", &cfg.Server.Port)

	str("DB_DRIVER", &cfg.Repository.Driver)
	str("SQLITE_PATH", &cfg.Repository.SQLitePath)
	str("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	num("POSTGRES_PORT", &cfg.Repository.PostgresPort)
	str("POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("CACHE_TYPE", &cfg.Cache.Type)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	num("REDIS_DB", &cfg.Cache.RedisDB)

	str("BUS_TYPE", &cfg.EventBus.Type)
	str("NATS_URL", &cfg.EventBus.NATSUrl)
	str("NATS_TOKEN", &cfg.EventBus.NATSToken)

	num("SCORING_WORKERS", &cfg.Scoring.Workers)
	dur("SCORING_CACHE_TTL", &cfg.Scoring.CacheTTL)

	flag("WORKER_ENABLED", &cfg.Worker.Enabled)
	if v, ok := os.LookupEnv(EnvPrefix + "TENANTS"); ok {
		cfg.Worker.TenantIDs = splitList(v)
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	if os.Getenv(EnvPrefix+"DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	flag("TRACING", &cfg.Tracing.Enabled)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			errs = append(errs, errors.New("repository.sqlitePath is required for sqlite"))
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" || cfg.Repository.PostgresDB == "" {
			errs = append(errs, errors.New("repository.postgresHost and postgresDb are required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "", "memory", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache type %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "", "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type))
	}
	if cfg.Scoring.Workers < 1 {
		errs = append(errs, fmt.Errorf("scoring.workers must be at least 1, got %d", cfg.Scoring.Workers))
	}
	if cfg.Scoring.CacheTTL < 0 {
		errs = append(errs, errors.New("scoring.cacheTtl must not be negative"))
	}
	for _, tier := range cfg.Scoring.Ranking.Tiers {
		if tier.MinSum > tier.MaxSum {
			errs = append(errs, fmt.Errorf("ranking tier %q: minSum %d > maxSum %d", tier.Label, tier.MinSum, tier.MaxSum))
		}
	}
	return errors.Join(errs...)
}
