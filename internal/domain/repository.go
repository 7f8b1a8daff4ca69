// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Parameter set operations
	SaveParameterSet(ctx context.Context, tenantID string, ps *ParameterSet) error
	GetParameterSet(ctx context.Context, tenantID string, id string) (*ParameterSet, error)
	ListParameterSets(ctx context.Context, tenantID string, branchID *string) ([]*ParameterSet, error)
	DeleteParameterSet(ctx context.Context, tenantID string, id string) error

	// FindActiveParameterSet returns the set to use for branchID at asOf,
	// or ErrNoActiveConfiguration.
	FindActiveParameterSet(ctx context.Context, tenantID string, branchID *string, asOf time.Time) (*ParameterSet, error)

	// Segment operations
	SaveSegment(ctx context.Context, tenantID string, seg *Segment) error
	ListSegments(ctx context.Context, tenantID string, parameterSetID string) ([]*Segment, error)
	DeleteSegment(ctx context.Context, tenantID string, id string) error

	// Sales operations
	SaveSales(ctx context.Context, tenantID string, sales []*Sale) error
	ListSalesInWindow(ctx context.Context, tenantID string, branchID *string, from, to time.Time) ([]*Sale, error)

	// Score run summaries
	SaveScoreRun(ctx context.Context, tenantID string, run *ScoreRun) error
	GetScoreRun(ctx context.Context, tenantID string, id string) (*ScoreRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
