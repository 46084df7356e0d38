// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for expense persistence and the
// historical queries the screening checks depend on. Screening only reads;
// writes happen before or after a screening call, never inside one.
type Repository interface {
	// Expense operations
	SaveExpense(ctx context.Context, e *Expense) error
	UpdateExpense(ctx context.Context, e *Expense) error
	GetExpense(ctx context.Context, id string) (*Expense, error)
	ListExpenses(ctx context.Context, ownerID string, limit, offset int) ([]*Expense, error)
	UpdateExpenseFlags(ctx context.Context, id string, flagged bool, reason string, flaggedAt time.Time) error
	UpdateExpenseStatus(ctx context.Context, id string, status Status) error

	// Screening queries. excludeID keeps a persisted candidate from
	// matching its own record; pass "" for new submissions.
	FindAmountMatches(ctx context.Context, ownerID string, amount float64, from, to time.Time, excludeID string) ([]*Expense, error)
	CountSimilarDescriptions(ctx context.Context, ownerID, description string, createdSince time.Time, excludeID string) (int64, error)
	CountSubmissionsSince(ctx context.Context, ownerID string, createdSince time.Time, excludeID string) (int64, error)

	// Statistics counts
	CountExpenses(ctx context.Context) (int64, error)
	CountFlagged(ctx context.Context) (int64, error)
	CountPendingReview(ctx context.Context) (int64, error)

	// Custom rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
