// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openexpense/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const expenseColumns = `id, owner_id, amount, category, description, date,
	   status, is_flagged, flag_reason, flagged_at, created_at, updated_at`

// SaveExpense stores a new expense record.
func (r *SQLRepository) SaveExpense(ctx context.Context, e *domain.Expense) error {
	if e.ID == "" || e.OwnerID == "" {
		return fmt.Errorf("%w: id and ownerID are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO expenses (
			id, owner_id, amount, category, description, date,
			status, is_flagged, flag_reason, flagged_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, e.OwnerID, e.Amount, string(e.Category), e.Description, e.Date,
		string(e.Status), e.IsFlagged, e.FlagReason, nullTime(e.FlaggedAt),
		e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// UpdateExpense rewrites the mutable fields of an existing expense.
// CreatedAt is never touched; it anchors the submission-time queries.
func (r *SQLRepository) UpdateExpense(ctx context.Context, e *domain.Expense) error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}

	query := `
		UPDATE expenses
		SET amount = ?, category = ?, description = ?, date = ?,
		    status = ?, is_flagged = ?, flag_reason = ?, flagged_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		e.Amount, string(e.Category), e.Description, e.Date,
		string(e.Status), e.IsFlagged, e.FlagReason, nullTime(e.FlaggedAt),
		e.UpdatedAt, e.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExpense retrieves an expense by ID.
func (r *SQLRepository) GetExpense(ctx context.Context, id string) (*domain.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

	e, err := scanExpense(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListExpenses retrieves an owner's expenses, newest first.
func (r *SQLRepository) ListExpenses(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Expense, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + expenseColumns + `
		FROM expenses
		WHERE owner_id = ?
		ORDER BY date DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectExpenses(rows)
}

// UpdateExpenseFlags writes a screening decision onto the expense record.
func (r *SQLRepository) UpdateExpenseFlags(ctx context.Context, id string, flagged bool, reason string, flaggedAt time.Time) error {
	query := `
		UPDATE expenses
		SET is_flagged = ?, flag_reason = ?, flagged_at = ?, updated_at = ?
		WHERE id = ?
	`

	var at any
	if flagged {
		at = flaggedAt
	}

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		flagged, reason, at, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateExpenseStatus resolves human review: approve or reject.
func (r *SQLRepository) UpdateExpenseStatus(ctx context.Context, id string, status domain.Status) error {
	query := `UPDATE expenses SET status = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindAmountMatches returns the owner's expenses with exactly the given
// amount whose occurrence date falls in [from, to], excluding excludeID.
func (r *SQLRepository) FindAmountMatches(ctx context.Context, ownerID string, amount float64, from, to time.Time, excludeID string) ([]*domain.Expense, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + expenseColumns + `
		FROM expenses
		WHERE owner_id = ?
		  AND amount = ?
		  AND date >= ?
		  AND date <= ?
	`
	args := []any{ownerID, amount, from, to}

	if excludeID != "" {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY date DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectExpenses(rows)
}

// CountSimilarDescriptions counts the owner's expenses created at or after
// createdSince whose description contains the candidate's description,
// case-insensitively.
func (r *SQLRepository) CountSimilarDescriptions(ctx context.Context, ownerID, description string, createdSince time.Time, excludeID string) (int64, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("%w: ownerID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM expenses
		WHERE owner_id = ?
		  AND LOWER(description) LIKE ?
		  AND created_at >= ?
	`
	pattern := "%" + strings.ToLower(description) + "%"
	args := []any{ownerID, pattern, createdSince}

	if excludeID != "" {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountSubmissionsSince counts the owner's records created at or after
// createdSince, excluding excludeID.
func (r *SQLRepository) CountSubmissionsSince(ctx context.Context, ownerID string, createdSince time.Time, excludeID string) (int64, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("%w: ownerID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM expenses
		WHERE owner_id = ?
		  AND created_at >= ?
	`
	args := []any{ownerID, createdSince}

	if excludeID != "" {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountExpenses returns the total number of expense records.
func (r *SQLRepository) CountExpenses(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses`).Scan(&count)
	return count, err
}

// CountFlagged returns the number of flagged expense records.
func (r *SQLRepository) CountFlagged(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses WHERE is_flagged = TRUE`).Scan(&count)
	return count, err
}

// CountPendingReview returns the number of flagged records still awaiting
// human resolution.
func (r *SQLRepository) CountPendingReview(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM expenses WHERE is_flagged = TRUE AND status = 'pending'`,
	).Scan(&count)
	return count, err
}

// SaveRuleConfig stores a custom rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	bands, err := json.Marshal(rule.Bands)
	if err != nil {
		return fmt.Errorf("failed to marshal bands: %w", err)
	}

	version := rule.Version
	if version == "" {
		version = "1"
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands, enabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, version,
		rule.Expression, string(bands), rule.Enabled, now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest version of a rule by ID.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, enabled
		FROM rule_configs
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.RuleConfig
	var bands string

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Version,
		&rule.Expression, &bands, &rule.Enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if bands != "" {
		if err := json.Unmarshal([]byte(bands), &rule.Bands); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bands: %w", err)
		}
	}

	return &rule, nil
}

// ListRuleConfigs retrieves all rule configurations.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, enabled
		FROM rule_configs
		ORDER BY id, version
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var rule domain.RuleConfig
		var bands string

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Version,
			&rule.Expression, &bands, &rule.Enabled,
		); err != nil {
			return nil, err
		}

		if bands != "" {
			if err := json.Unmarshal([]byte(bands), &rule.Bands); err != nil {
				return nil, fmt.Errorf("failed to unmarshal bands for rule %s: %w", rule.ID, err)
			}
		}

		configs = append(configs, &rule)
	}

	return configs, rows.Err()
}

// Ping checks database health.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*domain.Expense, error) {
	var e domain.Expense
	var category, status string
	var description, flagReason sql.NullString
	var flaggedAt sql.NullTime

	if err := row.Scan(
		&e.ID, &e.OwnerID, &e.Amount, &category, &description, &e.Date,
		&status, &e.IsFlagged, &flagReason, &flaggedAt,
		&e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	e.Category = domain.Category(category)
	e.Status = domain.Status(status)
	e.Description = description.String
	e.FlagReason = flagReason.String
	if flaggedAt.Valid {
		t := flaggedAt.Time
		e.FlaggedAt = &t
	}

	return &e, nil
}

func collectExpenses(rows *sql.Rows) ([]*domain.Expense, error) {
	var expenses []*domain.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
