// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/paramset"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
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

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

// Migrate applies every schema statement. It is idempotent.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return nil
}

// SaveParameterSet inserts or replaces a parameter set. A missing ID is generated.
func (r *SQLRepository) SaveParameterSet(ctx context.Context, tenantID string, ps *domain.ParameterSet) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if ps.ID == "" {
		ps.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if ps.CreatedAt.IsZero() {
		ps.CreatedAt = now
	}
	ps.UpdatedAt = now
	ps.TenantID = tenantID

	query := `
		INSERT INTO parameter_sets (
			id, tenant_id, name, branch_id, window_days,
			recency_rule, frequency_rule, value_rule,
			effective_from, effective_to, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			branch_id = excluded.branch_id,
			window_days = excluded.window_days,
			recency_rule = excluded.recency_rule,
			frequency_rule = excluded.frequency_rule,
			value_rule = excluded.value_rule,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ps.ID, tenantID, ps.Name, nullString(ps.BranchID), ps.WindowDays,
		rawText(ps.RecencyRule), rawText(ps.FrequencyRule), rawText(ps.ValueRule),
		toMillis(ps.EffectiveFrom), optMillis(ps.EffectiveTo),
		ps.CreatedAt, ps.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save parameter set: %w", err)
	}
	return nil
}

const parameterSetColumns = `
	id, tenant_id, name, branch_id, window_days,
	recency_rule, frequency_rule, value_rule,
	effective_from, effective_to, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParameterSet(row rowScanner) (*domain.ParameterSet, error) {
	var ps domain.ParameterSet
	var branch sql.NullString
	var recency, frequency, value string
	var from int64
	var to sql.NullInt64

	if err := row.Scan(
		&ps.ID, &ps.TenantID, &ps.Name, &branch, &ps.WindowDays,
		&recency, &frequency, &value,
		&from, &to, &ps.CreatedAt, &ps.UpdatedAt,
	); err != nil {
		return nil, err
	}

	ps.BranchID = fromNullString(branch)
	ps.RecencyRule = json.RawMessage(recency)
	ps.FrequencyRule = json.RawMessage(frequency)
	ps.ValueRule = json.RawMessage(value)
	ps.EffectiveFrom = fromMillis(from)
	if to.Valid {
		t := fromMillis(to.Int64)
		ps.EffectiveTo = &t
	}
	return &ps, nil
}

// GetParameterSet retrieves a parameter set by ID with tenant isolation.
func (r *SQLRepository) GetParameterSet(ctx context.Context, tenantID string, id string) (*domain.ParameterSet, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + parameterSetColumns + ` FROM parameter_sets WHERE tenant_id = ? AND id = ?`
	ps, err := scanParameterSet(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return ps, err
}

// ListParameterSets lists a tenant's parameter sets, newest first. A nil
// branchID lists every scope.
func (r *SQLRepository) ListParameterSets(ctx context.Context, tenantID string, branchID *string) ([]*domain.ParameterSet, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + parameterSetColumns + ` FROM parameter_sets WHERE tenant_id = ?`
	args := []any{tenantID}
	if branchID != nil {
		query += ` AND branch_id = ?`
		args = append(args, *branchID)
	}
	query += ` ORDER BY effective_from DESC, id`

	return r.queryParameterSets(ctx, query, args...)
}

// FindActiveParameterSet narrows candidates in SQL and leaves precedence to
// paramset.Resolve.
func (r *SQLRepository) FindActiveParameterSet(ctx context.Context, tenantID string, branchID *string, asOf time.Time) (*domain.ParameterSet, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	at := toMillis(asOf)
	query := `SELECT ` + parameterSetColumns + `
		FROM parameter_sets
		WHERE tenant_id = ?
		  AND effective_from <= ?
		  AND (effective_to IS NULL OR effective_to >= ?)
		  AND (branch_id IS NULL OR branch_id = ?)`

	candidates, err := r.queryParameterSets(ctx, query, tenantID, at, at, nullString(branchID))
	if err != nil {
		return nil, err
	}
	return paramset.Resolve(candidates, branchID, asOf)
}

func (r *SQLRepository) queryParameterSets(ctx context.Context, query string, args ...any) ([]*domain.ParameterSet, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*domain.ParameterSet
	for rows.Next() {
		ps, err := scanParameterSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ps)
	}
	return sets, rows.Err()
}

// DeleteParameterSet removes a parameter set and, by cascade, its segments.
func (r *SQLRepository) DeleteParameterSet(ctx context.Context, tenantID string, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return r.deleteOne(ctx, `DELETE FROM parameter_sets WHERE tenant_id = ? AND id = ?`, tenantID, id)
}

// SaveSegment inserts or replaces a segment. The owning parameter set must exist.
func (r *SQLRepository) SaveSegment(ctx context.Context, tenantID string, seg *domain.Segment) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if seg.ParameterSetID == "" {
		return fmt.Errorf("%w: parameterSetId is required", domain.ErrInvalidInput)
	}
	if _, err := r.GetParameterSet(ctx, tenantID, seg.ParameterSetID); err != nil {
		return err
	}
	if seg.ID == "" {
		seg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = now
	}
	seg.UpdatedAt = now
	seg.TenantID = tenantID

	query := `
		INSERT INTO segments (
			id, tenant_id, parameter_set_id, name, priority, rules, filter_expr, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			parameter_set_id = excluded.parameter_set_id,
			name = excluded.name,
			priority = excluded.priority,
			rules = excluded.rules,
			filter_expr = excluded.filter_expr,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		seg.ID, tenantID, seg.ParameterSetID, seg.Name, seg.Priority,
		rawText(seg.Rules), seg.Filter, seg.CreatedAt, seg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save segment: %w", err)
	}
	return nil
}

// ListSegments returns the segments of one parameter set in evaluation order.
func (r *SQLRepository) ListSegments(ctx context.Context, tenantID string, parameterSetID string) ([]*domain.Segment, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, parameter_set_id, name, priority, rules, filter_expr, created_at, updated_at
		FROM segments
		WHERE tenant_id = ? AND parameter_set_id = ?
		ORDER BY priority DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, parameterSetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []*domain.Segment
	for rows.Next() {
		var seg domain.Segment
		var rules string
		if err := rows.Scan(
			&seg.ID, &seg.TenantID, &seg.ParameterSetID, &seg.Name, &seg.Priority,
			&rules, &seg.Filter, &seg.CreatedAt, &seg.UpdatedAt,
		); err != nil {
			return nil, err
		}
		seg.Rules = json.RawMessage(rules)
		segments = append(segments, &seg)
	}
	return segments, rows.Err()
}

// DeleteSegment removes one segment.
func (r *SQLRepository) DeleteSegment(ctx context.Context, tenantID string, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return r.deleteOne(ctx, `DELETE FROM segments WHERE tenant_id = ? AND id = ?`, tenantID, id)
}

// SaveSales stores a batch of sales in one transaction. Re-sending a sale
// with the same ID overwrites it.
func (r *SQLRepository) SaveSales(ctx context.Context, tenantID string, sales []*domain.Sale) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if len(sales) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO sales (id, tenant_id, branch_id, customer_id, sale_date, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			branch_id = excluded.branch_id,
			customer_id = excluded.customer_id,
			sale_date = excluded.sale_date,
			amount = excluded.amount
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare sale insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, s := range sales {
		if s.CustomerID == "" {
			return fmt.Errorf("%w: customerId is required", domain.ErrInvalidInput)
		}
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		s.TenantID = tenantID
		if _, err := stmt.ExecContext(ctx,
			s.ID, tenantID, nullString(s.BranchID), s.CustomerID, toMillis(s.Date), s.Amount.String(), s.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to save sale %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// ListSalesInWindow returns sales dated in [from, to]. A nil branchID
// returns sales of every branch.
func (r *SQLRepository) ListSalesInWindow(ctx context.Context, tenantID string, branchID *string, from, to time.Time) ([]*domain.Sale, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, branch_id, customer_id, sale_date, amount, created_at
		FROM sales
		WHERE tenant_id = ? AND sale_date >= ? AND sale_date <= ?`
	args := []any{tenantID, toMillis(from), toMillis(to)}
	if branchID != nil {
		query += ` AND branch_id = ?`
		args = append(args, *branchID)
	}
	query += ` ORDER BY customer_id, sale_date`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []*domain.Sale
	for rows.Next() {
		var s domain.Sale
		var branch sql.NullString
		var date int64
		var amount string
		if err := rows.Scan(&s.ID, &s.TenantID, &branch, &s.CustomerID, &date, &amount, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.BranchID = fromNullString(branch)
		s.Date = fromMillis(date)
		s.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("sale %s: invalid amount %q: %w", s.ID, amount, err)
		}
		sales = append(sales, &s)
	}
	return sales, rows.Err()
}

// SaveScoreRun inserts or updates a run summary.
func (r *SQLRepository) SaveScoreRun(ctx context.Context, tenantID string, run *domain.ScoreRun) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.RequestedAt.IsZero() {
		run.RequestedAt = time.Now().UTC()
	}
	run.TenantID = tenantID

	segments, err := json.Marshal(nonNilCounts(run.Segments))
	if err != nil {
		return err
	}
	rankings, err := json.Marshal(nonNilCounts(run.Rankings))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO score_runs (
			id, tenant_id, branch_id, status, parameter_set_id, analysis_date,
			customers, segments, rankings, error, requested_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			status = excluded.status,
			parameter_set_id = excluded.parameter_set_id,
			analysis_date = excluded.analysis_date,
			customers = excluded.customers,
			segments = excluded.segments,
			rankings = excluded.rankings,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, nullString(run.BranchID), run.Status, run.ParameterSetID, toMillis(run.AnalysisDate),
		run.Customers, string(segments), string(rankings), run.Error, run.RequestedAt, nullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save score run: %w", err)
	}
	return nil
}

// GetScoreRun retrieves a run summary by ID with tenant isolation.
func (r *SQLRepository) GetScoreRun(ctx context.Context, tenantID string, id string) (*domain.ScoreRun, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, branch_id, status, parameter_set_id, analysis_date,
			   customers, segments, rankings, error, requested_at, completed_at
		FROM score_runs
		WHERE tenant_id = ? AND id = ?
	`

	var run domain.ScoreRun
	var branch sql.NullString
	var analysis int64
	var segments, rankings string
	var completed sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(
		&run.ID, &run.TenantID, &branch, &run.Status, &run.ParameterSetID, &analysis,
		&run.Customers, &segments, &rankings, &run.Error, &run.RequestedAt, &completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.BranchID = fromNullString(branch)
	run.AnalysisDate = fromMillis(analysis)
	if completed.Valid {
		t := completed.Time.UTC()
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(segments), &run.Segments); err != nil {
		return nil, fmt.Errorf("failed to parse segment histogram: %w", err)
	}
	if err := json.Unmarshal([]byte(rankings), &run.Rankings); err != nil {
		return nil, fmt.Errorf("failed to parse ranking histogram: %w", err)
	}
	return &run, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) deleteOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func optMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// rawText stores absent rules as JSON null so they decode to defaults.
func rawText(raw json.RawMessage) string {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return "null"
	}
	return string(raw)
}

func nonNilCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
