// Package scoring runs the RFV pipeline: resolve the parameter set, load
// segments and sales, aggregate, score, classify and rank.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const tracerName = "kestrel-scoring"

// Store is the read side of the repository the pipeline needs.
type Store interface {
	FindActiveParameterSet(ctx context.Context, tenantID string, branchID *string, asOf time.Time) (*domain.ParameterSet, error)
	ListSegments(ctx context.Context, tenantID string, parameterSetID string) ([]*domain.Segment, error)
	ListSalesInWindow(ctx context.Context, tenantID string, branchID *string, from, to time.Time) ([]*domain.Sale, error)
}

// Options tunes a Service.
type Options struct {
	// Workers bounds concurrent scoring. Values below 1 mean 1.
	Workers int

	// CacheTTL is the report cache lifetime. Zero disables caching.
	CacheTTL time.Duration

	Ranking domain.RankingConfig

	// Tracing supplies pipeline spans. Nil disables tracing.
	Tracing trace.TracerProvider

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service is the scoring orchestrator. It is read-only against the store
// and safe for concurrent use.
type Service struct {
	store   Store
	engine  *rules.Engine
	cache   domain.Cache
	ranking *RankingTable
	workers int
	ttl     time.Duration
	now     func() time.Time
	tracer  trace.Tracer
}

// NewService creates a scoring service. cache may be nil.
func NewService(store Store, engine *rules.Engine, cache domain.Cache, opts Options) *Service {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	provider := opts.Tracing
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	return &Service{
		store:   store,
		engine:  engine,
		cache:   cache,
		ranking: NewRankingTable(opts.Ranking),
		workers: workers,
		ttl:     opts.CacheTTL,
		now:     now,
		tracer:  provider.Tracer(tracerName),
	}
}

// Request describes one scoring run.
type Request struct {
	TenantID string
	BranchID *string

	// AsOf defaults to the current time.
	AsOf *time.Time

	// Fresh skips the report cache.
	Fresh bool
}

// CalculateScores scores every customer of a scope as of now.
func (s *Service) CalculateScores(ctx context.Context, tenantID string, branchID *string) (*domain.ScoreReport, error) {
	return s.Calculate(ctx, Request{TenantID: tenantID, BranchID: branchID})
}

// CalculateScoresAt scores every customer of a scope as of asOf.
func (s *Service) CalculateScoresAt(ctx context.Context, tenantID string, branchID *string, asOf time.Time) (*domain.ScoreReport, error) {
	return s.Calculate(ctx, Request{TenantID: tenantID, BranchID: branchID, AsOf: &asOf})
}

// Calculate runs the pipeline. A missing configuration returns
// domain.ErrNoActiveConfiguration; store errors are returned as-is.
func (s *Service) Calculate(ctx context.Context, req Request) (*domain.ScoreReport, error) {
	start := time.Now()
	asOf := s.now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}

	ctx, span := s.tracer.Start(ctx, "scoring.calculate", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("branch.id", scopeKey(req.BranchID)),
	))
	defer span.End()

	ps, err := s.resolve(ctx, req.TenantID, req.BranchID, asOf)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("parameter_set.id", ps.ID))

	key := CacheKey(ps.ID, req.BranchID, req.AsOf)
	if !req.Fresh {
		if report := s.cached(ctx, req.TenantID, key); report != nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return report, nil
		}
	}

	segments, err := s.loadSegments(ctx, req.TenantID, ps.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	sales, err := s.loadSales(ctx, req.TenantID, req.BranchID, asOf, ps.WindowDays)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	snap, issues := s.engine.Compile(ps, segments)
	for _, issue := range issues {
		slog.Warn("malformed rule ignored",
			"tenant_id", req.TenantID,
			"parameter_set_id", ps.ID,
			"error", issue,
		)
	}

	metrics := aggregate.Aggregate(asOf, ps.WindowDays, sales)
	results, err := s.score(ctx, snap, metrics)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &domain.ScoreReport{
		ParameterSetID:   ps.ID,
		ParameterSetUsed: ps.DisplayName(),
		BranchID:         req.BranchID,
		AnalysisDate:     asOf,
		WindowDays:       ps.WindowDays,
		Results:          results,
	}
	s.storeCached(ctx, req.TenantID, key, report)

	slog.Info("scores calculated",
		"tenant_id", req.TenantID,
		"parameter_set_id", ps.ID,
		"customers", len(results),
		"sales", len(sales),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

func (s *Service) resolve(ctx context.Context, tenantID string, branchID *string, asOf time.Time) (*domain.ParameterSet, error) {
	ctx, span := s.tracer.Start(ctx, "scoring.resolve")
	defer span.End()
	return s.store.FindActiveParameterSet(ctx, tenantID, branchID, asOf)
}

func (s *Service) loadSegments(ctx context.Context, tenantID, parameterSetID string) ([]*domain.Segment, error) {
	ctx, span := s.tracer.Start(ctx, "scoring.load_segments")
	defer span.End()
	segments, err := s.store.ListSegments(ctx, tenantID, parameterSetID)
	span.SetAttributes(attribute.Int("segments", len(segments)))
	return segments, err
}

func (s *Service) loadSales(ctx context.Context, tenantID string, branchID *string, asOf time.Time, windowDays int) ([]*domain.Sale, error) {
	ctx, span := s.tracer.Start(ctx, "scoring.load_sales")
	defer span.End()
	from, to := aggregate.Window(asOf, windowDays)
	sales, err := s.store.ListSalesInWindow(ctx, tenantID, branchID, from, to)
	span.SetAttributes(attribute.Int("sales", len(sales)))
	return sales, err
}

// score fans customers out over at most s.workers goroutines. Each chunk
// writes only its own slice range, and the output keeps the input order.
func (s *Service) score(ctx context.Context, snap *rules.Snapshot, metrics []domain.CustomerMetrics) ([]domain.ScoredCustomer, error) {
	ctx, span := s.tracer.Start(ctx, "scoring.score")
	defer span.End()

	results := make([]domain.ScoredCustomer, len(metrics))
	if len(metrics) == 0 {
		return results, nil
	}

	chunk := (len(metrics) + s.workers - 1) / s.workers
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for lo := 0; lo < len(metrics); lo += chunk {
		hi := min(lo+chunk, len(metrics))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				results[i] = s.scoreOne(snap, metrics[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) scoreOne(snap *rules.Snapshot, m domain.CustomerMetrics) domain.ScoredCustomer {
	scores := snap.Score(m)
	return domain.ScoredCustomer{
		CustomerID:       m.CustomerID,
		RecencyDays:      m.RecencyDays,
		Frequency:        m.Frequency,
		Value:            m.Value,
		LastPurchaseDate: m.LastPurchaseDate,
		RecencyScore:     scores.R,
		FrequencyScore:   scores.F,
		ValueScore:       scores.V,
		Code:             scores.Code(),
		Segment:          snap.Classify(scores, m),
		Ranking:          s.ranking.Label(scores.Sum()),
	}
}

// CacheKey is the report cache key for a parameter set, scope and analysis
// instant. A nil asOf keys the rolling "latest" report, which is only as
// stale as the cache TTL.
func CacheKey(parameterSetID string, branchID *string, asOf *time.Time) string {
	instant := latestKey
	if asOf != nil {
		instant = asOf.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s%s:%s:%s", cachePrefix, parameterSetID, scopeKey(branchID), instant)
}

const (
	cachePrefix = "scores:"
	latestKey   = "latest"
)

// Invalidate drops cached reports. An empty parameterSetID drops every
// report of the tenant.
func (s *Service) Invalidate(ctx context.Context, tenantID, parameterSetID string) {
	if s.cache == nil {
		return
	}
	prefix := cachePrefix
	if parameterSetID != "" {
		prefix += parameterSetID + ":"
	}
	if err := s.cache.DeletePrefix(ctx, tenantID, prefix); err != nil {
		slog.Warn("failed to invalidate score cache",
			"tenant_id", tenantID,
			"prefix", prefix,
			"error", err,
		)
	}
}

func (s *Service) cached(ctx context.Context, tenantID, key string) *domain.ScoreReport {
	if s.cache == nil || s.ttl <= 0 {
		return nil
	}
	data, err := s.cache.Get(ctx, tenantID, key)
	if err != nil {
		slog.Warn("score cache read failed", "tenant_id", tenantID, "key", key, "error", err)
		return nil
	}
	if data == nil {
		return nil
	}
	var report domain.ScoreReport
	if err := json.Unmarshal(data, &report); err != nil {
		slog.Warn("discarding corrupt cached report", "tenant_id", tenantID, "key", key, "error", err)
		return nil
	}
	return &report
}

func (s *Service) storeCached(ctx context.Context, tenantID, key string, report *domain.ScoreReport) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		slog.Warn("failed to encode report for cache", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, tenantID, key, data, s.ttl); err != nil {
		slog.Warn("score cache write failed", "tenant_id", tenantID, "key", key, "error", err)
	}
}

func scopeKey(branchID *string) string {
	if branchID == nil {
		return "*"
	}
	return *branchID
}
