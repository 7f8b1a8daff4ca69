// Package worker runs scoring requests off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Scorer is the part of scoring.Service the worker drives.
type Scorer interface {
	Calculate(ctx context.Context, req scoring.Request) (*domain.ScoreReport, error)
}

// RunStore persists run summaries.
type RunStore interface {
	SaveScoreRun(ctx context.Context, tenantID string, run *domain.ScoreRun) error
}

// Worker consumes TopicScoreRequested, scores the requested scope, stores
// the run summary and announces it on TopicScoreCompleted.
type Worker struct {
	bus    domain.EventBus
	runs   RunStore
	scorer Scorer
	now    func() time.Time

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs limits the worker to these tenants. Empty means every tenant.
	TenantIDs []string
}

// NewWorker creates a worker. runs may be nil, in which case summaries are
// only published.
func NewWorker(bus domain.EventBus, runs RunStore, scorer Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		runs:   runs,
		scorer: scorer,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes for the configured tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	var started int
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicScoreRequested, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
		started++
	}
	if started == 0 {
		return fmt.Errorf("worker: no subscriptions started")
	}

	slog.Info("workers started",
		"tenants", tenants,
		"topic", domain.TopicScoreRequested,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.ScoreRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse score request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	// The envelope tenant is authoritative; payloads cannot cross tenants.
	req.TenantID = msg.TenantID
	if req.RunID == "" {
		req.RunID = msg.ID
	}

	run := w.Process(ctx, req)

	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, req.TenantID, domain.TopicScoreCompleted, payload); err != nil {
		slog.Error("failed to publish score completion",
			"run_id", run.ID,
			"tenant_id", req.TenantID,
			"error", err,
		)
		return err
	}
	return nil
}

// Process scores one request and stores its summary. Failures are recorded
// on the returned run rather than returned.
func (w *Worker) Process(ctx context.Context, req domain.ScoreRequest) *domain.ScoreRun {
	start := time.Now()
	run := &domain.ScoreRun{
		ID:          req.RunID,
		TenantID:    req.TenantID,
		BranchID:    req.BranchID,
		Status:      domain.RunStatusPending,
		RequestedAt: w.now().UTC(),
	}

	report, err := w.scorer.Calculate(ctx, scoring.Request{
		TenantID: req.TenantID,
		BranchID: req.BranchID,
		AsOf:     req.AsOf,
		Fresh:    true,
	})
	completed := w.now().UTC()
	run.CompletedAt = &completed

	switch {
	case err != nil:
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		if req.AsOf != nil {
			run.AnalysisDate = req.AsOf.UTC()
		}
		level := slog.LevelError
		if errors.Is(err, domain.ErrNoActiveConfiguration) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "score run failed",
			"run_id", run.ID,
			"tenant_id", run.TenantID,
			"trace_id", req.TraceID,
			"error", err,
		)
	default:
		run.Status = domain.RunStatusCompleted
		run.Summarize(report)
	}

	if w.runs != nil {
		if err := w.runs.SaveScoreRun(ctx, run.TenantID, run); err != nil {
			slog.Error("failed to save score run",
				"run_id", run.ID,
				"tenant_id", run.TenantID,
				"error", err,
			)
		}
	}

	slog.Info("score run processed",
		"run_id", run.ID,
		"tenant_id", run.TenantID,
		"status", run.Status,
		"customers", run.Customers,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return run
}

// Stop unsubscribes and cancels in-flight runs.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
