// Package worker provides async screening for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/openexpense/kestrel/internal/domain"
	"github.com/openexpense/kestrel/internal/screening"
	"github.com/openexpense/kestrel/internal/stats"
)

// Worker screens submitted expenses asynchronously from the EventBus and
// periodically logs system-wide flagging statistics.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	screener   *screening.Screener
	aggregator *stats.Aggregator

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// StatsLogInterval is how often flagging statistics are logged.
	// Zero disables the ticker.
	StatsLogInterval time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, screener *screening.Screener, aggregator *stats.Aggregator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		repo:       repo,
		screener:   screener,
		aggregator: aggregator,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to submitted expenses and starts the stats ticker.
func (w *Worker) Start(cfg Config) error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicExpenseSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	if cfg.StatsLogInterval > 0 && w.aggregator != nil {
		w.wg.Add(1)
		go w.logStats(cfg.StatsLogInterval)
	}

	slog.Info("worker started",
		"topic", domain.TopicExpenseSubmitted,
		"stats_interval", cfg.StatsLogInterval,
	)

	return nil
}

// SubmissionMessage is the message payload for async screening.
type SubmissionMessage struct {
	ExpenseID   string    `json:"expenseId"`
	OwnerID     string    `json:"ownerId"`
	Amount      float64   `json:"amount"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

// handleMessage screens one submitted expense.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var sub SubmissionMessage
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		slog.Error("failed to parse submission message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("screening submitted expense",
		"expense_id", sub.ExpenseID,
		"owner_id", sub.OwnerID,
	)

	cand := &domain.Candidate{
		ID:          sub.ExpenseID,
		OwnerID:     sub.OwnerID,
		Amount:      sub.Amount,
		Category:    domain.Category(sub.Category),
		Description: sub.Description,
		Date:        sub.Date,
	}

	decision, err := w.screener.Screen(ctx, cand)
	if err != nil {
		slog.Error("screening failed",
			"expense_id", sub.ExpenseID,
			"error", err,
		)
		return err
	}

	// Persist the decision onto the expense record
	if w.repo != nil && sub.ExpenseID != "" {
		if err := w.repo.UpdateExpenseFlags(ctx, sub.ExpenseID, decision.IsFlagged, decision.Reason, decision.ScreenedAt); err != nil {
			slog.Error("failed to persist screening decision",
				"expense_id", sub.ExpenseID,
				"error", err,
			)
		}
	}

	// Publish result to decision topic
	resultPayload, _ := json.Marshal(decision)
	if err := w.bus.Publish(ctx, domain.TopicDecision, resultPayload); err != nil {
		slog.Error("failed to publish decision",
			"expense_id", sub.ExpenseID,
			"error", err,
		)
	}

	// If flagged, publish to the flagged topic for review tooling
	if decision.IsFlagged {
		if err := w.bus.Publish(ctx, domain.TopicFlagged, resultPayload); err != nil {
			slog.Error("failed to publish flag alert",
				"expense_id", sub.ExpenseID,
				"error", err,
			)
		}
	}

	slog.Info("expense screened",
		"expense_id", sub.ExpenseID,
		"owner_id", sub.OwnerID,
		"flagged", decision.IsFlagged,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// logStats periodically logs flagging statistics.
func (w *Worker) logStats(interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			s, err := w.aggregator.GetStatistics(w.ctx)
			if err != nil {
				slog.Warn("failed to compute statistics", "error", err)
				continue
			}
			slog.Info("flagging statistics",
				"total_expenses", s.TotalExpenses,
				"flagged_expenses", s.FlaggedExpenses,
				"pending_review", s.PendingReview,
				"fraud_rate_pct", s.FraudRate,
			)
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
