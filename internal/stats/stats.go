// Package stats computes system-wide flagging rates for reporting.
package stats

import (
	"context"
	"fmt"

	"github.com/openexpense/kestrel/internal/domain"
)

// Aggregator is a read-side aggregation over the expense store.
type Aggregator struct {
	repo domain.Repository
}

// New creates a statistics aggregator backed by repo.
func New(repo domain.Repository) *Aggregator {
	return &Aggregator{repo: repo}
}

// GetStatistics returns totals and the flagging rate. FraudRate is a
// percentage with two decimals, or "0" when the store is empty.
func (a *Aggregator) GetStatistics(ctx context.Context) (*domain.Statistics, error) {
	total, err := a.repo.CountExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count expenses: %w", err)
	}

	flagged, err := a.repo.CountFlagged(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count flagged expenses: %w", err)
	}

	pending, err := a.repo.CountPendingReview(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending reviews: %w", err)
	}

	rate := "0"
	if total > 0 {
		rate = fmt.Sprintf("%.2f", float64(flagged)/float64(total)*100)
	}

	return &domain.Statistics{
		TotalExpenses:   total,
		FlaggedExpenses: flagged,
		PendingReview:   pending,
		FraudRate:       rate,
	}, nil
}
