// Package screening implements the expense fraud screening engine: four
// independent checks run against a candidate expense and the owner's
// historical records, aggregated into a single flagging decision with a
// human-readable reason. Checks fail open on store errors; a flagged
// expense still proceeds to pending status for human review.
package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openexpense/kestrel/internal/domain"
	"github.com/openexpense/kestrel/internal/rules"
	"github.com/openexpense/kestrel/internal/velocity"
)

var tracer = otel.Tracer("kestrel-screening")

// ErrInvalidCandidate is returned by Screen for malformed input. Evaluator
// faults never surface here; they degrade to unflagged verdicts.
var ErrInvalidCandidate = errors.New("invalid candidate")

// Evaluator is a single screening check. Implementations must not mutate
// the candidate and must not fail: store errors degrade to an unflagged
// verdict internally.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, cand *domain.Candidate) domain.Verdict
}

// Screener coordinates the built-in checks and optional custom rules.
type Screener struct {
	evaluators []Evaluator
	rules      *rules.Engine
	maxAmount  float64
}

// NewScreener wires the four built-in checks in their fixed evaluation
// order: duplicate, pattern, threshold, rapid. ruleEngine may be nil when
// no custom rules are configured.
func NewScreener(repo domain.Repository, counter *velocity.Service, ruleEngine *rules.Engine, cfg domain.ScreeningConfig) *Screener {
	return &Screener{
		evaluators: []Evaluator{
			NewDuplicateAmountCheck(repo),
			NewSuspiciousPatternCheck(repo),
			NewAmountThresholdCheck(),
			NewRapidSubmissionCheck(counter),
		},
		rules:     ruleEngine,
		maxAmount: cfg.MaxAmount,
	}
}

// Screen evaluates a candidate against the owner's history and returns the
// aggregate decision. The checks are independent and run concurrently into
// a fixed-index slice, so the combined reason reconstructs deterministically
// in evaluator order. Screen only errors on malformed input.
func (s *Screener) Screen(ctx context.Context, cand *domain.Candidate) (*domain.Decision, error) {
	start := time.Now()

	if err := s.validate(cand); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "screening.Screen",
		trace.WithAttributes(
			attribute.String("expense.owner_id", cand.OwnerID),
			attribute.Float64("expense.amount", cand.Amount),
		),
	)
	defer span.End()

	verdicts := make([]domain.Verdict, len(s.evaluators))
	var wg sync.WaitGroup

	for i, ev := range s.evaluators {
		wg.Add(1)
		go func(idx int, ev Evaluator) {
			defer wg.Done()
			verdicts[idx] = ev.Evaluate(ctx, cand)
		}(i, ev)
	}

	wg.Wait()

	// Custom rules run after the built-in four and fail open as a group.
	if s.rules != nil && s.rules.RulesCount() > 0 {
		results, err := s.rules.EvaluateAll(ctx, cand)
		if err != nil {
			slog.Warn("custom rule evaluation failed, skipping",
				"owner_id", cand.OwnerID,
				"error", err,
			)
		} else {
			for _, r := range results {
				if r.Outcome != domain.RuleOutcomeFlag {
					continue
				}
				verdicts = append(verdicts, domain.Verdict{
					Check:   domain.CheckCustomRule,
					Flagged: true,
					Reason:  r.Reason,
				})
			}
		}
	}

	decision := domain.Aggregate(verdicts)
	decision.ProcessMs = time.Since(start).Milliseconds()

	span.SetAttributes(attribute.Bool("screening.flagged", decision.IsFlagged))

	slog.Debug("candidate screened",
		"owner_id", cand.OwnerID,
		"flagged", decision.IsFlagged,
		"checks", decision.ChecksEvaluated,
		"duration_ms", decision.ProcessMs,
	)

	return decision, nil
}

// validate enforces the coordinator contract: callers are expected to send
// well-formed candidates, and malformed ones get a clear error instead of a
// decision.
func (s *Screener) validate(cand *domain.Candidate) error {
	if cand == nil {
		return fmt.Errorf("%w: candidate is required", ErrInvalidCandidate)
	}
	if cand.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidCandidate)
	}
	if cand.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidCandidate)
	}
	if s.maxAmount > 0 && cand.Amount > s.maxAmount {
		return fmt.Errorf("%w: amount exceeds maximum %s", ErrInvalidCandidate, domain.FormatAmount(s.maxAmount))
	}
	if cand.Date.IsZero() {
		return fmt.Errorf("%w: occurrence date is required", ErrInvalidCandidate)
	}
	if cand.Category != "" && !domain.ValidCategory(cand.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidCandidate, cand.Category)
	}
	return nil
}
