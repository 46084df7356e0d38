package screening

import (
	"context"
	"fmt"

	"github.com/openexpense/kestrel/internal/domain"
)

// Amount thresholds, in the same currency unit as expense amounts.
const (
	ThresholdHigh     = 1000.0
	ThresholdVeryHigh = 5000.0
)

// AmountThresholdCheck flags amounts at or above fixed review thresholds.
// It is a pure function of the amount: no store query, no history.
type AmountThresholdCheck struct{}

// NewAmountThresholdCheck creates an amount-threshold check.
func NewAmountThresholdCheck() *AmountThresholdCheck {
	return &AmountThresholdCheck{}
}

// Name returns the check identifier.
func (c *AmountThresholdCheck) Name() string { return domain.CheckAmountThreshold }

// Evaluate checks the very-high threshold first; the two outcomes are
// mutually exclusive, never additive.
func (c *AmountThresholdCheck) Evaluate(ctx context.Context, cand *domain.Candidate) domain.Verdict {
	v := domain.Verdict{Check: c.Name()}

	switch {
	case cand.Amount >= ThresholdVeryHigh:
		v.Flagged = true
		v.Reason = fmt.Sprintf("Very high amount ($%s) requires additional review", domain.FormatAmount(cand.Amount))
	case cand.Amount >= ThresholdHigh:
		v.Flagged = true
		v.Reason = fmt.Sprintf("High amount ($%s) flagged for review", domain.FormatAmount(cand.Amount))
	}

	return v
}
