package screening

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openexpense/kestrel/internal/domain"
	"github.com/openexpense/kestrel/internal/velocity"
)

const (
	// rapidWindow is the lookback over creation timestamps.
	rapidWindow = 30 * time.Minute

	// rapidSubmissionLimit is the historical count at which the check
	// fires: 5 prior records means the candidate is the 6th in the window.
	rapidSubmissionLimit = 5
)

// RapidSubmissionCheck flags bursts of submissions by one owner. The window
// anchors on the candidate's occurrence date, not wall-clock time, so
// backdated entries screen deterministically against records created near
// that date.
type RapidSubmissionCheck struct {
	counter *velocity.Service
}

// NewRapidSubmissionCheck creates a rapid-submission check backed by the
// velocity service.
func NewRapidSubmissionCheck(counter *velocity.Service) *RapidSubmissionCheck {
	return &RapidSubmissionCheck{counter: counter}
}

// Name returns the check identifier.
func (c *RapidSubmissionCheck) Name() string { return domain.CheckRapidSubmission }

// Evaluate counts same-owner records created within the window, excluding
// the candidate's own record when it is already persisted.
func (c *RapidSubmissionCheck) Evaluate(ctx context.Context, cand *domain.Candidate) domain.Verdict {
	v := domain.Verdict{Check: c.Name()}

	since := cand.Date.Add(-rapidWindow)

	count, err := c.counter.CountSubmissionsSince(ctx, cand.OwnerID, since, cand.ID)
	if err != nil {
		slog.Warn("submission count query failed, skipping check",
			"owner_id", cand.OwnerID,
			"error", err,
		)
		return v
	}

	if count < rapidSubmissionLimit {
		return v
	}

	v.Flagged = true
	// count+1 includes the candidate itself
	v.Reason = fmt.Sprintf("Too many submissions (%d) within 30 minutes", count+1)
	v.Evidence = []domain.Evidence{{Count: count + 1}}

	return v
}
