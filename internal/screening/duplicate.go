package screening

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openexpense/kestrel/internal/domain"
)

// duplicateWindow is the symmetric window around the candidate's
// occurrence date within which an equal amount counts as a duplicate.
const duplicateWindow = 60 * time.Minute

// DuplicateAmountCheck flags a candidate when the same owner already has an
// expense with exactly the same amount dated within ±60 minutes. Amount
// comparison is exact, no tolerance.
type DuplicateAmountCheck struct {
	repo domain.Repository
}

// NewDuplicateAmountCheck creates a duplicate-amount check backed by repo.
func NewDuplicateAmountCheck(repo domain.Repository) *DuplicateAmountCheck {
	return &DuplicateAmountCheck{repo: repo}
}

// Name returns the check identifier.
func (c *DuplicateAmountCheck) Name() string { return domain.CheckDuplicateAmount }

// Evaluate runs the check. Store failures are logged and return an
// unflagged verdict: screening is advisory and must not block submission.
func (c *DuplicateAmountCheck) Evaluate(ctx context.Context, cand *domain.Candidate) domain.Verdict {
	v := domain.Verdict{Check: c.Name()}

	from := cand.Date.Add(-duplicateWindow)
	to := cand.Date.Add(duplicateWindow)

	matches, err := c.repo.FindAmountMatches(ctx, cand.OwnerID, cand.Amount, from, to, cand.ID)
	if err != nil {
		slog.Warn("duplicate amount query failed, skipping check",
			"owner_id", cand.OwnerID,
			"error", err,
		)
		return v
	}

	if len(matches) == 0 {
		return v
	}

	v.Flagged = true
	v.Reason = fmt.Sprintf("Duplicate amount ($%s) found within 60 minutes", domain.FormatAmount(cand.Amount))
	for _, m := range matches {
		delta := cand.Date.Sub(m.Date)
		if delta < 0 {
			delta = -delta
		}
		v.Evidence = append(v.Evidence, domain.Evidence{
			ExpenseID:    m.ID,
			MinutesApart: int64(delta.Minutes()),
		})
	}

	return v
}
