package screening

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/openexpense/kestrel/internal/domain"
)

const (
	// descriptionWindow is the lookback over creation timestamps for the
	// repeated-description sub-check.
	descriptionWindow = 7 * 24 * time.Hour

	// descriptionRepeatLimit is the historical match count above which the
	// repeated-description sub-check fires (>2 means the candidate would be
	// at least the third similar submission).
	descriptionRepeatLimit = 2
)

// SuspiciousPatternCheck combines two low-confidence signals into one
// verdict: round-number amounts and repeated descriptions in recent
// submissions. The round-number rule has intentional false positives; it is
// meant to be weighed together with the other checks, not to block alone.
type SuspiciousPatternCheck struct {
	repo domain.Repository
}

// NewSuspiciousPatternCheck creates a suspicious-pattern check backed by repo.
func NewSuspiciousPatternCheck(repo domain.Repository) *SuspiciousPatternCheck {
	return &SuspiciousPatternCheck{repo: repo}
}

// Name returns the check identifier.
func (c *SuspiciousPatternCheck) Name() string { return domain.CheckSuspiciousPattern }

// Evaluate runs both sub-checks and joins their reason fragments with "; ".
func (c *SuspiciousPatternCheck) Evaluate(ctx context.Context, cand *domain.Candidate) domain.Verdict {
	v := domain.Verdict{Check: c.Name()}

	var fragments []string
	if isRoundNumber(cand.Amount) {
		fragments = append(fragments, "Round number amount")
	}

	if cand.Description != "" {
		since := time.Now().UTC().Add(-descriptionWindow)
		count, err := c.repo.CountSimilarDescriptions(ctx, cand.OwnerID, cand.Description, since, cand.ID)
		if err != nil {
			slog.Warn("similar description query failed, skipping sub-check",
				"owner_id", cand.OwnerID,
				"error", err,
			)
		} else if count > descriptionRepeatLimit {
			fragments = append(fragments, "Similar descriptions in recent submissions")
			v.Evidence = append(v.Evidence, domain.Evidence{Count: count})
		}
	}

	if len(fragments) == 0 {
		return v
	}

	v.Flagged = true
	v.Reason = strings.Join(fragments, "; ")
	return v
}

// isRoundNumber reports whether amount is a multiple of 100, 50, or 25.
func isRoundNumber(amount float64) bool {
	return math.Mod(amount, 100) == 0 ||
		math.Mod(amount, 50) == 0 ||
		math.Mod(amount, 25) == 0
}
