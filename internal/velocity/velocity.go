// Package velocity provides submission-rate calculation for expense owners.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/openexpense/kestrel/internal/domain"
)

// Service counts expense submissions for an owner. It backs the
// rapid-submission check and supplies the recent_count variable to the
// custom rule engine.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service. cache may be nil; it is only
// used for the best-effort wall-clock counters.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// CountSubmissionsSince returns the number of records the owner created at
// or after since, excluding excludeID when re-screening a persisted record.
func (s *Service) CountSubmissionsSince(ctx context.Context, ownerID string, since time.Time, excludeID string) (int64, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("ownerID is required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}
	return s.repo.CountSubmissionsSince(ctx, ownerID, since, excludeID)
}

// RecordSubmission bumps the owner's windowed submission counter in cache.
// Best effort: a cache failure is reported but never blocks submission.
func (s *Service) RecordSubmission(ctx context.Context, ownerID string, window time.Duration) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, "velocity:"+ownerID, window)
}

// GetRecentCountGetter returns a wall-clock-anchored counter in the shape
// the custom rule engine expects for its recent_count variable.
func (s *Service) GetRecentCountGetter() func(ctx context.Context, ownerID string, windowSecs int) (int64, error) {
	return func(ctx context.Context, ownerID string, windowSecs int) (int64, error) {
		since := time.Now().UTC().Add(-time.Duration(windowSecs) * time.Second)
		return s.CountSubmissionsSince(ctx, ownerID, since, "")
	}
}
