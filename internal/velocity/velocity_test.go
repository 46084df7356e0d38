package velocity

import (
	"context"
	"testing"
	"time"

	"github.com/openexpense/kestrel/internal/cache"
	"github.com/openexpense/kestrel/internal/domain"
)

// stubRepo returns a canned submission count and records the query window.
type stubRepo struct {
	domain.Repository

	count     int64
	lastOwner string
	lastSince time.Time
	lastExcl  string
}

func (s *stubRepo) CountSubmissionsSince(ctx context.Context, ownerID string, createdSince time.Time, excludeID string) (int64, error) {
	s.lastOwner = ownerID
	s.lastSince = createdSince
	s.lastExcl = excludeID
	return s.count, nil
}

func TestCountSubmissionsSince(t *testing.T) {
	repo := &stubRepo{count: 4}
	svc := NewService(repo, nil)

	since := time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)
	count, err := svc.CountSubmissionsSince(context.Background(), "emp-001", since, "exp-001")
	if err != nil {
		t.Fatalf("CountSubmissionsSince failed: %v", err)
	}

	if count != 4 {
		t.Errorf("expected 4, got %d", count)
	}
	if repo.lastOwner != "emp-001" || !repo.lastSince.Equal(since) || repo.lastExcl != "exp-001" {
		t.Errorf("query not passed through: owner=%s since=%v excl=%s",
			repo.lastOwner, repo.lastSince, repo.lastExcl)
	}
}

func TestCountSubmissionsSinceValidation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	if _, err := svc.CountSubmissionsSince(context.Background(), "", time.Now(), ""); err == nil {
		t.Error("expected error for empty ownerID")
	}

	svc = NewService(nil, nil)
	if _, err := svc.CountSubmissionsSince(context.Background(), "emp-001", time.Now(), ""); err == nil {
		t.Error("expected error with no repository")
	}
}

func TestRecordSubmission(t *testing.T) {
	c := cache.NewLRUCache(100)
	svc := NewService(&stubRepo{}, c)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := svc.RecordSubmission(ctx, "emp-001", 30*time.Minute)
		if err != nil {
			t.Fatalf("RecordSubmission failed: %v", err)
		}
		if got != want {
			t.Errorf("expected counter %d, got %d", want, got)
		}
	}

	// No cache means a silent no-op.
	svc = NewService(&stubRepo{}, nil)
	got, err := svc.RecordSubmission(ctx, "emp-001", 30*time.Minute)
	if err != nil {
		t.Fatalf("RecordSubmission without cache failed: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0 without cache, got %d", got)
	}
}

func TestGetRecentCountGetter(t *testing.T) {
	repo := &stubRepo{count: 7}
	svc := NewService(repo, nil)

	getter := svc.GetRecentCountGetter()

	before := time.Now().UTC().Add(-1800 * time.Second)
	count, err := getter(context.Background(), "emp-001", 1800)
	if err != nil {
		t.Fatalf("getter failed: %v", err)
	}
	if count != 7 {
		t.Errorf("expected 7, got %d", count)
	}

	// The window anchors on wall-clock now minus windowSecs.
	if repo.lastSince.Before(before.Add(-time.Minute)) || repo.lastSince.After(time.Now().UTC()) {
		t.Errorf("unexpected window start: %v", repo.lastSince)
	}
	if repo.lastExcl != "" {
		t.Errorf("getter should not exclude any record, got %q", repo.lastExcl)
	}
}
