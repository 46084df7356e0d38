package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/openexpense/kestrel/internal/bus"
	"github.com/openexpense/kestrel/internal/cache"
	"github.com/openexpense/kestrel/internal/domain"
	"github.com/openexpense/kestrel/internal/repository"
	"github.com/openexpense/kestrel/internal/screening"
	"github.com/openexpense/kestrel/internal/velocity"
)

// createTestServer wires a full synchronous stack over a temp SQLite store.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cacheImpl := cache.NewLRUCache(100)
	busImpl := bus.NewChannelBus(100)
	t.Cleanup(func() { busImpl.Close() })

	counter := velocity.NewService(repo, cacheImpl)
	screener := screening.NewScreener(repo, counter, nil, domain.ScreeningConfig{MaxAmount: 100000})

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, cacheImpl, busImpl, screener, counter, "test-v1", false)
}

func postExpense(t *testing.T, server *Server, req ExpenseRequest) (*httptest.ResponseRecorder, *ExpenseResponse) {
	t.Helper()

	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/expenses", bytes.NewBuffer(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httpReq)

	var resp ExpenseResponse
	if rr.Code == http.StatusCreated {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
	}
	return rr, &resp
}

func TestCreateExpense(t *testing.T) {
	server := createTestServer(t)
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	t.Run("CleanExpense", func(t *testing.T) {
		rr, resp := postExpense(t, server, ExpenseRequest{
			OwnerID:     "emp-001",
			Amount:      42.17,
			Category:    "meals",
			Description: "team lunch",
			Date:        base,
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		if resp.Expense.ID == "" {
			t.Error("expected expense ID in response")
		}
		if resp.Expense.Status != domain.StatusPending {
			t.Errorf("expected pending status, got %s", resp.Expense.Status)
		}
		if resp.Expense.IsFlagged {
			t.Errorf("clean expense should not be flagged: %s", resp.Expense.FlagReason)
		}
		if resp.Decision == nil {
			t.Fatal("sync mode should return a decision")
		}
		if resp.Decision.ChecksEvaluated != 4 {
			t.Errorf("expected 4 checks, got %d", resp.Decision.ChecksEvaluated)
		}
	})

	t.Run("HighAmountFlagged", func(t *testing.T) {
		rr, resp := postExpense(t, server, ExpenseRequest{
			OwnerID:  "emp-002",
			Amount:   6123.45,
			Category: "equipment",
			Date:     base,
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		if !resp.Expense.IsFlagged {
			t.Fatal("very high amount should be flagged")
		}
		if resp.Expense.FlagReason != "Very high amount ($6123.45) requires additional review" {
			t.Errorf("unexpected flag reason: %q", resp.Expense.FlagReason)
		}
		if resp.Expense.FlaggedAt == nil {
			t.Error("FlaggedAt should be set on a flagged expense")
		}
		// Flagged expenses still land in pending, never rejected outright.
		if resp.Expense.Status != domain.StatusPending {
			t.Errorf("flagged expense should stay pending, got %s", resp.Expense.Status)
		}
	})

	t.Run("DuplicateFlagged", func(t *testing.T) {
		first, _ := postExpense(t, server, ExpenseRequest{
			OwnerID:  "emp-003",
			Amount:   42.17,
			Category: "meals",
			Date:     base,
		})
		if first.Code != http.StatusCreated {
			t.Fatalf("first submission failed: %d", first.Code)
		}

		rr, resp := postExpense(t, server, ExpenseRequest{
			OwnerID:  "emp-003",
			Amount:   42.17,
			Category: "meals",
			Date:     base.Add(15 * time.Minute),
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", rr.Code)
		}
		if !resp.Expense.IsFlagged {
			t.Fatal("duplicate amount should be flagged")
		}
		if resp.Expense.FlagReason != "Duplicate amount ($42.17) found within 60 minutes" {
			t.Errorf("unexpected flag reason: %q", resp.Expense.FlagReason)
		}
	})

	t.Run("ValidationErrors", func(t *testing.T) {
		cases := []ExpenseRequest{
			{Amount: 10, Category: "meals", Date: base},                          // missing owner
			{OwnerID: "emp-004", Amount: 0, Category: "meals", Date: base},       // zero amount
			{OwnerID: "emp-004", Amount: -5, Category: "meals", Date: base},      // negative
			{OwnerID: "emp-004", Amount: 10, Category: "jetski", Date: base},     // bad category
			{OwnerID: "emp-004", Amount: 10, Category: "meals"},                  // missing date
			{OwnerID: "emp-004", Amount: 200000, Category: "meals", Date: base},  // over maximum
		}

		for i, req := range cases {
			rr, _ := postExpense(t, server, req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("case %d: expected 400, got %d", i, rr.Code)
			}
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		httpReq := httptest.NewRequest(http.MethodPost, "/expenses", bytes.NewBufferString("{broken"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, httpReq)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for invalid JSON, got %d", rr.Code)
		}
	})
}

func TestGetExpense(t *testing.T) {
	server := createTestServer(t)
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	_, created := postExpense(t, server, ExpenseRequest{
		OwnerID:  "emp-001",
		Amount:   42.17,
		Category: "meals",
		Date:     base,
	})

	t.Run("Found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/expenses/"+created.Expense.ID, nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var resp ExpenseResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Expense.ID != created.Expense.ID {
			t.Errorf("ID mismatch: %s", resp.Expense.ID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/expenses/no-such-id", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestUpdateExpense(t *testing.T) {
	server := createTestServer(t)
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	_, created := postExpense(t, server, ExpenseRequest{
		OwnerID:  "emp-001",
		Amount:   42.17,
		Category: "meals",
		Date:     base,
	})
	if created.Expense.IsFlagged {
		t.Fatalf("setup expense unexpectedly flagged: %s", created.Expense.FlagReason)
	}

	t.Run("RescreenOnEdit", func(t *testing.T) {
		// Raising the amount above the high threshold flags on re-screen.
		body, _ := json.Marshal(ExpenseRequest{Amount: 1517.43})
		req := httptest.NewRequest(http.MethodPut, "/expenses/"+created.Expense.ID, bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ExpenseResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Expense.Amount != 1517.43 {
			t.Errorf("amount not updated: %.2f", resp.Expense.Amount)
		}
		if !resp.Expense.IsFlagged {
			t.Error("edited expense should be re-screened and flagged")
		}
		if resp.Expense.FlagReason != "High amount ($1517.43) flagged for review" {
			t.Errorf("unexpected flag reason: %q", resp.Expense.FlagReason)
		}
	})

	t.Run("SelfExclusionOnEdit", func(t *testing.T) {
		// Lowering the amount back under every threshold clears the flags;
		// the record must not collide with its own stored row.
		body, _ := json.Marshal(ExpenseRequest{Amount: 42.18})
		req := httptest.NewRequest(http.MethodPut, "/expenses/"+created.Expense.ID, bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var resp ExpenseResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Expense.IsFlagged {
			t.Errorf("expense should be clean after edit, reason: %q", resp.Expense.FlagReason)
		}
		if resp.Expense.FlaggedAt != nil {
			t.Error("FlaggedAt should be cleared")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		body, _ := json.Marshal(ExpenseRequest{Amount: 10})
		req := httptest.NewRequest(http.MethodPut, "/expenses/no-such-id", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestReviewExpense(t *testing.T) {
	server := createTestServer(t)
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	_, created := postExpense(t, server, ExpenseRequest{
		OwnerID:  "emp-001",
		Amount:   6123.45,
		Category: "equipment",
		Date:     base,
	})

	t.Run("Approve", func(t *testing.T) {
		body, _ := json.Marshal(ReviewRequest{Action: "approve"})
		req := httptest.NewRequest(http.MethodPost, "/expenses/"+created.Expense.ID+"/review", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		// The record reflects the resolution.
		getReq := httptest.NewRequest(http.MethodGet, "/expenses/"+created.Expense.ID, nil)
		getRR := httptest.NewRecorder()
		server.Router().ServeHTTP(getRR, getReq)

		var resp ExpenseResponse
		json.Unmarshal(getRR.Body.Bytes(), &resp)
		if resp.Expense.Status != domain.StatusApproved {
			t.Errorf("expected approved, got %s", resp.Expense.Status)
		}
	})

	t.Run("BadAction", func(t *testing.T) {
		body, _ := json.Marshal(ReviewRequest{Action: "shred"})
		req := httptest.NewRequest(http.MethodPost, "/expenses/"+created.Expense.ID+"/review", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		body, _ := json.Marshal(ReviewRequest{Action: "reject"})
		req := httptest.NewRequest(http.MethodPost, "/expenses/no-such-id/review", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestListExpenses(t *testing.T) {
	server := createTestServer(t)
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rr, _ := postExpense(t, server, ExpenseRequest{
			OwnerID:  "emp-list",
			Amount:   10.01 + float64(i),
			Category: "meals",
			Date:     base.Add(time.Duration(i) * 2 * time.Hour),
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("setup submission %d failed: %d", i, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/expenses?owner=emp-list", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Expenses []*domain.Expense `json:"expenses"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Count != 3 || len(resp.Expenses) != 3 {
		t.Errorf("expected 3 expenses, got count=%d len=%d", resp.Count, len(resp.Expenses))
	}

	// Missing owner parameter is a client error.
	req = httptest.NewRequest(http.MethodGet, "/expenses", nil)
	rr = httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without owner, got %d", rr.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", rr.Code)
	}

	var health map[string]string
	json.Unmarshal(rr.Body.Bytes(), &health)
	if health["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %q", health["version"])
	}

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr = httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", rr.Code)
	}
}
