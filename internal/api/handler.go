package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/openexpense/kestrel/internal/domain"
	"github.com/openexpense/kestrel/internal/repository"
	"github.com/openexpense/kestrel/internal/screening"
	"github.com/openexpense/kestrel/internal/velocity"
)

const expenseCacheTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	screener *screening.Screener
	counter  *velocity.Service
	version  string

	// async defers screening to the worker via the event bus.
	async bool
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, screener *screening.Screener, counter *velocity.Service, version string, async bool) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		screener: screener,
		counter:  counter,
		version:  version,
		async:    async,
	}
}

// ExpenseRequest is the request body for POST /expenses and PUT /expenses/{id}.
type ExpenseRequest struct {
	OwnerID     string    `json:"ownerId"`
	Amount      float64   `json:"amount"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

// ExpenseResponse is the response for expense create/update/get.
type ExpenseResponse struct {
	Expense  *domain.Expense  `json:"expense"`
	Decision *domain.Decision `json:"decision,omitempty"`
}

// CreateExpense handles POST /expenses: persist a pending expense, screen
// it, and write the decision onto the record. A flagged expense is never
// rejected; it proceeds to pending status with flags attached.
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if msg, ok := validateRequest(&req); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	now := time.Now().UTC()
	expense := &domain.Expense{
		ID:          uuid.New().String(),
		OwnerID:     req.OwnerID,
		Amount:      req.Amount,
		Category:    domain.Category(req.Category),
		Description: req.Description,
		Date:        req.Date,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var decision *domain.Decision

	if h.async {
		// Pro tier: persist now, screen via the worker.
		if err := h.repo.SaveExpense(ctx, expense); err != nil {
			slog.Error("failed to save expense", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save expense",
			})
			return
		}
		h.publishSubmitted(ctx, expense)
	} else {
		// Community tier: screen synchronously, then persist with flags.
		var err error
		decision, err = h.screener.Screen(ctx, expense.ToCandidate())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		applyDecision(expense, decision)

		if err := h.repo.SaveExpense(ctx, expense); err != nil {
			slog.Error("failed to save expense", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save expense",
			})
			return
		}

		h.publishDecision(ctx, decision)
	}

	// Best-effort submission counter and cache warm-up.
	if h.counter != nil {
		if _, err := h.counter.RecordSubmission(ctx, expense.OwnerID, 30*time.Minute); err != nil {
			slog.Debug("failed to record submission counter", "error", err)
		}
	}
	h.cacheExpense(ctx, expense)

	writeJSON(w, http.StatusCreated, ExpenseResponse{Expense: expense, Decision: decision})
}

// UpdateExpense handles PUT /expenses/{id}: apply the edit and re-screen.
// The candidate carries its own ID so no evaluator matches the record
// against itself.
func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	expense, err := h.repo.GetExpense(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "expense not found"})
			return
		}
		slog.Error("failed to load expense", "expense_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load expense",
		})
		return
	}

	if req.Amount > 0 {
		expense.Amount = req.Amount
	}
	if req.Category != "" {
		expense.Category = domain.Category(req.Category)
	}
	if req.Description != "" {
		expense.Description = req.Description
	}
	if !req.Date.IsZero() {
		expense.Date = req.Date
	}
	expense.UpdatedAt = time.Now().UTC()

	decision, err := h.screener.Screen(ctx, expense.ToCandidate())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	applyDecision(expense, decision)

	if err := h.repo.UpdateExpense(ctx, expense); err != nil {
		slog.Error("failed to update expense", "expense_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update expense",
		})
		return
	}

	h.publishDecision(ctx, decision)
	h.cacheExpense(ctx, expense)

	writeJSON(w, http.StatusOK, ExpenseResponse{Expense: expense, Decision: decision})
}

// ReviewRequest is the request body for POST /expenses/{id}/review.
type ReviewRequest struct {
	Action string `json:"action"` // "approve" or "reject"
}

// ReviewExpense handles POST /expenses/{id}/review: human resolution of a
// pending expense.
func (h *Handler) ReviewExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var status domain.Status
	switch req.Action {
	case "approve":
		status = domain.StatusApproved
	case "reject":
		status = domain.StatusRejected
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "action must be approve or reject",
		})
		return
	}

	if err := h.repo.UpdateExpenseStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "expense not found"})
			return
		}
		slog.Error("failed to update status", "expense_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update status",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.Delete(ctx, "expense:"+id)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(status),
	})
}

// GetExpense handles GET /expenses/{id}.
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.cache != nil {
		if e, err := h.cache.GetExpense(ctx, id); err == nil && e != nil {
			writeJSON(w, http.StatusOK, ExpenseResponse{Expense: e})
			return
		}
	}

	expense, err := h.repo.GetExpense(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "expense not found"})
			return
		}
		slog.Error("failed to load expense", "expense_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load expense",
		})
		return
	}

	h.cacheExpense(ctx, expense)

	writeJSON(w, http.StatusOK, ExpenseResponse{Expense: expense})
}

// ListExpenses handles GET /expenses?owner=...
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID := r.URL.Query().Get("owner")
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner query parameter is required"})
		return
	}

	expenses, err := h.repo.ListExpenses(ctx, ownerID, 50, 0)
	if err != nil {
		slog.Error("failed to list expenses", "owner_id", ownerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list expenses",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"expenses": expenses,
		"count":    len(expenses),
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready handles GET /ready: checks downstream dependencies.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func validateRequest(req *ExpenseRequest) (string, bool) {
	if req.OwnerID == "" {
		return "ownerId is required", false
	}
	if req.Amount <= 0 {
		return "amount must be positive", false
	}
	if req.Category != "" && !domain.ValidCategory(domain.Category(req.Category)) {
		return "unknown category", false
	}
	if req.Date.IsZero() {
		return "date is required", false
	}
	return "", true
}

// applyDecision writes a screening decision onto the expense record.
func applyDecision(e *domain.Expense, d *domain.Decision) {
	e.IsFlagged = d.IsFlagged
	e.FlagReason = d.Reason
	if d.IsFlagged {
		at := d.ScreenedAt
		e.FlaggedAt = &at
	} else {
		e.FlaggedAt = nil
	}
}

func (h *Handler) cacheExpense(ctx context.Context, e *domain.Expense) {
	if h.cache == nil {
		return
	}
	if err := h.cache.SetExpense(ctx, e.ID, e, expenseCacheTTL); err != nil {
		slog.Debug("failed to cache expense", "expense_id", e.ID, "error", err)
	}
}

// publishSubmitted hands an expense to the async worker via the bus.
func (h *Handler) publishSubmitted(ctx context.Context, e *domain.Expense) {
	if h.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"expenseId":   e.ID,
		"ownerId":     e.OwnerID,
		"amount":      e.Amount,
		"category":    string(e.Category),
		"description": e.Description,
		"date":        e.Date,
	})
	if err := h.bus.Publish(ctx, domain.TopicExpenseSubmitted, payload); err != nil {
		slog.Error("failed to publish submission", "expense_id", e.ID, "error", err)
	}
}

func (h *Handler) publishDecision(ctx context.Context, d *domain.Decision) {
	if h.bus == nil || d == nil {
		return
	}
	payload, _ := json.Marshal(d)
	if err := h.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision", "error", err)
	}
	if d.IsFlagged {
		if err := h.bus.Publish(ctx, domain.TopicFlagged, payload); err != nil {
			slog.Error("failed to publish flag alert", "error", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
