package domain

import (
	"time"
)

// Category is the fixed set of expense categories.
type Category string

const (
	CategoryTravel         Category = "travel"
	CategoryMeals          Category = "meals"
	CategoryLodging        Category = "lodging"
	CategoryOfficeSupplies Category = "office_supplies"
	CategoryEquipment      Category = "equipment"
	CategorySoftware       Category = "software"
	CategoryTraining       Category = "training"
	CategoryOther          Category = "other"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryTravel, CategoryMeals, CategoryLodging, CategoryOfficeSupplies,
		CategoryEquipment, CategorySoftware, CategoryTraining, CategoryOther:
		return true
	}
	return false
}

// Status is the review state of a persisted expense.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Expense is a persisted expense record.
type Expense struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"ownerId"`
	Amount      float64  `json:"amount"`
	Category    Category `json:"category"`
	Description string   `json:"description"`

	// Date is when the expense occurred, as distinct from CreatedAt,
	// which is when the record entered the store.
	Date time.Time `json:"date"`

	Status     Status     `json:"status"`
	IsFlagged  bool       `json:"isFlagged"`
	FlagReason string     `json:"flagReason,omitempty"`
	FlaggedAt  *time.Time `json:"flaggedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Candidate is an expense under screening. It is built fresh per screening
// call and never mutated by the evaluators. ID is empty for a record that
// has not been persisted yet; when re-screening an existing record the ID is
// set so evaluators can exclude the record from matching itself.
type Candidate struct {
	ID          string    `json:"id,omitempty"`
	OwnerID     string    `json:"ownerId"`
	Amount      float64   `json:"amount"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

// ToCandidate builds a screening candidate from a persisted expense.
func (e *Expense) ToCandidate() *Candidate {
	return &Candidate{
		ID:          e.ID,
		OwnerID:     e.OwnerID,
		Amount:      e.Amount,
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date,
	}
}
