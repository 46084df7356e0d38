package domain

import (
	"strconv"
	"strings"
	"time"
)

// Check names, in fixed evaluation order.
const (
	CheckDuplicateAmount   = "duplicate_amount"
	CheckSuspiciousPattern = "suspicious_pattern"
	CheckAmountThreshold   = "amount_threshold"
	CheckRapidSubmission   = "rapid_submission"
	CheckCustomRule        = "custom_rule"
)

// Evidence ties a verdict to the historical records that produced it.
type Evidence struct {
	ExpenseID    string `json:"expenseId,omitempty"`
	MinutesApart int64  `json:"minutesApart,omitempty"`
	Count        int64  `json:"count,omitempty"`
}

// Verdict is a single check's judgment on a candidate.
// Reason is non-empty if and only if Flagged is true.
type Verdict struct {
	Check    string     `json:"check"`
	Flagged  bool       `json:"flagged"`
	Reason   string     `json:"reason,omitempty"`
	Evidence []Evidence `json:"evidence,omitempty"`
}

// Decision is the aggregate screening result for one candidate.
type Decision struct {
	IsFlagged  bool      `json:"isFlagged"`
	Reason     string    `json:"reason,omitempty"`
	Details    []Verdict `json:"details,omitempty"`
	ScreenedAt time.Time `json:"screenedAt"`

	// Processing metadata
	ProcessMs       int64 `json:"processMs"`
	ChecksEvaluated int   `json:"checksEvaluated"`
}

// Aggregate builds a Decision from verdicts in evaluation order.
// The combined reason is the non-empty reasons joined with "; ", and
// Details holds only the flagged verdicts.
func Aggregate(verdicts []Verdict) *Decision {
	d := &Decision{
		ScreenedAt:      time.Now().UTC(),
		ChecksEvaluated: len(verdicts),
	}

	var reasons []string
	for _, v := range verdicts {
		if !v.Flagged {
			continue
		}
		d.IsFlagged = true
		reasons = append(reasons, v.Reason)
		d.Details = append(d.Details, v)
	}
	d.Reason = strings.Join(reasons, "; ")

	return d
}

// Statistics is the system-wide flagging summary.
type Statistics struct {
	TotalExpenses   int64  `json:"totalExpenses"`
	FlaggedExpenses int64  `json:"flaggedExpenses"`
	PendingReview   int64  `json:"pendingReview"`
	FraudRate       string `json:"fraudRate"`
}

// FormatAmount renders a monetary amount without trailing zeros,
// so 5500.0 prints as "5500" and 125.50 as "125.5".
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
