package domain

// RuleConfig defines an operator-supplied screening rule evaluated in
// addition to the built-in checks.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over candidate attributes
	Expression string `json:"expression"`

	// Outcome bands for score-to-verdict mapping
	Bands []RuleBand `json:"bands"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Outcome    string   `json:"outcome"` // ".pass" or ".flag"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of a custom rule evaluation.
type RuleResult struct {
	RuleID    string  `json:"ruleId"`
	Outcome   string  `json:"outcome"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
	ProcessMs int64   `json:"processMs"`
}

// Predefined rule outcomes
const (
	RuleOutcomePass  = ".pass"
	RuleOutcomeFlag  = ".flag"
	RuleOutcomeError = ".err"
)
