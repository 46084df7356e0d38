package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/openexpense/kestrel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "amount > 100.0",
		Bands:      []domain.RuleBand{},
		Enabled:    true,
	}

	err := engine.LoadRule(rule)
	if err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "invalid-rule",
		Name:       "Invalid Rule",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	}

	err := engine.LoadRule(rule)
	if err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "validate-only",
		Expression: "amount > 50.0",
		Enabled:    true,
	}

	if err := engine.ValidateRule(rule); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("validation should not load rules, got %d", engine.RulesCount())
	}
}

func TestEvaluateScoredRule(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	zero := 0.0
	one := 1.0

	rule := &domain.RuleConfig{
		ID:         "amount-check",
		Name:       "Amount Check",
		Expression: "amount > 1000.0 ? 1.0 : 0.0",
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &one, Outcome: domain.RuleOutcomePass, Reason: "Low amount"},
			{LowerLimit: &one, UpperLimit: nil, Outcome: domain.RuleOutcomeFlag, Reason: "High amount"},
		},
		Enabled: true,
	}

	engine.LoadRule(rule)

	ctx := context.Background()

	// Low amount
	cand := &domain.Candidate{
		OwnerID:  "emp-001",
		Amount:   500.0,
		Category: domain.CategoryMeals,
	}

	results, err := engine.EvaluateAll(ctx, cand)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	if results[0].Score != 0.0 {
		t.Errorf("expected score 0.0 for low amount, got %.2f", results[0].Score)
	}
	if results[0].Outcome != domain.RuleOutcomePass {
		t.Errorf("expected pass, got %s", results[0].Outcome)
	}
	if results[0].Reason != "" {
		t.Errorf("pass outcome should carry no reason, got %q", results[0].Reason)
	}

	// High amount
	cand.Amount = 5000.0
	results, _ = engine.EvaluateAll(ctx, cand)

	if results[0].Score != 1.0 {
		t.Errorf("expected score 1.0 for high amount, got %.2f", results[0].Score)
	}
	if results[0].Outcome != domain.RuleOutcomeFlag {
		t.Errorf("expected flag, got %s", results[0].Outcome)
	}
	if results[0].Reason != "High amount" {
		t.Errorf("expected band reason, got %q", results[0].Reason)
	}
}

func TestEvaluateBooleanRule(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "category-check",
		Name:       "Category Check",
		Expression: `category == "equipment"`,
		Bands:      []domain.RuleBand{},
		Enabled:    true,
	}

	engine.LoadRule(rule)

	ctx := context.Background()

	cand := &domain.Candidate{
		OwnerID:  "emp-001",
		Amount:   100.0,
		Category: domain.CategoryMeals,
	}

	results, _ := engine.EvaluateAll(ctx, cand)
	if results[0].Score != 0.0 {
		t.Errorf("expected score 0.0 for non-matching category, got %.2f", results[0].Score)
	}

	cand.Category = domain.CategoryEquipment
	results, _ = engine.EvaluateAll(ctx, cand)
	if results[0].Score != 1.0 {
		t.Errorf("expected score 1.0 for matching category, got %.2f", results[0].Score)
	}
}

func TestRecentCountRule(t *testing.T) {
	// Mock getter that returns a fixed count
	getter := func(ctx context.Context, ownerID string, windowSecs int) (int64, error) {
		return 15, nil // Simulates 15 submissions in window
	}

	engine, _ := NewEngine(getter)
	defer engine.Close()

	zero := 0.0
	half := 0.5
	one := 1.0

	rule := &domain.RuleConfig{
		ID:          "burst-check-001",
		Name:        "Submission Burst Check",
		Description: "Flags owners with unusually high submission frequency",
		Version:     "1.0.0",
		Expression:  "recent_count > 10 ? 1.0 : (recent_count > 5 ? 0.5 : 0.0)",
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &half, Outcome: domain.RuleOutcomePass, Reason: "Normal frequency"},
			{LowerLimit: &half, UpperLimit: &one, Outcome: domain.RuleOutcomePass, Reason: "Elevated frequency"},
			{LowerLimit: &one, UpperLimit: nil, Outcome: domain.RuleOutcomeFlag, Reason: "Submission burst"},
		},
		Enabled: true,
	}
	engine.LoadRule(rule)

	ctx := context.Background()
	cand := &domain.Candidate{
		OwnerID: "emp-001",
		Amount:  42.0,
	}

	results, _ := engine.EvaluateAll(ctx, cand)

	// With 15 submissions (> 10), should return 1.0 (flag)
	if results[0].Score != 1.0 {
		t.Errorf("expected score 1.0 for burst, got %.2f", results[0].Score)
	}
	if results[0].Outcome != domain.RuleOutcomeFlag {
		t.Errorf("expected flag for burst, got %s", results[0].Outcome)
	}
	if results[0].Reason != "Submission burst" {
		t.Errorf("expected burst reason, got %q", results[0].Reason)
	}
}

func TestEvaluateAllSortedByRuleID(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	// Load in reverse order; results must come back sorted by ID.
	for i := 9; i >= 0; i-- {
		rule := &domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%d", i),
			Expression: "amount > 0.0",
			Enabled:    true,
		}
		engine.LoadRule(rule)
	}

	ctx := context.Background()
	cand := &domain.Candidate{OwnerID: "emp-001", Amount: 100.0}

	results, err := engine.EvaluateAll(ctx, cand)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i, r := range results {
		want := fmt.Sprintf("rule-%d", i)
		if r.RuleID != want {
			t.Errorf("result %d: expected %s, got %s", i, want, r.RuleID)
		}
	}
}

func TestDisabledRulesSkipped(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	configs := []*domain.RuleConfig{
		{ID: "on", Expression: "amount > 0.0", Enabled: true},
		{ID: "off", Expression: "amount > 0.0", Enabled: false},
	}

	if err := engine.LoadRules(configs); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 loaded rule, got %d", engine.RulesCount())
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "amount > 0.0", Enabled: true})

	newConfigs := []*domain.RuleConfig{
		{ID: "new-1", Expression: "amount > 10.0", Enabled: true},
		{ID: "new-2", Expression: "amount > 20.0", Enabled: true},
	}

	if err := engine.ReloadRules(newConfigs); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload, got %d", engine.RulesCount())
	}

	for _, cfg := range engine.GetLoadedRules() {
		if cfg.ID == "old" {
			t.Error("old rule should be gone after reload")
		}
	}
}

func TestBadOutputTypeRejected(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "string-output",
		Expression: `category + "-suffix"`,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err == nil {
		t.Error("expected error for string-typed expression")
	}
}

func TestRuleResultMetadata(t *testing.T) {
	engine, _ := NewEngine(nil)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "meta-test",
		Expression: "amount > 0.0",
		Enabled:    true,
	}
	engine.LoadRule(rule)

	ctx := context.Background()
	cand := &domain.Candidate{OwnerID: "emp-001", Amount: 100.0}

	results, _ := engine.EvaluateAll(ctx, cand)

	if results[0].RuleID != "meta-test" {
		t.Errorf("expected RuleID 'meta-test', got '%s'", results[0].RuleID)
	}
	if results[0].ProcessMs < 0 {
		t.Error("ProcessMs should be non-negative")
	}
}
