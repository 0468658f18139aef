package policy

import (
	"testing"
	"time"

	"github.com/warden/warden/pkg/clock"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, rules []Rule, overrides []Override) (*Engine, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMock(testTime)
	e, err := NewEngine(rules, overrides, nil, clk)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, clk
}

func TestEvaluateDefaultAction(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)

	d := e.Evaluate("completely unremarkable request")
	if d.Action != ActionAllow {
		t.Errorf("expected default allow, got %s", d.Action)
	}
	if d.MatchedCategory != "" {
		t.Errorf("expected no matched category, got %s", d.MatchedCategory)
	}
}

func TestEvaluateKeywordMatch(t *testing.T) {
	rules := []Rule{
		{Category: "danger", Keywords: []string{"drop table"}, Action: ActionDeny, RiskLevel: RiskCritical},
	}
	e, _ := newTestEngine(t, rules, nil)

	d := e.Evaluate("please DROP TABLE users")
	if d.Action != ActionDeny {
		t.Errorf("expected deny, got %s", d.Action)
	}
	if d.MatchedCategory != "danger" {
		t.Errorf("expected category danger, got %s", d.MatchedCategory)
	}
	if d.MatchedBy != "drop table" {
		t.Errorf("expected matched by keyword, got %s", d.MatchedBy)
	}
	if d.RiskLevel != RiskCritical {
		t.Errorf("expected critical risk, got %s", d.RiskLevel)
	}
}

func TestEvaluatePatternMatch(t *testing.T) {
	rules := []Rule{
		{Category: "prod", Patterns: []string{`deploy\b.*\bprod`}, Action: ActionRequireHuman, RiskLevel: RiskHigh},
	}
	e, _ := newTestEngine(t, rules, nil)

	d := e.Evaluate("Deploy service-x to PROD now")
	if d.Action != ActionRequireHuman {
		t.Errorf("expected require_human, got %s", d.Action)
	}
}

func TestEvaluateDenyWinsRegardlessOfOrder(t *testing.T) {
	allowFirst := []Rule{
		{Category: "benign", Keywords: []string{"report"}, Action: ActionAllow, RiskLevel: RiskLow},
		{Category: "danger", Keywords: []string{"rm -rf"}, Action: ActionDeny, RiskLevel: RiskCritical},
	}
	denyFirst := []Rule{
		{Category: "danger", Keywords: []string{"rm -rf"}, Action: ActionDeny, RiskLevel: RiskCritical},
		{Category: "benign", Keywords: []string{"report"}, Action: ActionAllow, RiskLevel: RiskLow},
	}

	input := "generate report then rm -rf /data"
	for _, rules := range [][]Rule{allowFirst, denyFirst} {
		e, _ := newTestEngine(t, rules, nil)
		if d := e.Evaluate(input); d.Action != ActionDeny {
			t.Errorf("expected deny regardless of rule order, got %s", d.Action)
		}
	}
}

func TestEvaluateTieKeepsFirstMatch(t *testing.T) {
	rules := []Rule{
		{Category: "first", Keywords: []string{"alpha"}, Action: ActionRequireHuman, RiskLevel: RiskMedium},
		{Category: "second", Keywords: []string{"beta"}, Action: ActionRequireHuman, RiskLevel: RiskHigh},
	}
	e, _ := newTestEngine(t, rules, nil)

	d := e.Evaluate("alpha and beta together")
	if d.MatchedCategory != "first" {
		t.Errorf("expected first rule to win the tie, got %s", d.MatchedCategory)
	}
}

func TestOverrideRelaxesAction(t *testing.T) {
	rules := []Rule{
		{Category: "prod", Keywords: []string{"deploy"}, Action: ActionRequireHuman, RiskLevel: RiskHigh},
	}
	overrides := []Override{
		{
			ID:             "ov-1",
			TargetCategory: "prod",
			Action:         ActionAllow,
			ApprovedBy:     "oncall",
			CreatedAt:      testTime.Add(-time.Hour),
			ExpiresAt:      testTime.Add(time.Hour),
		},
	}
	e, _ := newTestEngine(t, rules, overrides)

	d := e.Evaluate("deploy it")
	if d.Action != ActionAllow {
		t.Errorf("expected override to relax to allow, got %s", d.Action)
	}
	if d.OverrideApplied != "ov-1" {
		t.Errorf("expected override id recorded, got %q", d.OverrideApplied)
	}
}

func TestOverrideNeverTightens(t *testing.T) {
	rules := []Rule{
		{Category: "benign", Keywords: []string{"report"}, Action: ActionAllow, RiskLevel: RiskLow},
	}
	overrides := []Override{
		{
			ID:             "ov-tighten",
			TargetCategory: "benign",
			Action:         ActionDeny,
			CreatedAt:      testTime.Add(-time.Hour),
			ExpiresAt:      testTime.Add(time.Hour),
		},
	}
	e, _ := newTestEngine(t, rules, overrides)

	d := e.Evaluate("run the report")
	if d.Action != ActionAllow {
		t.Errorf("override must not raise priority; got %s", d.Action)
	}
	if d.OverrideApplied != "" {
		t.Errorf("tightening override must not be recorded, got %q", d.OverrideApplied)
	}
}

func TestExpiredOverrideIgnored(t *testing.T) {
	rules := []Rule{
		{Category: "prod", Keywords: []string{"deploy"}, Action: ActionRequireHuman, RiskLevel: RiskHigh},
	}
	overrides := []Override{
		{
			ID:             "ov-old",
			TargetCategory: "prod",
			Action:         ActionAllow,
			CreatedAt:      testTime.Add(-2 * time.Hour),
			ExpiresAt:      testTime.Add(time.Hour),
		},
	}
	e, clk := newTestEngine(t, rules, overrides)

	// Valid now.
	if d := e.Evaluate("deploy it"); d.Action != ActionAllow {
		t.Fatalf("expected override active, got %s", d.Action)
	}

	// Expired after the clock passes ExpiresAt.
	clk.Add(2 * time.Hour)
	d := e.Evaluate("deploy it")
	if d.Action != ActionRequireHuman {
		t.Errorf("expected expired override to be inert, got %s", d.Action)
	}
	if d.OverrideApplied != "" {
		t.Errorf("expired override must not be recorded, got %q", d.OverrideApplied)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e, _ := newTestEngine(t, BuiltInRules(), nil)

	input := "deploy to production with report"
	first := e.Evaluate(input)
	for i := 0; i < 10; i++ {
		if d := e.Evaluate(input); d != first {
			t.Fatalf("evaluation not deterministic: %+v vs %+v", d, first)
		}
	}
}

func TestReloadInvalidPattern(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	err := e.Reload([]Rule{{Category: "bad", Patterns: []string{"("}, Action: ActionDeny}}, nil)
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestBuiltInRulesCompile(t *testing.T) {
	e, _ := newTestEngine(t, BuiltInRules(), nil)
	if e.RuleCount() != len(BuiltInRules()) {
		t.Errorf("expected %d rules, got %d", len(BuiltInRules()), e.RuleCount())
	}

	if d := e.Evaluate("please DROP DATABASE prod"); d.Action != ActionDeny {
		t.Errorf("expected builtin deny for destructive input, got %s", d.Action)
	}
}
