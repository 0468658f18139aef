// Package policy provides the admission-control gate for Warden requests.
package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/warden/warden/pkg/clock"
)

// Common errors.
var (
	ErrInvalidRule     = errors.New("invalid policy rule")
	ErrInvalidOverride = errors.New("invalid policy override")
)

// Action is the admission decision for a request.
type Action string

const (
	// ActionAllow admits the request to the queue.
	ActionAllow Action = "allow"
	// ActionRequireHuman blocks the request on a human approval ticket.
	ActionRequireHuman Action = "require_human"
	// ActionDeny rejects the request outright.
	ActionDeny Action = "deny"
)

// Priority returns the total order used when combining matches:
// deny > require_human > allow. Unknown actions rank lowest.
func (a Action) Priority() int {
	switch a {
	case ActionDeny:
		return 3
	case ActionRequireHuman:
		return 2
	case ActionAllow:
		return 1
	default:
		return 0
	}
}

// RiskLevel grades how dangerous a matched request is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rule classifies request text into an action. Keywords are matched as
// case-insensitive substrings, patterns as case-insensitive regexes.
type Rule struct {
	Category  string    `json:"category" yaml:"category"`
	Keywords  []string  `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Patterns  []string  `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	Action    Action    `json:"action" yaml:"action"`
	RiskLevel RiskLevel `json:"risk_level" yaml:"risk_level"`
}

// Override shadows a rule's action for a category. Overrides only
// relax, never tighten: an override is applied only when its action
// has strictly lower priority than the evaluated one. It never mutates
// the rule itself.
type Override struct {
	ID             string    `json:"id" yaml:"id"`
	TargetCategory string    `json:"target_category" yaml:"target_category"`
	Action         Action    `json:"action" yaml:"action"`
	Reason         string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	ApprovedBy     string    `json:"approved_by,omitempty" yaml:"approved_by,omitempty"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	ExpiresAt      time.Time `json:"expires_at" yaml:"expires_at"`
}

// Valid reports whether the override is still in effect at now.
func (o *Override) Valid(now time.Time) bool {
	return now.Before(o.ExpiresAt)
}

// Decision is the result of evaluating a request.
type Decision struct {
	Action          Action    `json:"action"`
	MatchedCategory string    `json:"matched_category,omitempty"`
	MatchedBy       string    `json:"matched_by,omitempty"` // The keyword or pattern that matched.
	RiskLevel       RiskLevel `json:"risk_level"`
	OverrideApplied string    `json:"override_applied,omitempty"` // Override ID, if one relaxed the action.
}

// Config holds engine configuration.
type Config struct {
	// DefaultAction is the action when no rule matches.
	DefaultAction Action
	// DefaultRisk is the risk level when no rule matches.
	DefaultRisk RiskLevel
}

// DefaultEngineConfig returns sensible defaults: unmatched requests
// are admitted at low risk.
func DefaultEngineConfig() *Config {
	return &Config{
		DefaultAction: ActionAllow,
		DefaultRisk:   RiskLow,
	}
}

// compiledRule is a Rule with lowercased keywords and compiled patterns.
type compiledRule struct {
	rule     Rule
	keywords []string
	patterns []*regexp.Regexp
}

// Engine evaluates requests against an ordered rule set plus overrides.
// Evaluation is deterministic: identical input and identical rule and
// override sets always yield the same decision. The only time
// dependence is override expiry, via the injected clock.
type Engine struct {
	mu        sync.RWMutex
	rules     []compiledRule
	overrides []Override
	cfg       Config
	clock     clock.Clock
}

// NewEngine creates a policy engine with the given rules and overrides.
func NewEngine(rules []Rule, overrides []Override, cfg *Config, clk clock.Clock) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	if clk == nil {
		clk = clock.New()
	}

	e := &Engine{
		cfg:   *cfg,
		clock: clk,
	}
	if err := e.Reload(rules, overrides); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload replaces the rule and override sets. Used for hot reload
// between runs; in-flight evaluations finish against the old set.
func (e *Engine) Reload(rules []Rule, overrides []Override) error {
	compiled := make([]compiledRule, 0, len(rules))
	for i := range rules {
		cr, err := compileRule(&rules[i])
		if err != nil {
			return fmt.Errorf("rule %q: %w", rules[i].Category, err)
		}
		compiled = append(compiled, cr)
	}

	for i := range overrides {
		if overrides[i].TargetCategory == "" || overrides[i].Action == "" {
			return fmt.Errorf("%w: override %q needs target_category and action", ErrInvalidOverride, overrides[i].ID)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = compiled
	e.overrides = append([]Override(nil), overrides...)
	return nil
}

func compileRule(r *Rule) (compiledRule, error) {
	if r.Category == "" || r.Action == "" {
		return compiledRule{}, ErrInvalidRule
	}

	cr := compiledRule{
		rule:     *r,
		keywords: make([]string, 0, len(r.Keywords)),
		patterns: make([]*regexp.Regexp, 0, len(r.Patterns)),
	}
	for _, kw := range r.Keywords {
		cr.keywords = append(cr.keywords, strings.ToLower(kw))
	}
	for _, p := range r.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return compiledRule{}, fmt.Errorf("pattern %q: %w", p, err)
		}
		cr.patterns = append(cr.patterns, re)
	}
	return cr, nil
}

// Evaluate classifies the request text. Rules are scanned in a fixed
// order; a match upgrades the running best action only when it has
// strictly higher priority, so ties keep the earliest match. A deny
// match short-circuits the scan.
func (e *Engine) Evaluate(input string) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := Decision{
		Action:    e.cfg.DefaultAction,
		RiskLevel: e.cfg.DefaultRisk,
	}
	matched := false
	best := 0 // Default action does not count as a match for overrides.

	lower := strings.ToLower(input)

scan:
	for i := range e.rules {
		cr := &e.rules[i]

		matchedBy := ""
		for _, kw := range cr.keywords {
			if strings.Contains(lower, kw) {
				matchedBy = kw
				break
			}
		}
		if matchedBy == "" {
			for _, re := range cr.patterns {
				if re.MatchString(input) {
					matchedBy = re.String()
					break
				}
			}
		}
		if matchedBy == "" {
			continue
		}

		if p := cr.rule.Action.Priority(); !matched || p > best {
			best = p
			matched = true
			decision.Action = cr.rule.Action
			decision.MatchedCategory = cr.rule.Category
			decision.MatchedBy = matchedBy
			decision.RiskLevel = cr.rule.RiskLevel
		}

		if cr.rule.Action == ActionDeny {
			break scan
		}
	}

	if matched {
		e.applyOverride(&decision)
	}
	return decision
}

// applyOverride relaxes the decision if a non-expired override targets
// the matched category with a strictly lower-priority action.
func (e *Engine) applyOverride(d *Decision) {
	now := e.clock.Now()
	for i := range e.overrides {
		o := &e.overrides[i]
		if o.TargetCategory != d.MatchedCategory || !o.Valid(now) {
			continue
		}
		if o.Action.Priority() < d.Action.Priority() {
			d.Action = o.Action
			d.OverrideApplied = o.ID
		}
		return // First matching override decides, applied or not.
	}
}

// Overrides returns a copy of the current override set.
func (e *Engine) Overrides() []Override {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Override(nil), e.overrides...)
}

// RuleCount returns the number of loaded rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
