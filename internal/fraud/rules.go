package fraud

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Meridian-Markets/engine/pkg/model"
)

// Rule maps a score threshold to an action. Rules are evaluated highest
// threshold first; the first rule whose MinScore is met decides the action.
// A score below every threshold yields ALLOW.
type Rule struct {
	Name     string            `json:"name"`
	MinScore float64           `json:"minScore"`
	Action   model.FraudAction `json:"action"`
}

// DefaultRules mirrors the scoring bands the platform shipped with.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "critical-risk-block", MinScore: 0.9, Action: model.ActionBlock},
		{Name: "high-risk-mfa", MinScore: 0.75, Action: model.ActionMFA},
		{Name: "elevated-risk-shadow", MinScore: 0.6, Action: model.ActionShadow},
	}
}

// ruleSet holds the active rules behind a RWMutex. Rule updates are an
// administrative side channel, never on the order hot path, so eventual
// consistency between replicas is acceptable.
type ruleSet struct {
	mu    sync.RWMutex
	rules []Rule
}

func newRuleSet(rules []Rule) *ruleSet {
	rs := &ruleSet{}
	rs.replace(rules)
	return rs
}

func (rs *ruleSet) replace(rules []Rule) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinScore > sorted[j].MinScore })
	rs.mu.Lock()
	rs.rules = sorted
	rs.mu.Unlock()
}

func (rs *ruleSet) snapshot() []Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// actionFor returns the action for a score.
func (rs *ruleSet) actionFor(score float64) model.FraudAction {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, r := range rs.rules {
		if score >= r.MinScore {
			return r.Action
		}
	}
	return model.ActionAllow
}

// validateRules rejects rule sets that cannot be evaluated meaningfully.
func validateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.Name == "" {
			return fmt.Errorf("rule name is required")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
		if r.MinScore < 0 || r.MinScore > 1 {
			return fmt.Errorf("rule %q: minScore must be within [0,1]", r.Name)
		}
		switch r.Action {
		case model.ActionAllow, model.ActionBlock, model.ActionMFA, model.ActionShadow:
		default:
			return fmt.Errorf("rule %q: invalid action %q", r.Name, r.Action)
		}
	}
	return nil
}
