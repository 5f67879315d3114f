// Package risk implements the synchronous pre-trade risk validator: an
// ordered list of pure predicate rules checked against account-level limits.
// No I/O, no side effects; a signal exactly at a limit boundary is accepted.
package risk

import (
	"fmt"

	"github.com/Meridian-Markets/engine/pkg/model"
)

// Rule is a single named risk check. Check returns nil to accept or an error
// describing the violation.
type Rule struct {
	Name  string
	Check func(signal model.TradeSignal, limits model.RiskLimits) error
}

// Violation is a failed rule with its reason.
type Violation struct {
	Rule   string
	Reason error
}

func (v *Violation) Error() string {
	return fmt.Sprintf("risk rule %q: %v", v.Rule, v.Reason)
}

// Validator evaluates an ordered rule list. Rules run in registration order
// and the first violation wins.
type Validator struct {
	rules []Rule
}

// NewValidator returns a validator with the default rule set.
func NewValidator() *Validator {
	return &Validator{rules: DefaultRules()}
}

// NewValidatorWithRules returns a validator evaluating exactly the given rules.
func NewValidatorWithRules(rules []Rule) *Validator {
	return &Validator{rules: rules}
}

// AddRule appends a rule to the end of the list.
func (v *Validator) AddRule(r Rule) {
	v.rules = append(v.rules, r)
}

// Validate runs all rules against the signal. A nil return means the signal
// passed every check.
func (v *Validator) Validate(signal model.TradeSignal, limits model.RiskLimits) error {
	for _, r := range v.rules {
		if err := r.Check(signal, limits); err != nil {
			return &Violation{Rule: r.Name, Reason: err}
		}
	}
	return nil
}

// DefaultRules returns the built-in rule set: structural sanity, position
// size and confidence threshold. Limits are inclusive bounds.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "signal-sanity",
			Check: func(s model.TradeSignal, _ model.RiskLimits) error {
				return s.Validate()
			},
		},
		{
			Name: "max-position-size",
			Check: func(s model.TradeSignal, l model.RiskLimits) error {
				if l.MaxPositionSize.IsZero() {
					return nil // no limit configured
				}
				if s.Quantity.GreaterThan(l.MaxPositionSize) {
					return fmt.Errorf("quantity %s exceeds max position size %s",
						s.Quantity, l.MaxPositionSize)
				}
				return nil
			},
		},
		{
			Name: "min-confidence",
			Check: func(s model.TradeSignal, l model.RiskLimits) error {
				if s.Confidence < l.MinConfidence {
					return fmt.Errorf("confidence %.4f below minimum %.4f",
						s.Confidence, l.MinConfidence)
				}
				return nil
			},
		},
	}
}
