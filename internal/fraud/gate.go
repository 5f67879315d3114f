// Package fraud implements the fraud scoring gate: the synchronous,
// latency-bounded decision point between order intake and broker execution.
// The gate never raises to its caller; every failure path degrades to a
// decision produced by the configured failure policy.
package fraud

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/metrics"
	"github.com/Meridian-Markets/engine/pkg/model"
)

const rulesStoreKey = "fraud:rules"

// RuleStore persists the active rule set so replicas converge after updates.
type RuleStore interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
}

// Stats are the gate's aggregate counters, exposed on the admin surface.
type Stats struct {
	Total       int64 `json:"total"`
	Allowed     int64 `json:"allowed"`
	Blocked     int64 `json:"blocked"`
	MFARequired int64 `json:"mfaRequired"`
	Shadowed    int64 `json:"shadowed"`
	Errors      int64 `json:"errors"`
}

// Gate evaluates telemetry events against the scoring oracle and the active
// rule set, within a hard per-call timeout.
type Gate struct {
	logger  *zap.Logger
	oracle  Oracle
	rules   *ruleSet
	policy  FailurePolicy
	store   RuleStore // optional
	timeout time.Duration
	version string

	total    atomic.Int64
	allowed  atomic.Int64
	blocked  atomic.Int64
	mfa      atomic.Int64
	shadowed atomic.Int64
	errors   atomic.Int64
}

// NewGate constructs a gate. store may be nil (rules stay in-memory only).
// When the store holds a previously persisted rule set it wins over the
// provided defaults.
func NewGate(
	logger *zap.Logger,
	oracle Oracle,
	policy FailurePolicy,
	store RuleStore,
	timeout time.Duration,
	modelVersion string,
) *Gate {
	g := &Gate{
		logger:  logger,
		oracle:  oracle,
		rules:   newRuleSet(DefaultRules()),
		policy:  policy,
		store:   store,
		timeout: timeout,
		version: modelVersion,
	}

	if store != nil {
		var persisted []Rule
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.GetJSON(ctx, rulesStoreKey, &persisted); err == nil && len(persisted) > 0 {
			if err := validateRules(persisted); err == nil {
				g.rules.replace(persisted)
			}
		}
	}

	return g
}

// Evaluate scores the event and returns a decision. It never returns an
// error: oracle failures and timeouts are converted by the failure policy.
func (g *Gate) Evaluate(ctx context.Context, event model.TelemetryEvent) model.FraudDecision {
	g.total.Add(1)

	scoreCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.oracle.Score(scoreCtx, event)
	if err != nil {
		result := "error"
		if scoreCtx.Err() == context.DeadlineExceeded {
			result = "timeout"
		}
		metrics.ObserveDuration(metrics.FraudOracleDuration, start, result)
		g.errors.Add(1)
		metrics.IncError("fraud_gate", result)

		decision := g.policy.OnScoringError(event, err)
		g.count(decision.Action)
		metrics.IncFraudDecision(string(decision.Action), g.policy.Name())

		g.logger.Warn("fraud.scoring_degraded",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
			zap.String("policy", g.policy.Name()),
			zap.String("action", string(decision.Action)),
			zap.Error(err))
		return decision
	}
	metrics.ObserveDuration(metrics.FraudOracleDuration, start, "ok")

	action := g.rules.actionFor(res.Score)
	decision := model.FraudDecision{
		EventID:      event.EventID,
		UserID:       event.UserID,
		Score:        res.Score,
		Action:       action,
		Explanations: Explain(res.Score, action),
		ModelVersion: res.ModelVersion,
		Timestamp:    time.Now().UTC(),
	}
	if decision.ModelVersion == "" {
		decision.ModelVersion = g.version
	}

	g.count(action)
	metrics.IncFraudDecision(string(action), "oracle")

	g.logger.Debug("fraud.decision",
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
		zap.Float64("score", res.Score),
		zap.String("action", string(action)))

	return decision
}

// UpdateRules validates, persists and activates a new rule set. Not on the
// order hot path; eventual consistency across replicas is acceptable.
func (g *Gate) UpdateRules(ctx context.Context, rules []Rule) error {
	if err := validateRules(rules); err != nil {
		return fmt.Errorf("invalid fraud rules: %w", err)
	}
	if g.store != nil {
		if err := g.store.SetJSON(ctx, rulesStoreKey, rules, 0); err != nil {
			return fmt.Errorf("persist fraud rules: %w", err)
		}
	}
	g.rules.replace(rules)
	g.logger.Info("fraud.rules_updated", zap.Int("count", len(rules)))
	return nil
}

// Rules returns a copy of the active rule set, highest threshold first.
func (g *Gate) Rules() []Rule {
	return g.rules.snapshot()
}

// Stats returns a snapshot of the gate's counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Total:       g.total.Load(),
		Allowed:     g.allowed.Load(),
		Blocked:     g.blocked.Load(),
		MFARequired: g.mfa.Load(),
		Shadowed:    g.shadowed.Load(),
		Errors:      g.errors.Load(),
	}
}

func (g *Gate) count(action model.FraudAction) {
	switch action {
	case model.ActionAllow:
		g.allowed.Add(1)
	case model.ActionBlock:
		g.blocked.Add(1)
	case model.ActionMFA:
		g.mfa.Add(1)
	case model.ActionShadow:
		g.shadowed.Add(1)
	}
}

// Explain derives human-readable explanation tags from (score, action).
// The mapping is deterministic so identical inputs always produce identical
// tags.
func Explain(score float64, action model.FraudAction) []string {
	var tags []string
	switch {
	case score < 0.1:
		tags = append(tags, "low-risk")
	case score < 0.3:
		tags = append(tags, "medium-risk")
	default:
		tags = append(tags, "high-risk")
	}
	switch action {
	case model.ActionAllow:
		tags = append(tags, "transaction-approved")
	case model.ActionBlock:
		tags = append(tags, "transaction-blocked")
	case model.ActionMFA:
		tags = append(tags, "mfa-required")
	case model.ActionShadow:
		tags = append(tags, "shadow-mode")
	}
	return tags
}
