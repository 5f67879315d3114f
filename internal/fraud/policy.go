package fraud

import (
	"time"

	"github.com/Meridian-Markets/engine/pkg/model"
)

// ErrorExplanation is attached to every decision produced by a failure
// policy, so downstream consumers can tell degraded decisions apart.
const ErrorExplanation = "fraud-detection-error"

// FailurePolicy decides what happens when the scoring oracle is unavailable
// or times out. It is a named, swappable policy rather than a silently
// caught error so the trade-off is visible per deployment.
type FailurePolicy interface {
	// OnScoringError converts an oracle failure into a decision. It must not
	// return an error; the gate never raises to its caller.
	OnScoringError(event model.TelemetryEvent, cause error) model.FraudDecision
	Name() string
}

// FailOpen allows the transaction when scoring is unavailable. This is the
// default: infrastructure degradation must not block legitimate trading.
type FailOpen struct {
	ModelVersion string
}

func (p FailOpen) Name() string { return "fail-open" }

func (p FailOpen) OnScoringError(event model.TelemetryEvent, _ error) model.FraudDecision {
	return model.FraudDecision{
		EventID:      event.EventID,
		UserID:       event.UserID,
		Score:        0.5,
		Action:       model.ActionAllow,
		Explanations: []string{ErrorExplanation},
		ModelVersion: p.ModelVersion,
		Timestamp:    time.Now().UTC(),
	}
}

// FailClosed blocks the transaction when scoring is unavailable. Stricter
// deployments opt in via FRAUD_FAIL_CLOSED.
type FailClosed struct {
	ModelVersion string
}

func (p FailClosed) Name() string { return "fail-closed" }

func (p FailClosed) OnScoringError(event model.TelemetryEvent, _ error) model.FraudDecision {
	return model.FraudDecision{
		EventID:      event.EventID,
		UserID:       event.UserID,
		Score:        0.5,
		Action:       model.ActionBlock,
		Explanations: []string{ErrorExplanation},
		ModelVersion: p.ModelVersion,
		Timestamp:    time.Now().UTC(),
	}
}
