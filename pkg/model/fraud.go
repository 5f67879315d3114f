package model

import "time"

// FraudAction is the decision taken for one telemetry event.
type FraudAction string

const (
	ActionAllow  FraudAction = "ALLOW"
	ActionBlock  FraudAction = "BLOCK"
	ActionMFA    FraudAction = "MFA"
	ActionShadow FraudAction = "SHADOW"
)

// FraudDecision is the scored outcome for one telemetry event. It is derived,
// not a source of truth: a decision lives for the duration of a single
// order-processing request and is recomputed per evaluation.
type FraudDecision struct {
	EventID      string      `json:"eventId"`
	UserID       string      `json:"userId"`
	Score        float64     `json:"score"`
	Action       FraudAction `json:"action"`
	Explanations []string    `json:"explanations"`
	ModelVersion string      `json:"modelVersion"`
	Timestamp    time.Time   `json:"ts"`
}

// Blocked reports whether the decision stops the order from reaching the broker.
func (d FraudDecision) Blocked() bool {
	return d.Action == ActionBlock || d.Action == ActionMFA
}
