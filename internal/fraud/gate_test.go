package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/pkg/model"
)

type mockOracle struct {
	ScoreFunc func(ctx context.Context, event model.TelemetryEvent) (ScoreResult, error)
}

func (m *mockOracle) Score(ctx context.Context, event model.TelemetryEvent) (ScoreResult, error) {
	return m.ScoreFunc(ctx, event)
}

type memRuleStore struct {
	rules []Rule
}

func (s *memRuleStore) SetJSON(_ context.Context, _ string, value any, _ time.Duration) error {
	s.rules = value.([]Rule)
	return nil
}

func (s *memRuleStore) GetJSON(_ context.Context, _ string, dest any) error {
	if s.rules == nil {
		return errors.New("not found")
	}
	*(dest.(*[]Rule)) = s.rules
	return nil
}

func tradeEvent(userID string) model.TelemetryEvent {
	qty := decimal.NewFromInt(100)
	notional := decimal.NewFromInt(15000)
	return model.TelemetryEvent{
		Type:      model.EventPreTrade,
		EventID:   "evt-1",
		UserID:    userID,
		Symbol:    "AAPL",
		Quantity:  &qty,
		Notional:  &notional,
		Timestamp: time.Now().UTC(),
	}
}

func newTestGate(oracle Oracle, policy FailurePolicy) *Gate {
	return NewGate(zap.NewNop(), oracle, policy, nil, 800*time.Millisecond, "1.0")
}

func TestGateEvaluateDefaultRuleBands(t *testing.T) {
	cases := []struct {
		score  float64
		action model.FraudAction
	}{
		{0.05, model.ActionAllow},
		{0.59, model.ActionAllow},
		{0.6, model.ActionShadow},
		{0.74, model.ActionShadow},
		{0.75, model.ActionMFA},
		{0.89, model.ActionMFA},
		{0.9, model.ActionBlock},
		{1.0, model.ActionBlock},
	}

	for _, tc := range cases {
		oracle := &mockOracle{ScoreFunc: func(_ context.Context, _ model.TelemetryEvent) (ScoreResult, error) {
			return ScoreResult{Score: tc.score, ModelVersion: "1.0"}, nil
		}}
		gate := newTestGate(oracle, FailOpen{ModelVersion: "1.0"})

		decision := gate.Evaluate(context.Background(), tradeEvent("user-1"))
		assert.Equal(t, tc.action, decision.Action, "score %.2f", tc.score)
		assert.Equal(t, tc.score, decision.Score)
		assert.Equal(t, "1.0", decision.ModelVersion)
	}
}

func TestGateEvaluateSameInputsSameExplanations(t *testing.T) {
	oracle := &mockOracle{ScoreFunc: func(_ context.Context, _ model.TelemetryEvent) (ScoreResult, error) {
		return ScoreResult{Score: 0.8, ModelVersion: "1.0"}, nil
	}}
	gate := newTestGate(oracle, FailOpen{ModelVersion: "1.0"})

	first := gate.Evaluate(context.Background(), tradeEvent("user-1"))
	second := gate.Evaluate(context.Background(), tradeEvent("user-1"))
	assert.Equal(t, first.Explanations, second.Explanations)
	assert.Equal(t, []string{"high-risk", "mfa-required"}, first.Explanations)
}

func TestGateEvaluateTimeoutFailsOpen(t *testing.T) {
	oracle := &mockOracle{ScoreFunc: func(ctx context.Context, _ model.TelemetryEvent) (ScoreResult, error) {
		<-ctx.Done()
		return ScoreResult{}, ctx.Err()
	}}
	gate := NewGate(zap.NewNop(), oracle, FailOpen{ModelVersion: "1.0"}, nil, 20*time.Millisecond, "1.0")

	start := time.Now()
	decision := gate.Evaluate(context.Background(), tradeEvent("user-1"))
	require.Less(t, time.Since(start), time.Second)

	assert.Equal(t, model.ActionAllow, decision.Action)
	assert.Equal(t, 0.5, decision.Score)
	assert.Contains(t, decision.Explanations, ErrorExplanation)
	assert.False(t, decision.Blocked())
}

func TestGateEvaluateOracleErrorFailsClosed(t *testing.T) {
	oracle := &mockOracle{ScoreFunc: func(_ context.Context, _ model.TelemetryEvent) (ScoreResult, error) {
		return ScoreResult{}, errors.New("upstream 500")
	}}
	gate := newTestGate(oracle, FailClosed{ModelVersion: "1.0"})

	decision := gate.Evaluate(context.Background(), tradeEvent("user-1"))
	assert.Equal(t, model.ActionBlock, decision.Action)
	assert.Contains(t, decision.Explanations, ErrorExplanation)
	assert.True(t, decision.Blocked())
}

func TestGateStats(t *testing.T) {
	score := 0.05
	oracle := &mockOracle{ScoreFunc: func(_ context.Context, _ model.TelemetryEvent) (ScoreResult, error) {
		return ScoreResult{Score: score, ModelVersion: "1.0"}, nil
	}}
	gate := newTestGate(oracle, FailOpen{ModelVersion: "1.0"})

	gate.Evaluate(context.Background(), tradeEvent("user-1"))
	score = 0.95
	gate.Evaluate(context.Background(), tradeEvent("user-1"))
	score = 0.8
	gate.Evaluate(context.Background(), tradeEvent("user-1"))

	stats := gate.Stats()
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Allowed)
	assert.Equal(t, int64(1), stats.Blocked)
	assert.Equal(t, int64(1), stats.MFARequired)
	assert.Equal(t, int64(0), stats.Errors)
}

func TestGateUpdateRules(t *testing.T) {
	oracle := &mockOracle{ScoreFunc: func(_ context.Context, _ model.TelemetryEvent) (ScoreResult, error) {
		return ScoreResult{Score: 0.5, ModelVersion: "1.0"}, nil
	}}
	store := &memRuleStore{}
	gate := NewGate(zap.NewNop(), oracle, FailOpen{ModelVersion: "1.0"}, store, 800*time.Millisecond, "1.0")

	// 0.5 is below every default threshold.
	decision := gate.Evaluate(context.Background(), tradeEvent("user-1"))
	require.Equal(t, model.ActionAllow, decision.Action)

	err := gate.UpdateRules(context.Background(), []Rule{
		{Name: "strict-block", MinScore: 0.4, Action: model.ActionBlock},
	})
	require.NoError(t, err)

	decision = gate.Evaluate(context.Background(), tradeEvent("user-1"))
	assert.Equal(t, model.ActionBlock, decision.Action)

	// A fresh gate picks the persisted rules over the defaults.
	fresh := NewGate(zap.NewNop(), oracle, FailOpen{ModelVersion: "1.0"}, store, 800*time.Millisecond, "1.0")
	decision = fresh.Evaluate(context.Background(), tradeEvent("user-1"))
	assert.Equal(t, model.ActionBlock, decision.Action)
}

func TestGateUpdateRulesRejectsInvalid(t *testing.T) {
	oracle := &mockOracle{ScoreFunc: func(_ context.Context, _ model.TelemetryEvent) (ScoreResult, error) {
		return ScoreResult{Score: 0.1, ModelVersion: "1.0"}, nil
	}}
	gate := newTestGate(oracle, FailOpen{ModelVersion: "1.0"})

	assert.Error(t, gate.UpdateRules(context.Background(), nil))
	assert.Error(t, gate.UpdateRules(context.Background(), []Rule{
		{Name: "bad-score", MinScore: 1.5, Action: model.ActionBlock},
	}))
	assert.Error(t, gate.UpdateRules(context.Background(), []Rule{
		{Name: "dup", MinScore: 0.5, Action: model.ActionBlock},
		{Name: "dup", MinScore: 0.6, Action: model.ActionMFA},
	}))
	assert.Error(t, gate.UpdateRules(context.Background(), []Rule{
		{Name: "bad-action", MinScore: 0.5, Action: model.FraudAction("DENY")},
	}))
}

func TestExplainBands(t *testing.T) {
	assert.Equal(t, []string{"low-risk", "transaction-approved"}, Explain(0.05, model.ActionAllow))
	assert.Equal(t, []string{"medium-risk", "transaction-approved"}, Explain(0.2, model.ActionAllow))
	assert.Equal(t, []string{"high-risk", "transaction-blocked"}, Explain(0.95, model.ActionBlock))
	assert.Equal(t, []string{"high-risk", "shadow-mode"}, Explain(0.65, model.ActionShadow))
}

func TestLocalOracleDeterministic(t *testing.T) {
	oracle := &LocalOracle{}
	event := tradeEvent("user-1")

	first, err := oracle.Score(context.Background(), event)
	require.NoError(t, err)
	second, err := oracle.Score(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	big := decimal.NewFromInt(2_000_000)
	event.Notional = &big
	high, err := oracle.Score(context.Background(), event)
	require.NoError(t, err)
	assert.Greater(t, high.Score, first.Score)
}
