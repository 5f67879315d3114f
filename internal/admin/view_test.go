package admin

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/fraud"
	"github.com/Meridian-Markets/engine/internal/store"
	"github.com/Meridian-Markets/engine/pkg/model"
)

type stubOracle struct{ score float64 }

func (o *stubOracle) Score(_ context.Context, _ model.TelemetryEvent) (fraud.ScoreResult, error) {
	return fraud.ScoreResult{Score: o.score, ModelVersion: "1.0"}, nil
}

type stubQueue struct{ depth int }

func (q stubQueue) QueueDepth() int { return q.depth }

func newTestView(t *testing.T) (*View, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := store.NewHybrid(mr.Addr(), "", 0, "", store.PGPoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gate := fraud.NewGate(zap.NewNop(), &stubOracle{score: 0.05}, fraud.FailOpen{ModelVersion: "1.0"}, nil, time.Second, "1.0")
	return NewView(zap.NewNop(), st, gate, stubQueue{depth: 7}), mr
}

func TestSystemHealthRedisOnly(t *testing.T) {
	view, _ := newTestView(t)

	h := view.SystemHealth(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.False(t, h.DurableStore)
	assert.Empty(t, h.OrdersByStatus)
	assert.Equal(t, 7, h.TelemetryQueueDepth)
	assert.NotEmpty(t, h.ActiveRules)
}

func TestSystemHealthDegradedWhenRedisDown(t *testing.T) {
	view, mr := newTestView(t)
	mr.Close()

	h := view.SystemHealth(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.NotEmpty(t, h.StoreError)
}

func TestFraudAlertsUnavailableWithoutPostgres(t *testing.T) {
	view, _ := newTestView(t)

	_, err := view.FraudAlerts(context.Background(), time.Now().Add(-time.Hour), 10)
	assert.ErrorIs(t, err, store.ErrDurableUnavailable)

	_, err = view.UserStats(context.Background(), "user-1")
	assert.ErrorIs(t, err, store.ErrDurableUnavailable)
}

func TestUpdateAndReadRules(t *testing.T) {
	view, _ := newTestView(t)

	rules := []fraud.Rule{
		{Name: "strict-block", MinScore: 0.5, Action: model.ActionBlock},
	}
	require.NoError(t, view.UpdateRules(context.Background(), rules))
	assert.Equal(t, "strict-block", view.Rules()[0].Name)

	assert.Error(t, view.UpdateRules(context.Background(), nil))
}
