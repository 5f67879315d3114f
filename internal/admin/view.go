// Package admin exposes the operational read models: fraud alerts, per-user
// stats and system health. Everything here degrades gracefully when the
// durable store is absent; the trading path never depends on this package.
package admin

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/fraud"
	"github.com/Meridian-Markets/engine/internal/store"
	"github.com/Meridian-Markets/engine/pkg/model"
)

// QueueDepther reports the telemetry backlog for the health view.
type QueueDepther interface {
	QueueDepth() int
}

// Health is the admin health snapshot.
type Health struct {
	Status              string           `json:"status"` // ok | degraded
	StoreError          string           `json:"storeError,omitempty"`
	DurableStore        bool             `json:"durableStore"`
	FraudGate           fraud.Stats      `json:"fraudGate"`
	ActiveRules         []fraud.Rule     `json:"activeRules"`
	TelemetryQueueDepth int              `json:"telemetryQueueDepth"`
	OrdersByStatus      map[string]int64 `json:"ordersByStatus,omitempty"`
	CheckedAt           time.Time        `json:"checkedAt"`
}

// View composes the admin read models.
type View struct {
	logger    *zap.Logger
	store     store.Store
	gate      *fraud.Gate
	telemetry QueueDepther
}

func NewView(logger *zap.Logger, st store.Store, gate *fraud.Gate, telemetry QueueDepther) *View {
	return &View{logger: logger, store: st, gate: gate, telemetry: telemetry}
}

// FraudAlerts lists flagged decisions since the given time, newest first.
func (v *View) FraudAlerts(ctx context.Context, since time.Time, limit int) ([]store.FraudAlertRow, error) {
	return v.store.FraudAlerts(ctx, since, limit)
}

// UserStats aggregates one user's order and fraud history.
func (v *View) UserStats(ctx context.Context, userID string) (*store.UserStatsRow, error) {
	return v.store.UserStats(ctx, userID)
}

// GateStats returns the fraud gate's live counters.
func (v *View) GateStats() fraud.Stats {
	return v.gate.Stats()
}

// Evaluate scores an arbitrary event through the live gate. Used by
// operators to probe rule changes; counts toward gate stats like any other
// evaluation.
func (v *View) Evaluate(ctx context.Context, event model.TelemetryEvent) model.FraudDecision {
	return v.gate.Evaluate(ctx, event)
}

// UpdateRules swaps the active fraud rule set.
func (v *View) UpdateRules(ctx context.Context, rules []fraud.Rule) error {
	return v.gate.UpdateRules(ctx, rules)
}

// Rules returns the active fraud rule set.
func (v *View) Rules() []fraud.Rule {
	return v.gate.Rules()
}

// SystemHealth probes the store and reports gate and queue state. A failing
// store marks the system degraded instead of erroring; operators still need
// the rest of the picture.
func (v *View) SystemHealth(ctx context.Context) Health {
	h := Health{
		Status:      "ok",
		FraudGate:   v.gate.Stats(),
		ActiveRules: v.gate.Rules(),
		CheckedAt:   time.Now().UTC(),
	}
	if v.telemetry != nil {
		h.TelemetryQueueDepth = v.telemetry.QueueDepth()
	}

	if err := v.store.HealthCheck(ctx); err != nil {
		h.Status = "degraded"
		h.StoreError = err.Error()
		v.logger.Warn("admin.health_degraded", zap.Error(err))
		return h
	}

	counts, err := v.store.CountOrdersByStatus(ctx)
	switch {
	case err == nil:
		h.DurableStore = true
		h.OrdersByStatus = counts
	case errors.Is(err, store.ErrDurableUnavailable):
		// Redis-only deployment; healthy but without aggregates.
	default:
		h.Status = "degraded"
		h.StoreError = err.Error()
	}
	return h
}
