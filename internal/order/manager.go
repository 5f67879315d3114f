// Package order implements the order manager: the single writer of order
// records and the sequencing point for risk validation, fraud gating, broker
// execution and telemetry emission.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/broker"
	"github.com/Meridian-Markets/engine/internal/fraud"
	"github.com/Meridian-Markets/engine/internal/metrics"
	"github.com/Meridian-Markets/engine/internal/risk"
	"github.com/Meridian-Markets/engine/internal/store"
	"github.com/Meridian-Markets/engine/pkg/eventbus"
	"github.com/Meridian-Markets/engine/pkg/model"
)

// TelemetryPublisher is the slice of the telemetry publisher the manager
// needs. Publish must not block past its internal enqueue timeout.
type TelemetryPublisher interface {
	Publish(ctx context.Context, event model.TelemetryEvent) error
}

// LimitsResolver supplies per-account risk limits.
type LimitsResolver interface {
	Limits(ctx context.Context, userID string) model.RiskLimits
}

// StaticLimits resolves every account to the same limits.
type StaticLimits struct {
	RiskLimits model.RiskLimits
}

func (s StaticLimits) Limits(_ context.Context, _ string) model.RiskLimits {
	return s.RiskLimits
}

// Config wires the manager's collaborators explicitly. All fields except
// Logger are required.
type Config struct {
	Logger    *zap.Logger
	Store     store.Store
	Broker    broker.Adapter
	Gate      *fraud.Gate
	Telemetry TelemetryPublisher
	Risk      *risk.Validator
	Limits    LimitsResolver
	Bus       *eventbus.EventBus
}

// Manager owns the order lifecycle. It is safe for concurrent use; conflicting
// writes to the same order are serialized by the store's version check.
type Manager struct {
	logger    *zap.Logger
	store     store.Store
	broker    broker.Adapter
	gate      *fraud.Gate
	telemetry TelemetryPublisher
	risk      *risk.Validator
	limits    LimitsResolver
	bus       *eventbus.EventBus
}

// NewManager validates the wiring and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	switch {
	case cfg.Store == nil:
		return nil, errors.New("order manager: store is required")
	case cfg.Broker == nil:
		return nil, errors.New("order manager: broker adapter is required")
	case cfg.Gate == nil:
		return nil, errors.New("order manager: fraud gate is required")
	case cfg.Telemetry == nil:
		return nil, errors.New("order manager: telemetry publisher is required")
	case cfg.Risk == nil:
		return nil, errors.New("order manager: risk validator is required")
	case cfg.Limits == nil:
		return nil, errors.New("order manager: limits resolver is required")
	case cfg.Bus == nil:
		return nil, errors.New("order manager: event bus is required")
	}
	return &Manager{
		logger:    cfg.Logger,
		store:     cfg.Store,
		broker:    cfg.Broker,
		gate:      cfg.Gate,
		telemetry: cfg.Telemetry,
		risk:      cfg.Risk,
		limits:    cfg.Limits,
		bus:       cfg.Bus,
	}, nil
}

// SubmitOrder runs the full intake pipeline: structural validation, risk
// validation, pre-trade telemetry, fraud gating, persistence, broker
// execution, post-trade telemetry. A risk rejection stops the pipeline
// before any telemetry or broker call.
func (m *Manager) SubmitOrder(ctx context.Context, userID string, signal model.TradeSignal) (*model.Order, error) {
	start := time.Now()
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}

	if err := signal.Validate(); err != nil {
		return nil, NewError(CodeInvalidSignal, err.Error(), err)
	}

	limits := m.limits.Limits(ctx, userID)
	if err := m.risk.Validate(signal, limits); err != nil {
		metrics.IncOrder("risk_rejected")
		m.logger.Info("order.risk_rejected",
			zap.String("user_id", userID),
			zap.String("symbol", signal.Symbol),
			zap.Error(err))
		return nil, NewError(CodeRiskRejected, err.Error(), err)
	}

	event := m.preTradeEvent(userID, signal)
	if err := m.telemetry.Publish(ctx, event); err != nil {
		// Telemetry loss is recorded, never fatal to the order.
		m.logger.Warn("order.telemetry_failed", zap.String("event_id", event.EventID), zap.Error(err))
	}

	decision := m.gate.Evaluate(ctx, event)
	if err := m.store.RecordFraudDecision(ctx, decision); err != nil {
		m.logger.Warn("order.decision_record_failed", zap.String("event_id", event.EventID), zap.Error(err))
	}
	if decision.Action != model.ActionAllow {
		m.bus.Publish(FraudFlagged{UserID: userID, Decision: decision})
	}

	switch decision.Action {
	case model.ActionBlock:
		metrics.IncOrder("fraud_blocked")
		m.logger.Warn("order.fraud_blocked",
			zap.String("user_id", userID),
			zap.String("event_id", decision.EventID),
			zap.Float64("score", decision.Score))
		return nil, NewError(CodeFraudBlocked, "transaction blocked by fraud controls", nil)
	case model.ActionMFA:
		metrics.IncOrder("mfa_required")
		return nil, NewError(CodeMFARequired, "additional verification required", nil)
	}

	order := &model.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		Signal:        signal,
		Status:        model.StatusPending,
		ShadowFlagged: decision.Action == model.ActionShadow,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.SaveOrder(ctx, order); err != nil {
		metrics.IncError("order_manager", "save_failed")
		return nil, NewError(CodeBrokerFailure, "order could not be persisted", err)
	}
	m.bus.Publish(Accepted{Order: *order})

	exec, err := m.broker.PlaceOrder(ctx, order)
	if err != nil {
		order.Status = model.StatusFailed
		if uerr := m.store.UpdateOrder(ctx, order); uerr != nil {
			m.logger.Error("order.fail_mark_failed", zap.String("order_id", order.ID), zap.Error(uerr))
		}
		m.bus.Publish(Failed{Order: *order, Reason: err.Error()})
		metrics.IncOrder("broker_failed")
		metrics.ObserveDuration(metrics.OrderSubmitDuration, start, "broker_failed")
		m.logger.Error("order.broker_failed",
			zap.String("order_id", order.ID),
			zap.String("broker", m.broker.Name()),
			zap.Error(err))
		return nil, NewError(CodeBrokerFailure, "broker rejected or failed the order", err)
	}

	m.applyExecution(order, exec)
	if err := m.store.UpdateOrder(ctx, order); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			reconciled, cancelled := m.reconcileExecution(ctx, order, exec)
			if cancelled {
				metrics.IncOrder("cancelled_in_flight")
				metrics.ObserveDuration(metrics.OrderSubmitDuration, start, "cancelled_in_flight")
				return reconciled, nil
			}
			order = reconciled
		} else {
			// The fill happened; losing the record is a server fault, not a
			// reason to report failure to the caller.
			m.logger.Error("order.execution_record_failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	if err := m.telemetry.Publish(ctx, m.postTradeEvent(userID, order)); err != nil {
		m.logger.Warn("order.telemetry_failed", zap.String("order_id", order.ID), zap.Error(err))
	}
	m.bus.Publish(Executed{Order: *order})

	outcome := "filled"
	if order.Status == model.StatusPartiallyFilled {
		outcome = "partially_filled"
	}
	metrics.IncOrder(outcome)
	metrics.ObserveDuration(metrics.OrderSubmitDuration, start, outcome)

	m.logger.Info("order.submitted",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("symbol", signal.Symbol),
		zap.String("status", string(order.Status)),
		zap.Bool("shadow", order.ShadowFlagged))
	return order, nil
}

// UpdateOrder amends a live order's signal. The amended signal passes the
// same risk checks as a new submission.
func (m *Manager) UpdateOrder(ctx context.Context, userID, orderID string, signal model.TradeSignal) (*model.Order, error) {
	order, err := m.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Mutable() {
		return nil, NewError(CodeNotModifiable, "order is "+string(order.Status), nil)
	}

	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = order.Signal.CreatedAt
	}
	if err := signal.Validate(); err != nil {
		return nil, NewError(CodeInvalidSignal, err.Error(), err)
	}
	if err := m.risk.Validate(signal, m.limits.Limits(ctx, userID)); err != nil {
		metrics.IncOrder("risk_rejected")
		return nil, NewError(CodeRiskRejected, err.Error(), err)
	}

	if order.BrokerOrderID != "" {
		exec, err := m.broker.UpdateOrder(ctx, order.BrokerOrderID, signal)
		if err != nil {
			return nil, NewError(CodeBrokerFailure, "broker rejected the amendment", err)
		}
		m.applyExecution(order, exec)
	}
	order.Signal = signal

	if err := m.store.UpdateOrder(ctx, order); err != nil {
		return nil, m.storeError(err)
	}
	m.bus.Publish(Updated{Order: *order})

	m.logger.Info("order.updated",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("status", string(order.Status)))
	return order, nil
}

// CancelOrder cancels a live order. Exactly one of two concurrent cancels
// succeeds; the loser sees a stale-order conflict.
func (m *Manager) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := m.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Mutable() {
		return nil, NewError(CodeNotCancellable, "order is "+string(order.Status), nil)
	}

	if order.BrokerOrderID != "" {
		if err := m.broker.CancelOrder(ctx, order.BrokerOrderID); err != nil {
			return nil, NewError(CodeBrokerFailure, "broker rejected the cancel", err)
		}
	}

	order.Status = model.StatusCancelled
	if err := m.store.UpdateOrder(ctx, order); err != nil {
		return nil, m.storeError(err)
	}
	m.bus.Publish(Cancelled{Order: *order})
	metrics.IncOrder("cancelled")

	m.logger.Info("order.cancelled",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID))
	return order, nil
}

// GetOrder returns one of the user's orders.
func (m *Manager) GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	return m.ownedOrder(ctx, userID, orderID)
}

// GetOrders returns the user's orders, newest first.
func (m *Manager) GetOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return m.store.GetUserOrders(ctx, userID)
}

// GetHistory returns the user's orders, newest first, truncated to limit.
// A non-positive limit returns everything.
func (m *Manager) GetHistory(ctx context.Context, userID string, limit int) ([]model.Order, error) {
	orders, err := m.store.GetUserOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// GetOrderHistory returns the immutable state history of one order.
func (m *Manager) GetOrderHistory(ctx context.Context, userID, orderID string) ([]store.OrderEventRow, error) {
	if _, err := m.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return m.store.GetOrderHistory(ctx, orderID)
}

// GetPositions derives per-symbol positions from the user's executed orders.
// This is a read model; the broker remains authoritative for real holdings.
func (m *Manager) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	orders, err := m.store.GetUserOrders(ctx, userID)
	if err != nil {
		return nil, err
	}

	type acc struct {
		qty       decimal.Decimal
		boughtQty decimal.Decimal
		cost      decimal.Decimal
		realized  decimal.Decimal
		lastPrice decimal.Decimal
		asOf      time.Time
	}
	bySymbol := make(map[string]*acc)

	// Orders come back newest first; realized PnL needs chronological order.
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		if o.ExecutedQuantity.IsZero() || o.ExecutedPrice == nil {
			continue
		}
		a, ok := bySymbol[o.Signal.Symbol]
		if !ok {
			a = &acc{}
			bySymbol[o.Signal.Symbol] = a
		}
		if o.Signal.Side == model.SideBuy {
			a.qty = a.qty.Add(o.ExecutedQuantity)
			a.boughtQty = a.boughtQty.Add(o.ExecutedQuantity)
			a.cost = a.cost.Add(o.ExecutedQuantity.Mul(*o.ExecutedPrice))
		} else {
			if a.boughtQty.IsPositive() {
				avg := a.cost.Div(a.boughtQty)
				a.realized = a.realized.Add(o.ExecutedQuantity.Mul(o.ExecutedPrice.Sub(avg)))
			}
			a.qty = a.qty.Sub(o.ExecutedQuantity)
		}
		if o.UpdatedAt.After(a.asOf) {
			a.asOf = o.UpdatedAt
			a.lastPrice = *o.ExecutedPrice
		}
	}

	positions := make([]model.Position, 0, len(bySymbol))
	for symbol, a := range bySymbol {
		avg := decimal.Zero
		if a.boughtQty.IsPositive() {
			avg = a.cost.Div(a.boughtQty)
		}
		positions = append(positions, model.Position{
			Symbol:      symbol,
			Quantity:    a.qty,
			AvgPrice:    avg,
			RealizedPnL: a.realized,
			MarketValue: a.qty.Mul(a.lastPrice),
			AsOf:        a.asOf,
		})
	}
	return positions, nil
}

// ownedOrder loads an order and checks ownership. A foreign order reads as
// not found so order ids do not leak across accounts.
func (m *Manager) ownedOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := m.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewError(CodeNotFound, "order not found", err)
	}
	if err != nil {
		return nil, NewError(CodeBrokerFailure, "order lookup failed", err)
	}
	if order.UserID != userID {
		return nil, NewError(CodeNotFound, "order not found", nil)
	}
	return order, nil
}

// reconcileExecution resolves a submission whose final write lost the
// version check to a concurrent mutation of the same order. A cancel that
// won while the broker call was in flight must still reach the venue, so an
// explicit broker cancel is issued for the execution's order id; any other
// concurrent change loses to the execution. Returns the order to report and
// whether a cancel won.
func (m *Manager) reconcileExecution(ctx context.Context, order *model.Order, exec broker.Execution) (*model.Order, bool) {
	stored, err := m.store.GetOrder(ctx, order.ID)
	if err != nil {
		metrics.IncError("order_manager", "reconcile_load_failed")
		m.logger.Error("order.reconcile_load_failed", zap.String("order_id", order.ID), zap.Error(err))
		return order, false
	}

	if stored.Status == model.StatusCancelled {
		// A completed fill makes the venue cancel fail; that is logged and
		// left to reconciliation against venue execution reports.
		if err := m.broker.CancelOrder(ctx, exec.BrokerOrderID); err != nil {
			m.logger.Warn("order.reconcile_broker_cancel_failed",
				zap.String("order_id", order.ID),
				zap.String("broker_order_id", exec.BrokerOrderID),
				zap.Error(err))
		}
		stored.BrokerOrderID = exec.BrokerOrderID
		if err := m.store.UpdateOrder(ctx, stored); err != nil {
			m.logger.Error("order.reconcile_record_failed", zap.String("order_id", order.ID), zap.Error(err))
		}
		m.logger.Warn("order.cancelled_in_flight",
			zap.String("order_id", order.ID),
			zap.String("broker_order_id", exec.BrokerOrderID))
		return stored, true
	}

	m.applyExecution(stored, exec)
	if err := m.store.UpdateOrder(ctx, stored); err != nil {
		m.logger.Error("order.execution_record_failed", zap.String("order_id", order.ID), zap.Error(err))
	}
	return stored, false
}

func (m *Manager) storeError(err error) error {
	if errors.Is(err, store.ErrVersionConflict) {
		return NewError(CodeStaleOrder, "order was modified concurrently", err)
	}
	if errors.Is(err, store.ErrNotFound) {
		return NewError(CodeNotFound, "order not found", err)
	}
	return NewError(CodeBrokerFailure, "order persistence failed", err)
}

func (m *Manager) applyExecution(order *model.Order, exec broker.Execution) {
	if order.Status.CanTransitionTo(exec.Status) {
		order.Status = exec.Status
	}
	order.BrokerOrderID = exec.BrokerOrderID
	order.ExecutedQuantity = exec.ExecutedQuantity
	order.ExecutedPrice = exec.ExecutedPrice
	order.Fees = exec.Fees
}

func (m *Manager) preTradeEvent(userID string, signal model.TradeSignal) model.TelemetryEvent {
	qty := signal.Quantity
	notional := signal.Notional()
	return model.TelemetryEvent{
		Type:       model.EventPreTrade,
		EventID:    uuid.NewString(),
		UserID:     userID,
		Symbol:     signal.Symbol,
		AssetClass: assetClass(signal),
		Quantity:   &qty,
		Notional:   &notional,
		Timestamp:  time.Now().UTC(),
	}
}

func (m *Manager) postTradeEvent(userID string, order *model.Order) model.TelemetryEvent {
	qty := order.ExecutedQuantity
	notional := decimal.Zero
	if order.ExecutedPrice != nil {
		notional = order.ExecutedQuantity.Mul(*order.ExecutedPrice)
	}
	fees := order.Fees
	return model.TelemetryEvent{
		Type:           model.EventPostTrade,
		EventID:        uuid.NewString(),
		UserID:         userID,
		Symbol:         order.Signal.Symbol,
		AssetClass:     assetClass(order.Signal),
		Quantity:       &qty,
		Notional:       &notional,
		ExecutionPrice: order.ExecutedPrice,
		Fees:           &fees,
		Timestamp:      time.Now().UTC(),
	}
}

func assetClass(signal model.TradeSignal) string {
	if ac, ok := signal.Metadata["assetClass"]; ok {
		return ac
	}
	return "equity"
}
