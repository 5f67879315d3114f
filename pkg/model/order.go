package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
//
// PENDING is entered when the order manager accepts an order, before the
// broker call, and is the only non-terminal state besides PARTIALLY_FILLED.
// CANCELLED is reachable only via an explicit cancel.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusFailed          OrderStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next != StatusPending
	case StatusPartiallyFilled:
		return next == StatusFilled || next == StatusCancelled || next == StatusFailed
	}
	return false
}

// Order is a tracked trade request. It is owned exclusively by the order
// manager: no other component writes Order records, and concurrent mutation
// of the same order id is rejected via the store's version check.
type Order struct {
	ID               string           `json:"orderId"`
	UserID           string           `json:"userId"`
	Signal           TradeSignal      `json:"signal"`
	Status           OrderStatus      `json:"status"`
	Version          int64            `json:"version"`
	ExecutedQuantity decimal.Decimal  `json:"executedQuantity"`
	ExecutedPrice    *decimal.Decimal `json:"executedPrice,omitempty"`
	Fees             decimal.Decimal  `json:"fees"`
	BrokerOrderID    string           `json:"brokerOrderId,omitempty"`
	ShadowFlagged    bool             `json:"shadowFlagged,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Mutable reports whether the order can still be amended or cancelled.
func (o *Order) Mutable() bool {
	return o.Status == StatusPending || o.Status == StatusPartiallyFilled
}

// Position is a per-symbol aggregate derived from executed orders. It is a
// read model, never authoritative.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgPrice    decimal.Decimal `json:"averagePrice"`
	RealizedPnL decimal.Decimal `json:"realizedPnL"`
	MarketValue decimal.Decimal `json:"marketValue"`
	AsOf        time.Time       `json:"asOf"`
}
