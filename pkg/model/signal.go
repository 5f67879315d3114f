package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideFromString converts a string to Side.
func SideFromString(s string) (Side, error) {
	switch s {
	case "BUY", "buy":
		return SideBuy, nil
	case "SELL", "sell":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side: %q", s)
	}
}

// OrderType represents the execution style of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// OrderTypeFromString converts a string to OrderType.
func OrderTypeFromString(s string) (OrderType, error) {
	switch s {
	case "MARKET", "market", "":
		return OrderTypeMarket, nil
	case "LIMIT", "limit":
		return OrderTypeLimit, nil
	case "STOP", "stop":
		return OrderTypeStop, nil
	case "STOP_LIMIT", "stop_limit":
		return OrderTypeStopLimit, nil
	default:
		return "", fmt.Errorf("invalid order type: %q", s)
	}
}

// TradeSignal is an immutable instruction to buy or sell an instrument.
// It is created by the caller (a user request or a forecasting model) and
// never mutated after construction.
type TradeSignal struct {
	Symbol     string            `json:"symbol"`
	Side       Side              `json:"side"`
	Quantity   decimal.Decimal   `json:"quantity"`
	Price      *decimal.Decimal  `json:"price,omitempty"`
	OrderType  OrderType         `json:"orderType"`
	StopLoss   *decimal.Decimal  `json:"stopLoss,omitempty"`
	TakeProfit *decimal.Decimal  `json:"takeProfit,omitempty"`
	Confidence float64           `json:"confidence"`
	Model      string            `json:"model,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate checks the structural invariants of the signal. Account-level
// limits are the risk validator's job, not the signal's.
func (s TradeSignal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("invalid side: %q", s.Side)
	}
	if !s.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be greater than 0")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1]")
	}
	if s.OrderType == OrderTypeLimit && s.Price == nil {
		return fmt.Errorf("price is required for limit orders")
	}
	// Stop-loss and take-profit must differ when both are set. Their
	// direction relative to the order price is not checked here.
	if s.StopLoss != nil && s.TakeProfit != nil && s.StopLoss.Equal(*s.TakeProfit) {
		return fmt.Errorf("stopLoss and takeProfit must differ")
	}
	return nil
}

// Notional returns quantity * price, or zero when the signal has no price.
func (s TradeSignal) Notional() decimal.Decimal {
	if s.Price == nil {
		return decimal.Zero
	}
	return s.Quantity.Mul(*s.Price)
}

// RiskLimits holds the per-account bounds the risk validator enforces.
// Read-only to this service; sourced from config or the limits resolver.
type RiskLimits struct {
	MaxPositionSize decimal.Decimal `json:"maxPositionSize"`
	MinConfidence   float64         `json:"minConfidence"`
}
