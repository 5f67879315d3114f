package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType discriminates telemetry events on the stream.
type EventType string

const (
	EventPreTrade  EventType = "PRE_TRADE"
	EventPostTrade EventType = "POST_TRADE"
	EventAuth      EventType = "AUTH"
	EventPayment   EventType = "PAYMENT"
)

// TelemetryEvent is an immutable record of trading, auth or payment activity
// emitted for fraud analysis. The partition key is always UserID so a single
// user's events are totally ordered on the stream.
type TelemetryEvent struct {
	Type    EventType `json:"type"`
	EventID string    `json:"eventId"`
	UserID  string    `json:"userId"`

	// Optional network/device context.
	IP       string `json:"ip,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	Geo      string `json:"geo,omitempty"`

	// Trade events.
	Symbol     string           `json:"symbol,omitempty"`
	AssetClass string           `json:"assetClass,omitempty"`
	Quantity   *decimal.Decimal `json:"qty,omitempty"`
	Notional   *decimal.Decimal `json:"notional,omitempty"`

	// Payment events.
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Currency string           `json:"currency,omitempty"`

	// POST_TRADE extras.
	ExecutionPrice *decimal.Decimal `json:"executionPrice,omitempty"`
	Fees           *decimal.Decimal `json:"fees,omitempty"`

	Timestamp time.Time `json:"ts"`
}

// Validate checks the fields required for publishing.
func (e TelemetryEvent) Validate() error {
	switch e.Type {
	case EventPreTrade, EventPostTrade, EventAuth, EventPayment:
	default:
		return fmt.Errorf("invalid event type: %q", e.Type)
	}
	if e.EventID == "" {
		return fmt.Errorf("eventId is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	return nil
}
