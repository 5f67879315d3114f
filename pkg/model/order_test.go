package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{StatusPending, StatusFilled, true},
		{StatusPending, StatusPartiallyFilled, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusPending, false},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusCancelled, true},
		{StatusPartiallyFilled, StatusFailed, true},
		{StatusPartiallyFilled, StatusPending, false},
		{StatusPartiallyFilled, StatusRejected, false},
		{StatusFilled, StatusCancelled, false},
		{StatusCancelled, StatusFilled, false},
		{StatusRejected, StatusPending, false},
		{StatusFailed, StatusFilled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusPartiallyFilled.IsTerminal())
	for _, s := range []OrderStatus{StatusFilled, StatusCancelled, StatusRejected, StatusFailed} {
		assert.True(t, s.IsTerminal(), string(s))
	}
}

func TestOrderMutable(t *testing.T) {
	o := &Order{Status: StatusPending}
	assert.True(t, o.Mutable())
	o.Status = StatusPartiallyFilled
	assert.True(t, o.Mutable())
	o.Status = StatusFilled
	assert.False(t, o.Mutable())
}

func TestTradeSignalValidate(t *testing.T) {
	price := decimal.NewFromInt(150)
	valid := TradeSignal{
		Symbol:     "AAPL",
		Side:       SideBuy,
		Quantity:   decimal.NewFromInt(10),
		Price:      &price,
		OrderType:  OrderTypeLimit,
		Confidence: 0.8,
	}
	require.NoError(t, valid.Validate())

	cases := map[string]func(s *TradeSignal){
		"missing symbol":       func(s *TradeSignal) { s.Symbol = "" },
		"bad side":             func(s *TradeSignal) { s.Side = "HOLD" },
		"zero quantity":        func(s *TradeSignal) { s.Quantity = decimal.Zero },
		"negative quantity":    func(s *TradeSignal) { s.Quantity = decimal.NewFromInt(-5) },
		"confidence above one": func(s *TradeSignal) { s.Confidence = 1.2 },
		"negative confidence":  func(s *TradeSignal) { s.Confidence = -0.1 },
		"limit without price":  func(s *TradeSignal) { s.Price = nil },
		"equal stops": func(s *TradeSignal) {
			sl := decimal.NewFromInt(140)
			tp := decimal.NewFromInt(140)
			s.StopLoss, s.TakeProfit = &sl, &tp
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := valid
			mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestTradeSignalNotional(t *testing.T) {
	price := decimal.NewFromFloat(150.5)
	s := TradeSignal{Quantity: decimal.NewFromInt(10), Price: &price}
	assert.True(t, s.Notional().Equal(decimal.NewFromInt(1505)))

	s.Price = nil
	assert.True(t, s.Notional().IsZero())
}

// The wire shape is consumed by downstream services; field names are part of
// the contract.
func TestOrderWireShape(t *testing.T) {
	price := decimal.NewFromInt(150)
	o := Order{
		ID:     "ord-1",
		UserID: "user-1",
		Signal: TradeSignal{
			Symbol:     "AAPL",
			Side:       SideBuy,
			Quantity:   decimal.NewFromInt(10),
			Price:      &price,
			OrderType:  OrderTypeLimit,
			Confidence: 0.8,
		},
		Status:           StatusFilled,
		Version:          3,
		ExecutedQuantity: decimal.NewFromInt(10),
		ExecutedPrice:    &price,
		Fees:             decimal.NewFromFloat(1.5),
		BrokerOrderID:    "paper-abc",
		CreatedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(o)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "ord-1", m["orderId"])
	assert.Equal(t, "FILLED", m["status"])
	assert.Equal(t, "AAPL", m["signal"].(map[string]any)["symbol"])
	assert.NotContains(t, m, "shadowFlagged")

	var back Order
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, o.ID, back.ID)
	assert.True(t, back.ExecutedQuantity.Equal(o.ExecutedQuantity))
	assert.True(t, back.Fees.Equal(o.Fees))
	assert.Equal(t, o.Version, back.Version)
}
