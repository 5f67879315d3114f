package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/pkg/model"
)

func limitOrder(symbol string, qty, price int64) *model.Order {
	p := decimal.NewFromInt(price)
	return &model.Order{
		ID:     "ord-1",
		UserID: "user-1",
		Signal: model.TradeSignal{
			Symbol:    symbol,
			Side:      model.SideBuy,
			Quantity:  decimal.NewFromInt(qty),
			Price:     &p,
			OrderType: model.OrderTypeLimit,
		},
		Status: model.StatusPending,
	}
}

func TestPaperBrokerFillsAtLimitPrice(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())

	exec, err := b.PlaceOrder(context.Background(), limitOrder("AAPL", 100, 150))
	require.NoError(t, err)

	assert.NotEmpty(t, exec.BrokerOrderID)
	assert.Equal(t, model.StatusFilled, exec.Status)
	assert.True(t, exec.ExecutedQuantity.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, exec.ExecutedPrice)
	assert.True(t, exec.ExecutedPrice.Equal(decimal.NewFromInt(150)))
	// 0.1% of 100 * 150.
	assert.True(t, exec.Fees.Equal(decimal.NewFromInt(15)), "fees = %s", exec.Fees)
}

func TestPaperBrokerMarketOrderUsesMarketPrice(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	b.SetMarketPrice("TSLA", decimal.NewFromInt(200))

	order := &model.Order{
		ID:     "ord-2",
		UserID: "user-1",
		Signal: model.TradeSignal{
			Symbol:    "TSLA",
			Side:      model.SideSell,
			Quantity:  decimal.NewFromInt(5),
			OrderType: model.OrderTypeMarket,
		},
		Status: model.StatusPending,
	}

	exec, err := b.PlaceOrder(context.Background(), order)
	require.NoError(t, err)
	require.NotNil(t, exec.ExecutedPrice)
	assert.True(t, exec.ExecutedPrice.Equal(decimal.NewFromInt(200)))
}

func TestPaperBrokerPartialFill(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	b.SetFillRatio(decimal.NewFromFloat(0.4))

	exec, err := b.PlaceOrder(context.Background(), limitOrder("AAPL", 100, 150))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartiallyFilled, exec.Status)
	assert.True(t, exec.ExecutedQuantity.Equal(decimal.NewFromInt(40)))
}

func TestPaperBrokerUpdateAndCancel(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	b.SetFillRatio(decimal.NewFromFloat(0.5))

	order := limitOrder("AAPL", 100, 150)
	exec, err := b.PlaceOrder(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, model.StatusPartiallyFilled, exec.Status)

	newPrice := decimal.NewFromInt(155)
	signal := order.Signal
	signal.Price = &newPrice
	updated, err := b.UpdateOrder(context.Background(), exec.BrokerOrderID, signal)
	require.NoError(t, err)
	assert.True(t, updated.ExecutedPrice.Equal(newPrice))

	require.NoError(t, b.CancelOrder(context.Background(), exec.BrokerOrderID))
	status, err := b.GetOrderStatus(context.Background(), exec.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, status.Status)

	_, err = b.UpdateOrder(context.Background(), exec.BrokerOrderID, signal)
	assert.Error(t, err)
}

func TestPaperBrokerInjectedFailure(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	cause := errors.New("venue unavailable")
	b.FailWith(cause)

	_, err := b.PlaceOrder(context.Background(), limitOrder("AAPL", 10, 150))
	assert.ErrorIs(t, err, cause)

	b.FailWith(nil)
	_, err = b.PlaceOrder(context.Background(), limitOrder("AAPL", 10, 150))
	assert.NoError(t, err)
}

func TestPaperBrokerUnknownOrder(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())

	_, err := b.GetOrderStatus(context.Background(), "nope")
	assert.Error(t, err)
	assert.Error(t, b.CancelOrder(context.Background(), "nope"))
}
