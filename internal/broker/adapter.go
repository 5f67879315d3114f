// Package broker defines the venue adapter contract and a deterministic
// paper-trading implementation for local and test use.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Meridian-Markets/engine/pkg/model"
)

// Execution is a venue's response to a broker call.
type Execution struct {
	BrokerOrderID    string
	Status           model.OrderStatus
	ExecutedQuantity decimal.Decimal
	ExecutedPrice    *decimal.Decimal
	Fees             decimal.Decimal
}

// Adapter is the venue-facing surface the order manager calls. An adapter is
// stateless from the engine's point of view; the order manager owns order
// records and applies executions to them.
type Adapter interface {
	PlaceOrder(ctx context.Context, order *model.Order) (Execution, error)
	UpdateOrder(ctx context.Context, brokerOrderID string, signal model.TradeSignal) (Execution, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrderStatus(ctx context.Context, brokerOrderID string) (Execution, error)
	Name() string
}
