package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/metrics"
	"github.com/Meridian-Markets/engine/pkg/model"
)

var defaultPaperPrice = decimal.NewFromInt(100)

// PaperBroker simulates a venue in memory. Fills are deterministic: limit
// orders fill at their limit price, market orders at the configured market
// price for the symbol. Used for local deployments and tests.
type PaperBroker struct {
	logger    *zap.Logger
	feeRate   decimal.Decimal
	fillRatio decimal.Decimal

	mu      sync.Mutex
	orders  map[string]Execution
	prices  map[string]decimal.Decimal
	failErr error
}

// NewPaperBroker creates a paper venue that fully fills every order and
// charges a 0.1% fee on executed notional.
func NewPaperBroker(logger *zap.Logger) *PaperBroker {
	return &PaperBroker{
		logger:    logger,
		feeRate:   decimal.NewFromFloat(0.001),
		fillRatio: decimal.NewFromInt(1),
		orders:    make(map[string]Execution),
		prices:    make(map[string]decimal.Decimal),
	}
}

func (b *PaperBroker) Name() string { return "paper" }

// SetMarketPrice sets the fill price for market orders on a symbol.
func (b *PaperBroker) SetMarketPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

// SetFillRatio makes subsequent orders partially fill at the given ratio.
func (b *PaperBroker) SetFillRatio(ratio decimal.Decimal) {
	b.mu.Lock()
	b.fillRatio = ratio
	b.mu.Unlock()
}

// FailWith makes every subsequent call return err until reset with nil.
func (b *PaperBroker) FailWith(err error) {
	b.mu.Lock()
	b.failErr = err
	b.mu.Unlock()
}

func (b *PaperBroker) PlaceOrder(ctx context.Context, order *model.Order) (Execution, error) {
	if err := ctx.Err(); err != nil {
		return Execution{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		metrics.IncBroker("place", "error")
		return Execution{}, b.failErr
	}

	exec := b.fill("paper-"+uuid.NewString(), order.Signal)
	b.orders[exec.BrokerOrderID] = exec
	metrics.IncBroker("place", "ok")

	b.logger.Debug("broker.paper.filled",
		zap.String("broker_order_id", exec.BrokerOrderID),
		zap.String("symbol", order.Signal.Symbol),
		zap.String("status", string(exec.Status)),
		zap.String("executed_qty", exec.ExecutedQuantity.String()))
	return exec, nil
}

func (b *PaperBroker) UpdateOrder(ctx context.Context, brokerOrderID string, signal model.TradeSignal) (Execution, error) {
	if err := ctx.Err(); err != nil {
		return Execution{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		metrics.IncBroker("update", "error")
		return Execution{}, b.failErr
	}

	prev, ok := b.orders[brokerOrderID]
	if !ok {
		metrics.IncBroker("update", "error")
		return Execution{}, fmt.Errorf("unknown broker order %q", brokerOrderID)
	}
	if prev.Status.IsTerminal() && prev.Status != model.StatusFilled {
		metrics.IncBroker("update", "error")
		return Execution{}, fmt.Errorf("broker order %q is %s", brokerOrderID, prev.Status)
	}

	exec := b.fill(brokerOrderID, signal)
	b.orders[brokerOrderID] = exec
	metrics.IncBroker("update", "ok")
	return exec, nil
}

func (b *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		metrics.IncBroker("cancel", "error")
		return b.failErr
	}

	exec, ok := b.orders[brokerOrderID]
	if !ok {
		metrics.IncBroker("cancel", "error")
		return fmt.Errorf("unknown broker order %q", brokerOrderID)
	}
	exec.Status = model.StatusCancelled
	b.orders[brokerOrderID] = exec
	metrics.IncBroker("cancel", "ok")
	return nil
}

func (b *PaperBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (Execution, error) {
	if err := ctx.Err(); err != nil {
		return Execution{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	exec, ok := b.orders[brokerOrderID]
	if !ok {
		metrics.IncBroker("status", "error")
		return Execution{}, fmt.Errorf("unknown broker order %q", brokerOrderID)
	}
	metrics.IncBroker("status", "ok")
	return exec, nil
}

// fill computes the execution for a signal under the current fill ratio.
// Caller holds the lock.
func (b *PaperBroker) fill(brokerOrderID string, signal model.TradeSignal) Execution {
	price := defaultPaperPrice
	if signal.Price != nil {
		price = *signal.Price
	} else if p, ok := b.prices[signal.Symbol]; ok {
		price = p
	}

	executed := signal.Quantity.Mul(b.fillRatio)
	status := model.StatusFilled
	if executed.LessThan(signal.Quantity) {
		status = model.StatusPartiallyFilled
	}

	return Execution{
		BrokerOrderID:    brokerOrderID,
		Status:           status,
		ExecutedQuantity: executed,
		ExecutedPrice:    &price,
		Fees:             executed.Mul(price).Mul(b.feeRate),
	}
}
