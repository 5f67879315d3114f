// Package alerting bridges order pipeline events onto RabbitMQ so external
// compliance tooling can consume fraud alerts without touching the engine.
// Delivery is best effort: publish failures are logged and counted, never
// propagated back to the order path.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/metrics"
	"github.com/Meridian-Markets/engine/internal/order"
	"github.com/Meridian-Markets/engine/pkg/eventbus"
	"github.com/Meridian-Markets/engine/pkg/model"
)

const (
	// QueueOrderFailures receives broker failure notices.
	QueueOrderFailures = "orders.failures"
)

// channel is the slice of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Close() error
}

// FraudAlert is the wire shape consumed by compliance tooling.
type FraudAlert struct {
	UserID       string    `json:"userId"`
	EventID      string    `json:"eventId"`
	Score        float64   `json:"score"`
	Action       string    `json:"action"`
	Explanations []string  `json:"explanations"`
	ModelVersion string    `json:"modelVersion"`
	Timestamp    time.Time `json:"ts"`
}

// OrderFailureAlert notifies operations of a broker failure after intake.
type OrderFailureAlert struct {
	OrderID string    `json:"orderId"`
	UserID  string    `json:"userId"`
	Symbol  string    `json:"symbol"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Publisher forwards bus events to RabbitMQ queues.
type Publisher struct {
	conn       *amqp.Connection
	channel    channel
	logger     *zap.Logger
	alertQueue string
}

// NewPublisher connects to RabbitMQ, declares the queues and subscribes to
// the event bus.
func NewPublisher(url, alertQueue string, bus *eventbus.EventBus, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := &Publisher{
		conn:       conn,
		channel:    ch,
		logger:     logger,
		alertQueue: alertQueue,
	}
	if err := p.declareQueues(); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.subscribe(bus)
	return p, nil
}

func (p *Publisher) declareQueues() error {
	for _, q := range []string{p.alertQueue, QueueOrderFailures} {
		if _, err := p.channel.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %q: %w", q, err)
		}
	}
	return nil
}

func (p *Publisher) subscribe(bus *eventbus.EventBus) {
	bus.Subscribe(order.FraudFlagged{}, func(event any) {
		if flagged, ok := event.(order.FraudFlagged); ok {
			p.publishFraudAlert(flagged.UserID, flagged.Decision)
		}
	})
	bus.Subscribe(order.Failed{}, func(event any) {
		if failed, ok := event.(order.Failed); ok {
			p.publishOrderFailure(failed)
		}
	})
}

func (p *Publisher) publishFraudAlert(userID string, decision model.FraudDecision) {
	alert := FraudAlert{
		UserID:       userID,
		EventID:      decision.EventID,
		Score:        decision.Score,
		Action:       string(decision.Action),
		Explanations: decision.Explanations,
		ModelVersion: decision.ModelVersion,
		Timestamp:    decision.Timestamp,
	}
	p.publish(p.alertQueue, alert, priorityFor(decision.Action))
}

func (p *Publisher) publishOrderFailure(failed order.Failed) {
	alert := OrderFailureAlert{
		OrderID: failed.Order.ID,
		UserID:  failed.Order.UserID,
		Symbol:  failed.Order.Signal.Symbol,
		Reason:  failed.Reason,
		At:      time.Now().UTC(),
	}
	p.publish(QueueOrderFailures, alert, 0)
}

func (p *Publisher) publish(queue string, payload any, priority uint8) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("alerting.marshal_failed", zap.String("queue", queue), zap.Error(err))
		metrics.IncError("alerting", "marshal_failed")
		return
	}

	err = p.channel.PublishWithContext(
		context.Background(),
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Priority:    priority,
		},
	)
	if err != nil {
		p.logger.Error("alerting.publish_failed", zap.String("queue", queue), zap.Error(err))
		metrics.IncError("alerting", "publish_failed")
		return
	}

	p.logger.Debug("alerting.published", zap.String("queue", queue))
}

// priorityFor ranks alerts so BLOCK decisions drain first under backlog.
func priorityFor(action model.FraudAction) uint8 {
	switch action {
	case model.ActionBlock:
		return 10
	case model.ActionMFA:
		return 5
	default:
		return 0
	}
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
