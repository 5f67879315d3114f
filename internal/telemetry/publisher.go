// Package telemetry publishes fraud telemetry events to the event stream.
// Events are enqueued on a bounded buffer and drained by a single worker, so
// the order-processing path never blocks on stream backpressure and every
// user's events reach the stream in submission order.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/httpclient"
	"github.com/Meridian-Markets/engine/internal/metrics"
	"github.com/Meridian-Markets/engine/pkg/model"
)

// Config tunes the publisher. Zero values are replaced with defaults.
type Config struct {
	SubjectPrefix  string        // default "evt.telemetry"
	Service        string        // stamped into message headers
	Buffer         int           // queue capacity, default 1024
	EnqueueTimeout time.Duration // how long Publish waits on a full queue, default 50ms
	RetryMax       int           // publish retries per event, default 3
}

// Publisher owns the telemetry queue and its single drain worker.
type Publisher struct {
	logger         *zap.Logger
	nc             *nats.Conn
	js             nats.JetStreamContext
	subjectPrefix  string
	service        string
	retryMax       int
	enqueueTimeout time.Duration

	queue    chan model.TelemetryEvent
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a publisher over an established NATS connection. It errors only
// on misconfiguration; transient publish failures are handled by the worker.
func New(logger *zap.Logger, nc *nats.Conn, cfg Config) (*Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("telemetry: nats connection is required")
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("telemetry: jetstream: %w", err)
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "evt.telemetry"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 50 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	return &Publisher{
		logger:         logger,
		nc:             nc,
		js:             js,
		subjectPrefix:  cfg.SubjectPrefix,
		service:        cfg.Service,
		retryMax:       cfg.RetryMax,
		enqueueTimeout: cfg.EnqueueTimeout,
		queue:          make(chan model.TelemetryEvent, cfg.Buffer),
		quit:           make(chan struct{}),
	}, nil
}

// Start launches the drain worker. Call once.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop drains the queue and waits for the worker to exit.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Publish validates the event and enqueues it for delivery. On a full queue
// it waits up to the enqueue timeout, then drops the event and records the
// drop; order processing must not stall on telemetry.
func (p *Publisher) Publish(ctx context.Context, event model.TelemetryEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry event: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case p.queue <- event:
		metrics.TelemetryQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case p.queue <- event:
		metrics.TelemetryQueueDepth.Set(float64(len(p.queue)))
		return nil
	case <-timer.C:
		p.logger.Warn("telemetry.enqueue_dropped",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
			zap.String("type", string(event.Type)))
		metrics.IncTelemetry(string(event.Type), "dropped")
		return nil
	case <-ctx.Done():
		metrics.IncTelemetry(string(event.Type), "dropped")
		return ctx.Err()
	}
}

// QueueDepth reports how many events are waiting to be published.
func (p *Publisher) QueueDepth() int {
	return len(p.queue)
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-p.quit:
			p.drain()
			return
		case event := <-p.queue:
			metrics.TelemetryQueueDepth.Set(float64(len(p.queue)))
			p.publishOne(event)
		}
	}
}

// drain flushes whatever is already queued without waiting for new events.
func (p *Publisher) drain() {
	for {
		select {
		case event := <-p.queue:
			p.publishOne(event)
		default:
			return
		}
	}
}

func (p *Publisher) publishOne(event model.TelemetryEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("telemetry.marshal_failed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		metrics.IncError("telemetry", "marshal_failed")
		return
	}

	msg := &nats.Msg{
		Subject: p.subjectFor(event.Type),
		Data:    data,
		Header: nats.Header{
			"event_type":   []string{string(event.Type)},
			"event_id":     []string{event.EventID},
			"user_id":      []string{event.UserID},
			"service":      []string{p.service},
			"content_type": []string{"application/json"},
		},
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= p.retryMax; attempt++ {
		if attempt > 0 {
			time.Sleep(httpclient.Backoff(attempt))
		}
		if _, lastErr = p.js.PublishMsg(msg); lastErr == nil {
			metrics.ObserveDuration(metrics.TelemetryPublishLatency, start, string(event.Type))
			metrics.IncTelemetry(string(event.Type), "ok")
			return
		}
	}

	p.logger.Error("telemetry.publish_failed",
		zap.String("subject", msg.Subject),
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
		zap.Error(lastErr))
	metrics.IncTelemetry(string(event.Type), "failed")
	metrics.IncError("telemetry", "publish_failed")
}

// subjectFor maps an event type onto the stream subject scheme,
// e.g. PRE_TRADE -> evt.telemetry.pre_trade.v1.
func (p *Publisher) subjectFor(t model.EventType) string {
	return fmt.Sprintf("%s.%s.v1", p.subjectPrefix, strings.ToLower(string(t)))
}

// Close releases the NATS connection after the worker has stopped.
func (p *Publisher) Close() {
	p.Stop()
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
