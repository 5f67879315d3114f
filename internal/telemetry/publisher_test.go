package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/pkg/model"
)

// mockJetStream records published messages. Embedding the interface keeps the
// mock small; only PublishMsg is exercised.
type mockJetStream struct {
	nats.JetStreamContext
	mu        sync.Mutex
	published []*nats.Msg
	failures  int
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "mock-stream"}, nil
}

func (m *mockJetStream) messages() []*nats.Msg {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*nats.Msg, len(m.published))
	copy(out, m.published)
	return out
}

func newTestPublisher(js nats.JetStreamContext, buffer int) *Publisher {
	return &Publisher{
		logger:         zap.NewNop(),
		js:             js,
		subjectPrefix:  "evt.telemetry",
		service:        "engine",
		retryMax:       3,
		enqueueTimeout: 20 * time.Millisecond,
		queue:          make(chan model.TelemetryEvent, buffer),
		quit:           make(chan struct{}),
	}
}

func preTradeEvent(id, userID string) model.TelemetryEvent {
	qty := decimal.NewFromInt(10)
	notional := decimal.NewFromInt(1500)
	return model.TelemetryEvent{
		Type:      model.EventPreTrade,
		EventID:   id,
		UserID:    userID,
		Symbol:    "AAPL",
		Quantity:  &qty,
		Notional:  &notional,
		Timestamp: time.Now().UTC(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishPreservesPerUserOrder(t *testing.T) {
	js := &mockJetStream{}
	pub := newTestPublisher(js, 64)
	pub.Start(context.Background())
	defer pub.Stop()

	for i := 0; i < 20; i++ {
		err := pub.Publish(context.Background(), preTradeEvent(fmt.Sprintf("evt-%02d", i), "user-1"))
		require.NoError(t, err)
	}

	waitFor(t, func() bool { return len(js.messages()) == 20 })

	for i, msg := range js.messages() {
		assert.Equal(t, fmt.Sprintf("evt-%02d", i), msg.Header.Get("event_id"))
		assert.Equal(t, "user-1", msg.Header.Get("user_id"))
	}
}

func TestPublishSubjectAndHeaders(t *testing.T) {
	js := &mockJetStream{}
	pub := newTestPublisher(js, 4)
	pub.Start(context.Background())
	defer pub.Stop()

	require.NoError(t, pub.Publish(context.Background(), preTradeEvent("evt-1", "user-1")))
	waitFor(t, func() bool { return len(js.messages()) == 1 })

	msg := js.messages()[0]
	assert.Equal(t, "evt.telemetry.pre_trade.v1", msg.Subject)
	assert.Equal(t, "PRE_TRADE", msg.Header.Get("event_type"))
	assert.Equal(t, "engine", msg.Header.Get("service"))
	assert.Equal(t, "application/json", msg.Header.Get("content_type"))
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	js := &mockJetStream{}
	pub := newTestPublisher(js, 1)
	// Worker not started, so the queue fills and stays full.

	require.NoError(t, pub.Publish(context.Background(), preTradeEvent("evt-1", "user-1")))

	start := time.Now()
	err := pub.Publish(context.Background(), preTradeEvent("evt-2", "user-1"))
	require.NoError(t, err) // drops are not caller errors
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, pub.QueueDepth())
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	pub := newTestPublisher(&mockJetStream{}, 4)

	err := pub.Publish(context.Background(), model.TelemetryEvent{Type: "BOGUS"})
	assert.Error(t, err)

	err = pub.Publish(context.Background(), model.TelemetryEvent{Type: model.EventAuth, UserID: "user-1"})
	assert.Error(t, err) // missing event id
	assert.Equal(t, 0, pub.QueueDepth())
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	js := &mockJetStream{failures: 2}
	pub := newTestPublisher(js, 4)
	pub.Start(context.Background())
	defer pub.Stop()

	require.NoError(t, pub.Publish(context.Background(), preTradeEvent("evt-1", "user-1")))
	waitFor(t, func() bool { return len(js.messages()) == 1 })
}

func TestStopDrainsQueuedEvents(t *testing.T) {
	js := &mockJetStream{}
	pub := newTestPublisher(js, 16)

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(context.Background(), preTradeEvent(fmt.Sprintf("evt-%d", i), "user-1")))
	}

	pub.Start(context.Background())
	pub.Stop()

	assert.Len(t, js.messages(), 5)
}
