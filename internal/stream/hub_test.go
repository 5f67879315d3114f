package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/order"
	"github.com/Meridian-Markets/engine/pkg/eventbus"
	"github.com/Meridian-Markets/engine/pkg/model"
)

func testAuth(token string) (string, bool, error) {
	switch token {
	case "user-1-token":
		return "user-1", false, nil
	case "user-2-token":
		return "user-2", false, nil
	case "admin-token":
		return "admin", true, nil
	default:
		return "", false, errors.New("unknown token")
	}
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func newTestHub(t *testing.T) (*Hub, *eventbus.EventBus, *httptest.Server) {
	t.Helper()
	bus := eventbus.New()
	hub := NewHub(zap.NewNop(), bus, testAuth)
	server := httptest.NewServer(hub.Handler())
	t.Cleanup(server.Close)
	return hub, bus, server
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
}

func TestClientReceivesOwnOrderEvents(t *testing.T) {
	hub, bus, server := newTestHub(t)

	conn := dial(t, server, "user-1-token")
	waitClients(t, hub, 1)

	bus.PublishSync(order.Executed{Order: model.Order{
		ID:     "ord-1",
		UserID: "user-1",
		Status: model.StatusFilled,
	}})

	msg := readMessage(t, conn)
	assert.Equal(t, "order.executed", msg.Type)
	assert.Equal(t, "ord-1", msg.OrderID)
	assert.Equal(t, "user-1", msg.UserID)
}

func TestClientDoesNotReceiveForeignEvents(t *testing.T) {
	hub, bus, server := newTestHub(t)

	conn := dial(t, server, "user-2-token")
	waitClients(t, hub, 1)

	bus.PublishSync(order.Executed{Order: model.Order{
		ID:     "ord-1",
		UserID: "user-1",
	}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err) // deadline hit, nothing delivered
}

func TestAdminReceivesEverything(t *testing.T) {
	hub, bus, server := newTestHub(t)

	conn := dial(t, server, "admin-token")
	waitClients(t, hub, 1)

	bus.PublishSync(order.FraudFlagged{
		UserID: "user-1",
		Decision: model.FraudDecision{
			EventID: "evt-1",
			UserID:  "user-1",
			Score:   0.95,
			Action:  model.ActionBlock,
		},
	})

	msg := readMessage(t, conn)
	assert.Equal(t, "fraud.flagged", msg.Type)
	assert.Equal(t, "user-1", msg.UserID)
}

func TestUnauthorizedUpgradeRejected(t *testing.T) {
	_, _, server := newTestHub(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDisconnectRemovesClient(t *testing.T) {
	hub, _, server := newTestHub(t)

	conn := dial(t, server, "user-1-token")
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}
