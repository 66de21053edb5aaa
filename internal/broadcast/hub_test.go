package broadcast

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type countingMetrics struct {
	drops   atomic.Int32
	clients atomic.Int32
}

func (m *countingMetrics) BroadcastDropped()         { m.drops.Add(1) }
func (m *countingMetrics) ClientConnected(delta int) { m.clients.Add(int32(delta)) }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHub_InitialStateAndBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := &countingMetrics{}
	hub := NewHub(Options{
		Snapshot: func() (any, any, error) {
			return []string{"queen", "research", "implementation"}, map[string]int{"totalSessions": 2}, nil
		},
		Metrics: m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan any)
	runDone := make(chan error, 1)
	go func() { runDone <- hub.Run(ctx, source) }()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	initial := readJSON(t, conn)
	assert.Equal(t, InitialStateType, initial["type"])
	assert.Len(t, initial["agents"], 3)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), m.clients.Load())

	source <- map[string]string{"type": "agent_status_update", "agentId": "queen", "status": "analyzing"}
	update := readJSON(t, conn)
	assert.Equal(t, "agent_status_update", update["type"])
	assert.Equal(t, "analyzing", update["status"])

	cancel()
	require.NoError(t, <-runDone)

	// The hub closes the connection on shutdown.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, hub.Clients())
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_DropsForFullClients(t *testing.T) {
	m := &countingMetrics{}
	hub := NewHub(Options{Metrics: m})

	slow := &client{send: make(chan []byte, 1)}
	hub.clients[slow] = struct{}{}

	hub.Broadcast(map[string]string{"type": "a"})
	hub.Broadcast(map[string]string{"type": "b"})

	assert.Equal(t, int32(1), m.drops.Load())
	var got map[string]string
	require.NoError(t, json.Unmarshal(<-slow.send, &got))
	assert.Equal(t, "a", got["type"])
}

func TestHub_RejectsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, hub.Run(ctx, nil))

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Clients())
}
