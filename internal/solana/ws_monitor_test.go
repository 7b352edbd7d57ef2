package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer accepts connections, records each subscribe payload, answers
// with a confirmation plus the given frames, then drops the connection.
type wsTestServer struct {
	*httptest.Server

	mu       sync.Mutex
	payloads [][]byte
	subs     chan struct{}
}

func newWSTestServer(t *testing.T, frames ...string) *wsTestServer {
	t.Helper()
	s := &wsTestServer{subs: make(chan struct{}, 16)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.payloads = append(s.payloads, msg)
		s.mu.Unlock()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":4242,"id":1}`))
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		select {
		case s.subs <- struct{}{}:
		default:
		}
		time.Sleep(20 * time.Millisecond)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsTestServer) recorded() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

func notificationFrame(sig string, logs ...string) string {
	b, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]any{
			"subscription": 4242,
			"result": map[string]any{
				"context": map[string]any{"slot": 250000000},
				"value": map[string]any{
					"signature": sig,
					"err":       nil,
					"logs":      logs,
				},
			},
		},
	})
	return string(b)
}

func testMonitorConfig(endpoint string) WSMonitorConfig {
	cfg := DefaultWSMonitorConfig()
	cfg.WSEndpoint = endpoint
	cfg.ReconnectDelay = 10 * time.Millisecond
	return cfg
}

func TestWSMonitor_SubscribeRequest(t *testing.T) {
	m := NewWSMonitor(testMonitorConfig("ws://unused"))

	want := `{"jsonrpc":"2.0","id":1,"method":"logsSubscribe","params":[{"mentions":["675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"]},{"commitment":"finalized"}]}`
	assert.JSONEq(t, want, string(m.SubscribeRequest()))
	assert.Equal(t, m.SubscribeRequest(), m.SubscribeRequest())
}

func TestWSMonitor_EmitsPoolEvents(t *testing.T) {
	srv := newWSTestServer(t,
		notificationFrame("swapSig", "Program log: ray_log: swap"),
		notificationFrame("poolSig", "Program 675k invoke [1]", PoolInitMarker),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewWSMonitor(testMonitorConfig(srv.wsURL()))
	events, err := m.Start(ctx)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, Signature("poolSig"), ev.Signature)
		assert.Equal(t, uint64(250000000), ev.Slot)
	case <-time.After(3 * time.Second):
		t.Fatal("no pool event received")
	}

	stats := m.Stats()
	assert.GreaterOrEqual(t, stats.MessagesRecv, int64(3))
	assert.GreaterOrEqual(t, stats.PoolsDetected, int64(1))
}

func TestWSMonitor_ResubscribesWithIdenticalPayload(t *testing.T) {
	srv := newWSTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewWSMonitor(testMonitorConfig(srv.wsURL()))
	_, err := m.Start(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		select {
		case <-srv.subs:
		case <-time.After(3 * time.Second):
			t.Fatalf("subscription %d not received", i+1)
		}
	}

	payloads := srv.recorded()
	require.GreaterOrEqual(t, len(payloads), 3)
	for _, p := range payloads[1:] {
		assert.Equal(t, string(payloads[0]), string(p))
	}
	assert.Equal(t, string(m.SubscribeRequest()), string(payloads[0]))

	assert.Eventually(t, func() bool { return m.Stats().Reconnects >= 2 }, time.Second, 10*time.Millisecond)
}

func TestWSMonitor_ChannelClosesOnCancel(t *testing.T) {
	srv := newWSTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	m := NewWSMonitor(testMonitorConfig(srv.wsURL()))
	events, err := m.Start(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("event channel not closed after cancel")
	}
}

func TestWSMonitor_RequiresEndpoint(t *testing.T) {
	m := NewWSMonitor(WSMonitorConfig{})
	_, err := m.Start(context.Background())
	assert.Error(t, err)
}

func TestWSMonitor_DropsWhenBufferFull(t *testing.T) {
	cfg := testMonitorConfig("ws://unused")
	cfg.BufferSize = 1
	m := NewWSMonitor(cfg)

	frame := []byte(notificationFrame("sigA", PoolInitMarker))
	m.handleMessage(frame)
	m.handleMessage(frame)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.PoolsDetected)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, 1, stats.Queued)
}
