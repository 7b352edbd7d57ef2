package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket Pool Monitor: logsSubscribe on the AMM program with a
// fixed-delay reconnect loop
// ---------------------------------------------------------------------------

// WSMonitorConfig configures the WebSocket pool monitor.
type WSMonitorConfig struct {
	WSEndpoint     string        `yaml:"ws_endpoint"`
	ProgramID      string        `yaml:"program_id"`
	Commitment     string        `yaml:"commitment"`
	Marker         string        `yaml:"pool_marker"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	BufferSize     int           `yaml:"event_buffer"`
}

// DefaultWSMonitorConfig returns defaults for mainnet monitoring.
func DefaultWSMonitorConfig() WSMonitorConfig {
	return WSMonitorConfig{
		WSEndpoint:     "wss://api.mainnet-beta.solana.com",
		ProgramID:      string(RaydiumAMMProgramID),
		Commitment:     "finalized",
		Marker:         PoolInitMarker,
		ReconnectDelay: 5 * time.Second,
		PingInterval:   20 * time.Second,
		ReadTimeout:    60 * time.Second,
		BufferSize:     1024,
	}
}

// WSMonitor streams pool-creation signatures from a logsSubscribe feed.
type WSMonitor struct {
	config WSMonitorConfig
	dialer websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	poolChan chan PoolEvent

	messagesRecv  atomic.Int64
	poolsDetected atomic.Int64
	dropped       atomic.Int64
	reconnects    atomic.Int64
	connected     atomic.Bool
}

// NewWSMonitor creates a new WebSocket pool monitor.
func NewWSMonitor(config WSMonitorConfig) *WSMonitor {
	d := DefaultWSMonitorConfig()
	if config.ProgramID == "" {
		config.ProgramID = d.ProgramID
	}
	if config.Commitment == "" {
		config.Commitment = d.Commitment
	}
	if config.Marker == "" {
		config.Marker = d.Marker
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = d.ReconnectDelay
	}
	if config.PingInterval <= 0 {
		config.PingInterval = d.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = d.ReadTimeout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = d.BufferSize
	}
	return &WSMonitor{
		config:   config,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		poolChan: make(chan PoolEvent, config.BufferSize),
	}
}

// SubscribeRequest builds the logsSubscribe payload. It is identical for
// every connection attempt.
func (m *WSMonitor) SubscribeRequest() []byte {
	req := struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
	}{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params: []any{
			map[string][]string{"mentions": {m.config.ProgramID}},
			map[string]string{"commitment": m.config.Commitment},
		},
	}
	b, _ := json.Marshal(req)
	return b
}

// Start launches the connection loop and returns the event channel. The
// channel is closed once ctx is cancelled and the loop has exited.
func (m *WSMonitor) Start(ctx context.Context) (<-chan PoolEvent, error) {
	if m.config.WSEndpoint == "" {
		return nil, fmt.Errorf("ws: endpoint not configured")
	}
	go m.runLoop(ctx)
	return m.poolChan, nil
}

func (m *WSMonitor) runLoop(ctx context.Context) {
	defer close(m.poolChan)

	for {
		m.session(ctx)

		if ctx.Err() != nil {
			return
		}
		m.reconnects.Add(1)
		log.Info().Dur("delay", m.config.ReconnectDelay).Msg("ws: reconnecting after delay")

		select {
		case <-time.After(m.config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// session runs one connection from dial to close. Panics are contained so
// the reconnect loop keeps going.
func (m *WSMonitor) session(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: session panic recovered")
		}
		m.disconnect()
	}()

	if err := m.connect(ctx); err != nil {
		log.Warn().Err(err).Msg("ws: connection failed")
		return
	}
	if err := m.subscribe(); err != nil {
		log.Warn().Err(err).Msg("ws: subscribe failed")
		return
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.pingLoop(sessionCtx)
	go func() {
		<-sessionCtx.Done()
		m.mu.Lock()
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.Unlock()
	}()

	m.readLoop()
}

func (m *WSMonitor) connect(ctx context.Context) error {
	conn, _, err := m.dialer.DialContext(ctx, m.config.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.connected.Store(true)

	log.Info().Str("program", shortKey(m.config.ProgramID)).Msg("ws: connected")
	return nil
}

func (m *WSMonitor) disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connected.Store(false)
}

func (m *WSMonitor) subscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("ws: not connected")
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, m.SubscribeRequest()); err != nil {
		return fmt.Errorf("ws: write subscribe: %w", err)
	}

	log.Info().
		Str("program", shortKey(m.config.ProgramID)).
		Str("commitment", m.config.Commitment).
		Msg("ws: subscribed to program logs")
	return nil
}

func (m *WSMonitor) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			conn := m.conn
			m.mu.Unlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Msg("ws: ping failed")
				return
			}
		}
	}
}

func (m *WSMonitor) readLoop() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("ws: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("ws: read error")
			}
			m.connected.Store(false)
			return
		}

		m.messagesRecv.Add(1)
		m.handleMessage(message)
	}
}

func (m *WSMonitor) handleMessage(data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		log.Debug().Err(err).Msg("ws: ignoring malformed frame")
		return
	}

	switch frame.Kind {
	case FrameConfirmation:
		log.Info().Int64("sub_id", frame.SubscriptionID).Msg("ws: subscription confirmed")
		return
	case FrameError:
		log.Error().Str("error", frame.Error).Msg("ws: rpc error frame")
		return
	}

	sig, ok := matchEvent(frame.Event, m.config.Marker)
	if !ok {
		return
	}
	m.poolsDetected.Add(1)

	event := PoolEvent{
		Signature:  sig,
		Slot:       frame.Event.Slot,
		DetectedAt: time.Now(),
	}

	select {
	case m.poolChan <- event:
		log.Info().
			Str("sig", sig.Short()).
			Uint64("slot", event.Slot).
			Msg("ws: NEW POOL DETECTED")
	default:
		m.dropped.Add(1)
		log.Warn().Str("sig", sig.Short()).Msg("ws: pool channel full, dropping event")
	}
}

func shortKey(k string) string {
	if len(k) > 8 {
		return k[:8]
	}
	return k
}

// WSStats returns monitor statistics.
type WSStats struct {
	Connected     bool  `json:"connected"`
	MessagesRecv  int64 `json:"messages_recv"`
	PoolsDetected int64 `json:"pools_detected"`
	Dropped       int64 `json:"dropped"`
	Reconnects    int64 `json:"reconnects"`
	Queued        int   `json:"queued"`
}

func (m *WSMonitor) Stats() WSStats {
	return WSStats{
		Connected:     m.connected.Load(),
		MessagesRecv:  m.messagesRecv.Load(),
		PoolsDetected: m.poolsDetected.Load(),
		Dropped:       m.dropped.Load(),
		Reconnects:    m.reconnects.Load(),
		Queued:        len(m.poolChan),
	}
}
