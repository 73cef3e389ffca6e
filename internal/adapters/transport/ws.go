// Package transport adapts the broadcast signaling relay to
// core.SignalTransport over a websocket.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ankur-the-analyst/nexis/internal/core"
	"github.com/ankur-the-analyst/nexis/internal/domain"
)

const (
	frameSubscribe  = "SUBSCRIBE"
	frameSubscribed = "SUBSCRIBED"

	writeTimeout      = 5 * time.Second
	maxBackoff        = 30 * time.Second
	sendBufferSize    = 64
	defaultPingPeriod = 54 * time.Second
)

// WSTransport keeps one websocket to the signaling relay alive. On every
// (re)connect it sends a SUBSCRIBE frame; the relay's SUBSCRIBED ack fires
// the ready callback, which is what releases the outbound queue.
type WSTransport struct {
	url        string
	localID    domain.UserID
	pingPeriod time.Duration
	readLimit  int64

	mu      sync.Mutex
	conn    *websocket.Conn
	send    chan []byte
	ready   bool
	onMsg   func(domain.SignalMessage)
	onReady func()
}

func New(url string, localID domain.UserID, pingPeriod time.Duration, readLimit int64) *WSTransport {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	return &WSTransport{url: url, localID: localID, pingPeriod: pingPeriod, readLimit: readLimit}
}

func (t *WSTransport) OnMessage(fn func(domain.SignalMessage)) {
	t.mu.Lock()
	t.onMsg = fn
	t.mu.Unlock()
}

func (t *WSTransport) OnReady(fn func()) {
	t.mu.Lock()
	t.onReady = fn
	t.mu.Unlock()
}

// Run dials and re-dials the relay until ctx is done.
func (t *WSTransport) Run(ctx context.Context) {
	backoff := time.Second
	for {
		start := time.Now()
		if err := t.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("module", "transport.ws").Msg("relay connection lost")
		}
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (t *WSTransport) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}

	if t.readLimit > 0 {
		conn.SetReadLimit(t.readLimit)
	}
	// Expect a pong (or any frame) within pongWait; writePump pings every
	// pingPeriod to keep the deadline moving.
	pongWait := t.pingPeriod * 10 / 9
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	send := make(chan []byte, sendBufferSize)
	t.mu.Lock()
	t.conn = conn
	t.send = send
	t.ready = false
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.ready = false
		t.conn = nil
		t.send = nil
		t.mu.Unlock()
	}()

	go t.writePump(connCtx, conn, send)

	sub, _ := json.Marshal(struct {
		Type     string        `json:"type"`
		SenderID domain.UserID `json:"senderId"`
	}{Type: frameSubscribe, SenderID: t.localID})
	send <- sub

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		t.handleFrame(data)
	}
}

func (t *WSTransport) writePump(ctx context.Context, conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(t.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("writePump set deadline")
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("writePump ping error")
				_ = conn.Close()
				return
			}
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("writePump set deadline")
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("writePump write error")
				_ = conn.Close()
				return
			}
		}
	}
}

func (t *WSTransport) handleFrame(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "transport.ws").Msg("bad json")
		return
	}

	if env.Type == frameSubscribed {
		t.mu.Lock()
		t.ready = true
		fn := t.onReady
		t.mu.Unlock()
		log.Info().Str("module", "transport.ws").Msg("subscribed to relay")
		if fn != nil {
			fn()
		}
		return
	}

	var msg domain.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "transport.ws").Str("type", env.Type).Msg("bad signal payload")
		return
	}
	t.mu.Lock()
	fn := t.onMsg
	t.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// Send publishes one envelope. Before the subscription ack it reports
// ErrTransportUnavailable so callers keep queueing. A full send buffer fails
// the connection so the reconnect loop can recover instead of silently
// reordering.
func (t *WSTransport) Send(_ context.Context, msg domain.SignalMessage) error {
	t.mu.Lock()
	ready, send, conn := t.ready, t.send, t.conn
	t.mu.Unlock()
	if !ready || send == nil {
		return core.ErrTransportUnavailable
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case send <- data:
		return nil
	default:
		if conn != nil {
			_ = conn.Close()
		}
		return core.ErrBackpressure
	}
}

func (t *WSTransport) Close() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
