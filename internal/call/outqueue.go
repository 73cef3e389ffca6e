package call

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ankur-the-analyst/nexis/internal/core"
	"github.com/ankur-the-analyst/nexis/internal/domain"
)

// OutboundSignalQueue buffers outgoing signaling messages until the transport
// confirms its subscription, then flushes them in enqueue order. sendMu
// serializes flushes so a burst of reconnect events never sends a message
// twice.
type OutboundSignalQueue struct {
	transport core.SignalTransport

	sendMu sync.Mutex

	mu      sync.Mutex
	pending []domain.SignalMessage
	ready   bool
}

func NewOutboundSignalQueue(t core.SignalTransport) *OutboundSignalQueue {
	return &OutboundSignalQueue{transport: t}
}

// Enqueue appends msg and flushes if the transport is ready. Never blocks on
// the transport being down; the message waits for the next SetReady.
func (q *OutboundSignalQueue) Enqueue(msg domain.SignalMessage) {
	q.mu.Lock()
	q.pending = append(q.pending, msg)
	ready := q.ready
	q.mu.Unlock()

	if ready {
		q.flush()
	}
}

// SetReady marks the transport subscribed and drains the queue. Wired to the
// transport's OnReady callback; safe to call on every reconnect.
func (q *OutboundSignalQueue) SetReady() {
	q.mu.Lock()
	q.ready = true
	n := len(q.pending)
	q.mu.Unlock()
	if n > 0 {
		log.Info().Str("module", "call.outqueue").Int("pending", n).Msg("transport ready, flushing")
	}
	q.flush()
}

// SetDown marks the transport gone. Subsequent enqueues only buffer.
func (q *OutboundSignalQueue) SetDown() {
	q.mu.Lock()
	q.ready = false
	q.mu.Unlock()
}

// Len reports the buffered message count.
func (q *OutboundSignalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *OutboundSignalQueue) flush() {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	for {
		q.mu.Lock()
		if !q.ready || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.transport.Send(context.Background(), msg); err != nil {
			// Put it back at the front and wait for the next reconnect.
			q.mu.Lock()
			q.pending = append([]domain.SignalMessage{msg}, q.pending...)
			q.ready = false
			q.mu.Unlock()
			log.Warn().Err(err).Str("module", "call.outqueue").
				Str("type", string(msg.Type)).
				Str("recipient", string(msg.RecipientID)).
				Msg("send failed, message requeued")
			return
		}
	}
}
