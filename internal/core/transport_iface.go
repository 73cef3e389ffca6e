package core

import (
	"context"

	"github.com/ankur-the-analyst/nexis/internal/domain"
)

// SignalTransport abstracts the broadcast signaling channel.
// Owned by the adapter; the adapter must Close() it.
//
// Delivery is best-effort, at-least-once, unordered across senders but
// ordered per sender. Send before the transport is ready returns
// ErrTransportUnavailable; callers recover by queueing.
type SignalTransport interface {
	// Send publishes one envelope to the channel.
	Send(ctx context.Context, msg domain.SignalMessage) error
	// OnMessage sets the callback for inbound envelopes. Invoked in per-sender
	// arrival order.
	OnMessage(func(domain.SignalMessage))
	// OnReady sets the callback fired each time the subscription is
	// (re)confirmed. May fire more than once across reconnects.
	OnReady(func())
	Close()
}
