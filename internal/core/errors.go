package core

import "errors"

var (
	// ErrBusy is returned when a second call would violate single-call policy.
	ErrBusy = errors.New("already in a call")
	// ErrNoPendingInvite means accept/reject was called with nothing staged.
	ErrNoPendingInvite = errors.New("no pending incoming call")
	// ErrNoActiveCall means the operation needs a live call session.
	ErrNoActiveCall = errors.New("no active call")

	// ErrBackpressure means a send buffer is full; the frame was not queued.
	ErrBackpressure = errors.New("backpressure")
	// ErrTransportUnavailable means the signaling channel is down; senders
	// recover by queueing, never by dropping.
	ErrTransportUnavailable = errors.New("signal transport unavailable")

	// ErrStoreUnavailable marks persistence failures. Always non-fatal to
	// live call state.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrPermissionDenied marks access-restricted store tables. Probed once
	// and cached, never retried per call.
	ErrPermissionDenied = errors.New("session store permission denied")

	// ErrMediaUnavailable means a local device/track could not be acquired.
	ErrMediaUnavailable = errors.New("local media unavailable")

	// ErrNegotiation marks SDP or candidate failures. Fatal to the affected
	// peer session only; the call continues with the remaining peers.
	ErrNegotiation = errors.New("negotiation failed")
)
