package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// TrackSender is a sending slot on a media session. Replacing the track in
// an existing slot needs no renegotiation; only adding a new slot does.
type TrackSender interface {
	Kind() string
	ReplaceTrack(track webrtc.TrackLocal) error
}

// MediaSession wraps one underlying peer connection for exactly one remote
// participant.
type MediaSession interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources. Idempotent.
	Close()
	IsClosed() bool

	// CreateAndSetOffer produces a local offer and installs it as the local
	// description.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// CreateAndSetAnswer produces an answer for the current remote offer.
	CreateAndSetAnswer() (*webrtc.SessionDescription, error)
	// SetRemoteDescription applies a remote offer or answer.
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate. The remote description
	// must already be set; buffering before that is the caller's job.
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddLocalTrack opens a new sending slot. The caller owes the remote side
	// a fresh offer afterwards.
	AddLocalTrack(track webrtc.TrackLocal) (TrackSender, error)

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnClosed sets a callback for cleanup when the connection dies.
	OnClosed(func())
}

// MediaEngine builds one MediaSession per remote peer. The rtc adapter backs
// this with pion; tests back it with fakes.
type MediaEngine interface {
	NewSession(remoteID string) (MediaSession, error)
}
