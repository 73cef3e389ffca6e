package call

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ankur-the-analyst/nexis/internal/domain"
)

// sessionHub is the slice of the Manager the router dispatches into. Kept as
// an interface so router tests can run against a recording fake.
type sessionHub interface {
	HandleOffer(from domain.UserID, p domain.SignalPayload)
	HandleAnswer(from domain.UserID, p domain.SignalPayload)
	HandleCandidate(from domain.UserID, ci webrtc.ICECandidateInit) bool
	HandleHangup(from domain.UserID)
}

// SignalRouter is the gatekeeper between the raw transport and the session
// objects. It validates addressing, classifies by type, and stages candidates
// that race ahead of their peer session's creation. That staging buffer is
// distinct from the per-peer remote-description buffer: this one covers the
// window before a PeerSession exists at all.
type SignalRouter struct {
	localID domain.UserID
	hub     sessionHub

	mu     sync.Mutex
	staged map[domain.UserID][]webrtc.ICECandidateInit
}

func NewSignalRouter(localID domain.UserID, hub sessionHub) *SignalRouter {
	return &SignalRouter{
		localID: localID,
		hub:     hub,
		staged:  make(map[domain.UserID][]webrtc.ICECandidateInit),
	}
}

// Route processes one inbound envelope. Self-originated messages and messages
// addressed to someone else are discarded; everything else dispatches by type.
func (r *SignalRouter) Route(msg domain.SignalMessage) {
	if msg.SenderID == r.localID {
		return
	}
	if msg.RecipientID != "" && msg.RecipientID != r.localID && msg.Type != domain.SignalUserOnline {
		return
	}

	switch msg.Type {
	case domain.SignalOffer:
		if msg.Payload.SDP == nil {
			log.Warn().Str("module", "call.router").Str("sender", string(msg.SenderID)).Msg("offer without sdp")
			return
		}
		r.hub.HandleOffer(msg.SenderID, msg.Payload)

	case domain.SignalAnswer:
		if msg.Payload.SDP == nil {
			log.Warn().Str("module", "call.router").Str("sender", string(msg.SenderID)).Msg("answer without sdp")
			return
		}
		r.hub.HandleAnswer(msg.SenderID, msg.Payload)

	case domain.SignalCandidate:
		if msg.Payload.Candidate == nil {
			return
		}
		if !r.hub.HandleCandidate(msg.SenderID, *msg.Payload.Candidate) {
			r.stage(msg.SenderID, *msg.Payload.Candidate)
		}

	case domain.SignalHangup:
		r.DropStaged(msg.SenderID)
		r.hub.HandleHangup(msg.SenderID)

	case domain.SignalUserOnline:
		// Presence is covered by the store's own change feed; nothing to do.
		log.Debug().Str("module", "call.router").Str("sender", string(msg.SenderID)).Msg("user online")

	default:
		log.Warn().Str("module", "call.router").Str("type", string(msg.Type)).Msg("unknown signal")
	}
}

func (r *SignalRouter) stage(sender domain.UserID, ci webrtc.ICECandidateInit) {
	r.mu.Lock()
	r.staged[sender] = append(r.staged[sender], ci)
	n := len(r.staged[sender])
	r.mu.Unlock()
	log.Debug().Str("module", "call.router").Str("sender", string(sender)).
		Int("staged", n).Msg("candidate staged before peer session")
}

// TakeStaged hands out, in arrival order, the candidates that arrived for
// sender before its PeerSession existed. The manager drains this right after
// creating a peer.
func (r *SignalRouter) TakeStaged(sender domain.UserID) []webrtc.ICECandidateInit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.staged[sender]
	delete(r.staged, sender)
	return out
}

// DropStaged discards staged candidates for sender.
func (r *SignalRouter) DropStaged(sender domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.staged, sender)
}
