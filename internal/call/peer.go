package call

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ankur-the-analyst/nexis/internal/core"
	"github.com/ankur-the-analyst/nexis/internal/domain"
)

// PeerState is the negotiation lifecycle of one remote participant.
type PeerState string

const (
	PeerNew             PeerState = "new"
	PeerHaveLocalOffer  PeerState = "have_local_offer"
	PeerHaveRemoteOffer PeerState = "have_remote_offer"
	PeerConnected       PeerState = "connected"
	PeerClosed          PeerState = "closed"
)

// PeerSession drives SDP/ICE negotiation for exactly one remote participant,
// independent of the other peers in the same call.
//
// Remote candidates that arrive before the remote description are buffered
// and flushed in arrival order the moment the description lands. Re-applying
// a remote description (renegotiation) re-arms the same flush for candidates
// of the new round.
type PeerSession struct {
	remoteID domain.UserID
	media    core.MediaSession

	mu            sync.Mutex
	state         PeerState
	renegotiating bool
	hasRemoteDesc bool
	pending       []webrtc.ICECandidateInit
	senders       map[string]core.TrackSender
}

func newPeerSession(remoteID domain.UserID, media core.MediaSession) *PeerSession {
	return &PeerSession{
		remoteID: remoteID,
		media:    media,
		state:    PeerNew,
		senders:  make(map[string]core.TrackSender),
	}
}

func (p *PeerSession) RemoteID() domain.UserID { return p.remoteID }

func (p *PeerSession) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Renegotiating reports whether a fresh offer round is in flight on an
// already connected session.
func (p *PeerSession) Renegotiating() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renegotiating
}

// CreateOffer produces and installs a local offer. From connected state this
// is a renegotiation round and the state stays connected.
func (p *PeerSession) CreateOffer() (*webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PeerClosed {
		return nil, fmt.Errorf("%w: peer %s closed", core.ErrNegotiation, p.remoteID)
	}
	offer, err := p.media.CreateAndSetOffer()
	if err != nil {
		p.closeLocked()
		return nil, fmt.Errorf("%w: create offer for %s: %v", core.ErrNegotiation, p.remoteID, err)
	}
	if p.state == PeerConnected {
		p.renegotiating = true
	} else {
		p.state = PeerHaveLocalOffer
	}
	return offer, nil
}

// CreateAnswer answers the currently applied remote offer.
func (p *PeerSession) CreateAnswer() (*webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PeerClosed {
		return nil, fmt.Errorf("%w: peer %s closed", core.ErrNegotiation, p.remoteID)
	}
	answer, err := p.media.CreateAndSetAnswer()
	if err != nil {
		p.closeLocked()
		return nil, fmt.Errorf("%w: create answer for %s: %v", core.ErrNegotiation, p.remoteID, err)
	}
	p.state = PeerConnected
	p.renegotiating = false
	return answer, nil
}

// ApplyRemoteDescription installs the remote offer or answer, then flushes
// buffered candidates into the connection in original arrival order. The
// flush happens exactly once per negotiation round: the buffer is cleared
// here and later candidates apply directly.
func (p *PeerSession) ApplyRemoteDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PeerClosed {
		return fmt.Errorf("%w: peer %s closed", core.ErrNegotiation, p.remoteID)
	}
	if err := p.media.SetRemoteDescription(sdp); err != nil {
		p.closeLocked()
		return fmt.Errorf("%w: set remote %s for %s: %v", core.ErrNegotiation, sdp.Type, p.remoteID, err)
	}
	p.hasRemoteDesc = true

	switch sdp.Type {
	case webrtc.SDPTypeOffer:
		if p.state == PeerConnected {
			p.renegotiating = true
		} else {
			p.state = PeerHaveRemoteOffer
		}
	case webrtc.SDPTypeAnswer:
		p.state = PeerConnected
		p.renegotiating = false
	}

	buffered := p.pending
	p.pending = nil
	for _, ci := range buffered {
		if err := p.media.AddICECandidate(ci); err != nil {
			p.closeLocked()
			return fmt.Errorf("%w: flush candidate for %s: %v", core.ErrNegotiation, p.remoteID, err)
		}
	}
	if len(buffered) > 0 {
		log.Debug().Str("module", "call.peer").Str("remote", string(p.remoteID)).
			Int("count", len(buffered)).Msg("flushed buffered candidates")
	}
	return nil
}

// AddRemoteCandidate applies ci immediately when a remote description exists,
// otherwise buffers it. Order within one sender's stream is preserved.
func (p *PeerSession) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PeerClosed {
		return nil // late candidate for a dead peer, drop quietly
	}
	if !p.hasRemoteDesc {
		p.pending = append(p.pending, ci)
		return nil
	}
	if err := p.media.AddICECandidate(ci); err != nil {
		p.closeLocked()
		return fmt.Errorf("%w: add candidate for %s: %v", core.ErrNegotiation, p.remoteID, err)
	}
	return nil
}

// AttachLocalTrack binds track to this peer. An existing sending slot of the
// same kind is replaced in place with no signaling; a missing slot is added,
// which obliges the caller to run a fresh offer round. Reports whether that
// offer is now required.
func (p *PeerSession) AttachLocalTrack(track webrtc.TrackLocal) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PeerClosed {
		return false, fmt.Errorf("%w: peer %s closed", core.ErrNegotiation, p.remoteID)
	}
	kind := track.Kind().String()
	if s, ok := p.senders[kind]; ok {
		if err := s.ReplaceTrack(track); err != nil {
			return false, fmt.Errorf("%w: replace %s track for %s: %v", core.ErrNegotiation, kind, p.remoteID, err)
		}
		return false, nil
	}
	s, err := p.media.AddLocalTrack(track)
	if err != nil {
		return false, fmt.Errorf("%w: add %s track for %s: %v", core.ErrNegotiation, kind, p.remoteID, err)
	}
	p.senders[kind] = s
	return true, nil
}

// ReplaceKind swaps (or mutes, with a nil track) the sending slot of kind.
// Never changes negotiation state; errors out if no such slot exists.
func (p *PeerSession) ReplaceKind(kind string, track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.senders[kind]
	if !ok {
		return fmt.Errorf("no %s sender for peer %s", kind, p.remoteID)
	}
	return s.ReplaceTrack(track)
}

// HasSender reports whether a sending slot of kind exists.
func (p *PeerSession) HasSender(kind string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.senders[kind]
	return ok
}

// Close tears down the underlying connection and discards buffered
// candidates. Idempotent.
func (p *PeerSession) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *PeerSession) closeLocked() {
	if p.state == PeerClosed {
		return
	}
	p.state = PeerClosed
	p.pending = nil
	p.senders = make(map[string]core.TrackSender)
	p.media.Close()
	log.Info().Str("module", "call.peer").Str("remote", string(p.remoteID)).Msg("peer closed")
}
