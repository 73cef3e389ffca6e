// Package call is the multi-party call core: it turns the unordered,
// possibly-duplicated signaling stream into negotiated peer media sessions,
// tracks membership of the single active call, and drives idempotent
// missed-call accounting.
package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ankur-the-analyst/nexis/internal/core"
	"github.com/ankur-the-analyst/nexis/internal/domain"
)

// candidateStager is the router-level buffer for candidates that arrived
// before their peer session existed.
type candidateStager interface {
	TakeStaged(sender domain.UserID) []webrtc.ICECandidateInit
	DropStaged(sender domain.UserID)
}

// Manager is the single source of truth for "am I in a call, with whom, and
// in what capacity". It owns the one active CallSession, the staged incoming
// invite, every PeerSession, and the local media tracks shared by them.
//
// Track ownership is centralized here on purpose: replacing or muting a track
// must be visible to every peer holding a sending slot for it.
type Manager struct {
	localID  domain.UserID
	username string
	engine   core.MediaEngine
	out      *OutboundSignalQueue
	store    core.SessionStore
	missed   *MissedCallRecorder
	staging  candidateStager

	baseCtx context.Context

	mu     sync.Mutex
	call   *domain.CallSession
	state  domain.CallState
	peers  map[domain.UserID]*PeerSession
	invite *domain.IncomingInvite
	tracks map[string]webrtc.TrackLocal
	muted  map[string]bool

	recordsDown atomic.Bool

	incomingMu sync.RWMutex
	incoming   []func(domain.IncomingInvite)

	now func() time.Time
}

func NewManager(user *domain.User, engine core.MediaEngine, out *OutboundSignalQueue, store core.SessionStore) *Manager {
	return &Manager{
		localID:  user.ID,
		username: user.Username,
		engine:   engine,
		out:      out,
		store:    store,
		missed:   NewMissedCallRecorder(store),
		baseCtx:  context.Background(),
		state:    domain.CallIdle,
		peers:    make(map[domain.UserID]*PeerSession),
		tracks:   make(map[string]webrtc.TrackLocal),
		muted:    make(map[string]bool),
		now:      time.Now,
	}
}

// BindStaging wires the router's pre-session candidate buffer. Set once
// during startup, before any signal flows.
func (m *Manager) BindStaging(s candidateStager) { m.staging = s }

// Start binds the manager lifetime to ctx. Media sessions and store writes
// inherit it.
func (m *Manager) Start(ctx context.Context) { m.baseCtx = ctx }

// AnnounceOnline broadcasts presence with the local username. Wired to the
// transport's ready callback so every reconnect re-announces.
func (m *Manager) AnnounceOnline() {
	m.out.Enqueue(domain.NewUserOnline(m.localID, m.username))
}

// OnIncoming registers a callback fired once per staged incoming invite.
func (m *Manager) OnIncoming(fn func(domain.IncomingInvite)) {
	m.incomingMu.Lock()
	m.incoming = append(m.incoming, fn)
	m.incomingMu.Unlock()
}

func (m *Manager) fireIncoming(inv domain.IncomingInvite) {
	m.incomingMu.RLock()
	handlers := make([]func(domain.IncomingInvite), len(m.incoming))
	copy(handlers, m.incoming)
	m.incomingMu.RUnlock()
	for _, fn := range handlers {
		fn(inv)
	}
}

// StartCall rings a single recipient.
func (m *Manager) StartCall(recipientID domain.UserID, isVideo bool) error {
	return m.StartGroupCall([]domain.UserID{recipientID}, isVideo)
}

// StartGroupCall creates a fresh call session and drives an offer to every
// recipient. A negotiation failure on one recipient never aborts the others.
// The initial call record write is best-effort.
func (m *Manager) StartGroupCall(recipientIDs []domain.UserID, isVideo bool) error {
	m.mu.Lock()
	if m.call != nil {
		m.mu.Unlock()
		return core.ErrBusy
	}
	cs := domain.NewCallSession(domain.NewCallID(), isVideo, recipientIDs, m.now())
	m.call = cs
	m.state = domain.CallRingingOut
	m.mu.Unlock()

	log.Info().Str("module", "call.manager").Str("call_id", string(cs.ID)).
		Int("recipients", len(recipientIDs)).Bool("video", isVideo).Msg("starting call")

	for _, rid := range recipientIDs {
		if err := m.dialPeer(rid, cs.ID, isVideo); err != nil {
			log.Error().Err(err).Str("module", "call.manager").
				Str("recipient", string(rid)).Msg("failed to dial peer")
		}
	}

	m.saveCallRecord(cs)
	return nil
}

// AcceptIncomingCall answers the staged invite. A no-op when nothing is
// staged (a late caller hangup may have cleared it already).
func (m *Manager) AcceptIncomingCall() error {
	m.mu.Lock()
	inv := m.invite
	if inv == nil {
		m.mu.Unlock()
		log.Debug().Str("module", "call.manager").Msg("accept with no pending invite")
		return nil
	}
	m.invite = nil
	cs := domain.NewCallSession(inv.CallID, inv.IsVideo, []domain.UserID{inv.CallerID}, m.now())
	cs.MarkJoined(inv.CallerID)
	m.call = cs
	m.state = domain.CallActive
	m.mu.Unlock()

	peer, err := m.createPeer(inv.CallerID)
	if err != nil {
		m.failPeer(inv.CallerID, err)
		return err
	}
	if err := peer.ApplyRemoteDescription(inv.Offer); err != nil {
		m.failPeer(inv.CallerID, err)
		return err
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		m.failPeer(inv.CallerID, err)
		return err
	}
	m.out.Enqueue(domain.NewAnswer(m.localID, inv.CallerID, inv.CallID, inv.IsVideo, *answer))
	log.Info().Str("module", "call.manager").Str("call_id", string(inv.CallID)).
		Str("caller", string(inv.CallerID)).Msg("call accepted")
	return nil
}

// RejectIncomingCall sends HANGUP to the caller and clears the invite.
// No PeerSession is ever created.
func (m *Manager) RejectIncomingCall() error {
	m.mu.Lock()
	inv := m.invite
	m.invite = nil
	m.mu.Unlock()
	if inv == nil {
		return core.ErrNoPendingInvite
	}
	if m.staging != nil {
		m.staging.DropStaged(inv.CallerID)
	}
	m.out.Enqueue(domain.NewHangup(m.localID, inv.CallerID))
	log.Info().Str("module", "call.manager").Str("caller", string(inv.CallerID)).Msg("call rejected")
	return nil
}

// AddToCall invites one more participant into the active call.
func (m *Manager) AddToCall(recipientID domain.UserID) error {
	m.mu.Lock()
	if m.call == nil {
		m.mu.Unlock()
		return core.ErrNoActiveCall
	}
	if _, ok := m.peers[recipientID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.call.Invite(recipientID)
	callID, isVideo := m.call.ID, m.call.IsVideo
	m.mu.Unlock()
	return m.dialPeer(recipientID, callID, isVideo)
}

// EndCall hangs up everyone, records a missed call for every invitee that
// never joined, finalizes the history record, and releases local media.
func (m *Manager) EndCall() error {
	m.mu.Lock()
	if m.call == nil {
		m.mu.Unlock()
		return core.ErrNoActiveCall
	}
	cs := m.call
	m.state = domain.CallEnding
	peers := m.takePeersLocked()
	m.call = nil
	m.state = domain.CallIdle
	m.mu.Unlock()

	for _, uid := range cs.InvitedSnapshot() {
		m.out.Enqueue(domain.NewHangup(m.localID, uid))
	}
	m.finishCall(cs, peers)
	return nil
}

// HandleHangup is the router entry for an inbound HANGUP. A hangup that
// cancels a still-staged invite becomes a missed call on this (callee) side;
// otherwise it is a participant leaving.
func (m *Manager) HandleHangup(from domain.UserID) {
	m.mu.Lock()
	inv := m.invite
	if inv != nil && inv.CallerID == from {
		m.invite = nil
	} else {
		inv = nil
	}
	m.mu.Unlock()

	if inv != nil {
		log.Info().Str("module", "call.manager").Str("caller", string(from)).
			Msg("caller hung up before accept")
		m.missed.Record(m.baseCtx, from, m.localID, inv.CallID)
	}
	m.onRemoteHangup(from)
}

// onRemoteHangup removes that participant's PeerSession. When the last peer
// leaves, the whole call tears down as in EndCall but without re-sending
// HANGUP.
func (m *Manager) onRemoteHangup(from domain.UserID) {
	m.mu.Lock()
	peer, ok := m.peers[from]
	if ok {
		delete(m.peers, from)
	}
	var cs *domain.CallSession
	var peers map[domain.UserID]*PeerSession
	if m.call != nil {
		m.call.MarkLeft(from)
		if len(m.peers) == 0 {
			cs = m.call
			m.call = nil
			m.state = domain.CallIdle
			peers = m.takePeersLocked()
		}
	}
	m.mu.Unlock()

	if peer != nil {
		peer.Close()
		log.Info().Str("module", "call.manager").Str("remote", string(from)).Msg("remote hung up")
	}
	if cs != nil {
		m.finishCall(cs, peers)
	}
}

// HandleOffer implements the busy/renegotiation decision. An offer is a new
// incoming call only when no call is active; an offer for the active call's
// id goes to its peer session as renegotiation (or mesh join) and is never
// surfaced as an invite; an offer for a different call while busy is ignored.
func (m *Manager) HandleOffer(from domain.UserID, p domain.SignalPayload) {
	sdp := *p.SDP

	m.mu.Lock()
	cs := m.call
	if cs == nil {
		if m.invite != nil && m.invite.CallerID != from {
			m.mu.Unlock()
			log.Info().Str("module", "call.manager").Str("caller", string(from)).
				Msg("offer ignored, already ringing from another caller")
			return
		}
		inv := &domain.IncomingInvite{
			CallerID:   from,
			CallID:     p.CallID,
			IsVideo:    p.IsVideo,
			Offer:      sdp,
			ReceivedAt: m.now(),
		}
		m.invite = inv
		m.mu.Unlock()
		log.Info().Str("module", "call.manager").Str("caller", string(from)).
			Str("call_id", string(p.CallID)).Bool("video", p.IsVideo).Msg("incoming call")
		m.fireIncoming(*inv)
		return
	}
	if p.CallID != cs.ID {
		m.mu.Unlock()
		log.Info().Str("module", "call.manager").Str("sender", string(from)).
			Str("call_id", string(p.CallID)).Msg("busy, offer for different call ignored")
		return
	}
	cs.Invite(from)
	cs.MarkJoined(from)
	m.state = domain.CallActive
	peer, ok := m.peers[from]
	callID, isVideo := cs.ID, cs.IsVideo
	m.mu.Unlock()

	if !ok {
		var err error
		peer, err = m.createPeer(from)
		if err != nil {
			m.failPeer(from, err)
			return
		}
	}
	if err := peer.ApplyRemoteDescription(sdp); err != nil {
		m.failPeer(from, err)
		return
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		m.failPeer(from, err)
		return
	}
	m.out.Enqueue(domain.NewAnswer(m.localID, from, callID, isVideo, *answer))
}

// HandleAnswer routes an answer to its peer session. A late or duplicate
// answer with no session is discarded.
func (m *Manager) HandleAnswer(from domain.UserID, p domain.SignalPayload) {
	m.mu.Lock()
	peer, ok := m.peers[from]
	m.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "call.manager").Str("sender", string(from)).Msg("answer without peer discarded")
		return
	}
	if err := peer.ApplyRemoteDescription(*p.SDP); err != nil {
		m.failPeer(from, err)
		return
	}
	m.mu.Lock()
	if m.call != nil {
		m.call.MarkJoined(from)
		m.state = domain.CallActive
	}
	m.mu.Unlock()
	log.Info().Str("module", "call.manager").Str("remote", string(from)).Msg("peer joined")
}

// HandleCandidate routes a candidate to its peer session. Reports false when
// none exists so the router can stage it.
func (m *Manager) HandleCandidate(from domain.UserID, ci webrtc.ICECandidateInit) bool {
	m.mu.Lock()
	peer, ok := m.peers[from]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := peer.AddRemoteCandidate(ci); err != nil {
		m.failPeer(from, err)
	}
	return true
}

// AttachLocalTrack registers a local track and pushes it to every live peer.
// Peers with an existing slot of that kind get a cheap in-place replace;
// peers without one get a new slot and a renegotiation offer.
func (m *Manager) AttachLocalTrack(track webrtc.TrackLocal) error {
	kind := track.Kind().String()
	m.mu.Lock()
	m.tracks[kind] = track
	m.muted[kind] = false
	cs := m.call
	peers := m.peersSnapshotLocked()
	m.mu.Unlock()

	if cs == nil {
		return nil // picked up when the next call starts
	}
	for _, peer := range peers {
		needsOffer, err := peer.AttachLocalTrack(track)
		if err != nil {
			log.Error().Err(err).Str("module", "call.manager").
				Str("remote", string(peer.RemoteID())).Msg("attach track failed")
			continue
		}
		if !needsOffer {
			continue
		}
		offer, err := peer.CreateOffer()
		if err != nil {
			m.failPeer(peer.RemoteID(), err)
			continue
		}
		m.out.Enqueue(domain.NewOffer(m.localID, peer.RemoteID(), cs.ID, cs.IsVideo, *offer))
	}
	return nil
}

// SetTrackEnabled mutes or restores the registered track of kind across all
// peers, via sender replace only. No negotiation state changes, no offers.
func (m *Manager) SetTrackEnabled(kind string, enabled bool) error {
	m.mu.Lock()
	track, ok := m.tracks[kind]
	if !ok {
		m.mu.Unlock()
		return core.ErrMediaUnavailable
	}
	m.muted[kind] = !enabled
	peers := m.peersSnapshotLocked()
	m.mu.Unlock()

	var t webrtc.TrackLocal
	if enabled {
		t = track
	}
	for _, peer := range peers {
		if !peer.HasSender(kind) {
			continue
		}
		if err := peer.ReplaceKind(kind, t); err != nil {
			log.Warn().Err(err).Str("module", "call.manager").
				Str("remote", string(peer.RemoteID())).Str("kind", kind).Msg("replace track failed")
		}
	}
	return nil
}

// ToggleTrack flips the mute state of kind and returns the new muted state.
func (m *Manager) ToggleTrack(kind string) (bool, error) {
	m.mu.Lock()
	muted := m.muted[kind]
	m.mu.Unlock()
	if err := m.SetTrackEnabled(kind, muted); err != nil {
		return false, err
	}
	return !muted, nil
}

// PeerInfo is the per-tile view of one remote participant.
type PeerInfo struct {
	UserID        domain.UserID `json:"userId"`
	State         PeerState     `json:"state"`
	Renegotiating bool          `json:"renegotiating,omitempty"`
}

// IncomingInfo describes the staged invite without exposing the raw SDP.
type IncomingInfo struct {
	CallerID   domain.UserID `json:"callerId"`
	CallID     domain.CallID `json:"callId"`
	IsVideo    bool          `json:"isVideo"`
	ReceivedAt time.Time     `json:"receivedAt"`
}

// Snapshot is the read-only call state served to the UI layer.
type Snapshot struct {
	UserID   domain.UserID    `json:"userId"`
	Username string           `json:"username,omitempty"`
	State    domain.CallState `json:"state"`
	CallID   domain.CallID    `json:"callId,omitempty"`
	IsVideo  bool             `json:"isVideo,omitempty"`
	Invited  []domain.UserID  `json:"invited,omitempty"`
	Joined   []domain.UserID  `json:"joined,omitempty"`
	Peers    []PeerInfo       `json:"peers,omitempty"`
	Muted    map[string]bool  `json:"muted,omitempty"`
	Incoming *IncomingInfo    `json:"incoming,omitempty"`
}

// Snapshot reports the current call state. Read synchronously from the live
// registry, never from a captured copy.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		UserID:   m.localID,
		Username: m.username,
		State:    m.state,
		Muted:    make(map[string]bool, len(m.muted)),
	}
	for k, v := range m.muted {
		snap.Muted[k] = v
	}
	if m.call != nil {
		snap.CallID = m.call.ID
		snap.IsVideo = m.call.IsVideo
		snap.Invited = m.call.InvitedSnapshot()
		snap.Joined = m.call.JoinedSnapshot()
	}
	for uid, p := range m.peers {
		snap.Peers = append(snap.Peers, PeerInfo{
			UserID:        uid,
			State:         p.State(),
			Renegotiating: p.Renegotiating(),
		})
	}
	if m.invite != nil {
		snap.Incoming = &IncomingInfo{
			CallerID:   m.invite.CallerID,
			CallID:     m.invite.CallID,
			IsVideo:    m.invite.IsVideo,
			ReceivedAt: m.invite.ReceivedAt,
		}
	}
	return snap
}

// Close is the logout path: end any active call and drop the staged invite.
func (m *Manager) Close() {
	if err := m.EndCall(); err != nil && !errors.Is(err, core.ErrNoActiveCall) {
		log.Warn().Err(err).Str("module", "call.manager").Msg("end call on close")
	}
	m.mu.Lock()
	m.invite = nil
	m.mu.Unlock()
}

// --- internals ---

// dialPeer creates a peer session for rid and drives an offer to it.
func (m *Manager) dialPeer(rid domain.UserID, callID domain.CallID, isVideo bool) error {
	peer, err := m.createPeer(rid)
	if err != nil {
		return err
	}
	offer, err := peer.CreateOffer()
	if err != nil {
		m.failPeer(rid, err)
		return err
	}
	m.out.Enqueue(domain.NewOffer(m.localID, rid, callID, isVideo, *offer))
	return nil
}

// createPeer builds the media session, wires its callbacks, attaches the
// current unmuted local tracks, registers the peer, and drains any candidates
// the router staged before this session existed.
func (m *Manager) createPeer(rid domain.UserID) (*PeerSession, error) {
	ms, err := m.engine.NewSession(string(rid))
	if err != nil {
		return nil, err
	}
	peer := newPeerSession(rid, ms)

	ms.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		m.out.Enqueue(domain.NewCandidate(m.localID, rid, ci))
	})
	ms.OnClosed(func() { m.onMediaClosed(rid) })

	if err := ms.Start(m.baseCtx); err != nil {
		ms.Close()
		return nil, err
	}

	m.mu.Lock()
	m.peers[rid] = peer
	tracks := make(map[string]webrtc.TrackLocal, len(m.tracks))
	for kind, tr := range m.tracks {
		if !m.muted[kind] {
			tracks[kind] = tr
		}
	}
	m.mu.Unlock()

	for _, tr := range tracks {
		if _, err := peer.AttachLocalTrack(tr); err != nil {
			log.Warn().Err(err).Str("module", "call.manager").
				Str("remote", string(rid)).Msg("initial track attach failed")
		}
	}

	if m.staging != nil {
		for _, ci := range m.staging.TakeStaged(rid) {
			if err := peer.AddRemoteCandidate(ci); err != nil {
				log.Warn().Err(err).Str("module", "call.manager").
					Str("remote", string(rid)).Msg("staged candidate failed")
			}
		}
	}
	return peer, nil
}

// failPeer handles a fatal negotiation error: the peer session dies, the
// call continues with whoever is left.
func (m *Manager) failPeer(rid domain.UserID, err error) {
	log.Error().Err(err).Str("module", "call.manager").Str("remote", string(rid)).Msg("peer failed")
	m.mu.Lock()
	peer, ok := m.peers[rid]
	if ok {
		delete(m.peers, rid)
	}
	var cs *domain.CallSession
	var peers map[domain.UserID]*PeerSession
	if m.call != nil {
		m.call.MarkLeft(rid)
		if len(m.peers) == 0 {
			cs = m.call
			m.call = nil
			m.state = domain.CallIdle
			peers = m.takePeersLocked()
		}
	}
	m.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
	if cs != nil {
		m.finishCall(cs, peers)
	}
}

// onMediaClosed fires from the media layer when an underlying connection
// dies on its own.
func (m *Manager) onMediaClosed(rid domain.UserID) {
	m.mu.Lock()
	_, ok := m.peers[rid]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.failPeer(rid, core.ErrNegotiation)
}

// finishCall converges every termination path: missed calls for invitees
// that never joined, record finalization, peer teardown, media release.
func (m *Manager) finishCall(cs *domain.CallSession, peers map[domain.UserID]*PeerSession) {
	for _, uid := range cs.NotJoined() {
		m.missed.Record(m.baseCtx, m.localID, uid, cs.ID)
	}
	m.finalizeCallRecord(cs)
	for _, p := range peers {
		p.Close()
	}
	if m.staging != nil {
		for uid := range cs.InvitedIDs {
			m.staging.DropStaged(uid)
		}
	}
	m.releaseLocalMedia()
	log.Info().Str("module", "call.manager").Str("call_id", string(cs.ID)).Msg("call ended")
}

func (m *Manager) releaseLocalMedia() {
	m.mu.Lock()
	m.tracks = make(map[string]webrtc.TrackLocal)
	m.muted = make(map[string]bool)
	m.mu.Unlock()
}

func (m *Manager) takePeersLocked() map[domain.UserID]*PeerSession {
	peers := m.peers
	m.peers = make(map[domain.UserID]*PeerSession)
	return peers
}

func (m *Manager) peersSnapshotLocked() []*PeerSession {
	out := make([]*PeerSession, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// saveCallRecord writes the initial history row. Permission failures flip
// the probe-once flag so history is skipped for the rest of the session.
func (m *Manager) saveCallRecord(cs *domain.CallSession) {
	if m.recordsDown.Load() {
		return
	}
	rec := domain.CallRecord{
		ID:         string(cs.ID),
		CallerID:   m.localID,
		InvitedIDs: cs.InvitedSnapshot(),
		JoinedIDs:  cs.JoinedSnapshot(),
		Status:     domain.CallStatusStarted,
		IsVideo:    cs.IsVideo,
		StartedAt:  cs.StartedAt,
	}
	if err := m.store.SaveCallRecord(m.baseCtx, rec); err != nil {
		if errors.Is(err, core.ErrPermissionDenied) {
			m.recordsDown.Store(true)
		}
		log.Warn().Err(err).Str("module", "call.manager").Msg("call record skipped")
	}
}

func (m *Manager) finalizeCallRecord(cs *domain.CallSession) {
	if m.recordsDown.Load() {
		return
	}
	if err := m.store.FinalizeCallRecord(m.baseCtx, string(cs.ID), cs.JoinedSnapshot(), m.now()); err != nil {
		if errors.Is(err, core.ErrPermissionDenied) {
			m.recordsDown.Store(true)
		}
		log.Warn().Err(err).Str("module", "call.manager").Msg("call record finalize skipped")
	}
}
