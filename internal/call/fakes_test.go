package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ankur-the-analyst/nexis/internal/core"
	"github.com/ankur-the-analyst/nexis/internal/domain"
)

// fakeTrackSender records replacements on one sending slot.
type fakeTrackSender struct {
	kind     string
	mu       sync.Mutex
	replaced []webrtc.TrackLocal
}

func (s *fakeTrackSender) Kind() string { return s.kind }

func (s *fakeTrackSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced = append(s.replaced, track)
	return nil
}

// fakeMedia implements core.MediaSession in memory.
type fakeMedia struct {
	remoteID string

	mu         sync.Mutex
	started    bool
	closed     bool
	remoteDesc *webrtc.SessionDescription
	applied    []webrtc.ICECandidateInit
	senders    []*fakeTrackSender
	onICE      func(webrtc.ICECandidateInit)
	onClosed   func()

	failOffer     bool
	failAnswer    bool
	failRemote    bool
	failCandidate bool
}

func (f *fakeMedia) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeMedia) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeMedia) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMedia) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	if f.failOffer {
		return nil, errors.New("offer refused")
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + f.remoteID}, nil
}

func (f *fakeMedia) CreateAndSetAnswer() (*webrtc.SessionDescription, error) {
	if f.failAnswer {
		return nil, errors.New("answer refused")
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + f.remoteID}, nil
}

func (f *fakeMedia) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if f.failRemote {
		return errors.New("remote refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDesc = &sdp
	return nil
}

func (f *fakeMedia) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if f.failCandidate {
		return errors.New("candidate refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, ci)
	return nil
}

func (f *fakeMedia) AddLocalTrack(track webrtc.TrackLocal) (core.TrackSender, error) {
	s := &fakeTrackSender{kind: track.Kind().String()}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senders = append(f.senders, s)
	return s, nil
}

func (f *fakeMedia) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onICE = fn }

func (f *fakeMedia) OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
}

func (f *fakeMedia) OnClosed(fn func()) { f.onClosed = fn }

func (f *fakeMedia) appliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(f.applied))
	copy(out, f.applied)
	return out
}

// fakeEngine hands out fakeMedia sessions and remembers them by remote id.
type fakeEngine struct {
	mu       sync.Mutex
	sessions map[string]*fakeMedia
	failNext bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sessions: make(map[string]*fakeMedia)}
}

func (e *fakeEngine) NewSession(remoteID string) (core.MediaSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNext {
		e.failNext = false
		return nil, core.ErrMediaUnavailable
	}
	m := &fakeMedia{remoteID: remoteID}
	e.sessions[remoteID] = m
	return m, nil
}

func (e *fakeEngine) session(remoteID string) *fakeMedia {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[remoteID]
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// fakeTransport records everything successfully sent.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []domain.SignalMessage
	failing bool
}

func (t *fakeTransport) Send(_ context.Context, msg domain.SignalMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failing {
		return core.ErrTransportUnavailable
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) OnMessage(func(domain.SignalMessage)) {}
func (t *fakeTransport) OnReady(func())                       {}
func (t *fakeTransport) Close()                               {}

func (t *fakeTransport) setFailing(v bool) {
	t.mu.Lock()
	t.failing = v
	t.mu.Unlock()
}

func (t *fakeTransport) sentMessages() []domain.SignalMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.SignalMessage, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) sentOfType(st domain.SignalType) []domain.SignalMessage {
	var out []domain.SignalMessage
	for _, m := range t.sentMessages() {
		if m.Type == st {
			out = append(out, m)
		}
	}
	return out
}

type finalizedCall struct {
	id      string
	joined  []domain.UserID
	endedAt time.Time
}

// fakeStore keeps records in memory; the missed-call dedup query scans the
// stored notifications against the injected clock.
type fakeStore struct {
	mu            sync.Mutex
	now           func() time.Time
	calls         []domain.CallRecord
	finalized     []finalizedCall
	notifications []domain.Notification
	messages      []domain.Message
	saveCallErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{now: time.Now}
}

func (s *fakeStore) SaveCallRecord(_ context.Context, rec domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveCallErr != nil {
		return s.saveCallErr
	}
	s.calls = append(s.calls, rec)
	return nil
}

func (s *fakeStore) FinalizeCallRecord(_ context.Context, id string, joined []domain.UserID, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveCallErr != nil {
		return s.saveCallErr
	}
	s.finalized = append(s.finalized, finalizedCall{id: id, joined: joined, endedAt: endedAt})
	return nil
}

func (s *fakeStore) HasRecentMissedCall(_ context.Context, recipient, sender domain.UserID, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-window)
	for _, n := range s.notifications {
		if n.RecipientID == recipient && n.SenderID == sender &&
			n.Type == domain.NotificationMissedCall && !n.Timestamp.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SaveNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *fakeStore) SaveMessage(_ context.Context, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *fakeStore) notificationsFor(recipient domain.UserID) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipient {
			out = append(out, n)
		}
	}
	return out
}

func audioTrack(id string) webrtc.TrackLocal {
	tr, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, "local")
	if err != nil {
		panic(err)
	}
	return tr
}

func videoTrack(id string) webrtc.TrackLocal {
	tr, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "local")
	if err != nil {
		panic(err)
	}
	return tr
}
