package call

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankur-the-analyst/nexis/internal/domain"
)

// recordingHub captures router dispatches. hasPeer controls whether
// HandleCandidate claims the sender.
type recordingHub struct {
	offers     []domain.UserID
	answers    []domain.UserID
	candidates []domain.UserID
	hangups    []domain.UserID
	hasPeer    map[domain.UserID]bool
}

func newRecordingHub() *recordingHub {
	return &recordingHub{hasPeer: make(map[domain.UserID]bool)}
}

func (h *recordingHub) HandleOffer(from domain.UserID, _ domain.SignalPayload) {
	h.offers = append(h.offers, from)
}

func (h *recordingHub) HandleAnswer(from domain.UserID, _ domain.SignalPayload) {
	h.answers = append(h.answers, from)
}

func (h *recordingHub) HandleCandidate(from domain.UserID, _ webrtc.ICECandidateInit) bool {
	if !h.hasPeer[from] {
		return false
	}
	h.candidates = append(h.candidates, from)
	return true
}

func (h *recordingHub) HandleHangup(from domain.UserID) {
	h.hangups = append(h.hangups, from)
}

func sdp() *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}
}

func TestRouter_DiscardsSelfOriginated(t *testing.T) {
	hub := newRecordingHub()
	r := NewSignalRouter("me", hub)

	r.Route(domain.SignalMessage{Type: domain.SignalOffer, SenderID: "me", Payload: domain.SignalPayload{SDP: sdp()}})
	r.Route(domain.SignalMessage{Type: domain.SignalHangup, SenderID: "me"})

	assert.Empty(t, hub.offers)
	assert.Empty(t, hub.hangups)
}

func TestRouter_DiscardsMisaddressed(t *testing.T) {
	hub := newRecordingHub()
	r := NewSignalRouter("me", hub)

	r.Route(domain.SignalMessage{Type: domain.SignalOffer, SenderID: "bob", RecipientID: "carol", Payload: domain.SignalPayload{SDP: sdp()}})
	assert.Empty(t, hub.offers)

	// Broadcast presence passes the addressing check regardless.
	r.Route(domain.SignalMessage{Type: domain.SignalUserOnline, SenderID: "bob", RecipientID: "carol"})

	// Addressed to me dispatches.
	r.Route(domain.SignalMessage{Type: domain.SignalOffer, SenderID: "bob", RecipientID: "me", Payload: domain.SignalPayload{SDP: sdp()}})
	assert.Equal(t, []domain.UserID{"bob"}, hub.offers)
}

func TestRouter_DropsOfferWithoutSDP(t *testing.T) {
	hub := newRecordingHub()
	r := NewSignalRouter("me", hub)

	r.Route(domain.SignalMessage{Type: domain.SignalOffer, SenderID: "bob"})
	r.Route(domain.SignalMessage{Type: domain.SignalAnswer, SenderID: "bob"})

	assert.Empty(t, hub.offers)
	assert.Empty(t, hub.answers)
}

func TestRouter_StagesCandidatesWithoutPeer(t *testing.T) {
	hub := newRecordingHub()
	r := NewSignalRouter("me", hub)

	for i := 0; i < 3; i++ {
		r.Route(domain.SignalMessage{
			Type:     domain.SignalCandidate,
			SenderID: "bob",
			Payload:  domain.SignalPayload{Candidate: &webrtc.ICECandidateInit{Candidate: string(rune('a' + i))}},
		})
	}
	assert.Empty(t, hub.candidates, "no peer yet, nothing dispatched")

	staged := r.TakeStaged("bob")
	require.Len(t, staged, 3)
	assert.Equal(t, "a", staged[0].Candidate)
	assert.Equal(t, "b", staged[1].Candidate)
	assert.Equal(t, "c", staged[2].Candidate)

	assert.Empty(t, r.TakeStaged("bob"), "staged candidates hand out once")
}

func TestRouter_RoutesCandidatesToExistingPeer(t *testing.T) {
	hub := newRecordingHub()
	hub.hasPeer["bob"] = true
	r := NewSignalRouter("me", hub)

	r.Route(domain.SignalMessage{
		Type:     domain.SignalCandidate,
		SenderID: "bob",
		Payload:  domain.SignalPayload{Candidate: &webrtc.ICECandidateInit{Candidate: "a"}},
	})
	assert.Equal(t, []domain.UserID{"bob"}, hub.candidates)
	assert.Empty(t, r.TakeStaged("bob"))
}

func TestRouter_HangupClearsStagedAndForwards(t *testing.T) {
	hub := newRecordingHub()
	r := NewSignalRouter("me", hub)

	r.Route(domain.SignalMessage{
		Type:     domain.SignalCandidate,
		SenderID: "bob",
		Payload:  domain.SignalPayload{Candidate: &webrtc.ICECandidateInit{Candidate: "a"}},
	})
	r.Route(domain.SignalMessage{Type: domain.SignalHangup, SenderID: "bob"})

	assert.Equal(t, []domain.UserID{"bob"}, hub.hangups)
	assert.Empty(t, r.TakeStaged("bob"))
}
