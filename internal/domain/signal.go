package domain

import "github.com/pion/webrtc/v4"

// SignalType enumerates the wire message kinds on the broadcast channel.
// Values are part of the wire contract with the web clients.
type SignalType string

const (
	SignalUserOnline SignalType = "USER_ONLINE"
	SignalOffer      SignalType = "OFFER"
	SignalAnswer     SignalType = "ANSWER"
	SignalCandidate  SignalType = "CANDIDATE"
	SignalHangup     SignalType = "HANGUP"
)

// SignalPayload carries the type-dependent body. SDP for OFFER/ANSWER,
// Candidate for CANDIDATE, Username for USER_ONLINE, empty for HANGUP.
type SignalPayload struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	IsVideo   bool                       `json:"isVideo,omitempty"`
	CallID    CallID                     `json:"callId,omitempty"`
	Username  string                     `json:"username,omitempty"`
}

// SignalMessage is one envelope on the broadcast signaling channel.
// RecipientID empty means addressed to everyone (USER_ONLINE).
type SignalMessage struct {
	Type        SignalType    `json:"type"`
	SenderID    UserID        `json:"senderId"`
	RecipientID UserID        `json:"recipientId,omitempty"`
	Payload     SignalPayload `json:"payload"`
}

func NewOffer(sender, recipient UserID, callID CallID, isVideo bool, sdp webrtc.SessionDescription) SignalMessage {
	return SignalMessage{
		Type:        SignalOffer,
		SenderID:    sender,
		RecipientID: recipient,
		Payload:     SignalPayload{SDP: &sdp, CallID: callID, IsVideo: isVideo},
	}
}

func NewAnswer(sender, recipient UserID, callID CallID, isVideo bool, sdp webrtc.SessionDescription) SignalMessage {
	return SignalMessage{
		Type:        SignalAnswer,
		SenderID:    sender,
		RecipientID: recipient,
		Payload:     SignalPayload{SDP: &sdp, CallID: callID, IsVideo: isVideo},
	}
}

func NewCandidate(sender, recipient UserID, ci webrtc.ICECandidateInit) SignalMessage {
	return SignalMessage{
		Type:        SignalCandidate,
		SenderID:    sender,
		RecipientID: recipient,
		Payload:     SignalPayload{Candidate: &ci},
	}
}

func NewHangup(sender, recipient UserID) SignalMessage {
	return SignalMessage{Type: SignalHangup, SenderID: sender, RecipientID: recipient}
}

func NewUserOnline(sender UserID, username string) SignalMessage {
	return SignalMessage{
		Type:     SignalUserOnline,
		SenderID: sender,
		Payload:  SignalPayload{Username: username},
	}
}
