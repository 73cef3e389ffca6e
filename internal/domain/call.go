package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type CallID string

func NewCallID() CallID { return CallID(uuid.NewString()) }

// CallState is the lifecycle of the single active call owned by one client.
type CallState string

const (
	CallIdle       CallState = "idle"
	CallRingingOut CallState = "ringing_out"
	CallActive     CallState = "active"
	CallEnding     CallState = "ending"
)

// CallSession is the one call this client may be part of at a time.
// Invariant: JoinedIDs is always a subset of InvitedIDs plus the local user.
type CallSession struct {
	ID         CallID
	IsVideo    bool
	InvitedIDs map[UserID]struct{}
	JoinedIDs  map[UserID]struct{}
	StartedAt  time.Time
}

func NewCallSession(id CallID, isVideo bool, invited []UserID, startedAt time.Time) *CallSession {
	cs := &CallSession{
		ID:         id,
		IsVideo:    isVideo,
		InvitedIDs: make(map[UserID]struct{}, len(invited)),
		JoinedIDs:  make(map[UserID]struct{}),
		StartedAt:  startedAt,
	}
	for _, uid := range invited {
		cs.InvitedIDs[uid] = struct{}{}
	}
	return cs
}

func (cs *CallSession) Invite(uid UserID) { cs.InvitedIDs[uid] = struct{}{} }

func (cs *CallSession) MarkJoined(uid UserID) {
	if _, ok := cs.InvitedIDs[uid]; ok {
		cs.JoinedIDs[uid] = struct{}{}
	}
}

func (cs *CallSession) MarkLeft(uid UserID) { delete(cs.JoinedIDs, uid) }

func (cs *CallSession) Joined(uid UserID) bool {
	_, ok := cs.JoinedIDs[uid]
	return ok
}

// NotJoined lists invitees that never joined; endCall turns these into
// missed-call records.
func (cs *CallSession) NotJoined() []UserID {
	out := make([]UserID, 0, len(cs.InvitedIDs))
	for uid := range cs.InvitedIDs {
		if _, ok := cs.JoinedIDs[uid]; !ok {
			out = append(out, uid)
		}
	}
	return out
}

func (cs *CallSession) JoinedSnapshot() []UserID {
	out := make([]UserID, 0, len(cs.JoinedIDs))
	for uid := range cs.JoinedIDs {
		out = append(out, uid)
	}
	return out
}

func (cs *CallSession) InvitedSnapshot() []UserID {
	out := make([]UserID, 0, len(cs.InvitedIDs))
	for uid := range cs.InvitedIDs {
		out = append(out, uid)
	}
	return out
}

// IncomingInvite is the staged, ephemeral ringing-in state. It never becomes
// a CallSession until accepted.
type IncomingInvite struct {
	CallerID   UserID
	CallID     CallID
	IsVideo    bool
	Offer      webrtc.SessionDescription
	ReceivedAt time.Time
}
