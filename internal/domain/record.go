package domain

import "time"

// Call record statuses persisted to the store. Values are part of the
// store schema shared with the web clients.
const (
	CallStatusStarted = "started"
	CallStatusEnded   = "ended"
)

const NotificationMissedCall = "MISSED_CALL"

const MessageTypeMissedCall = "missed_call"

// CallRecord is the best-effort call history row. Persistence failures never
// affect the live call.
type CallRecord struct {
	ID         string    `json:"id"`
	CallerID   UserID    `json:"callerId"`
	InvitedIDs []UserID  `json:"invitedIds"`
	JoinedIDs  []UserID  `json:"joinedIds"`
	Status     string    `json:"status"`
	IsVideo    bool      `json:"isVideo"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt,omitempty"`
}

// Notification is the bell-icon record shown to the callee.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID UserID    `json:"recipientId"`
	SenderID    UserID    `json:"senderId"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Read        bool      `json:"read"`
	LinkTo      string    `json:"linkTo,omitempty"`
}

// Message is the chat-history projection of the same event.
type Message struct {
	ID          string    `json:"id"`
	SenderID    UserID    `json:"senderId"`
	RecipientID UserID    `json:"recipientId"`
	Text        string    `json:"text"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Attachments []string  `json:"attachments"`
}
