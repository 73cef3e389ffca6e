package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ankur-the-analyst/nexis/internal/core"
	"github.com/ankur-the-analyst/nexis/internal/domain"
)

// DedupWindow bounds how close together two missed-call reports for the same
// (caller, callee) pair may land before the second one is suppressed. Both
// sides of a call use the same window, so whichever side detects the miss
// first wins and the other becomes a no-op.
const DedupWindow = 10 * time.Second

// MissedCallRecorder turns a missed call into one notification and one chat
// message, exactly once per dedup window.
type MissedCallRecorder struct {
	store core.SessionStore
	now   func() time.Time
}

func NewMissedCallRecorder(store core.SessionStore) *MissedCallRecorder {
	return &MissedCallRecorder{store: store, now: time.Now}
}

// Record writes the missed-call pair from callerID to calleeID unless an equal
// record already exists within DedupWindow. All store failures degrade to a
// log line; live call state never depends on this.
func (r *MissedCallRecorder) Record(ctx context.Context, callerID, calleeID domain.UserID, callID domain.CallID) {
	exists, err := r.store.HasRecentMissedCall(ctx, calleeID, callerID, DedupWindow)
	if err != nil {
		log.Warn().Err(err).Str("module", "call.missed").
			Str("caller", string(callerID)).Str("callee", string(calleeID)).
			Msg("dedup check failed, writing anyway")
	}
	if exists {
		log.Debug().Str("module", "call.missed").
			Str("caller", string(callerID)).Str("callee", string(calleeID)).
			Msg("duplicate suppressed")
		return
	}

	now := r.now()
	n := domain.Notification{
		ID:          uuid.NewString(),
		RecipientID: calleeID,
		SenderID:    callerID,
		Type:        domain.NotificationMissedCall,
		Title:       "Missed call",
		Message:     "You missed a call",
		Timestamp:   now,
		LinkTo:      "/chat/" + string(callerID),
	}
	if err := r.store.SaveNotification(ctx, n); err != nil {
		log.Warn().Err(err).Str("module", "call.missed").Msg("notification write skipped")
	}

	m := domain.Message{
		ID:          uuid.NewString(),
		SenderID:    callerID,
		RecipientID: calleeID,
		Text:        "Missed call",
		Type:        domain.MessageTypeMissedCall,
		Timestamp:   now,
		Attachments: []string{},
	}
	if err := r.store.SaveMessage(ctx, m); err != nil {
		log.Warn().Err(err).Str("module", "call.missed").Msg("message write skipped")
	}

	log.Info().Str("module", "call.missed").
		Str("caller", string(callerID)).Str("callee", string(calleeID)).
		Str("call_id", string(callID)).
		Msg("missed call recorded")
}
