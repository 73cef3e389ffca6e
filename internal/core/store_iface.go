package core

import (
	"context"
	"time"

	"github.com/ankur-the-analyst/nexis/internal/domain"
)

// SessionStore is the narrow write/query surface of the external record
// store. Every method is best-effort from the caller's point of view:
// ErrStoreUnavailable and ErrPermissionDenied are logged and skipped,
// never propagated into live call state.
type SessionStore interface {
	SaveCallRecord(ctx context.Context, rec domain.CallRecord) error
	FinalizeCallRecord(ctx context.Context, id string, joined []domain.UserID, endedAt time.Time) error

	// HasRecentMissedCall reports whether a MISSED_CALL notification between
	// the same pair exists within the window. Backs the recorder's dedup.
	HasRecentMissedCall(ctx context.Context, recipient, sender domain.UserID, window time.Duration) (bool, error)
	SaveNotification(ctx context.Context, n domain.Notification) error
	SaveMessage(ctx context.Context, m domain.Message) error
}
