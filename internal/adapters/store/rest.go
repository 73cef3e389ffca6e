// Package store adapts the external record service (a PostgREST-style HTTP
// API) to core.SessionStore.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ankur-the-analyst/nexis/internal/core"
	"github.com/ankur-the-analyst/nexis/internal/domain"
)

const requestTimeout = 10 * time.Second

// RESTStore talks to the record service. Access to the calls table is probed
// once: the first ErrPermissionDenied flips callsDenied and call history is
// skipped for the rest of the process lifetime, per the best-effort contract.
type RESTStore struct {
	base   string
	apiKey string
	client *http.Client

	callsDenied atomic.Bool
}

func New(base, apiKey string) *RESTStore {
	return &RESTStore{
		base:   base,
		apiKey: apiKey,
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (s *RESTStore) SaveCallRecord(ctx context.Context, rec domain.CallRecord) error {
	if s.callsDenied.Load() {
		return core.ErrPermissionDenied
	}
	err := s.do(ctx, http.MethodPost, "/calls", rec)
	s.noteCallsErr(err)
	return err
}

func (s *RESTStore) FinalizeCallRecord(ctx context.Context, id string, joined []domain.UserID, endedAt time.Time) error {
	if s.callsDenied.Load() {
		return core.ErrPermissionDenied
	}
	body := struct {
		Status    string          `json:"status"`
		JoinedIDs []domain.UserID `json:"joinedIds"`
		EndedAt   time.Time       `json:"endedAt"`
	}{Status: domain.CallStatusEnded, JoinedIDs: joined, EndedAt: endedAt}
	err := s.do(ctx, http.MethodPatch, "/calls?id=eq."+url.QueryEscape(id), body)
	s.noteCallsErr(err)
	return err
}

func (s *RESTStore) HasRecentMissedCall(ctx context.Context, recipient, sender domain.UserID, window time.Duration) (bool, error) {
	q := url.Values{}
	q.Set("recipientId", "eq."+string(recipient))
	q.Set("senderId", "eq."+string(sender))
	q.Set("type", "eq."+domain.NotificationMissedCall)
	q.Set("timestamp", "gte."+time.Now().Add(-window).UTC().Format(time.RFC3339))
	q.Set("select", "id")
	q.Set("limit", "1")

	req, err := s.newRequest(ctx, http.MethodGet, "/notifications?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if err := statusErr(resp.StatusCode); err != nil {
		return false, err
	}
	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return false, fmt.Errorf("%w: decode: %v", core.ErrStoreUnavailable, err)
	}
	return len(rows) > 0, nil
}

func (s *RESTStore) SaveNotification(ctx context.Context, n domain.Notification) error {
	return s.do(ctx, http.MethodPost, "/notifications", n)
}

func (s *RESTStore) SaveMessage(ctx context.Context, m domain.Message) error {
	return s.do(ctx, http.MethodPost, "/messages", m)
}

func (s *RESTStore) noteCallsErr(err error) {
	if errors.Is(err, core.ErrPermissionDenied) {
		if s.callsDenied.CompareAndSwap(false, true) {
			log.Warn().Str("module", "store.rest").Msg("calls table unavailable, call history disabled")
		}
	}
}

func (s *RESTStore) do(ctx context.Context, method, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := s.newRequest(ctx, method, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return statusErr(resp.StatusCode)
}

func (s *RESTStore) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, body)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	return req, nil
}

func statusErr(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusNotFound:
		return core.ErrPermissionDenied
	default:
		return fmt.Errorf("%w: status %d", core.ErrStoreUnavailable, code)
	}
}
