// Package session stores the per-user conversation record shared by all flows.
// Exactly one record exists per user; flows overwrite it on every step and clear it on terminal outcomes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the user has no active session.
var ErrNotFound = errors.New("session: not found")

// Session is the persisted conversation position of a user.
type Session struct {
	Flow      string          `json:"flow"`
	Step      string          `json:"step"`
	Data      json.RawMessage `json:"data,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists sessions keyed by Telegram user id.
type Store interface {
	Get(ctx context.Context, userID int64) (*Session, error)
	Set(ctx context.Context, userID int64, s *Session) error
	Clear(ctx context.Context, userID int64) error
}

// Active returns the user's session or nil when none exists.
func Active(ctx context.Context, store Store, userID int64) (*Session, error) {
	s, err := store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return s, err
}
