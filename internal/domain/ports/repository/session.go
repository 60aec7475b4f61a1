package repository

import (
	"context"
	"time"

	"sharktank-agent/internal/domain/model"
)

// SessionStore keeps server-side conversations for callers that only send a session id.
type SessionStore interface {
	// Get returns domain.ErrNotFound when the session does not exist.
	Get(ctx context.Context, id string) (*model.Session, error)
	// Append adds turns, creating the session when needed.
	Append(ctx context.Context, id string, now time.Time, turns ...model.ConversationTurn) (*model.Session, error)
	Delete(ctx context.Context, id string) error
	// SweepExpired removes sessions idle longer than ttl and returns how many were removed.
	SweepExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}
