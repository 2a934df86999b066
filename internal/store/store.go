// Package store defines the persistence contracts for draft sessions and
// their action ledgers.
package store

import (
	"context"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
)

// Sessions persists draft configurations.
type Sessions interface {
	CreateSession(ctx context.Context, s engine.Session) (engine.Session, error)
	// GetSession returns engine.ErrNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (engine.Session, error)
	// UpdateSession writes only the fields set in p.
	UpdateSession(ctx context.Context, id string, p engine.Patch) (engine.Session, error)
}

// Ledger is the append-only action log.
type Ledger interface {
	// AppendAction fails with engine.ErrDuplicateTurn when the session
	// already holds an action for a.Slot. Seq and a zero CreatedAt are
	// assigned by the store.
	AppendAction(ctx context.Context, a engine.Action) (engine.Action, error)
	// ListActions returns the session's actions by creation time, then Seq.
	ListActions(ctx context.Context, sessionID string) ([]engine.Action, error)
}

type Store interface {
	Sessions
	Ledger
	Close() error
}

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
	// EventSession reports a session row change (join or ready flag).
	EventSession EventKind = "session"
)

// Event is one change notification for a session's feed.
type Event struct {
	Kind      EventKind
	SessionID string
	Action    *engine.Action
	Session   *engine.Session
}
