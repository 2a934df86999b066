// Package memory is an in-process store used by tests and single-node runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
)

type turnKey struct {
	session string
	slot    int
}

type Store struct {
	mu       sync.Mutex
	sessions map[string]engine.Session
	actions  map[string][]engine.Action
	turns    map[turnKey]string
	seq      int64
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[string]engine.Session),
		actions:  make(map[string][]engine.Action),
		turns:    make(map[turnKey]string),
		now:      time.Now,
	}
}

func (s *Store) CreateSession(ctx context.Context, sess engine.Session) (engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return engine.Session{}, fmt.Errorf("session %q already exists", sess.ID)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	sess = cloneSession(sess)
	s.sessions[sess.ID] = sess
	return cloneSession(sess), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return engine.Session{}, fmt.Errorf("%w: session %q", engine.ErrNotFound, id)
	}
	return cloneSession(sess), nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, p engine.Patch) (engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return engine.Session{}, fmt.Errorf("%w: session %q", engine.ErrNotFound, id)
	}
	sess = sess.ApplyPatch(p)
	s.sessions[id] = sess
	return cloneSession(sess), nil
}

func (s *Store) AppendAction(ctx context.Context, a engine.Action) (engine.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[a.SessionID]; !ok {
		return engine.Action{}, fmt.Errorf("%w: session %q", engine.ErrNotFound, a.SessionID)
	}
	key := turnKey{session: a.SessionID, slot: a.Slot}
	if holder, taken := s.turns[key]; taken {
		return engine.Action{}, fmt.Errorf("%w: slot %d held by %s", engine.ErrDuplicateTurn, a.Slot, holder)
	}

	s.seq++
	a.Seq = s.seq
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.turns[key] = a.ID
	s.actions[a.SessionID] = append(s.actions[a.SessionID], a)
	return a, nil
}

func (s *Store) ListActions(ctx context.Context, sessionID string) ([]engine.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: session %q", engine.ErrNotFound, sessionID)
	}
	return engine.SortActions(s.actions[sessionID]), nil
}

func (s *Store) Close() error { return nil }

func cloneSession(sess engine.Session) engine.Session {
	sess.AutoBanCivilizations = slices.Clone(sess.AutoBanCivilizations)
	sess.AutoBanLeaders = slices.Clone(sess.AutoBanLeaders)
	sess.AutoBanSouvenirs = slices.Clone(sess.AutoBanSouvenirs)
	return sess
}
