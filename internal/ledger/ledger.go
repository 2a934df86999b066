// Package ledger is the authoritative ActionLedger service: session
// lifecycle, guarded appends and the derived views served to clients.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
)

// Publisher fans accepted changes out to subscribers.
type Publisher interface {
	Publish(ev store.Event)
}

type Catalog interface {
	engine.Catalog
	Name(id string) string
}

type Service struct {
	store store.Store
	cat   Catalog
	pub   Publisher
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Service)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, cat Catalog, pub Publisher, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store: st,
		cat:   cat,
		pub:   pub,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) publish(ev store.Event) {
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}

// CreateSession validates cfg and stores it under a fresh id. Ready flags
// and team 2 are always reset.
func (s *Service) CreateSession(ctx context.Context, cfg engine.Session) (engine.Session, error) {
	cfg.ID = s.newID()
	cfg.Team2Name = ""
	cfg.Team1Ready = false
	cfg.Team2Ready = false
	cfg.CreatedAt = s.now()
	if err := cfg.Validate(s.cat); err != nil {
		return engine.Session{}, err
	}
	sess, err := s.store.CreateSession(ctx, cfg)
	if err != nil {
		return engine.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("draft created",
		zap.String("session_id", sess.ID),
		zap.String("team_mode", string(sess.TeamMode)),
		zap.Bool("souvenir_bans", sess.EnableSouvenirBan))
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (engine.Session, error) {
	return s.store.GetSession(ctx, id)
}

// Join records team 2's name.
func (s *Service) Join(ctx context.Context, id, name string) (engine.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return engine.Session{}, err
	}
	p, err := sess.Join(name)
	if err != nil {
		return engine.Session{}, err
	}
	return s.update(ctx, id, p)
}

// Ready flips team's own ready flag. Once both are set the session locks.
func (s *Service) Ready(ctx context.Context, id string, team engine.Team, ready bool) (engine.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return engine.Session{}, err
	}
	p, err := sess.SetReady(team, ready)
	if err != nil {
		return engine.Session{}, err
	}
	return s.update(ctx, id, p)
}

func (s *Service) update(ctx context.Context, id string, p engine.Patch) (engine.Session, error) {
	sess, err := s.store.UpdateSession(ctx, id, p)
	if err != nil {
		return engine.Session{}, err
	}
	s.log.Info("draft updated",
		zap.String("session_id", id),
		zap.String("team2", sess.Team2Name),
		zap.Bool("team1_ready", sess.Team1Ready),
		zap.Bool("team2_ready", sess.Team2Ready))
	s.publish(store.Event{Kind: store.EventSession, SessionID: id, Session: &sess})
	return sess, nil
}

// List returns the session's ledger sorted by creation time, de-duplicated.
func (s *Service) List(ctx context.Context, id string) ([]engine.Action, error) {
	actions, err := s.store.ListActions(ctx, id)
	if err != nil {
		return nil, err
	}
	return engine.SortActions(actions), nil
}

// Append validates cmd against the current ledger and stores it. Exactly
// one append can fill a slot: racers lose with engine.ErrDuplicateTurn,
// either here or at the storage unique index.
func (s *Service) Append(ctx context.Context, sessionID string, cmd engine.Command) (engine.Action, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return engine.Action{}, err
	}
	log, err := s.List(ctx, sessionID)
	if err != nil {
		return engine.Action{}, err
	}

	a, err := engine.Apply(sess, log, s.cat, cmd)
	if err != nil {
		s.logRejected(sessionID, cmd, err)
		return engine.Action{}, err
	}
	a.ID = s.newID()
	a.CreatedAt = s.now()

	stored, err := s.store.AppendAction(ctx, a)
	if err != nil {
		s.logRejected(sessionID, cmd, err)
		return engine.Action{}, err
	}

	s.log.Info("action recorded",
		zap.String("session_id", sessionID),
		zap.Int("slot", stored.Slot),
		zap.Int("team", int(stored.Team)),
		zap.String("type", string(stored.Move.Type())),
		zap.String("category", string(stored.Move.Category())),
		zap.String("choice", stored.Move.Choice()))
	s.publish(store.Event{Kind: store.EventInsert, SessionID: sessionID, Action: &stored})
	return stored, nil
}

func (s *Service) logRejected(sessionID string, cmd engine.Command, err error) {
	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.Int("slot", cmd.Slot),
		zap.Int("team", int(cmd.Team)),
		zap.Error(err),
	}
	// Losing a turn race is routine.
	if errors.Is(err, engine.ErrDuplicateTurn) {
		s.log.Debug("append lost turn race", fields...)
		return
	}
	s.log.Warn("append rejected", fields...)
}

// Snapshot is the canonical state a client resyncs from.
type Snapshot struct {
	Session engine.Session
	Actions []engine.Action
}

func (s *Service) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	actions, err := s.List(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Session: sess, Actions: actions}, nil
}

// View is the derived state of a session for one team's perspective.
type View struct {
	Session   engine.Session
	Status    engine.Status
	Progress  engine.Progress
	Phase     engine.Phase
	MayAct    bool
	Available []string
	Actions   []engine.Action
}

// View derives phase, turn and availability. team may be zero for a
// spectator view.
func (s *Service) View(ctx context.Context, id string, team engine.Team) (View, error) {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return View{}, err
	}
	return BuildView(snap, s.cat, team), nil
}

// BuildView derives a View from a snapshot.
func BuildView(snap Snapshot, cat engine.Catalog, team engine.Team) View {
	p := engine.Derive(snap.Session, snap.Actions)
	v := View{
		Session:  snap.Session,
		Status:   snap.Session.Status(snap.Actions),
		Progress: p,
		MayAct:   p.MayAct(team),
		Actions:  snap.Actions,
	}
	if p.State == engine.StatePhaseActive {
		v.Phase = engine.PhaseFor(p.Phase)
		v.Available = engine.Available(snap.Session, snap.Actions, cat, v.Phase.Category)
	}
	return v
}
