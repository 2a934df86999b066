// Package participant is the client-side draft engine. It keeps the
// canonical ledger snapshot, recomputes every derived value from it on each
// notification, and drives the turn timer with its single automatic pick.
package participant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/civ-draft-backend/internal/client"
	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/timer"
)

// Channel is the sync channel the engine talks to. *client.Client
// implements it.
type Channel interface {
	Fetch(ctx context.Context, sessionID string) (ledger.Snapshot, error)
	Submit(ctx context.Context, sessionID string, cmd engine.Command) (engine.Action, error)
	Subscribe(ctx context.Context, sessionID string, out chan<- client.Notification) error
}

type Config struct {
	SessionID string
	// Team is the team this participant claims. Zero means spectator.
	Team    engine.Team
	Catalog engine.Catalog
	Log     *zap.Logger
	Ticks   timer.TickSource
	// OnChange receives every new view. It runs on the engine goroutine and
	// must not block.
	OnChange func(View)
}

// View is what a presentation layer reads.
type View struct {
	ledger.View
	Synced     bool
	Timer      timer.Status
	Connection client.Status
}

type msg interface{ isMsg() }

type expireMsg struct{ slot int }
type tickMsg struct{}
type fetchedMsg struct {
	snap ledger.Snapshot
	err  error
}
type submitReq struct {
	choice string
	reply  chan submitResult
}
type submitResult struct {
	accepted bool
	err      error
}
type submittedMsg struct {
	slot   int
	auto   bool
	action engine.Action
	err    error
	reply  chan submitResult
}

func (expireMsg) isMsg()    {}
func (tickMsg) isMsg()      {}
func (fetchedMsg) isMsg()   {}
func (submitReq) isMsg()    {}
func (submittedMsg) isMsg() {}

type Engine struct {
	cfg   Config
	ch    Channel
	log   *zap.Logger
	inbox chan msg
	timer *timer.Controller
	done  chan struct{}

	// Owned by the loop goroutine.
	snap       ledger.Snapshot
	synced     bool
	conn       client.Status
	fetching   bool
	refetch    bool
	autoSlot   int
	manualSlot int

	mu   sync.RWMutex
	view View
}

func New(ch Channel, cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		cfg:        cfg,
		ch:         ch,
		log:        log.With(zap.String("session_id", cfg.SessionID), zap.Int("team", int(cfg.Team))),
		inbox:      make(chan msg, 64),
		done:       make(chan struct{}),
		conn:       client.StatusDisconnected,
		autoSlot:   -1,
		manualSlot: -1,
	}
	e.timer = timer.New(timer.Options{
		Ticks:    cfg.Ticks,
		OnTick:   func(int, int) { e.send(tickMsg{}) },
		OnExpire: func(slot int) { e.send(expireMsg{slot: slot}) },
	})
	e.view = View{Connection: e.conn}
	return e
}

// send posts m unless the loop has exited.
func (e *Engine) send(m msg) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.inbox <- m:
		return true
	case <-e.done:
		return false
	}
}

// View returns the latest derived state.
func (e *Engine) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}

// Run subscribes to the session feed and processes events until ctx ends.
// The timer is always stopped on return.
func (e *Engine) Run(ctx context.Context) error {
	defer e.timer.Stop()
	g, gctx := errgroup.WithContext(ctx)
	notes := make(chan client.Notification, 16)
	g.Go(func() error {
		return e.ch.Subscribe(gctx, e.cfg.SessionID, notes)
	})
	g.Go(func() error {
		defer close(e.done)
		return e.loop(gctx, notes)
	})
	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Submit sends a manual choice for the current turn. A submission that
// loses its turn to another client is not an error: accepted is false and
// the engine resyncs.
func (e *Engine) Submit(ctx context.Context, choiceID string) (accepted bool, err error) {
	reply := make(chan submitResult, 1)
	if !e.send(submitReq{choice: choiceID, reply: reply}) {
		return false, fmt.Errorf("%w: engine stopped", engine.ErrConnectionLost)
	}
	select {
	case r := <-reply:
		return r.accepted, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (e *Engine) loop(ctx context.Context, notes <-chan client.Notification) error {
	e.requestResync(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-notes:
			e.handleNote(ctx, n)
		case m := <-e.inbox:
			switch m := m.(type) {
			case tickMsg:
				e.publish()
			case expireMsg:
				e.autoSelect(ctx, m.slot)
			case fetchedMsg:
				e.fetching = false
				if m.err != nil {
					e.log.Warn("resync failed", zap.Error(m.err))
				} else {
					e.replace(m.snap)
				}
				if e.refetch {
					e.refetch = false
					e.requestResync(ctx)
				}
			case submitReq:
				e.manualSubmit(ctx, m)
			case submittedMsg:
				e.handleSubmitted(ctx, m)
			}
		}
	}
}

func (e *Engine) handleNote(ctx context.Context, n client.Notification) {
	switch n.Kind {
	case client.NoteStatus:
		e.conn = n.Status
		e.publish()
	case client.NoteResync:
		e.replace(*n.Snapshot)
	case client.NoteInserted:
		if !e.synced {
			e.requestResync(ctx)
			return
		}
		e.merge(ctx, *n.Action)
	case client.NoteSession:
		if !e.synced {
			e.requestResync(ctx)
			return
		}
		e.snap.Session = *n.Session
		e.recompute()
	case client.NoteUpdated, client.NoteDeleted:
		// The ledger is append-only; anything else means local state
		// cannot be trusted.
		e.log.Warn("ledger anomaly, resyncing", zap.String("kind", string(n.Kind)))
		e.requestResync(ctx)
	}
}

func (e *Engine) requestResync(ctx context.Context) {
	if e.fetching {
		e.refetch = true
		return
	}
	e.fetching = true
	go func() {
		snap, err := e.ch.Fetch(ctx, e.cfg.SessionID)
		e.send(fetchedMsg{snap: snap, err: err})
	}()
}

// replace adopts a full snapshot as the canonical state.
func (e *Engine) replace(snap ledger.Snapshot) {
	snap.Actions = engine.SortActions(snap.Actions)
	e.snap = snap
	e.synced = true
	e.recompute()
}

// merge adds one action to the snapshot. A gap in slots means an event was
// missed, so the engine refetches instead of guessing.
func (e *Engine) merge(ctx context.Context, a engine.Action) {
	for _, have := range e.snap.Actions {
		if have.ID == a.ID {
			return
		}
	}
	actions := engine.SortActions(append(e.snap.Actions, a))
	for i, have := range actions {
		if have.Slot != i {
			e.log.Debug("slot gap, resyncing", zap.Int("slot", a.Slot), zap.Int("have", len(e.snap.Actions)))
			e.requestResync(ctx)
			return
		}
	}
	e.snap.Actions = actions
	e.recompute()
}

// recompute derives everything from the snapshot and re-arms the timer.
func (e *Engine) recompute() {
	v := ledger.BuildView(e.snap, e.cfg.Catalog, e.cfg.Team)
	if v.Progress.State == engine.StatePhaseActive {
		e.timer.Arm(v.Progress.Slot, e.snap.Session.TimerSeconds)
	} else {
		e.timer.Stop()
	}
	e.setView(v)
}

func (e *Engine) publish() {
	e.mu.RLock()
	v := e.view.View
	e.mu.RUnlock()
	e.setView(v)
}

func (e *Engine) setView(v ledger.View) {
	view := View{View: v, Synced: e.synced, Timer: e.timer.Status(), Connection: e.conn}
	e.mu.Lock()
	e.view = view
	e.mu.Unlock()
	if e.cfg.OnChange != nil {
		e.cfg.OnChange(view)
	}
}

func (e *Engine) current() ledger.View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view.View
}

// autoSelect makes the one random submission for an expired turn. It is
// skipped when the turn has moved on, was already auto-submitted, or a
// manual submission for it is in flight.
func (e *Engine) autoSelect(ctx context.Context, slot int) {
	v := e.current()
	if !e.synced || v.Progress.State != engine.StatePhaseActive || v.Progress.Slot != slot {
		return
	}
	if e.autoSlot == slot || e.manualSlot == slot {
		return
	}
	cmd, ok := engine.RandomChoice(e.snap.Session, e.snap.Actions, e.cfg.Catalog)
	if !ok || cmd.Slot != slot {
		return
	}
	e.autoSlot = slot
	e.log.Info("turn expired, auto-selecting",
		zap.Int("slot", slot),
		zap.Int("active_team", int(cmd.Team)),
		zap.String("choice", cmd.ChoiceID))
	e.submitAsync(ctx, cmd, true, nil)
}

func (e *Engine) manualSubmit(ctx context.Context, req submitReq) {
	v := e.current()
	if !e.synced || !v.MayAct {
		req.reply <- submitResult{err: fmt.Errorf("%w: not your turn", engine.ErrOutOfTurn)}
		return
	}
	if e.manualSlot == v.Progress.Slot {
		req.reply <- submitResult{err: fmt.Errorf("%w: submission already in flight", engine.ErrDuplicateTurn)}
		return
	}
	e.manualSlot = v.Progress.Slot
	cmd := engine.Command{
		Team:     e.cfg.Team,
		Type:     v.Phase.Type,
		Category: v.Phase.Category,
		ChoiceID: req.choice,
		Slot:     v.Progress.Slot,
	}
	e.submitAsync(ctx, cmd, false, req.reply)
}

func (e *Engine) submitAsync(ctx context.Context, cmd engine.Command, auto bool, reply chan submitResult) {
	go func() {
		a, err := e.ch.Submit(ctx, e.cfg.SessionID, cmd)
		e.send(submittedMsg{slot: cmd.Slot, auto: auto, action: a, err: err, reply: reply})
	}()
}

func (e *Engine) handleSubmitted(ctx context.Context, m submittedMsg) {
	if !m.auto && e.manualSlot == m.slot {
		e.manualSlot = -1
	}
	res := submitResult{accepted: m.err == nil}
	switch {
	case m.err == nil:
		e.merge(ctx, m.action)
	case errors.Is(m.err, engine.ErrDuplicateTurn), errors.Is(m.err, engine.ErrOutOfTurn):
		// Another submission won the turn; converge on the ledger.
		e.log.Debug("submission lost turn", zap.Int("slot", m.slot), zap.Bool("auto", m.auto), zap.Error(m.err))
		e.requestResync(ctx)
	default:
		if m.auto {
			e.log.Warn("auto-select failed", zap.Int("slot", m.slot), zap.Error(m.err))
		} else {
			res.err = m.err
			// The automatic pick stood aside for this submission; run it now
			// if the turn expired while it was in flight.
			if st := e.timer.Status(); st.State == timer.Expired && st.Slot == m.slot {
				e.autoSelect(ctx, m.slot)
			}
		}
		e.requestResync(ctx)
	}
	if m.reply != nil {
		m.reply <- res
	}
}
