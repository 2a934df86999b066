package participant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/civ-draft-backend/internal/catalog"
	"github.com/DoyleJ11/civ-draft-backend/internal/client"
	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
	"github.com/DoyleJ11/civ-draft-backend/internal/store/memory"
	"github.com/DoyleJ11/civ-draft-backend/internal/timer"
)

// fakeChannel serves a real ledger in process. Events reach subscribers
// unless the feed is muted. A stored gate holds the next Submit until it is
// closed.
type fakeChannel struct {
	svc *ledger.Service

	mu    sync.Mutex
	subs  []chan<- client.Notification
	muted bool

	fetches   atomic.Int32
	submits   atomic.Int32
	submitErr atomic.Pointer[error]
	gate      atomic.Pointer[chan struct{}]
}

func (f *fakeChannel) Publish(ev store.Event) {
	f.mu.Lock()
	subs, muted := f.subs, f.muted
	f.mu.Unlock()
	if muted {
		return
	}
	var n client.Notification
	switch ev.Kind {
	case store.EventInsert:
		n = client.Notification{Kind: client.NoteInserted, Action: ev.Action}
	case store.EventSession:
		n = client.Notification{Kind: client.NoteSession, Session: ev.Session}
	default:
		n = client.Notification{Kind: client.NoteDeleted, Action: ev.Action}
	}
	for _, out := range subs {
		out <- n
	}
}

func (f *fakeChannel) push(n client.Notification) {
	f.mu.Lock()
	subs := f.subs
	f.mu.Unlock()
	for _, out := range subs {
		out <- n
	}
}

func (f *fakeChannel) mute(m bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = m
}

func (f *fakeChannel) Fetch(ctx context.Context, id string) (ledger.Snapshot, error) {
	f.fetches.Add(1)
	return f.svc.Snapshot(ctx, id)
}

func (f *fakeChannel) Submit(ctx context.Context, id string, cmd engine.Command) (engine.Action, error) {
	f.submits.Add(1)
	if g := f.gate.Swap(nil); g != nil {
		<-*g
	}
	if p := f.submitErr.Swap(nil); p != nil {
		return engine.Action{}, *p
	}
	return f.svc.Append(ctx, id, cmd)
}

func (f *fakeChannel) Subscribe(ctx context.Context, id string, out chan<- client.Notification) error {
	out <- client.Notification{Kind: client.NoteStatus, Status: client.StatusConnected}
	f.mu.Lock()
	f.subs = append(f.subs, out)
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

type manualTicker struct{ c chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               {}

type manualTicks struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (m *manualTicks) source(time.Duration) timer.Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{c: make(chan time.Time)}
	m.tickers = append(m.tickers, t)
	return t
}

// expire fires the latest ticker until its countdown runs out.
func (m *manualTicks) expire(t *testing.T, seconds int) {
	t.Helper()
	m.mu.Lock()
	tk := m.tickers[len(m.tickers)-1]
	m.mu.Unlock()
	for i := 0; i < seconds; i++ {
		select {
		case tk.c <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not consumed", i)
		}
	}
}

const timerSeconds = engine.MinTimerSeconds

func setup(t *testing.T) (*fakeChannel, engine.Session) {
	t.Helper()
	ctx := context.Background()
	f := &fakeChannel{}
	f.svc = ledger.New(memory.New(), catalog.Default(), f, zaptest.NewLogger(t))
	sess, err := f.svc.CreateSession(ctx, engine.Session{Team1Name: "Blue", TimerSeconds: timerSeconds})
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, sess.ID, "Red")
	require.NoError(t, err)
	_, err = f.svc.Ready(ctx, sess.ID, engine.Team1, true)
	require.NoError(t, err)
	sess, err = f.svc.Ready(ctx, sess.ID, engine.Team2, true)
	require.NoError(t, err)
	return f, sess
}

func start(t *testing.T, f *fakeChannel, sessionID string, team engine.Team, ticks *manualTicks) *Engine {
	t.Helper()
	e := New(f, Config{
		SessionID: sessionID,
		Team:      team,
		Catalog:   catalog.Default(),
		Log:       zaptest.NewLogger(t),
		Ticks:     ticks.source,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Errorf("engine did not stop")
		}
	})
	return e
}

func atSlot(t *testing.T, e *Engine, slot int) {
	t.Helper()
	require.Eventually(t, func() bool {
		v := e.View()
		return v.Synced && v.Progress.Slot == slot && v.Timer.State == timer.Running && v.Timer.Slot == slot
	}, 2*time.Second, 5*time.Millisecond, "engine never reached slot %d", slot)
}

func TestEngine_SyncsAndArmsTimer(t *testing.T) {
	f, sess := setup(t)
	e := start(t, f, sess.ID, engine.Team1, &manualTicks{})
	atSlot(t, e, 0)

	v := e.View()
	assert.True(t, v.MayAct)
	assert.Equal(t, engine.StatePhaseActive, v.Progress.State)
	assert.Equal(t, timerSeconds, v.Timer.Remaining)
	assert.Equal(t, client.StatusConnected, v.Connection)
	assert.NotEmpty(t, v.Available)
}

func TestEngine_ManualSubmit(t *testing.T) {
	f, sess := setup(t)
	e := start(t, f, sess.ID, engine.Team1, &manualTicks{})
	atSlot(t, e, 0)

	choice := e.View().Available[0]
	ok, err := e.Submit(context.Background(), choice)
	require.NoError(t, err)
	assert.True(t, ok)

	atSlot(t, e, 1)
	v := e.View()
	assert.False(t, v.MayAct)
	require.Len(t, v.Actions, 1)
	assert.Equal(t, choice, v.Actions[0].Move.Choice())
	assert.NotContains(t, v.Available, choice)
}

func TestEngine_SubmitOutOfTurn(t *testing.T) {
	f, sess := setup(t)
	e := start(t, f, sess.ID, engine.Team2, &manualTicks{})
	atSlot(t, e, 0)

	ok, err := e.Submit(context.Background(), "rome")
	assert.False(t, ok)
	assert.ErrorIs(t, err, engine.ErrOutOfTurn)
	assert.Equal(t, int32(0), f.submits.Load())
}

func TestEngine_LostRaceIsNotAnError(t *testing.T) {
	f, sess := setup(t)
	e := start(t, f, sess.ID, engine.Team1, &manualTicks{})
	atSlot(t, e, 0)

	// Another client fills the turn and its event never arrives.
	f.mute(true)
	v := e.View()
	_, err := f.svc.Append(context.Background(), sess.ID, engine.Command{
		Team: engine.Team1, Type: v.Phase.Type, Category: v.Phase.Category, ChoiceID: v.Available[0], Slot: 0,
	})
	require.NoError(t, err)
	f.mute(false)

	ok, err := e.Submit(context.Background(), v.Available[1])
	require.NoError(t, err)
	assert.False(t, ok)
	atSlot(t, e, 1)
}

func TestEngine_AutoSelectRaceHasOneWinner(t *testing.T) {
	f, sess := setup(t)
	t1, t2 := &manualTicks{}, &manualTicks{}
	e1 := start(t, f, sess.ID, engine.Team1, t1)
	e2 := start(t, f, sess.ID, engine.Team2, t2)
	atSlot(t, e1, 0)
	atSlot(t, e2, 0)

	// Hold back events so both clients time out on the same turn.
	f.mute(true)
	t1.expire(t, timerSeconds)
	atSlot(t, e1, 1)
	t2.expire(t, timerSeconds)
	atSlot(t, e2, 1)
	f.mute(false)
	actions, err := f.svc.List(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, engine.Team1, actions[0].Team)
	assert.Equal(t, int32(2), f.submits.Load())
	assert.Equal(t, e1.View().Actions[0].ID, e2.View().Actions[0].ID)
}

func TestEngine_AutoSelectOncePerTurn(t *testing.T) {
	f, sess := setup(t)
	ticks := &manualTicks{}
	e := start(t, f, sess.ID, engine.Team1, ticks)
	atSlot(t, e, 0)

	boom := errors.New("boom")
	f.submitErr.Store(&boom)
	ticks.expire(t, timerSeconds)

	require.Eventually(t, func() bool {
		return f.submits.Load() == 1 && e.View().Timer.State == timer.Expired
	}, 2*time.Second, 5*time.Millisecond)
	// The failed submit triggers a resync that re-arms the same slot.
	require.Eventually(t, func() bool { return f.fetches.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), f.submits.Load())
	assert.Equal(t, 0, e.View().Progress.Slot)
	assert.Equal(t, timer.Expired, e.View().Timer.State)
}

func TestEngine_FailedManualSubmitAfterExpiryAutoSelects(t *testing.T) {
	f, sess := setup(t)
	ticks := &manualTicks{}
	e := start(t, f, sess.ID, engine.Team1, ticks)
	atSlot(t, e, 0)

	gate := make(chan struct{})
	f.gate.Store(&gate)
	lost := fmt.Errorf("%w: dial", engine.ErrConnectionLost)
	f.submitErr.Store(&lost)

	type result struct {
		ok  bool
		err error
	}
	res := make(chan result, 1)
	choice := e.View().Available[0]
	go func() {
		ok, err := e.Submit(context.Background(), choice)
		res <- result{ok: ok, err: err}
	}()
	require.Eventually(t, func() bool { return f.submits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The turn runs out while the manual submission is held.
	ticks.expire(t, timerSeconds)
	require.Eventually(t, func() bool {
		return e.View().Timer.State == timer.Expired
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), f.submits.Load())
	close(gate)

	select {
	case r := <-res:
		assert.False(t, r.ok)
		assert.ErrorIs(t, r.err, engine.ErrConnectionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("submit never returned")
	}
	atSlot(t, e, 1)
	assert.Equal(t, int32(2), f.submits.Load())
	actions, err := f.svc.List(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestEngine_LosingFinalTurnIsNotAnError(t *testing.T) {
	f, sess := setup(t)
	ctx := context.Background()
	total := engine.ExpectedActions(sess)
	for i := 0; i < total-1; i++ {
		snap, err := f.svc.Snapshot(ctx, sess.ID)
		require.NoError(t, err)
		cmd, ok := engine.RandomChoice(snap.Session, snap.Actions, catalog.Default())
		require.True(t, ok)
		_, err = f.svc.Append(ctx, sess.ID, cmd)
		require.NoError(t, err)
	}
	snap, err := f.svc.Snapshot(ctx, sess.ID)
	require.NoError(t, err)
	winner, ok := engine.RandomChoice(snap.Session, snap.Actions, catalog.Default())
	require.True(t, ok)

	e := start(t, f, sess.ID, winner.Team, &manualTicks{})
	atSlot(t, e, total-1)

	// The other client's final pick lands but its event is held back.
	f.mute(true)
	_, err = f.svc.Append(ctx, sess.ID, winner)
	require.NoError(t, err)
	f.mute(false)

	var choice string
	for _, id := range e.View().Available {
		if id != winner.ChoiceID {
			choice = id
			break
		}
	}
	require.NotEmpty(t, choice)
	accepted, err := e.Submit(ctx, choice)
	require.NoError(t, err)
	assert.False(t, accepted)

	require.Eventually(t, func() bool {
		v := e.View()
		return v.Progress.State == engine.StateDraftComplete && v.Timer.State == timer.Idle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, e.View().Actions, total)
}

func TestEngine_SlotGapResyncs(t *testing.T) {
	f, sess := setup(t)
	e := start(t, f, sess.ID, engine.Team1, &manualTicks{})
	atSlot(t, e, 0)
	before := f.fetches.Load()

	f.mute(true)
	ctx := context.Background()
	var last engine.Action
	for i := 0; i < 2; i++ {
		snap, err := f.svc.Snapshot(ctx, sess.ID)
		require.NoError(t, err)
		cmd, ok := engine.RandomChoice(snap.Session, snap.Actions, catalog.Default())
		require.True(t, ok)
		last, err = f.svc.Append(ctx, sess.ID, cmd)
		require.NoError(t, err)
	}
	f.mute(false)

	// Only slot 1 arrives; slot 0 is missing locally.
	f.push(client.Notification{Kind: client.NoteInserted, Action: &last})
	atSlot(t, e, 2)
	assert.Greater(t, f.fetches.Load(), before)
	assert.Len(t, e.View().Actions, 2)
}

func TestEngine_AnomalyResyncs(t *testing.T) {
	f, sess := setup(t)
	e := start(t, f, sess.ID, engine.Team1, &manualTicks{})
	atSlot(t, e, 0)
	before := f.fetches.Load()

	f.push(client.Notification{Kind: client.NoteUpdated, Action: &engine.Action{ID: "x"}})
	require.Eventually(t, func() bool { return f.fetches.Load() > before }, 2*time.Second, 5*time.Millisecond)
	atSlot(t, e, 0)
}

func TestEngine_StatusNotes(t *testing.T) {
	f, sess := setup(t)
	e := start(t, f, sess.ID, engine.Team1, &manualTicks{})
	atSlot(t, e, 0)

	f.push(client.Notification{Kind: client.NoteStatus, Status: client.StatusReconnecting})
	require.Eventually(t, func() bool {
		return e.View().Connection == client.StatusReconnecting
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_SubmitAfterStop(t *testing.T) {
	f, sess := setup(t)
	e := New(f, Config{SessionID: sess.ID, Team: engine.Team1, Catalog: catalog.Default(), Ticks: (&manualTicks{}).source})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	_, err := e.Submit(context.Background(), "rome")
	assert.ErrorIs(t, err, engine.ErrConnectionLost)
}
