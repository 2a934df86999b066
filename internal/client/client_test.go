package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/civ-draft-backend/internal/catalog"
	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/httpapi"
	"github.com/DoyleJ11/civ-draft-backend/internal/hub"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/store/memory"
	"github.com/DoyleJ11/civ-draft-backend/internal/types"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, zap.NewNop())
	cat := catalog.Default()
	svc := ledger.New(memory.New(), cat, h, zap.NewNop())
	srv := httptest.NewServer(httpapi.SetupRoutes(httpapi.Deps{Service: svc, Catalog: cat, Hub: h}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })}, opts...)
	c, err := New(url, opts...)
	require.NoError(t, err)
	return c
}

func recvNote(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
		return Notification{}
	}
}

// nextData skips status notes.
func nextData(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	for {
		if n := recvNote(t, ch); n.Kind != NoteStatus {
			return n
		}
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
	_, err = New("://nope")
	assert.Error(t, err)
}

func TestLifecycleAndSubmit(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	sess, err := c.CreateDraft(ctx, types.CreateSessionRequest{Team1Name: "Blue"})
	require.NoError(t, err)
	_, err = c.Join(ctx, sess.ID, "Red")
	require.NoError(t, err)
	_, err = c.Ready(ctx, sess.ID, engine.Team1, true)
	require.NoError(t, err)
	sess, err = c.Ready(ctx, sess.ID, engine.Team2, true)
	require.NoError(t, err)
	assert.True(t, sess.Started())

	cmd := engine.Command{Team: engine.Team1, Type: engine.ActionBan, Category: engine.CategoryCiv, ChoiceID: "rome"}
	a, err := c.Submit(ctx, sess.ID, cmd)
	require.NoError(t, err)
	assert.Equal(t, engine.Ban{Cat: engine.CategoryCiv, Item: "rome"}, a.Move)

	_, err = c.Submit(ctx, sess.ID, cmd)
	assert.ErrorIs(t, err, engine.ErrDuplicateTurn)

	cmd.Slot = 3
	_, err = c.Submit(ctx, sess.ID, cmd)
	assert.ErrorIs(t, err, engine.ErrOutOfTurn)

	snap, err := c.Fetch(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, snap.Actions, 1)
	assert.Equal(t, a.ID, snap.Actions[0].ID)

	text, err := c.Summary(ctx, sess.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "Teams: Blue vs Red")

	_, err = c.GetDraft(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = c.Summary(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSubscribe_ResyncThenInserts(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := c.CreateDraft(ctx, types.CreateSessionRequest{Team1Name: "Blue"})
	require.NoError(t, err)

	notes := make(chan Notification, 16)
	done := make(chan error, 1)
	go func() { done <- c.Subscribe(ctx, sess.ID, notes) }()

	assert.Equal(t, Notification{Kind: NoteStatus, Status: StatusConnecting}, recvNote(t, notes))
	assert.Equal(t, Notification{Kind: NoteStatus, Status: StatusConnected}, recvNote(t, notes))
	first := recvNote(t, notes)
	require.Equal(t, NoteResync, first.Kind)
	assert.Equal(t, sess.ID, first.Snapshot.Session.ID)

	_, err = c.Join(ctx, sess.ID, "Red")
	require.NoError(t, err)
	n := nextData(t, notes)
	require.Equal(t, NoteSession, n.Kind)
	assert.Equal(t, "Red", n.Session.Team2Name)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribe did not stop")
	}
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestSubscribe_UnknownSessionStops(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv.URL)

	err := c.Subscribe(context.Background(), "missing", make(chan Notification, 8))
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestSubscribe_ReconnectsWithFullResync(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		snap := types.Snapshot{Session: types.Session{ID: "d1", TimerSeconds: int(n)}}
		payload, _ := json.Marshal(types.ServerMessage{Type: types.MsgResync, Snapshot: &snap})
		_ = conn.Write(r.Context(), websocket.MessageText, payload)
		if n == 1 {
			conn.Close(websocket.StatusTryAgainLater, "feed closed")
			return
		}
		// hold the second connection open until the client leaves
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notes := make(chan Notification, 16)
	go func() { _ = c.Subscribe(ctx, "d1", notes) }()

	var kinds []string
	var resyncs []int
	for len(resyncs) < 2 {
		n := recvNote(t, notes)
		if n.Kind == NoteStatus {
			kinds = append(kinds, string(n.Status))
			continue
		}
		require.Equal(t, NoteResync, n.Kind)
		resyncs = append(resyncs, n.Snapshot.Session.TimerSeconds)
	}
	assert.Equal(t, []int{1, 2}, resyncs)
	assert.Equal(t, []string{"connecting", "connected", "reconnecting", "connected"}, kinds)
}

func TestSubscribe_GivesUpWhenBackOffStops(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newClient(t, url, WithBackOff(func() backoff.BackOff { return &backoff.StopBackOff{} }))
	err := c.Subscribe(context.Background(), "d1", make(chan Notification, 8))
	assert.ErrorIs(t, err, engine.ErrConnectionLost)
}

func TestToNotification(t *testing.T) {
	a := types.Action{ID: "a1", ActionType: "pick", TeamNumber: 2, Category: "leader", ChoiceID: "amina", Slot: 9}
	n, ok, err := toNotification(types.ServerMessage{Type: types.MsgActionDeleted, Version: 7, Action: &a})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NoteDeleted, n.Kind)
	assert.Equal(t, 7, n.Version)
	assert.Equal(t, engine.Pick{Cat: engine.CategoryLeader, Item: "amina"}, n.Action.Move)

	_, ok, _ = toNotification(types.ServerMessage{Type: "Unknown"})
	assert.False(t, ok)

	bad := a
	bad.ActionType = "hover"
	_, _, err = toNotification(types.ServerMessage{Type: types.MsgActionInserted, Action: &bad})
	assert.Error(t, err)
}
