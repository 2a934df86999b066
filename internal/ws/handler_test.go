package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/civ-draft-backend/internal/catalog"
	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/hub"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/lobby"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
	"github.com/DoyleJ11/civ-draft-backend/internal/store/memory"
	"github.com/DoyleJ11/civ-draft-backend/internal/types"
)

type fixture struct {
	svc *ledger.Service
	srv *httptest.Server
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, zap.NewNop())
	svc := ledger.New(memory.New(), catalog.Default(), h, zap.NewNop())
	srv := httptest.NewServer(Handler(svc, h, zap.NewNop(), 8))
	t.Cleanup(srv.Close)
	return fixture{svc: svc, srv: srv}
}

func (f fixture) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?session=" + sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_ResyncThenEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, engine.Session{Team1Name: "Blue"})
	require.NoError(t, err)

	conn := f.dial(t, sess.ID)
	first := readMsg(t, conn)
	require.Equal(t, types.MsgResync, first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, sess.ID, first.Snapshot.Session.ID)
	assert.Empty(t, first.Snapshot.Actions)

	_, err = f.svc.Join(ctx, sess.ID, "Red")
	require.NoError(t, err)
	upd := readMsg(t, conn)
	require.Equal(t, types.MsgSessionUpdated, upd.Type)
	assert.Equal(t, "Red", upd.Session.Team2Name)

	_, err = f.svc.Ready(ctx, sess.ID, engine.Team1, true)
	require.NoError(t, err)
	_ = readMsg(t, conn)
	_, err = f.svc.Ready(ctx, sess.ID, engine.Team2, true)
	require.NoError(t, err)
	_ = readMsg(t, conn)

	a, err := f.svc.Append(ctx, sess.ID, engine.Command{
		Team: engine.Team1, Type: engine.ActionBan, Category: engine.CategoryCiv, ChoiceID: "rome",
	})
	require.NoError(t, err)
	ins := readMsg(t, conn)
	require.Equal(t, types.MsgActionInserted, ins.Type)
	assert.Equal(t, a.ID, ins.Action.ID)
	assert.Equal(t, 4, ins.Version)
}

func TestHandler_RequestResync(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), engine.Session{Team1Name: "Blue"})
	require.NoError(t, err)

	conn := f.dial(t, sess.ID)
	_ = readMsg(t, conn)

	payload, _ := json.Marshal(types.ClientMessage{Type: types.MsgRequestResync})
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, payload))
	assert.Equal(t, types.MsgResync, readMsg(t, conn).Type)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"Hover"}`)))
	msg := readMsg(t, conn)
	assert.Equal(t, types.MsgError, msg.Type)
	assert.Equal(t, "unknown type", msg.Error)
}

func TestHandler_RejectsUnknownSession(t *testing.T) {
	f := newFixture(t)

	res, err := http.Get(f.srv.URL + "/?session=missing")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, err = http.Get(f.srv.URL + "/")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestEventMessage(t *testing.T) {
	a := &engine.Action{ID: "a1", Team: engine.Team2, Move: engine.Pick{Cat: engine.CategoryCiv, Item: "rome"}}
	cases := []struct {
		ev   store.Event
		want string
		ok   bool
	}{
		{store.Event{Kind: store.EventInsert, Action: a}, types.MsgActionInserted, true},
		{store.Event{Kind: store.EventUpdate, Action: a}, types.MsgActionUpdated, true},
		{store.Event{Kind: store.EventDelete, Action: a}, types.MsgActionDeleted, true},
		{store.Event{Kind: store.EventSession, Session: &engine.Session{ID: "d1"}}, types.MsgSessionUpdated, true},
		{store.Event{Kind: store.EventInsert}, "", false},
		{store.Event{Kind: "weird"}, "", false},
	}
	for _, tc := range cases {
		msg, ok := eventMessage(lobby.Update{Version: 3, Event: tc.ev})
		assert.Equal(t, tc.ok, ok, tc.ev.Kind)
		if ok {
			assert.Equal(t, tc.want, msg.Type)
			assert.Equal(t, 3, msg.Version)
		}
	}
}
