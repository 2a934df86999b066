package ws

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/lobby"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
	"github.com/DoyleJ11/civ-draft-backend/internal/types"
)

// Snapshots loads the canonical state sent on connect and on request.
type Snapshots interface {
	Snapshot(ctx context.Context, sessionID string) (ledger.Snapshot, error)
}

// Feeds hands out the per-session lobby.
type Feeds interface {
	Ensure(ctx context.Context, sessionID string) *lobby.Lobby
}

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 60 * time.Second
)

// Handler serves GET /ws?session=<id>. Every connection gets a Resync first,
// then one message per committed change.
func Handler(snaps Snapshots, feeds Feeds, log *zap.Logger, buffer int) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 16
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		if _, err := snaps.Snapshot(r.Context(), sessionID); err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				http.Error(w, "draft not found", http.StatusNotFound)
				return
			}
			log.Error("load draft", zap.String("session_id", sessionID), zap.Error(err))
			http.Error(w, "failed to load draft", http.StatusInternalServerError)
			return
		}

		lb := feeds.Ensure(r.Context(), sessionID)
		if lb == nil {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := randID(6)
		clog := log.With(zap.String("session_id", sessionID), zap.String("client_id", clientID))

		// Join before loading the snapshot: anything committed after the read
		// arrives on out, and duplicates are harmless to the client.
		out := make(chan lobby.Update, buffer)
		if !lb.Send(lobby.Join{ClientID: clientID, Outbox: out}) {
			// The lobby went idle and stopped after Ensure returned it.
			if lb = feeds.Ensure(r.Context(), sessionID); lb == nil || !lb.Send(lobby.Join{ClientID: clientID, Outbox: out}) {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
		}
		defer lb.Send(lobby.Leave{ClientID: clientID})
		clog.Debug("subscriber connected")

		resync := make(chan struct{}, 1)
		resync <- struct{}{}

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			defer writeCancel()
			for {
				var msg types.ServerMessage
				select {
				case <-writeCtx.Done():
					return
				case <-lb.Done():
					// A join queued just as the lobby stopped is never seen.
					conn.Close(websocket.StatusTryAgainLater, "feed closed")
					return
				case <-resync:
					snap, err := snaps.Snapshot(writeCtx, sessionID)
					if err != nil {
						clog.Warn("resync snapshot", zap.Error(err))
						msg = types.ServerMessage{Type: types.MsgError, Error: err.Error()}
						break
					}
					wire := types.FromSnapshot(snap)
					msg = types.ServerMessage{Type: types.MsgResync, Snapshot: &wire}
				case u, ok := <-out:
					if !ok {
						// Dropped as slow, or the lobby shut down.
						conn.Close(websocket.StatusTryAgainLater, "feed closed")
						return
					}
					var known bool
					if msg, known = eventMessage(u); !known {
						continue
					}
				}
				if err := write(writeCtx, conn, msg); err != nil {
					clog.Debug("write failed", zap.Error(err))
					return
				}
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(writeCtx, readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					clog.Debug("subscriber disconnected")
					return
				}
				// Otherwise, just exit (lobby.Leave in defer):
				clog.Debug("read failed", zap.Error(err))
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(writeCtx, conn, types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}
			switch cm.Type {
			case types.MsgPing:
			case types.MsgRequestResync:
				select {
				case resync <- struct{}{}:
				default: // one already pending
				}
			default:
				_ = write(writeCtx, conn, types.ServerMessage{Type: types.MsgError, Error: "unknown type"})
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

// eventMessage converts a lobby update into its wire message.
func eventMessage(u lobby.Update) (types.ServerMessage, bool) {
	msg := types.ServerMessage{Version: u.Version}
	ev := u.Event
	switch ev.Kind {
	case store.EventInsert, store.EventUpdate, store.EventDelete:
		if ev.Action == nil {
			return msg, false
		}
		a := types.FromAction(*ev.Action)
		msg.Action = &a
		msg.Type = map[store.EventKind]string{
			store.EventInsert: types.MsgActionInserted,
			store.EventUpdate: types.MsgActionUpdated,
			store.EventDelete: types.MsgActionDeleted,
		}[ev.Kind]
	case store.EventSession:
		if ev.Session == nil {
			return msg, false
		}
		s := types.FromSession(*ev.Session)
		msg.Type = types.MsgSessionUpdated
		msg.Session = &s
	default:
		return msg, false
	}
	return msg, true
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
