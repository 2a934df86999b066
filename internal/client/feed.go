package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/types"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

type NoteKind string

const (
	// NoteResync carries a full snapshot that replaces local state.
	NoteResync   NoteKind = "resync"
	NoteInserted NoteKind = "inserted"
	// NoteUpdated and NoteDeleted never happen in normal operation; the
	// receiver must refetch.
	NoteUpdated NoteKind = "updated"
	NoteDeleted NoteKind = "deleted"
	NoteSession NoteKind = "session"
	NoteStatus  NoteKind = "status"
)

// Notification is one item on the subscriber's channel.
type Notification struct {
	Kind     NoteKind
	Version  int
	Snapshot *ledger.Snapshot
	Action   *engine.Action
	Session  *engine.Session
	Status   Status
}

const maxMessageBytes = 1 << 20

func (c *Client) feedURL(sessionID string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"session": {sessionID}}.Encode()
	return u.String()
}

// Subscribe streams the session's feed into out until ctx is done. Each
// (re)connect starts with a full Resync. A dropped connection is reported
// as a status change, then retried with backoff; only an unknown session
// or cancellation ends the loop.
func (c *Client) Subscribe(ctx context.Context, sessionID string, out chan<- Notification) error {
	bo := c.newBackOff()
	bo.Reset()
	c.report(ctx, out, StatusConnecting)
	for {
		err := c.stream(ctx, sessionID, out, func() {
			bo.Reset()
			c.report(ctx, out, StatusConnected)
		})
		if ctx.Err() != nil {
			c.report(context.WithoutCancel(ctx), nil, StatusDisconnected)
			return ctx.Err()
		}
		if errors.Is(err, engine.ErrNotFound) {
			c.report(ctx, out, StatusDisconnected)
			return err
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			c.report(ctx, out, StatusDisconnected)
			return fmt.Errorf("%w: giving up: %v", engine.ErrConnectionLost, err)
		}
		c.log.Warn("feed lost, reconnecting",
			zap.String("session_id", sessionID),
			zap.Duration("wait", wait),
			zap.Error(err))
		c.report(ctx, out, StatusReconnecting)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			c.report(context.WithoutCancel(ctx), nil, StatusDisconnected)
			return ctx.Err()
		case <-t.C:
		}
	}
}

// report records s and, when it changed, tells the subscriber.
func (c *Client) report(ctx context.Context, out chan<- Notification, s Status) {
	if !c.setStatus(s) || out == nil {
		return
	}
	select {
	case out <- Notification{Kind: NoteStatus, Status: s}:
	case <-ctx.Done():
	}
}

func (c *Client) stream(ctx context.Context, sessionID string, out chan<- Notification, connected func()) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, res, err := websocket.Dial(dialCtx, c.feedURL(sessionID), nil)
	cancel()
	if err != nil {
		if res != nil && res.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: draft %q", engine.ErrNotFound, sessionID)
		}
		return fmt.Errorf("%w: dial: %v", engine.ErrConnectionLost, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(maxMessageBytes)
	connected()

	streamCtx, stop := context.WithCancel(ctx)
	defer stop()
	go c.keepAlive(streamCtx, conn)

	for {
		_, data, err := conn.Read(streamCtx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusTryAgainLater {
				err = errFeedClosed
			}
			return fmt.Errorf("%w: %v", engine.ErrConnectionLost, err)
		}
		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("bad feed message", zap.Error(err))
			continue
		}
		note, ok, err := toNotification(msg)
		if err != nil {
			c.log.Warn("undecodable feed message", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- note:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// keepAlive pings so the server's read deadline never trips on an idle feed.
func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	payload, _ := json.Marshal(types.ClientMessage{Type: types.MsgPing})
	t := time.NewTicker(c.pingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func toNotification(msg types.ServerMessage) (Notification, bool, error) {
	n := Notification{Version: msg.Version}
	switch msg.Type {
	case types.MsgResync:
		if msg.Snapshot == nil {
			return n, false, nil
		}
		snap, err := msg.Snapshot.Ledger()
		if err != nil {
			return n, false, err
		}
		n.Kind = NoteResync
		n.Snapshot = &snap
	case types.MsgActionInserted, types.MsgActionUpdated, types.MsgActionDeleted:
		if msg.Action == nil {
			return n, false, nil
		}
		a, err := msg.Action.Engine()
		if err != nil {
			return n, false, err
		}
		n.Action = &a
		switch msg.Type {
		case types.MsgActionInserted:
			n.Kind = NoteInserted
		case types.MsgActionUpdated:
			n.Kind = NoteUpdated
		default:
			n.Kind = NoteDeleted
		}
	case types.MsgSessionUpdated:
		if msg.Session == nil {
			return n, false, nil
		}
		s := msg.Session.Engine()
		n.Kind = NoteSession
		n.Session = &s
	default:
		return n, false, nil
	}
	return n, true, nil
}
