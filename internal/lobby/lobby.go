// Package lobby is the per-session feed actor. One goroutine owns the
// subscriber set and fans ledger events out to every connected client.
package lobby

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/civ-draft-backend/internal/store"
)

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Outbox   chan Update // where this client wants to receive updates
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

// Publish hands a committed change to the lobby.
type Publish struct {
	Event store.Event
}

func (Publish) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Update is one event stamped with the lobby's feed version.
type Update struct {
	Version int
	Event   store.Event
}

type View struct {
	SessionID  string
	Version    int
	NumClients int
}

type Lobby struct {
	sessionID string
	inbox     chan Msg
	version   int
	clients   map[string]chan Update
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	onEmpty   func()
}

type Option func(*Lobby)

// WithOnEmpty registers fn to run, on its own goroutine, each time the last
// subscriber leaves or is dropped.
func WithOnEmpty(fn func()) Option {
	return func(l *Lobby) { l.onEmpty = fn }
}

func NewLobby(parent context.Context, sessionID string, log *zap.Logger, opts ...Option) *Lobby {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		sessionID: sessionID,
		inbox:     make(chan Msg, 64), // Small buffer
		clients:   make(map[string]chan Update),
		log:       log.With(zap.String("session_id", sessionID)),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.ClientID] = msg.Outbox
				l.log.Debug("subscriber joined", zap.String("client_id", msg.ClientID), zap.Int("clients", len(l.clients)))

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
					l.checkEmpty()
				}

			case Publish:
				if msg.Event.SessionID != l.sessionID {
					l.log.Warn("event for another session dropped", zap.String("event_session", msg.Event.SessionID))
					break
				}
				l.version++
				l.broadcast(Update{Version: l.version, Event: msg.Event})

			case GetState:
				msg.Reply <- View{
					SessionID:  l.sessionID,
					Version:    l.version,
					NumClients: len(l.clients),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) shutdown() {
	for id, ch := range l.clients {
		close(ch) // Tell client no more updates
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) broadcast(u Update) {
	dropped := false
	for id, ch := range l.clients {
		select {
		case ch <- u:
			//ok
		default:
			// Client is slow/full - drop them. They resync on reconnect.
			l.log.Info("dropping slow subscriber", zap.String("client_id", id))
			close(ch)
			delete(l.clients, id)
			dropped = true
		}
	}
	if dropped {
		l.checkEmpty()
	}
}

func (l *Lobby) checkEmpty() {
	if len(l.clients) == 0 && l.onEmpty != nil {
		go l.onEmpty()
	}
}

// Inbox exposes the inbox so the hub and ws layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Send delivers m unless the lobby has stopped.
func (l *Lobby) Send(m Msg) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}
