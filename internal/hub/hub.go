// Package hub owns the registry of live session feeds and routes ledger
// events to them.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/civ-draft-backend/internal/lobby"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
)

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	SessionID string
	Reply     chan *lobby.Lobby
}

type EnsureLobby struct {
	SessionID string
	Reply     chan *lobby.Lobby
}

type RemoveLobby struct {
	SessionID string
}

// Broadcast routes ev to its session's lobby, if anyone is listening.
type Broadcast struct {
	Event store.Event
}

type ShutdownHub struct{}

// lobbyEmpty is sent by a lobby whose last subscriber went away.
type lobbyEmpty struct {
	sessionID string
	lobby     *lobby.Lobby
}

func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (Broadcast) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}
func (lobbyEmpty) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

// Publish implements ledger.Publisher.
func (h *Hub) Publish(ev store.Event) {
	select {
	case h.inbox <- Broadcast{Event: ev}:
	case <-h.ctx.Done():
	}
}

// Ensure returns the session's lobby, creating it on first use. It returns
// nil once the hub has shut down.
func (h *Hub) Ensure(ctx context.Context, sessionID string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- EnsureLobby{SessionID: sessionID, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-h.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.lobbies[msg.SessionID] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.SessionID]; lb != nil && !stopped(lb) {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.newLobby(msg.SessionID)

			case RemoveLobby:
				h.remove(msg.SessionID)

			case lobbyEmpty:
				// The lobby may have been replaced or rejoined since it
				// reported; only an unchanged, still empty lobby goes.
				if h.lobbies[msg.sessionID] != msg.lobby {
					break
				}
				if n, ok := numClients(msg.lobby); ok && n > 0 {
					break
				}
				h.remove(msg.sessionID)
				h.log.Debug("idle lobby removed", zap.String("session_id", msg.sessionID))

			case Broadcast:
				lb := h.lobbies[msg.Event.SessionID]
				if lb == nil {
					// Nobody subscribed yet; late joiners resync from the ledger.
					break
				}
				lb.Send(lobby.Publish{Event: msg.Event})

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) newLobby(sessionID string) *lobby.Lobby {
	var lb *lobby.Lobby
	lb = lobby.NewLobby(h.ctx, sessionID, h.log, lobby.WithOnEmpty(func() {
		select {
		case h.inbox <- lobbyEmpty{sessionID: sessionID, lobby: lb}:
		case <-h.ctx.Done():
		}
	}))
	h.lobbies[sessionID] = lb
	return lb
}

func (h *Hub) remove(sessionID string) {
	if lb := h.lobbies[sessionID]; lb != nil {
		lb.Send(lobby.Shutdown{})
		delete(h.lobbies, sessionID)
	}
}

func stopped(lb *lobby.Lobby) bool {
	select {
	case <-lb.Done():
		return true
	default:
		return false
	}
}

// numClients asks the lobby for its subscriber count. ok is false if the
// lobby has already stopped.
func numClients(lb *lobby.Lobby) (n int, ok bool) {
	reply := make(chan lobby.View, 1)
	if !lb.Send(lobby.GetState{Reply: reply}) {
		return 0, false
	}
	select {
	case v := <-reply:
		return v.NumClients, true
	case <-lb.Done():
		return 0, false
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Send(lobby.Shutdown{})
	}
	clear(h.lobbies)
	h.cancel()
}
