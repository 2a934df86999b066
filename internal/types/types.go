// Package types holds the JSON wire shapes shared by the HTTP API, the
// websocket feed and the client.
package types

import (
	"errors"
	"time"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
)

type Session struct {
	ID                   string    `json:"id"`
	TeamMode             string    `json:"team_mode"`
	EnableSouvenirBan    bool      `json:"enable_souvenir_ban"`
	TimerSeconds         int       `json:"timer_seconds"`
	Team1Name            string    `json:"team1_name"`
	Team2Name            string    `json:"team2_name,omitempty"`
	Team1Ready           bool      `json:"team1_ready"`
	Team2Ready           bool      `json:"team2_ready"`
	AutoBanCivilizations []string  `json:"auto_ban_civilizations,omitempty"`
	AutoBanLeaders       []string  `json:"auto_ban_leaders,omitempty"`
	AutoBanSouvenirs     []string  `json:"auto_ban_souvenirs,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

func FromSession(s engine.Session) Session {
	return Session{
		ID:                   s.ID,
		TeamMode:             string(s.TeamMode),
		EnableSouvenirBan:    s.EnableSouvenirBan,
		TimerSeconds:         s.TimerSeconds,
		Team1Name:            s.Team1Name,
		Team2Name:            s.Team2Name,
		Team1Ready:           s.Team1Ready,
		Team2Ready:           s.Team2Ready,
		AutoBanCivilizations: s.AutoBanCivilizations,
		AutoBanLeaders:       s.AutoBanLeaders,
		AutoBanSouvenirs:     s.AutoBanSouvenirs,
		CreatedAt:            s.CreatedAt,
	}
}

func (s Session) Engine() engine.Session {
	return engine.Session{
		ID:                   s.ID,
		TeamMode:             engine.TeamMode(s.TeamMode),
		EnableSouvenirBan:    s.EnableSouvenirBan,
		TimerSeconds:         s.TimerSeconds,
		Team1Name:            s.Team1Name,
		Team2Name:            s.Team2Name,
		Team1Ready:           s.Team1Ready,
		Team2Ready:           s.Team2Ready,
		AutoBanCivilizations: s.AutoBanCivilizations,
		AutoBanLeaders:       s.AutoBanLeaders,
		AutoBanSouvenirs:     s.AutoBanSouvenirs,
		CreatedAt:            s.CreatedAt,
	}
}

type Action struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ActionType string    `json:"action_type"`
	TeamNumber int       `json:"team_number"`
	Category   string    `json:"category"`
	ChoiceID   string    `json:"choice_id"`
	Slot       int       `json:"slot"`
	Seq        int64     `json:"seq,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func FromAction(a engine.Action) Action {
	return Action{
		ID:         a.ID,
		SessionID:  a.SessionID,
		ActionType: string(a.Move.Type()),
		TeamNumber: int(a.Team),
		Category:   string(a.Move.Category()),
		ChoiceID:   a.Move.Choice(),
		Slot:       a.Slot,
		Seq:        a.Seq,
		CreatedAt:  a.CreatedAt,
	}
}

func FromActions(as []engine.Action) []Action {
	out := make([]Action, len(as))
	for i, a := range as {
		out[i] = FromAction(a)
	}
	return out
}

func (a Action) Engine() (engine.Action, error) {
	move, err := engine.NewMove(engine.ActionType(a.ActionType), engine.Category(a.Category), a.ChoiceID)
	if err != nil {
		return engine.Action{}, err
	}
	return engine.Action{
		ID:        a.ID,
		SessionID: a.SessionID,
		Team:      engine.Team(a.TeamNumber),
		Move:      move,
		Slot:      a.Slot,
		Seq:       a.Seq,
		CreatedAt: a.CreatedAt,
	}, nil
}

// Snapshot is the full canonical state used for (re)synchronisation.
type Snapshot struct {
	Session Session  `json:"session"`
	Actions []Action `json:"actions"`
}

type CreateSessionRequest struct {
	TeamMode             string   `json:"team_mode"`
	EnableSouvenirBan    bool     `json:"enable_souvenir_ban"`
	TimerSeconds         int      `json:"timer_seconds"`
	Team1Name            string   `json:"team1_name"`
	AutoBanCivilizations []string `json:"auto_ban_civilizations"`
	AutoBanLeaders       []string `json:"auto_ban_leaders"`
	AutoBanSouvenirs     []string `json:"auto_ban_souvenirs"`
}

func (r CreateSessionRequest) Engine() engine.Session {
	return engine.Session{
		TeamMode:             engine.TeamMode(r.TeamMode),
		EnableSouvenirBan:    r.EnableSouvenirBan,
		TimerSeconds:         r.TimerSeconds,
		Team1Name:            r.Team1Name,
		AutoBanCivilizations: r.AutoBanCivilizations,
		AutoBanLeaders:       r.AutoBanLeaders,
		AutoBanSouvenirs:     r.AutoBanSouvenirs,
	}
}

type JoinRequest struct {
	Team2Name string `json:"team2_name"`
}

// ReadyRequest sets a team's ready flag. A missing Ready means true.
type ReadyRequest struct {
	Team  int   `json:"team"`
	Ready *bool `json:"ready,omitempty"`
}

type AppendRequest struct {
	TeamNumber int    `json:"team_number"`
	ActionType string `json:"action_type"`
	Category   string `json:"category"`
	ChoiceID   string `json:"choice_id"`
	Slot       int    `json:"slot"`
}

func (r AppendRequest) Command() engine.Command {
	return engine.Command{
		Team:     engine.Team(r.TeamNumber),
		Type:     engine.ActionType(r.ActionType),
		Category: engine.Category(r.Category),
		ChoiceID: r.ChoiceID,
		Slot:     r.Slot,
	}
}

func FromCommand(c engine.Command) AppendRequest {
	return AppendRequest{
		TeamNumber: int(c.Team),
		ActionType: string(c.Type),
		Category:   string(c.Category),
		ChoiceID:   c.ChoiceID,
		Slot:       c.Slot,
	}
}

// View is the derived draft state for one team.
type View struct {
	Session          Session  `json:"session"`
	Status           string   `json:"status"`
	State            string   `json:"state"`
	Phase            string   `json:"phase,omitempty"`
	PhaseTitle       string   `json:"phase_title,omitempty"`
	PhaseDescription string   `json:"phase_description,omitempty"`
	TurnIndex        int      `json:"turn_index"`
	Slot             int      `json:"slot"`
	ActiveTeam       int      `json:"active_team,omitempty"`
	PickOrder        []int    `json:"pick_order,omitempty"`
	Done             int      `json:"done"`
	Expected         int      `json:"expected"`
	MayAct           bool     `json:"may_act"`
	Available        []string `json:"available,omitempty"`
	Actions          []Action `json:"actions"`
}

type CatalogItem struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Name        string `json:"name"`
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
}

// Server -> client websocket message types.
const (
	MsgResync         = "Resync"
	MsgActionInserted = "ActionInserted"
	MsgActionUpdated  = "ActionUpdated"
	MsgActionDeleted  = "ActionDeleted"
	MsgSessionUpdated = "SessionUpdated"
	MsgError          = "Error"
)

// Client -> server websocket message types.
const (
	MsgPing          = "Ping"
	MsgRequestResync = "RequestResync"
)

type ClientMessage struct {
	Type string `json:"type"`
}

type ServerMessage struct {
	Type     string    `json:"type"`
	Version  int       `json:"version,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Action   *Action   `json:"action,omitempty"`
	Session  *Session  `json:"session,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type ErrorResponse struct {
	Type  string `json:"type"` // always "Error"
	Code  string `json:"code"`
	Error string `json:"error"`
}

var errorCodes = []struct {
	code string
	err  error
}{
	{"not_found", engine.ErrNotFound},
	{"out_of_turn", engine.ErrOutOfTurn},
	{"duplicate_turn", engine.ErrDuplicateTurn},
	{"session_closed", engine.ErrSessionClosed},
	{"invalid_config", engine.ErrInvalidConfig},
	{"unavailable", engine.ErrUnavailable},
	{"already_joined", engine.ErrAlreadyJoined},
	{"session_locked", engine.ErrSessionLocked},
	{"connection_lost", engine.ErrConnectionLost},
}

// ErrorCode names the sentinel err wraps, or "internal".
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}

// CodeError maps a wire code back to its sentinel, or nil when unknown.
func CodeError(code string) error {
	for _, e := range errorCodes {
		if e.code == code {
			return e.err
		}
	}
	return nil
}
