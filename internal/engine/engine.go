package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var ErrNotFound = errors.New("not found")
var ErrOutOfTurn = errors.New("out of turn")
var ErrDuplicateTurn = errors.New("turn already taken")
var ErrSessionClosed = errors.New("draft already completed")
var ErrConnectionLost = errors.New("connection lost")
var ErrInvalidConfig = errors.New("invalid config")
var ErrUnavailable = errors.New("item not available")
var ErrAlreadyJoined = errors.New("team 2 already joined")
var ErrSessionLocked = errors.New("session locked")

type Team int

const (
	Team1 Team = 1
	Team2 Team = 2
)

func (t Team) Valid() bool { return t == Team1 || t == Team2 }

func (t Team) Other() Team {
	if t == Team1 {
		return Team2
	}
	return Team1
}

type Category string

const (
	CategoryCiv      Category = "civ"
	CategoryLeader   Category = "leader"
	CategorySouvenir Category = "souvenir"
)

var Categories = []Category{CategoryCiv, CategoryLeader, CategorySouvenir}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !slices.Contains(Categories, c) {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidConfig, s)
	}
	return c, nil
}

type ActionType string

const (
	ActionBan  ActionType = "ban"
	ActionPick ActionType = "pick"
)

// Move is the tagged variant carried by every ledger entry: Ban | Pick.
type Move interface {
	Type() ActionType
	Category() Category
	Choice() string
	isMove()
}

type Ban struct {
	Cat  Category
	Item string
}

func (Ban) isMove()              {}
func (Ban) Type() ActionType     { return ActionBan }
func (b Ban) Category() Category { return b.Cat }
func (b Ban) Choice() string     { return b.Item }

type Pick struct {
	Cat  Category
	Item string
}

func (Pick) isMove()              {}
func (Pick) Type() ActionType     { return ActionPick }
func (p Pick) Category() Category { return p.Cat }
func (p Pick) Choice() string     { return p.Item }

// NewMove rebuilds a Move from its persisted columns.
func NewMove(t ActionType, c Category, choice string) (Move, error) {
	if _, err := ParseCategory(string(c)); err != nil {
		return nil, err
	}
	switch t {
	case ActionBan:
		return Ban{Cat: c, Item: choice}, nil
	case ActionPick:
		if c == CategorySouvenir {
			return nil, fmt.Errorf("%w: souvenirs cannot be picked", ErrInvalidConfig)
		}
		return Pick{Cat: c, Item: choice}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidConfig, t)
	}
}

// Action is one committed ledger entry. Slot is the global turn index the
// action filled; Seq is the storage insertion order used as a tiebreak.
type Action struct {
	ID        string
	SessionID string
	Team      Team
	Move      Move
	Slot      int
	Seq       int64
	CreatedAt time.Time
}

// Command is a request to fill the turn at Slot.
type Command struct {
	Team     Team
	Type     ActionType
	Category Category
	ChoiceID string
	Slot     int
}

// Apply validates cmd against the session, the current ledger and the
// catalog, and returns the action to append. It never mutates its inputs.
func Apply(s Session, log []Action, cat Catalog, cmd Command) (Action, error) {
	if !cmd.Team.Valid() {
		return Action{}, fmt.Errorf("%w: unknown team %d", ErrOutOfTurn, cmd.Team)
	}
	move, err := NewMove(cmd.Type, cmd.Category, cmd.ChoiceID)
	if err != nil {
		return Action{}, err
	}

	p := Derive(s, log)
	switch p.State {
	case StateAwaitingReady:
		return Action{}, fmt.Errorf("%w: draft has not started", ErrOutOfTurn)
	case StateDraftComplete:
		// A racer for the final slot lost the turn; it did not miss the draft.
		if cmd.Slot < p.Slot {
			return Action{}, fmt.Errorf("%w: slot %d", ErrDuplicateTurn, cmd.Slot)
		}
		return Action{}, ErrSessionClosed
	}

	if cmd.Slot < p.Slot {
		return Action{}, fmt.Errorf("%w: slot %d", ErrDuplicateTurn, cmd.Slot)
	}
	if cmd.Slot > p.Slot {
		return Action{}, fmt.Errorf("%w: slot %d has not opened (current %d)", ErrOutOfTurn, cmd.Slot, p.Slot)
	}

	// Turn must match team, action type and category.
	phase := PhaseFor(p.Phase)
	if cmd.Team != p.ActiveTeam || move.Type() != phase.Type || move.Category() != phase.Category {
		return Action{}, fmt.Errorf("%w: slot %d belongs to team %d (%s %s)", ErrOutOfTurn, p.Slot, p.ActiveTeam, phase.Type, phase.Category)
	}

	if !slices.Contains(Available(s, log, cat, move.Category()), cmd.ChoiceID) {
		if !slices.Contains(cat.IDs(move.Category()), cmd.ChoiceID) {
			return Action{}, fmt.Errorf("%w: %s %q", ErrNotFound, move.Category(), cmd.ChoiceID)
		}
		return Action{}, fmt.Errorf("%w: %q", ErrUnavailable, cmd.ChoiceID)
	}

	return Action{
		SessionID: s.ID,
		Team:      cmd.Team,
		Move:      move,
		Slot:      p.Slot,
	}, nil
}
