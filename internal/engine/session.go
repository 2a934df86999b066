package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type TeamMode string

const (
	Mode2v2 TeamMode = "2v2"
	Mode3v3 TeamMode = "3v3"
	Mode4v4 TeamMode = "4v4"
)

const (
	MinTimerSeconds     = 30
	MaxTimerSeconds     = 300
	DefaultTimerSeconds = 90
)

// PicksPerTeam is how many civilizations (and leaders) each team picks.
func (m TeamMode) PicksPerTeam() int {
	switch m {
	case Mode3v3:
		return 3
	case Mode4v4:
		return 4
	default:
		return 2
	}
}

func (m TeamMode) Valid() bool {
	return m == Mode2v2 || m == Mode3v3 || m == Mode4v4
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Catalog is the read-only item lookup the engine needs.
type Catalog interface {
	IDs(c Category) []string
}

type Session struct {
	ID                   string
	TeamMode             TeamMode
	EnableSouvenirBan    bool
	TimerSeconds         int
	Team1Name            string
	Team2Name            string
	Team1Ready           bool
	Team2Ready           bool
	AutoBanCivilizations []string
	AutoBanLeaders       []string
	AutoBanSouvenirs     []string
	CreatedAt            time.Time
}

func (s Session) Started() bool { return s.Team1Ready && s.Team2Ready }

func (s Session) TeamName(t Team) string {
	if t == Team2 {
		return s.Team2Name
	}
	return s.Team1Name
}

// AutoBans returns the configured auto-ban list for a category.
func (s Session) AutoBans(c Category) []string {
	switch c {
	case CategoryCiv:
		return s.AutoBanCivilizations
	case CategoryLeader:
		return s.AutoBanLeaders
	case CategorySouvenir:
		return s.AutoBanSouvenirs
	}
	return nil
}

// Validate checks a new session configuration. Zero TeamMode and
// TimerSeconds are filled with defaults first.
func (s *Session) Validate(cat Catalog) error {
	if s.TeamMode == "" {
		s.TeamMode = Mode2v2
	}
	if s.TimerSeconds == 0 {
		s.TimerSeconds = DefaultTimerSeconds
	}
	if !s.TeamMode.Valid() {
		return fmt.Errorf("%w: team mode %q", ErrInvalidConfig, s.TeamMode)
	}
	if s.TimerSeconds < MinTimerSeconds || s.TimerSeconds > MaxTimerSeconds {
		return fmt.Errorf("%w: timer must be between %d and %d seconds", ErrInvalidConfig, MinTimerSeconds, MaxTimerSeconds)
	}
	s.Team1Name = strings.TrimSpace(s.Team1Name)
	if s.Team1Name == "" {
		return fmt.Errorf("%w: team 1 name is required", ErrInvalidConfig)
	}
	for _, c := range Categories {
		known := cat.IDs(c)
		for _, id := range s.AutoBans(c) {
			if !slices.Contains(known, id) {
				return fmt.Errorf("%w: unknown %s %q in auto-bans", ErrInvalidConfig, c, id)
			}
		}
	}
	return nil
}

// Status is derived from the ready flags and the ledger.
func (s Session) Status(log []Action) Status {
	switch Derive(s, log).State {
	case StateAwaitingReady:
		return StatusPending
	case StateDraftComplete:
		return StatusCompleted
	default:
		return StatusActive
	}
}

// Patch is the only allowed shape of a session update.
type Patch struct {
	Team2Name  *string
	Team1Ready *bool
	Team2Ready *bool
}

// Join returns the patch for team 2 joining under name.
func (s Session) Join(name string) (Patch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Patch{}, fmt.Errorf("%w: team 2 name is required", ErrInvalidConfig)
	}
	if s.Team2Name != "" && s.Team2Name != name {
		return Patch{}, ErrAlreadyJoined
	}
	return Patch{Team2Name: &name}, nil
}

// SetReady returns the patch flipping team's own ready flag.
func (s Session) SetReady(team Team, ready bool) (Patch, error) {
	if s.Started() {
		return Patch{}, fmt.Errorf("%w: draft has started", ErrSessionLocked)
	}
	switch team {
	case Team1:
		return Patch{Team1Ready: &ready}, nil
	case Team2:
		if s.Team2Name == "" {
			return Patch{}, fmt.Errorf("%w: team 2 has not joined", ErrInvalidConfig)
		}
		return Patch{Team2Ready: &ready}, nil
	default:
		return Patch{}, fmt.Errorf("%w: unknown team %d", ErrInvalidConfig, team)
	}
}

// ApplyPatch copies the set fields of p onto s.
func (s Session) ApplyPatch(p Patch) Session {
	if p.Team2Name != nil {
		s.Team2Name = *p.Team2Name
	}
	if p.Team1Ready != nil {
		s.Team1Ready = *p.Team1Ready
	}
	if p.Team2Ready != nil {
		s.Team2Ready = *p.Team2Ready
	}
	return s
}
