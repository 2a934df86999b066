package engine

import (
	"slices"
)

type State string

const (
	StateAwaitingReady State = "awaiting-ready"
	StatePhaseActive   State = "phase-active"
	StatePhaseComplete State = "phase-complete"
	StateDraftComplete State = "draft-complete"
)

// Progress is everything derived from a session and its ledger snapshot.
type Progress struct {
	State      State
	Phase      PhaseID
	TurnIndex  int
	Slot       int
	ActiveTeam Team
	PickOrder  []Team
	Done       int
	Expected   int
}

// Turn identifies one turn slot.
type Turn struct {
	Phase PhaseID
	Index int
	Slot  int
}

func (p Progress) Turn() Turn {
	return Turn{Phase: p.Phase, Index: p.TurnIndex, Slot: p.Slot}
}

// MayAct reports whether a client claiming team can submit now.
func (p Progress) MayAct(team Team) bool {
	return p.State == StatePhaseActive && p.ActiveTeam == team
}

// SortActions orders actions by creation time, then storage sequence, then id,
// dropping duplicate ids. The input is not modified.
func SortActions(log []Action) []Action {
	out := slices.Clone(log)
	slices.SortStableFunc(out, func(a, b Action) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.Seq != b.Seq {
			if a.Seq < b.Seq {
				return -1
			}
			return 1
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	seen := make(map[string]bool, len(out))
	return slices.DeleteFunc(out, func(a Action) bool {
		if a.ID == "" {
			return false
		}
		if seen[a.ID] {
			return true
		}
		seen[a.ID] = true
		return false
	})
}

// SouvenirRound maps the i-th souvenir ban of a session (0-based, creation
// order) to the round it belongs to.
func SouvenirRound(i int) PhaseID {
	if i < souvenirRoundSize {
		return PhaseBanSouvenir1
	}
	return PhaseBanSouvenir2
}

func matches(m Move, ph Phase) bool {
	switch mv := m.(type) {
	case Ban:
		return ph.Type == ActionBan && mv.Cat == ph.Category
	case Pick:
		return ph.Type == ActionPick && mv.Cat == ph.Category
	default:
		return false
	}
}

// PhaseActions returns the actions of a sorted log that belong to phase id.
// Souvenir bans are assigned to a round by their position among all
// souvenir bans, never by a stored tag.
func PhaseActions(s Session, sorted []Action, id PhaseID) []Action {
	if id.IsSouvenir() && !s.EnableSouvenirBan {
		return nil
	}
	ph := PhaseFor(id)
	var out []Action
	souvenirIdx := 0
	for _, a := range sorted {
		if !matches(a.Move, ph) {
			continue
		}
		if id.IsSouvenir() {
			round := SouvenirRound(souvenirIdx)
			souvenirIdx++
			if round != id {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// Derive recomputes the draft position from scratch. It is a pure function
// of its inputs; callers recompute it on every ledger change.
func Derive(s Session, log []Action) Progress {
	total := ExpectedActions(s)
	if !s.Started() {
		return Progress{State: StateAwaitingReady, Expected: total}
	}
	sorted := SortActions(log)
	slot := 0
	done := 0
	for _, id := range Stages(s) {
		order := PickOrder(id, s)
		n := min(len(PhaseActions(s, sorted, id)), len(order))
		if n < len(order) {
			return Progress{
				State:      StatePhaseActive,
				Phase:      id,
				TurnIndex:  n,
				Slot:       slot + n,
				ActiveTeam: order[n],
				PickOrder:  order,
				Done:       done + n,
				Expected:   total,
			}
		}
		slot += len(order)
		done += n
	}
	return Progress{State: StateDraftComplete, Slot: slot, Done: done, Expected: total}
}
