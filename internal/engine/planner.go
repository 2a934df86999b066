package engine

import (
	"slices"
	"sync"
)

type flowKey struct {
	mode     TeamMode
	souvenir bool
}

var flowCache sync.Map // flowKey -> []PhaseID

// ComputeSequence returns one entry per expected action, in draft order.
// Index i of the result is the phase of turn slot i.
func ComputeSequence(s Session) []PhaseID {
	key := flowKey{mode: s.TeamMode, souvenir: s.EnableSouvenirBan}
	if seq, ok := flowCache.Load(key); ok {
		return slices.Clone(seq.([]PhaseID))
	}
	var seq []PhaseID
	for _, id := range Stages(s) {
		for range PickOrder(id, s) {
			seq = append(seq, id)
		}
	}
	flowCache.Store(key, seq)
	return slices.Clone(seq)
}

// Stages lists the distinct phases the session goes through.
func Stages(s Session) []PhaseID {
	stages := make([]PhaseID, 0, len(AllPhases))
	for _, id := range AllPhases {
		if id.IsSouvenir() && !s.EnableSouvenirBan {
			continue
		}
		stages = append(stages, id)
	}
	return stages
}

// ExpectedActions is the closed-form length of ComputeSequence.
func ExpectedActions(s Session) int {
	n := s.TeamMode.PicksPerTeam()
	total := 2*bansPerTeam + 2*bansPerTeam + 2*n + 2*n
	if s.EnableSouvenirBan {
		total += 2 * souvenirRoundSize
	}
	return total
}

// NextPhase returns the stage after current, or PhaseNone when the draft
// is complete or current is not part of the session.
func NextPhase(current PhaseID, s Session) PhaseID {
	stages := Stages(s)
	i := slices.Index(stages, current)
	if i < 0 || i == len(stages)-1 {
		return PhaseNone
	}
	return stages[i+1]
}

// PreviousPhase returns the stage before current, or PhaseNone.
func PreviousPhase(current PhaseID, s Session) PhaseID {
	stages := Stages(s)
	i := slices.Index(stages, current)
	if i <= 0 {
		return PhaseNone
	}
	return stages[i-1]
}

// SlotTurn maps a global slot to its phase and index within that phase.
// Slots past the end map to PhaseNone.
func SlotTurn(s Session, slot int) Turn {
	seq := ComputeSequence(s)
	if slot < 0 || slot >= len(seq) {
		return Turn{Phase: PhaseNone, Index: slot, Slot: slot}
	}
	id := seq[slot]
	first := slices.Index(seq, id)
	return Turn{Phase: id, Index: slot - first, Slot: slot}
}
