package types

import (
	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
)

func FromView(v ledger.View) View {
	out := View{
		Session:   FromSession(v.Session),
		Status:    string(v.Status),
		State:     string(v.Progress.State),
		Phase:     string(v.Progress.Phase),
		TurnIndex: v.Progress.TurnIndex,
		Slot:      v.Progress.Slot,
		Done:      v.Progress.Done,
		Expected:  v.Progress.Expected,
		MayAct:    v.MayAct,
		Available: v.Available,
		Actions:   FromActions(v.Actions),
	}
	if v.Progress.State == engine.StatePhaseActive {
		out.ActiveTeam = int(v.Progress.ActiveTeam)
		out.PhaseTitle = v.Phase.Title
		out.PhaseDescription = v.Phase.Description
		out.PickOrder = make([]int, len(v.Progress.PickOrder))
		for i, t := range v.Progress.PickOrder {
			out.PickOrder[i] = int(t)
		}
	}
	return out
}

func FromSnapshot(s ledger.Snapshot) Snapshot {
	return Snapshot{Session: FromSession(s.Session), Actions: FromActions(s.Actions)}
}

// Ledger converts a wire snapshot back into engine values. Rows that fail
// to decode are reported, not skipped.
func (s Snapshot) Ledger() (ledger.Snapshot, error) {
	actions := make([]engine.Action, 0, len(s.Actions))
	for _, a := range s.Actions {
		ea, err := a.Engine()
		if err != nil {
			return ledger.Snapshot{}, err
		}
		actions = append(actions, ea)
	}
	return ledger.Snapshot{Session: s.Session.Engine(), Actions: actions}, nil
}
