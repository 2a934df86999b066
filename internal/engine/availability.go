package engine

import (
	"math/rand/v2"
	"slices"
)

// Available lists the items of category c still selectable, in catalog
// order. Every ban and pick in the ledger removes its item for the rest of
// the session, as do the session's auto-bans.
func Available(s Session, log []Action, cat Catalog, c Category) []string {
	taken := make(map[string]bool, len(log))
	for _, a := range log {
		switch m := a.Move.(type) {
		case Ban:
			taken[m.Item] = true
		case Pick:
			taken[m.Item] = true
		}
	}
	for _, id := range s.AutoBans(c) {
		taken[id] = true
	}

	var out []string
	for _, id := range cat.IDs(c) {
		if !taken[id] {
			out = append(out, id)
		}
	}
	return out
}

// chooseRandom picks uniformly from ids. Tests stub it.
var chooseRandom = func(ids []string) string {
	return ids[rand.IntN(len(ids))]
}

// RandomChoice returns a uniformly random available item for the active
// phase, or false when nothing is left or the draft is not active.
func RandomChoice(s Session, log []Action, cat Catalog) (Command, bool) {
	p := Derive(s, log)
	if p.State != StatePhaseActive {
		return Command{}, false
	}
	ph := PhaseFor(p.Phase)
	avail := Available(s, log, cat, ph.Category)
	if len(avail) == 0 {
		return Command{}, false
	}
	choice := chooseRandom(slices.Clone(avail))
	return Command{
		Team:     p.ActiveTeam,
		Type:     ph.Type,
		Category: ph.Category,
		ChoiceID: choice,
		Slot:     p.Slot,
	}, true
}
