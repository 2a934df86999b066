package engine

import "fmt"

type PhaseID string

const (
	PhaseBanCiv       PhaseID = "ban-civ"
	PhaseBanLeader    PhaseID = "ban-leader"
	PhaseBanSouvenir1 PhaseID = "ban-souvenir-1"
	PhasePickCiv      PhaseID = "pick-civ"
	PhasePickLeader   PhaseID = "pick-leader"
	PhaseBanSouvenir2 PhaseID = "ban-souvenir-2"
	PhaseNone         PhaseID = ""
)

// AllPhases is the fixed stage order before any session filtering.
var AllPhases = []PhaseID{
	PhaseBanCiv,
	PhaseBanLeader,
	PhaseBanSouvenir1,
	PhasePickCiv,
	PhasePickLeader,
	PhaseBanSouvenir2,
}

type Phase struct {
	ID          PhaseID
	Type        ActionType
	Category    Category
	Template    []Team
	Title       string
	Description string
}

// Each ban round has two bans per team.
const bansPerTeam = 2

// souvenirRoundSize is how many souvenir bans belong to the first round.
const souvenirRoundSize = 2 * bansPerTeam

var phaseTable = map[PhaseID]Phase{
	PhaseBanCiv: {
		ID: PhaseBanCiv, Type: ActionBan, Category: CategoryCiv,
		Template:    []Team{Team1, Team2},
		Title:       "Ban Civilizations",
		Description: "Each team bans civilizations they don't want their opponents to use",
	},
	PhaseBanLeader: {
		ID: PhaseBanLeader, Type: ActionBan, Category: CategoryLeader,
		Template:    []Team{Team2, Team1},
		Title:       "Ban Leaders",
		Description: "Each team bans leaders",
	},
	PhaseBanSouvenir1: {
		ID: PhaseBanSouvenir1, Type: ActionBan, Category: CategorySouvenir,
		Template:    []Team{Team1, Team2},
		Title:       "First Memento Ban Phase",
		Description: "Ban powerful mementos in the first round",
	},
	PhasePickCiv: {
		ID: PhasePickCiv, Type: ActionPick, Category: CategoryCiv,
		Title:       "Pick Civilizations",
		Description: "Choose your civilizations for the match. Banned civilizations are excluded",
	},
	PhasePickLeader: {
		ID: PhasePickLeader, Type: ActionPick, Category: CategoryLeader,
		Title:       "Pick Leaders",
		Description: "Choose your leaders",
	},
	PhaseBanSouvenir2: {
		ID: PhaseBanSouvenir2, Type: ActionBan, Category: CategorySouvenir,
		Template:    []Team{Team1, Team2},
		Title:       "Final Memento Ban Phase",
		Description: "Ban remaining mementos in the final round",
	},
}

// Snake orders for pick phases. pick-leader 3v3 starts with team 2.
var pickOrders = map[PhaseID]map[TeamMode][]Team{
	PhasePickCiv: {
		Mode2v2: {Team1, Team2, Team2, Team1},
		Mode3v3: {Team1, Team2, Team2, Team1, Team1, Team2},
		Mode4v4: {Team1, Team2, Team2, Team1, Team1, Team2, Team2, Team1},
	},
	PhasePickLeader: {
		Mode2v2: {Team1, Team2, Team2, Team1},
		Mode3v3: {Team2, Team1, Team1, Team2, Team2, Team1},
		Mode4v4: {Team1, Team2, Team2, Team1, Team1, Team2, Team2, Team1},
	},
}

func PhaseFor(id PhaseID) Phase {
	return phaseTable[id]
}

func ParsePhase(s string) (PhaseID, error) {
	id := PhaseID(s)
	if _, ok := phaseTable[id]; !ok {
		return PhaseNone, fmt.Errorf("%w: phase %q", ErrNotFound, s)
	}
	return id, nil
}

func (id PhaseID) IsSouvenir() bool {
	return id == PhaseBanSouvenir1 || id == PhaseBanSouvenir2
}

// PickOrder lists the team expected at each turn of the phase. Disabled
// souvenir rounds have an empty order.
func PickOrder(id PhaseID, s Session) []Team {
	if id.IsSouvenir() && !s.EnableSouvenirBan {
		return nil
	}
	if byMode, ok := pickOrders[id]; ok {
		mode := s.TeamMode
		if !mode.Valid() {
			mode = Mode2v2
		}
		return append([]Team(nil), byMode[mode]...)
	}
	tpl := phaseTable[id].Template
	if len(tpl) == 0 {
		return nil
	}
	order := make([]Team, 0, 2*bansPerTeam)
	for len(order) < 2*bansPerTeam {
		order = append(order, tpl...)
	}
	return order
}
