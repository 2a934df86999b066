package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
)

// Summary renders a finished (or in-progress) draft as plain text.
func (s *Service) Summary(ctx context.Context, id string) (string, error) {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return "", err
	}
	return RenderSummary(snap, s.cat, s.now().Format("2006-01-02")), nil
}

// RenderSummary lists teams, settings, auto-bans, then each team's picks and
// bans by category.
func RenderSummary(snap Snapshot, cat Catalog, date string) string {
	sess := snap.Session
	names := func(ids []string) string {
		if len(ids) == 0 {
			return "None"
		}
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = cat.Name(id)
		}
		return strings.Join(out, ", ")
	}
	choices := func(team engine.Team, t engine.ActionType, c engine.Category) []string {
		var ids []string
		for _, a := range snap.Actions {
			if a.Team == team && a.Move.Type() == t && a.Move.Category() == c {
				ids = append(ids, a.Move.Choice())
			}
		}
		return ids
	}
	team2 := sess.Team2Name
	if team2 == "" {
		team2 = "(waiting)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Draft Summary - %s\n\n", date)
	fmt.Fprintf(&b, "Teams: %s vs %s\n", sess.Team1Name, team2)
	fmt.Fprintf(&b, "Mode: %s\n", sess.TeamMode)
	fmt.Fprintf(&b, "Timer: %d seconds\n", sess.TimerSeconds)
	if sess.EnableSouvenirBan {
		b.WriteString("Souvenir bans: enabled\n")
	}

	b.WriteString("\nAuto-Bans:\n")
	fmt.Fprintf(&b, "Civilizations: %s\n", names(sess.AutoBanCivilizations))
	fmt.Fprintf(&b, "Leaders: %s\n", names(sess.AutoBanLeaders))
	if sess.EnableSouvenirBan {
		fmt.Fprintf(&b, "Souvenirs: %s\n", names(sess.AutoBanSouvenirs))
	}

	for _, team := range []engine.Team{engine.Team1, engine.Team2} {
		fmt.Fprintf(&b, "\nTeam %d (%s) Picks:\n", team, orWaiting(sess.TeamName(team)))
		fmt.Fprintf(&b, "Civilizations: %s\n", names(choices(team, engine.ActionPick, engine.CategoryCiv)))
		fmt.Fprintf(&b, "Leaders: %s\n", names(choices(team, engine.ActionPick, engine.CategoryLeader)))

		fmt.Fprintf(&b, "\nTeam %d (%s) Bans:\n", team, orWaiting(sess.TeamName(team)))
		fmt.Fprintf(&b, "Civilizations: %s\n", names(choices(team, engine.ActionBan, engine.CategoryCiv)))
		fmt.Fprintf(&b, "Leaders: %s\n", names(choices(team, engine.ActionBan, engine.CategoryLeader)))
		if sess.EnableSouvenirBan {
			fmt.Fprintf(&b, "Souvenirs: %s\n", names(choices(team, engine.ActionBan, engine.CategorySouvenir)))
		}
	}
	return b.String()
}

func orWaiting(name string) string {
	if name == "" {
		return "waiting"
	}
	return name
}
