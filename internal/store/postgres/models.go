package postgres

import (
	"time"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
)

// Draft is the drafts table row.
type Draft struct {
	ID                   string   `gorm:"primaryKey;type:text"`
	TeamMode             string   `gorm:"type:text;not null;check:team_mode IN ('2v2', '3v3', '4v4')"`
	EnableSouvenirBan    bool     `gorm:"not null;default:false"`
	TimerSeconds         int      `gorm:"not null"`
	Team1Name            string   `gorm:"type:text;not null"`
	Team2Name            string   `gorm:"type:text;not null;default:''"`
	Team1Ready           bool     `gorm:"not null;default:false"`
	Team2Ready           bool     `gorm:"not null;default:false"`
	AutoBanCivilizations []string `gorm:"serializer:json;type:jsonb;not null"`
	AutoBanLeaders       []string `gorm:"serializer:json;type:jsonb;not null"`
	AutoBanSouvenirs     []string `gorm:"serializer:json;type:jsonb;not null"`
	CreatedAt            time.Time
}

func (Draft) TableName() string { return "drafts" }

// DraftAction is one ledger row. (draft_id, slot) is unique: that index is
// what arbitrates two clients racing for the same turn.
type DraftAction struct {
	Seq        int64     `gorm:"primaryKey;autoIncrement"`
	ID         string    `gorm:"type:text;uniqueIndex;not null"`
	DraftID    string    `gorm:"type:text;not null;uniqueIndex:idx_draft_actions_turn,priority:1;index:idx_draft_actions_order,priority:1"`
	Draft      *Draft    `gorm:"foreignKey:DraftID;constraint:OnDelete:CASCADE"`
	Slot       int       `gorm:"not null;uniqueIndex:idx_draft_actions_turn,priority:2"`
	ActionType string    `gorm:"type:text;not null;check:action_type IN ('ban', 'pick')"`
	TeamNumber int       `gorm:"not null;check:team_number IN (1, 2)"`
	Category   string    `gorm:"type:text;not null;check:category IN ('civ', 'leader', 'souvenir')"`
	ChoiceID   string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index:idx_draft_actions_order,priority:2"`
}

func (DraftAction) TableName() string { return "draft_actions" }

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func orNil(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func draftFromSession(s engine.Session) Draft {
	return Draft{
		ID:                   s.ID,
		TeamMode:             string(s.TeamMode),
		EnableSouvenirBan:    s.EnableSouvenirBan,
		TimerSeconds:         s.TimerSeconds,
		Team1Name:            s.Team1Name,
		Team2Name:            s.Team2Name,
		Team1Ready:           s.Team1Ready,
		Team2Ready:           s.Team2Ready,
		AutoBanCivilizations: nonNil(s.AutoBanCivilizations),
		AutoBanLeaders:       nonNil(s.AutoBanLeaders),
		AutoBanSouvenirs:     nonNil(s.AutoBanSouvenirs),
		CreatedAt:            s.CreatedAt,
	}
}

func (d Draft) session() engine.Session {
	return engine.Session{
		ID:                   d.ID,
		TeamMode:             engine.TeamMode(d.TeamMode),
		EnableSouvenirBan:    d.EnableSouvenirBan,
		TimerSeconds:         d.TimerSeconds,
		Team1Name:            d.Team1Name,
		Team2Name:            d.Team2Name,
		Team1Ready:           d.Team1Ready,
		Team2Ready:           d.Team2Ready,
		AutoBanCivilizations: orNil(d.AutoBanCivilizations),
		AutoBanLeaders:       orNil(d.AutoBanLeaders),
		AutoBanSouvenirs:     orNil(d.AutoBanSouvenirs),
		CreatedAt:            d.CreatedAt.UTC(),
	}
}

func rowFromAction(a engine.Action) DraftAction {
	return DraftAction{
		ID:         a.ID,
		DraftID:    a.SessionID,
		Slot:       a.Slot,
		ActionType: string(a.Move.Type()),
		TeamNumber: int(a.Team),
		Category:   string(a.Move.Category()),
		ChoiceID:   a.Move.Choice(),
		CreatedAt:  a.CreatedAt,
	}
}

func (r DraftAction) action() (engine.Action, error) {
	move, err := engine.NewMove(engine.ActionType(r.ActionType), engine.Category(r.Category), r.ChoiceID)
	if err != nil {
		return engine.Action{}, err
	}
	return engine.Action{
		ID:        r.ID,
		SessionID: r.DraftID,
		Team:      engine.Team(r.TeamNumber),
		Move:      move,
		Slot:      r.Slot,
		Seq:       r.Seq,
		CreatedAt: r.CreatedAt.UTC(),
	}, nil
}
