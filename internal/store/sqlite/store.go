// Package sqlite is a single-file ledger store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; appends race on the unique index, not on the pool.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := sqlDB.Exec(stmt); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) CreateSession(ctx context.Context, sess engine.Session) (engine.Session, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	civs, err := encodeIDs(sess.AutoBanCivilizations)
	if err != nil {
		return engine.Session{}, err
	}
	leaders, err := encodeIDs(sess.AutoBanLeaders)
	if err != nil {
		return engine.Session{}, err
	}
	souvenirs, err := encodeIDs(sess.AutoBanSouvenirs)
	if err != nil {
		return engine.Session{}, err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO drafts (id, team_mode, enable_souvenir_ban, timer_seconds, team1_name, team2_name,
    team1_ready, team2_ready, auto_ban_civilizations, auto_ban_leaders, auto_ban_souvenirs, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.TeamMode), sess.EnableSouvenirBan, sess.TimerSeconds, sess.Team1Name, sess.Team2Name,
		sess.Team1Ready, sess.Team2Ready, civs, leaders, souvenirs, toMillis(sess.CreatedAt))
	if err != nil {
		return engine.Session{}, fmt.Errorf("insert draft: %w", err)
	}
	return s.GetSession(ctx, sess.ID)
}

func (s *Store) GetSession(ctx context.Context, id string) (engine.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, team_mode, enable_souvenir_ban, timer_seconds, team1_name, team2_name, team1_ready, team2_ready,
    auto_ban_civilizations, auto_ban_leaders, auto_ban_souvenirs, created_at
FROM drafts WHERE id = ?`, id)

	var (
		sess                     engine.Session
		mode                     string
		civs, leaders, souvenirs string
		createdAt                int64
	)
	err := row.Scan(&sess.ID, &mode, &sess.EnableSouvenirBan, &sess.TimerSeconds, &sess.Team1Name, &sess.Team2Name,
		&sess.Team1Ready, &sess.Team2Ready, &civs, &leaders, &souvenirs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Session{}, fmt.Errorf("%w: session %q", engine.ErrNotFound, id)
	}
	if err != nil {
		return engine.Session{}, fmt.Errorf("get draft: %w", err)
	}
	sess.TeamMode = engine.TeamMode(mode)
	sess.CreatedAt = fromMillis(createdAt)
	if sess.AutoBanCivilizations, err = decodeIDs(civs); err != nil {
		return engine.Session{}, err
	}
	if sess.AutoBanLeaders, err = decodeIDs(leaders); err != nil {
		return engine.Session{}, err
	}
	if sess.AutoBanSouvenirs, err = decodeIDs(souvenirs); err != nil {
		return engine.Session{}, err
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, p engine.Patch) (engine.Session, error) {
	var (
		sets []string
		args []any
	)
	if p.Team2Name != nil {
		sets = append(sets, "team2_name = ?")
		args = append(args, *p.Team2Name)
	}
	if p.Team1Ready != nil {
		sets = append(sets, "team1_ready = ?")
		args = append(args, *p.Team1Ready)
	}
	if p.Team2Ready != nil {
		sets = append(sets, "team2_ready = ?")
		args = append(args, *p.Team2Ready)
	}
	if len(sets) == 0 {
		return s.GetSession(ctx, id)
	}

	args = append(args, id)
	res, err := s.sqlDB.ExecContext(ctx, "UPDATE drafts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return engine.Session{}, fmt.Errorf("update draft: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return engine.Session{}, fmt.Errorf("%w: session %q", engine.ErrNotFound, id)
	}
	return s.GetSession(ctx, id)
}

func (s *Store) AppendAction(ctx context.Context, a engine.Action) (engine.Action, error) {
	if err := ctx.Err(); err != nil {
		return engine.Action{}, err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.CreatedAt = a.CreatedAt.UTC().Truncate(time.Millisecond)

	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO draft_actions (id, draft_id, action_type, team_number, category, choice_id, slot, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, string(a.Move.Type()), int(a.Team), string(a.Move.Category()), a.Move.Choice(), a.Slot, toMillis(a.CreatedAt))
	if err != nil {
		switch {
		case isForeignKeyError(err):
			return engine.Action{}, fmt.Errorf("%w: session %q", engine.ErrNotFound, a.SessionID)
		case isUniqueError(err):
			return engine.Action{}, fmt.Errorf("%w: slot %d", engine.ErrDuplicateTurn, a.Slot)
		}
		return engine.Action{}, fmt.Errorf("append action: %w", err)
	}
	if a.Seq, err = res.LastInsertId(); err != nil {
		return engine.Action{}, fmt.Errorf("append action: %w", err)
	}
	return a, nil
}

func (s *Store) ListActions(ctx context.Context, sessionID string) ([]engine.Action, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT seq, id, action_type, team_number, category, choice_id, slot, created_at
FROM draft_actions WHERE draft_id = ? ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []engine.Action
	for rows.Next() {
		var (
			a                          engine.Action
			actionType, category, item string
			team                       int
			createdAt                  int64
		)
		if err := rows.Scan(&a.Seq, &a.ID, &actionType, &team, &category, &item, &a.Slot, &createdAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		move, err := engine.NewMove(engine.ActionType(actionType), engine.Category(category), item)
		if err != nil {
			return nil, fmt.Errorf("decode action %s: %w", a.ID, err)
		}
		a.SessionID = sessionID
		a.Team = engine.Team(team)
		a.Move = move
		a.CreatedAt = fromMillis(createdAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}
	return out, nil
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode ids: %w", err)
	}
	return string(b), nil
}

func decodeIDs(raw string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// isUniqueError reports a UNIQUE or PRIMARY KEY violation. CHECK and NOT
// NULL failures are bugs, not lost races.
func isUniqueError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isForeignKeyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}
