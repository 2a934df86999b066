// Package postgres is the GORM-backed ledger store for shared deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type Config struct {
	DSN      string
	MaxConns int
	LogLevel logger.LogLevel
}

type Store struct {
	DB *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects, sizes the pool and runs migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{DB: db}, nil
}

func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_drafts_and_actions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Draft{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&DraftAction{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("draft_actions", "drafts")
			},
		},
	})
	return m.Migrate()
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateSession(ctx context.Context, sess engine.Session) (engine.Session, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	row := draftFromSession(sess)
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return engine.Session{}, fmt.Errorf("insert draft: %w", err)
	}
	return row.session(), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (engine.Session, error) {
	var row Draft
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Session{}, fmt.Errorf("%w: session %q", engine.ErrNotFound, id)
	}
	if err != nil {
		return engine.Session{}, fmt.Errorf("get draft: %w", err)
	}
	return row.session(), nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, p engine.Patch) (engine.Session, error) {
	updates := map[string]any{}
	if p.Team2Name != nil {
		updates["team2_name"] = *p.Team2Name
	}
	if p.Team1Ready != nil {
		updates["team1_ready"] = *p.Team1Ready
	}
	if p.Team2Ready != nil {
		updates["team2_ready"] = *p.Team2Ready
	}
	if len(updates) == 0 {
		return s.GetSession(ctx, id)
	}

	res := s.DB.WithContext(ctx).Model(&Draft{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return engine.Session{}, fmt.Errorf("update draft: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return engine.Session{}, fmt.Errorf("%w: session %q", engine.ErrNotFound, id)
	}
	return s.GetSession(ctx, id)
}

func (s *Store) AppendAction(ctx context.Context, a engine.Action) (engine.Action, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.CreatedAt = a.CreatedAt.UTC().Truncate(time.Microsecond)

	row := rowFromAction(a)
	err := s.DB.WithContext(ctx).Omit("Draft").Create(&row).Error
	switch {
	case pgCode(err) == pgUniqueViolation:
		return engine.Action{}, fmt.Errorf("%w: slot %d", engine.ErrDuplicateTurn, a.Slot)
	case pgCode(err) == pgForeignKeyViolation:
		return engine.Action{}, fmt.Errorf("%w: session %q", engine.ErrNotFound, a.SessionID)
	case err != nil:
		return engine.Action{}, fmt.Errorf("append action: %w", err)
	}
	a.Seq = row.Seq
	return a, nil
}

func (s *Store) ListActions(ctx context.Context, sessionID string) ([]engine.Action, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	var rows []DraftAction
	err := s.DB.WithContext(ctx).
		Where("draft_id = ?", sessionID).
		Order("created_at ASC, seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	out := make([]engine.Action, 0, len(rows))
	for _, r := range rows {
		a, err := r.action()
		if err != nil {
			return nil, fmt.Errorf("decode action %s: %w", r.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
