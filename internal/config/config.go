// Package config reads process configuration from the environment, with an
// optional .env file loaded first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreSQLite   StoreKind = "sqlite"
	StorePostgres StoreKind = "postgres"
)

type Server struct {
	HTTPAddr         string    `env:"DRAFT_HTTP_ADDR" envDefault:":8080"`
	Store            StoreKind `env:"DRAFT_STORE" envDefault:"memory"`
	SQLitePath       string    `env:"DRAFT_SQLITE_PATH" envDefault:"draft.db"`
	PostgresDSN      string    `env:"DRAFT_POSTGRES_DSN"`
	CatalogPath      string    `env:"DRAFT_CATALOG_PATH"`
	LogDev           bool      `env:"DRAFT_LOG_DEV" envDefault:"false"`
	SubscriberBuffer int       `env:"DRAFT_SUBSCRIBER_BUFFER" envDefault:"16"`
}

func (c Server) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("DRAFT_SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("DRAFT_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown DRAFT_STORE %q", c.Store)
	}
	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("DRAFT_SUBSCRIBER_BUFFER must be positive, got %d", c.SubscriberBuffer)
	}
	return nil
}

// Client configures a headless participant. Team is 1 or 2; zero watches
// as a spectator.
type Client struct {
	ServerURL   string `env:"DRAFT_SERVER_URL" envDefault:"http://localhost:8080"`
	SessionID   string `env:"DRAFT_SESSION_ID"`
	Team        int    `env:"DRAFT_TEAM" envDefault:"0"`
	TeamName    string `env:"DRAFT_TEAM_NAME"`
	AutoReady   bool   `env:"DRAFT_AUTO_READY" envDefault:"false"`
	CatalogPath string `env:"DRAFT_CATALOG_PATH"`
	LogDev      bool   `env:"DRAFT_LOG_DEV" envDefault:"false"`
}

func (c Client) Validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return errors.New("DRAFT_SESSION_ID is required")
	}
	if c.Team < 0 || c.Team > 2 {
		return fmt.Errorf("DRAFT_TEAM must be 0, 1 or 2, got %d", c.Team)
	}
	return nil
}

// LoadDotEnv loads path into the environment without overriding variables
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadServer() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func LoadClient() (Client, error) {
	var cfg Client
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
