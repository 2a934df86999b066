package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Store != StoreMemory || cfg.SubscriberBuffer != 16 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("DRAFT_STORE", "sqlite")
	t.Setenv("DRAFT_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("DRAFT_LOG_DEV", "true")
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreSQLite || cfg.SQLitePath != "/tmp/x.db" || !cfg.LogDev {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestServerValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Server
		ok   bool
	}{
		{"memory", Server{Store: StoreMemory, SubscriberBuffer: 1}, true},
		{"postgres without dsn", Server{Store: StorePostgres, SubscriberBuffer: 1}, false},
		{"postgres", Server{Store: StorePostgres, PostgresDSN: "postgres://x", SubscriberBuffer: 1}, true},
		{"sqlite without path", Server{Store: StoreSQLite, SubscriberBuffer: 1}, false},
		{"unknown store", Server{Store: "redis", SubscriberBuffer: 1}, false},
		{"zero buffer", Server{Store: StoreMemory}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("DRAFT_SUBSCRIBER_BUFFER", "lots")
	_, err := LoadServer()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestLoadClient(t *testing.T) {
	if _, err := LoadClient(); err == nil {
		t.Fatal("expected missing session id error")
	}
	t.Setenv("DRAFT_SESSION_ID", "d1")
	t.Setenv("DRAFT_TEAM", "3")
	if _, err := LoadClient(); err == nil {
		t.Fatal("expected bad team error")
	}
	t.Setenv("DRAFT_TEAM", "2")
	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Team != 2 || cfg.ServerURL != "http://localhost:8080" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DRAFT_TEST_DOTENV=from-file\nDRAFT_HTTP_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DRAFT_HTTP_ADDR", ":7000")
	t.Cleanup(func() { os.Unsetenv("DRAFT_TEST_DOTENV") })
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("DRAFT_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("DRAFT_HTTP_ADDR"); got != ":7000" {
		t.Fatalf("existing env should win, got %q", got)
	}
}
