package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/civ-draft-backend/internal/catalog"
	"github.com/DoyleJ11/civ-draft-backend/internal/client"
	"github.com/DoyleJ11/civ-draft-backend/internal/config"
	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/httpapi"
	"github.com/DoyleJ11/civ-draft-backend/internal/hub"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/store/memory"
)

func newServer(t *testing.T) (*ledger.Service, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := zaptest.NewLogger(t)
	h := hub.NewHub(ctx, log)
	cat := catalog.Default()
	svc := ledger.New(memory.New(), cat, h, log)
	srv := httptest.NewServer(httpapi.SetupRoutes(httpapi.Deps{Service: svc, Catalog: cat, Hub: h, Log: log}))
	t.Cleanup(srv.Close)
	return svc, srv.URL
}

func TestPrepare_JoinsAndReadies(t *testing.T) {
	svc, url := newServer(t)
	ctx := context.Background()
	sess, err := svc.CreateSession(ctx, engine.Session{Team1Name: "Blue"})
	require.NoError(t, err)

	c, err := client.New(url)
	require.NoError(t, err)
	cfg := config.Client{SessionID: sess.ID, Team: 2, TeamName: "Red", AutoReady: true}
	require.NoError(t, prepare(ctx, c, cfg, engine.Team2))
	// Rerunning is harmless.
	require.NoError(t, prepare(ctx, c, cfg, engine.Team2))

	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Red", got.Team2Name)
	assert.True(t, got.Team2Ready)
	assert.False(t, got.Team1Ready)
}

func TestRun_PrintsSummaryWhenComplete(t *testing.T) {
	svc, url := newServer(t)
	ctx := context.Background()
	sess, err := svc.CreateSession(ctx, engine.Session{Team1Name: "Blue", TeamMode: engine.Mode2v2})
	require.NoError(t, err)
	_, err = svc.Join(ctx, sess.ID, "Red")
	require.NoError(t, err)
	_, err = svc.Ready(ctx, sess.ID, engine.Team1, true)
	require.NoError(t, err)
	_, err = svc.Ready(ctx, sess.ID, engine.Team2, true)
	require.NoError(t, err)
	for {
		snap, err := svc.Snapshot(ctx, sess.ID)
		require.NoError(t, err)
		cmd, ok := engine.RandomChoice(snap.Session, snap.Actions, catalog.Default())
		if !ok {
			break
		}
		_, err = svc.Append(ctx, sess.ID, cmd)
		require.NoError(t, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	summary, err := run(runCtx, config.Client{ServerURL: url, SessionID: sess.ID, Team: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, summary, "Teams: Blue vs Red")
	assert.Contains(t, summary, "Team 1 (Blue) Picks:")
}
