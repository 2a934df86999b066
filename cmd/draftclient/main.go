// Command draftclient is a headless draft participant. It joins and readies
// a team if asked, follows the session feed, lets the turn timer auto-select,
// and prints the summary when the draft completes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/civ-draft-backend/internal/catalog"
	"github.com/DoyleJ11/civ-draft-backend/internal/client"
	"github.com/DoyleJ11/civ-draft-backend/internal/config"
	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/participant"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var log *zap.Logger
	if cfg.LogDev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cfg, log)
	if err != nil {
		log.Fatal("client stopped", zap.Error(err))
	}
	if summary != "" {
		fmt.Print(summary)
	}
}

// run participates until the draft completes or ctx ends. It returns the
// summary export when the draft completed.
func run(ctx context.Context, cfg config.Client, log *zap.Logger) (string, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return "", err
	}
	c, err := client.New(cfg.ServerURL, client.WithLogger(log))
	if err != nil {
		return "", err
	}
	team := engine.Team(cfg.Team)
	if err := prepare(ctx, c, cfg, team); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	completed := make(chan struct{}, 1)
	var last participant.View
	eng := participant.New(c, participant.Config{
		SessionID: cfg.SessionID,
		Team:      team,
		Catalog:   cat,
		Log:       log,
		OnChange: func(v participant.View) {
			logChange(log, last, v)
			last = v
			if v.Progress.State == engine.StateDraftComplete {
				select {
				case completed <- struct{}{}:
				default:
				}
			}
		},
	})

	var summary string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-completed:
		}
		text, err := c.Summary(gctx, cfg.SessionID)
		if err != nil {
			return err
		}
		summary = text
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return summary, nil
}

// prepare claims team 2's name and the ready flag as configured.
func prepare(ctx context.Context, c *client.Client, cfg config.Client, team engine.Team) error {
	if team == engine.Team2 && cfg.TeamName != "" {
		_, err := c.Join(ctx, cfg.SessionID, cfg.TeamName)
		if err != nil && !errors.Is(err, engine.ErrAlreadyJoined) {
			return fmt.Errorf("join: %w", err)
		}
	}
	if cfg.AutoReady && team.Valid() {
		if _, err := c.Ready(ctx, cfg.SessionID, team, true); err != nil && !errors.Is(err, engine.ErrSessionLocked) {
			return fmt.Errorf("ready: %w", err)
		}
	}
	return nil
}

func logChange(log *zap.Logger, prev, v participant.View) {
	if prev.Connection != v.Connection {
		log.Info("connection", zap.String("status", string(v.Connection)))
	}
	if prev.Progress.State == v.Progress.State && prev.Progress.Slot == v.Progress.Slot && prev.Synced == v.Synced {
		return
	}
	fields := []zap.Field{
		zap.String("state", string(v.Progress.State)),
		zap.Int("slot", v.Progress.Slot),
		zap.Int("done", v.Progress.Done),
		zap.Int("expected", v.Progress.Expected),
	}
	if v.Progress.State == engine.StatePhaseActive {
		fields = append(fields,
			zap.String("phase", string(v.Progress.Phase)),
			zap.Int("active_team", int(v.Progress.ActiveTeam)),
			zap.Bool("my_turn", v.MayAct),
			zap.Int("available", len(v.Available)))
	}
	log.Info("draft state", fields...)
}
