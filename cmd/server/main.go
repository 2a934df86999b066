package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/civ-draft-backend/internal/catalog"
	"github.com/DoyleJ11/civ-draft-backend/internal/config"
	"github.com/DoyleJ11/civ-draft-backend/internal/httpapi"
	"github.com/DoyleJ11/civ-draft-backend/internal/hub"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
	"github.com/DoyleJ11/civ-draft-backend/internal/store/memory"
	"github.com/DoyleJ11/civ-draft-backend/internal/store/postgres"
	"github.com/DoyleJ11/civ-draft-backend/internal/store/sqlite"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := newLogger(cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, nil); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(cfg config.Server) (store.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.StorePostgres:
		return postgres.Open(postgres.Config{DSN: cfg.PostgresDSN})
	case config.StoreMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// run serves until ctx is done. ready, when set, receives the bound address.
func run(ctx context.Context, cfg config.Server, log *zap.Logger, ready chan<- string) error {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h := hub.NewHub(ctx, log)
	svc := ledger.New(st, cat, h, log)

	srv := &http.Server{
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Service:  svc,
			Catalog:  cat,
			Hub:      h,
			Log:      log,
			WSBuffer: cfg.SubscriberBuffer,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("store", string(cfg.Store)))
	if ready != nil {
		ready <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		log.Info("shutting down")
		// Feeds close first so hijacked websocket connections do not hold
		// Shutdown open.
		cancel()
		<-h.Done()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
