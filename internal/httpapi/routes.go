package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/civ-draft-backend/internal/catalog"
	"github.com/DoyleJ11/civ-draft-backend/internal/hub"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/ws"
)

type Deps struct {
	Service  *ledger.Service
	Catalog  *catalog.Catalog
	Hub      *hub.Hub
	Log      *zap.Logger
	WSBuffer int
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	api := NewAPI(d.Service, d.Catalog, d.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Log))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Service, d.Hub, d.Log, d.WSBuffer))

	r.Route("/drafts", func(r chi.Router) {
		r.Post("/", api.CreateDraft)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", api.GetDraft)
			r.Post("/join", api.JoinDraft)
			r.Post("/ready", api.ReadyDraft)
			r.Get("/snapshot", api.DraftSnapshot)
			r.Get("/actions", api.ListActions)
			r.Post("/actions", api.SubmitAction)
			r.Get("/state", api.DraftState)
			r.Get("/summary", api.DraftSummary)
		})
	})

	r.Get("/catalog", api.ListCatalog)
	r.Get("/catalog/{id}", api.GetCatalogItem)
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
