package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/DoyleJ11/civ-draft-backend/internal/catalog"
	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/ledger"
	"github.com/DoyleJ11/civ-draft-backend/internal/types"
)

// maxBody caps request bodies; every request here is a few hundred bytes.
const maxBody = 64 << 10

type API struct {
	svc *ledger.Service
	cat *catalog.Catalog
	log *zap.Logger
}

func NewAPI(svc *ledger.Service, cat *catalog.Catalog, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{svc: svc, cat: cat, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, engine.ErrOutOfTurn),
		errors.Is(err, engine.ErrDuplicateTurn),
		errors.Is(err, engine.ErrUnavailable),
		errors.Is(err, engine.ErrAlreadyJoined),
		errors.Is(err, engine.ErrSessionLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, types.ErrorResponse{Type: types.MsgError, Code: types.ErrorCode(err), Error: msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(engine.ErrInvalidConfig, err)
	}
	return nil
}

// CreateDraft handles POST /drafts.
func (a *API) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sess, err := a.svc.CreateSession(r.Context(), req.Engine())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.FromSession(sess))
}

func (a *API) GetDraft(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromSession(sess))
}

func (a *API) JoinDraft(w http.ResponseWriter, r *http.Request) {
	var req types.JoinRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sess, err := a.svc.Join(r.Context(), chi.URLParam(r, "id"), req.Team2Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromSession(sess))
}

func (a *API) ReadyDraft(w http.ResponseWriter, r *http.Request) {
	var req types.ReadyRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	ready := true
	if req.Ready != nil {
		ready = *req.Ready
	}
	sess, err := a.svc.Ready(r.Context(), chi.URLParam(r, "id"), engine.Team(req.Team), ready)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromSession(sess))
}

// DraftSnapshot handles GET /drafts/{id}/snapshot: the session and its full
// ledger in one read, used for client resync.
func (a *API) DraftSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromSnapshot(snap))
}

func (a *API) ListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := a.svc.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromActions(actions))
}

// SubmitAction handles POST /drafts/{id}/actions.
func (a *API) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var req types.AppendRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	act, err := a.svc.Append(r.Context(), chi.URLParam(r, "id"), req.Command())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.FromAction(act))
}

// DraftState handles GET /drafts/{id}/state?team=N. Without team the view
// is a spectator's.
func (a *API) DraftState(w http.ResponseWriter, r *http.Request) {
	var team engine.Team
	if raw := r.URL.Query().Get("team"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !engine.Team(n).Valid() {
			a.writeError(w, r, errors.Join(engine.ErrInvalidConfig, errors.New("team must be 1 or 2")))
			return
		}
		team = engine.Team(n)
	}
	v, err := a.svc.View(r.Context(), chi.URLParam(r, "id"), team)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromView(v))
}

func (a *API) DraftSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := a.svc.Summary(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="draft-summary-`+id+`.txt"`)
	_, _ = io.WriteString(w, text)
}

// ListCatalog handles GET /catalog?category=civ|leader|souvenir.
func (a *API) ListCatalog(w http.ResponseWriter, r *http.Request) {
	cats := engine.Categories
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, err := engine.ParseCategory(raw)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		cats = []engine.Category{c}
	}
	var out []types.CatalogItem
	for _, c := range cats {
		for _, id := range a.cat.IDs(c) {
			it, _ := a.cat.Get(id)
			out = append(out, catalogItem(it))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) GetCatalogItem(w http.ResponseWriter, r *http.Request) {
	it, err := a.cat.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalogItem(it))
}

func catalogItem(it catalog.Item) types.CatalogItem {
	return types.CatalogItem{
		ID:          it.ID,
		Category:    string(it.Category),
		Name:        it.Name,
		Image:       it.Image,
		Description: it.Description,
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
