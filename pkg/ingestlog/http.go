package ingestlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cropsight/platform/pkg/common/logger"
	"github.com/cropsight/platform/pkg/gateway/auth"
	"github.com/cropsight/platform/pkg/gateway/middleware"
	"github.com/gorilla/mux"
)

// CachePath is the dashboard path whose cached views hold log listings.
const CachePath = "/admin/logs"

// PageStore caches rendered listings per path; ingestion invalidates the path
// after every committed run.
type PageStore interface {
	Load(ctx context.Context, path, variant string, dst interface{}) (bool, error)
	Store(ctx context.Context, path, variant string, value interface{}) error
}

type HTTPHandler struct {
	service *Service
	pages   PageStore
}

// NewHTTPHandler builds the log routes. pages may be nil.
func NewHTTPHandler(service *Service, pages PageStore) *HTTPHandler {
	return &HTTPHandler{service: service, pages: pages}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/logs", h.handleSearch).Methods(http.MethodGet)
	router.HandleFunc("/logs/recent", h.handleRecent).Methods(http.MethodGet)
	router.HandleFunc("/logs/{id}", h.handleGet).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	q := r.URL.Query()
	opts := SearchOptions{
		Term:    q.Get("search"),
		Page:    queryInt(q.Get("page")),
		PerPage: queryInt(q.Get("perPage")),
	}
	variant := fmt.Sprintf("search:%s:%d:%d", opts.Term, opts.Page, opts.PerPage)

	var result SearchResult
	if err := auth.RequirePermission(user.Role, "logs", "list"); err == nil && h.load(r.Context(), variant, &result) {
		writeJSON(w, http.StatusOK, result)
		return
	}

	fresh, err := h.service.Search(r.Context(), user.Role, opts)
	if err != nil {
		h.writeServiceError(w, err, "failed to search ingestion logs")
		return
	}
	h.store(r.Context(), variant, fresh)
	writeJSON(w, http.StatusOK, fresh)
}

func (h *HTTPHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit := queryInt(r.URL.Query().Get("limit"))
	entries, err := h.service.List(r.Context(), user.Role, limit)
	if err != nil {
		h.writeServiceError(w, err, "failed to list ingestion logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		id = 0
	}

	entry, err := h.service.Get(r.Context(), user.Role, id)
	if err != nil {
		h.writeServiceError(w, err, "failed to fetch ingestion log")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *HTTPHandler) load(ctx context.Context, variant string, dst interface{}) bool {
	if h.pages == nil {
		return false
	}
	found, err := h.pages.Load(ctx, CachePath, variant, dst)
	if err != nil {
		logger.Log.WithError(err).Warn("log page cache read failed")
		return false
	}
	return found
}

func (h *HTTPHandler) store(ctx context.Context, variant string, value interface{}) {
	if h.pages == nil {
		return
	}
	if err := h.pages.Store(ctx, CachePath, variant, value); err != nil {
		logger.Log.WithError(err).Warn("log page cache write failed")
	}
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Log.WithError(err).Error(logMsg)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
