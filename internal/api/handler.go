package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/equiloom/internal/config"
	"github.com/Alias1177/equiloom/internal/model"
	"github.com/Alias1177/equiloom/internal/session"
)

// Handler provides HTTP API endpoints
type Handler struct {
	sessions *session.Manager
	limiter  *SubmitLimiter
	cfg      config.Config
}

// NewHandler creates a new API handler. A nil limiter disables submit throttling.
func NewHandler(sessions *session.Manager, limiter *SubmitLimiter, cfg config.Config) *Handler {
	return &Handler{
		sessions: sessions,
		limiter:  limiter,
		cfg:      cfg,
	}
}

// RegisterRoutes sets up all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Health and info
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/info", h.handleInfo).Methods("GET")

	// Form sessions
	r.HandleFunc("/sessions", h.handleCreateSession).Methods("POST")
	r.HandleFunc("/sessions/{id}", h.handleGetSession).Methods("GET")
	r.HandleFunc("/sessions/{id}", h.handleDeleteSession).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/explore", h.handleExplore).Methods("POST")
	r.HandleFunc("/sessions/{id}/target", h.handleSetTarget).Methods("PUT")
	r.HandleFunc("/sessions/{id}/fields/{field}", h.handleSetField).Methods("PUT")
	r.HandleFunc("/sessions/{id}/theme", h.handleToggleTheme).Methods("POST")
	r.HandleFunc("/sessions/{id}/submit", h.handleSubmit).Methods("POST")
}

type targetRequest struct {
	Target string `json:"target"`
}

type fieldRequest struct {
	Value string `json:"value"`
}

type submitRequest struct {
	Target string           `json:"target"`
	Fields *model.FormInput `json:"fields"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

// respondError sends a JSON error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps domain errors onto HTTP status codes
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrUnknownField), errors.Is(err, model.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// session resolves the {id} route variable; it writes the error response itself.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	return s, true
}

// handleHealth returns server health status
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInfo returns server information
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"version":          h.cfg.Version,
		"active_sessions":  h.sessions.Len(),
		"prediction_delay": h.cfg.PredictionDelay.String(),
		"max_attempts":     h.cfg.MaxAttempts,
		"cache_size":       h.cfg.CacheSize,
	}
	respondJSON(w, http.StatusOK, info)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.sessions.Delete(id); err != nil {
		respondErr(w, err)
		return
	}
	h.limiter.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleExplore reveals the form ("Explore Now")
func (h *Handler) handleExplore(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Explore()
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.SetTarget(model.Field(req.Target)); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) handleSetField(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req fieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.SetField(model.Field(mux.Vars(r)["field"]), req.Value); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.ToggleTheme()
	respondJSON(w, http.StatusOK, s.Snapshot())
}

// handleSubmit starts a prediction; clients poll the session for the result.
// A body carrying fields (and optionally target) is applied together with the
// submission, so earlier field updates still in flight cannot win.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	target := model.Field(req.Target)
	if req.Fields != nil && target == "" {
		target = s.Snapshot().Target
	}
	if req.Fields != nil {
		if _, err := model.ParseField(string(target)); err != nil {
			respondErr(w, err)
			return
		}
	}

	if !h.limiter.Allow(s.ID()) {
		respondError(w, http.StatusTooManyRequests, "too many predictions, slow down")
		return
	}

	if req.Fields != nil {
		if _, err := s.SubmitForm(target, *req.Fields); err != nil {
			respondErr(w, err)
			return
		}
	} else {
		s.Submit()
	}
	respondJSON(w, http.StatusAccepted, s.Snapshot())
}
