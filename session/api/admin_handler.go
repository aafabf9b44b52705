// session/api/admin_handler.go
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cybercatalyst/escape-services/session/service"
	"github.com/cybercatalyst/escape-services/shared/api"
	"github.com/gorilla/mux"
)

// AdminAPIHandlers serves the operator console. Every route is gated on
// the operator role by the router these are registered on.
type AdminAPIHandlers struct {
	SessionService *service.SessionService
	// Default for reset-timer requests that leave resetProgress unset.
	ResetClearsProgress bool
}

// NewAdminAPIHandlers is the constructor for the admin handlers.
func NewAdminAPIHandlers(ss *service.SessionService, resetClearsProgress bool) *AdminAPIHandlers {
	return &AdminAPIHandlers{
		SessionService:      ss,
		ResetClearsProgress: resetClearsProgress,
	}
}

// --- Request DTOs ---

type CreateSessionRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

type TimeAdjustmentRequest struct {
	Seconds   int64  `json:"seconds"`
	Direction string `json:"direction"`
}

type ResetTimerRequest struct {
	// nil means "use the configured default".
	ResetProgress *bool `json:"resetProgress"`
}

type ResetLevelRequest struct {
	Level int `json:"level"`
}

// --- Handler Methods ---

// ListSessionsHandler returns every player session as a ranked
// projection: most levels completed first, ties to more time left.
// GET /admin/sessions
func (aah *AdminAPIHandlers) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ranked, err := aah.SessionService.ListRanked(ctx)
	if err != nil {
		log.Printf("ERROR: Failed to list sessions: %v", err)
		api.WriteInternalServerError(w, "Failed to list sessions")
		return
	}

	api.WriteJSON(w, http.StatusOK, ranked)
}

// ExportSessionsHandler streams the ranked standings as CSV for the
// post-event report.
// GET /admin/sessions/export
func (aah *AdminAPIHandlers) ExportSessionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ranked, err := aah.SessionService.ListRanked(ctx)
	if err != nil {
		log.Printf("ERROR: Failed to export sessions: %v", err)
		api.WriteInternalServerError(w, "Failed to export sessions")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="standings.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write([]string{"rank", "team", "levels_completed", "current_level", "elapsed_seconds", "remaining_seconds", "hints_used", "status"})
	for i, p := range ranked {
		cw.Write([]string{
			strconv.Itoa(i + 1),
			p.DisplayName,
			strconv.Itoa(len(p.CompletedLevels)),
			strconv.Itoa(p.CurrentLevel),
			strconv.FormatInt(p.ElapsedSeconds, 10),
			strconv.FormatInt(p.RemainingSeconds, 10),
			strconv.Itoa(p.HintsUsed),
			p.Status,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Printf("ERROR: Failed to write CSV export: %v", err)
	}
}

// CreateSessionHandler provisions a new team or operator account.
// POST /admin/sessions
func (aah *AdminAPIHandlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Email == "" || req.DisplayName == "" || req.Password == "" {
		api.WriteBadRequest(w, "Email, display name and password are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := aah.SessionService.CreateSession(ctx, req.Email, req.DisplayName, req.Password, req.Role)
	if err != nil {
		switch err {
		case service.ErrSessionExists:
			api.WriteConflict(w, fmt.Sprintf("A session for %s already exists", req.Email))
		default:
			log.Printf("ERROR: Failed to create session for %s: %v", req.Email, err)
			api.WriteInternalServerError(w, "Failed to create session")
		}
		return
	}

	api.WriteJSON(w, http.StatusCreated, sess)
	log.Printf("INFO: Provisioned %s session %s (%s).", sess.Role, sess.ID, sess.Email)
}

// DeleteSessionHandler removes a session entirely. Irreversible.
// DELETE /admin/sessions/{id}
func (aah *AdminAPIHandlers) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := aah.SessionService.DeleteSession(ctx, id); err != nil {
		writeServiceError(w, id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	log.Printf("INFO: Session %s deleted by operator.", id)
}

// AdjustTimeHandler grants or penalizes time on a team's clock.
// POST /admin/sessions/{id}/time
func (aah *AdminAPIHandlers) AdjustTimeHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req TimeAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := aah.SessionService.ApplyTimeAdjustment(ctx, id, req.Seconds, req.Direction)
	if err != nil {
		writeServiceError(w, id, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, sess)
	log.Printf("INFO: Applied %s of %ds to session %s.", req.Direction, req.Seconds, id)
}

// ResetTimerHandler restarts a team's clock.
// POST /admin/sessions/{id}/reset-timer
func (aah *AdminAPIHandlers) ResetTimerHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// An empty body means "use the configured default".
	var req ResetTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	resetProgress := aah.ResetClearsProgress
	if req.ResetProgress != nil {
		resetProgress = *req.ResetProgress
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := aah.SessionService.ResetTimer(ctx, id, resetProgress)
	if err != nil {
		writeServiceError(w, id, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, sess)
	log.Printf("INFO: Timer reset for session %s (resetProgress=%v).", id, resetProgress)
}

// ResetLevelHandler rewinds a team to a specific level.
// POST /admin/sessions/{id}/reset-level
func (aah *AdminAPIHandlers) ResetLevelHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ResetLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := aah.SessionService.ResetToLevel(ctx, id, req.Level)
	if err != nil {
		writeServiceError(w, id, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, sess)
	log.Printf("INFO: Session %s reset to level %d.", id, req.Level)
}

// RegisterRoutes registers the operator console endpoints. The router
// passed in must already enforce the operator role.
func (aah *AdminAPIHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/sessions", aah.ListSessionsHandler).Methods("GET")
	router.HandleFunc("/admin/sessions", aah.CreateSessionHandler).Methods("POST")
	router.HandleFunc("/admin/sessions/export", aah.ExportSessionsHandler).Methods("GET")
	router.HandleFunc("/admin/sessions/{id}", aah.DeleteSessionHandler).Methods("DELETE")
	router.HandleFunc("/admin/sessions/{id}/time", aah.AdjustTimeHandler).Methods("POST")
	router.HandleFunc("/admin/sessions/{id}/reset-timer", aah.ResetTimerHandler).Methods("POST")
	router.HandleFunc("/admin/sessions/{id}/reset-level", aah.ResetLevelHandler).Methods("POST")
}
