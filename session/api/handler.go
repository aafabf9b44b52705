// session/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cybercatalyst/escape-services/session/service"
	"github.com/cybercatalyst/escape-services/shared/api"
	"github.com/cybercatalyst/escape-services/shared/models"
	"github.com/gorilla/mux"
)

// GameAPIHandlers serves the player-facing game routes. Every route acts
// on the authenticated caller's own session; the identity always comes
// from the verified token, never from the request body.
type GameAPIHandlers struct {
	SessionService *service.SessionService
}

// NewGameAPIHandlers is the constructor for the game handlers.
func NewGameAPIHandlers(ss *service.SessionService) *GameAPIHandlers {
	return &GameAPIHandlers{
		SessionService: ss,
	}
}

// --- Request/Response DTOs ---

type CompleteSubTaskRequest struct {
	TaskID string `json:"taskId"`
}

type CompleteLevelRequest struct {
	Key string `json:"key"`
}

type CompleteLevelResponse struct {
	Accepted bool                `json:"accepted"`
	Session  *models.TeamSession `json:"session,omitempty"`
}

type RevealHintRequest struct {
	HintID string `json:"hintId"`
}

type RevealHintResponse struct {
	Revealed bool                `json:"revealed"`
	Session  *models.TeamSession `json:"session"`
}

// LevelInfo is the puzzle metadata exposed to clients. Keys are never
// included.
type LevelInfo struct {
	Number   int             `json:"number"`
	SubTasks []string        `json:"subTasks"`
	Hints    []LevelHintInfo `json:"hints"`
}

type LevelHintInfo struct {
	ID             string `json:"id"`
	PenaltySeconds int64  `json:"penaltySeconds"`
}

// --- Handler Methods ---

// StartSessionHandler anchors the caller's clock at now.
// POST /game/start
func (gah *GameAPIHandlers) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	claims := api.ClaimsFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := gah.SessionService.StartSession(ctx, claims.Identity)
	if err != nil {
		writeServiceError(w, claims.Identity, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, sess)
	log.Printf("INFO: Session %s started its clock.", sess.ID)
}

// GetStateHandler returns the caller's derived session projection.
// GET /game/state
func (gah *GameAPIHandlers) GetStateHandler(w http.ResponseWriter, r *http.Request) {
	claims := api.ClaimsFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	proj, err := gah.SessionService.GetProjection(ctx, claims.Identity)
	if err != nil {
		writeServiceError(w, claims.Identity, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, proj)
}

// CompleteSubTaskHandler records partial puzzle progress.
// POST /game/levels/{level}/subtasks
func (gah *GameAPIHandlers) CompleteSubTaskHandler(w http.ResponseWriter, r *http.Request) {
	claims := api.ClaimsFromContext(r.Context())
	level, ok := levelFromPath(w, r)
	if !ok {
		return
	}

	var req CompleteSubTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.TaskID == "" {
		api.WriteBadRequest(w, "Task ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := gah.SessionService.CompleteSubTask(ctx, claims.Identity, level, req.TaskID)
	if err != nil {
		if err == service.ErrUnknownSubTask {
			api.WriteUnprocessable(w, "Unknown sub-task for this level")
			return
		}
		writeServiceError(w, claims.Identity, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, sess)
}

// CompleteLevelHandler checks a submitted key. A wrong key is a normal
// 200 with accepted=false; the player just tries again.
// POST /game/levels/{level}/complete
func (gah *GameAPIHandlers) CompleteLevelHandler(w http.ResponseWriter, r *http.Request) {
	claims := api.ClaimsFromContext(r.Context())
	level, ok := levelFromPath(w, r)
	if !ok {
		return
	}

	var req CompleteLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, accepted, err := gah.SessionService.CompleteLevel(ctx, claims.Identity, level, req.Key)
	if err != nil {
		writeServiceError(w, claims.Identity, err)
		return
	}

	resp := CompleteLevelResponse{Accepted: accepted, Session: sess}
	api.WriteJSON(w, http.StatusOK, resp)
	if accepted {
		log.Printf("INFO: Session %s completed level %d.", claims.Identity, level)
	}
}

// RevealHintHandler spends the caller's one-time hint token and applies
// its penalty. Retries report revealed=false and are never re-penalized.
// POST /game/levels/{level}/hints
func (gah *GameAPIHandlers) RevealHintHandler(w http.ResponseWriter, r *http.Request) {
	claims := api.ClaimsFromContext(r.Context())
	level, ok := levelFromPath(w, r)
	if !ok {
		return
	}

	var req RevealHintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.HintID == "" {
		api.WriteBadRequest(w, "Hint ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, revealed, err := gah.SessionService.RevealHint(ctx, claims.Identity, level, req.HintID)
	if err != nil {
		if err == service.ErrUnknownHint {
			api.WriteUnprocessable(w, "Unknown hint for this level")
			return
		}
		writeServiceError(w, claims.Identity, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, RevealHintResponse{Revealed: revealed, Session: sess})
}

// ListLevelsHandler exposes puzzle metadata for clients to validate
// sub-task and hint ids against before calling the mutators.
// GET /game/levels
func (gah *GameAPIHandlers) ListLevelsHandler(w http.ResponseWriter, r *http.Request) {
	levels := gah.SessionService.Levels()

	infos := make([]LevelInfo, 0, levels.MaxLevel())
	for n := 1; n <= levels.MaxLevel(); n++ {
		l, ok := levels.Get(n)
		if !ok {
			continue
		}
		info := LevelInfo{Number: l.Number, SubTasks: l.SubTasks}
		for _, h := range l.Hints {
			info.Hints = append(info.Hints, LevelHintInfo{ID: h.ID, PenaltySeconds: h.PenaltySeconds})
		}
		infos = append(infos, info)
	}

	api.WriteJSON(w, http.StatusOK, infos)
}

// RegisterRoutes registers the player-facing game endpoints. The router
// passed in must already enforce authentication.
func (gah *GameAPIHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/game/start", gah.StartSessionHandler).Methods("POST")
	router.HandleFunc("/game/state", gah.GetStateHandler).Methods("GET")
	router.HandleFunc("/game/levels", gah.ListLevelsHandler).Methods("GET")
	router.HandleFunc("/game/levels/{level}/subtasks", gah.CompleteSubTaskHandler).Methods("POST")
	router.HandleFunc("/game/levels/{level}/complete", gah.CompleteLevelHandler).Methods("POST")
	router.HandleFunc("/game/levels/{level}/hints", gah.RevealHintHandler).Methods("POST")
}

// --- Helpers shared by the game and admin handlers ---

func levelFromPath(w http.ResponseWriter, r *http.Request) (int, bool) {
	vars := mux.Vars(r)
	level, err := strconv.Atoi(vars["level"])
	if err != nil || level < 1 {
		api.WriteBadRequest(w, "Invalid level number")
		return 0, false
	}
	return level, true
}

func writeServiceError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		api.WriteNotFound(w, "Session not found")
	case errors.Is(err, service.ErrInvalidTransition):
		api.WriteUnprocessable(w, err.Error())
	default:
		log.Printf("ERROR: Session operation failed for %s: %v", id, err)
		api.WriteInternalServerError(w, "Session operation failed")
	}
}
