// session/api/auth_handler.go
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/cybercatalyst/escape-services/session/service"
	"github.com/cybercatalyst/escape-services/shared/api"
	"github.com/cybercatalyst/escape-services/shared/auth"
	"github.com/gorilla/mux"
)

// AuthAPIHandlers serves login and identity lookup. Accounts are
// provisioned by operators, never self-registered, so there is no
// public signup route.
type AuthAPIHandlers struct {
	SessionService *service.SessionService
	TokenIssuer    *auth.TokenIssuer
}

// NewAuthAPIHandlers is the constructor for the auth handlers.
func NewAuthAPIHandlers(ss *service.SessionService, ti *auth.TokenIssuer) *AuthAPIHandlers {
	return &AuthAPIHandlers{
		SessionService: ss,
		TokenIssuer:    ti,
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token       string `json:"token"`
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// LoginHandler exchanges credentials for a bearer token.
// POST /auth/login
func (aah *AuthAPIHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		api.WriteBadRequest(w, "Email and password are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := aah.SessionService.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		switch err {
		case service.ErrBadCredentials:
			api.WriteUnauthorized(w, "Invalid email or password")
		default:
			log.Printf("ERROR: Login failed for %s: %v", req.Email, err)
			api.WriteInternalServerError(w, "Login failed")
		}
		return
	}

	token, err := aah.TokenIssuer.Issue(sess.ID, sess.Role)
	if err != nil {
		log.Printf("ERROR: Failed to issue token for session %s: %v", sess.ID, err)
		api.WriteInternalServerError(w, "Login failed")
		return
	}

	api.WriteJSON(w, http.StatusOK, LoginResponse{
		Token:       token,
		ID:          sess.ID,
		DisplayName: sess.DisplayName,
		Role:        sess.Role,
	})
}

// MeHandler returns the authenticated caller's own record.
// GET /auth/me
func (aah *AuthAPIHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	claims := api.ClaimsFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := aah.SessionService.GetSession(ctx, claims.Identity)
	if err != nil {
		switch err {
		case service.ErrSessionNotFound:
			api.WriteNotFound(w, "Session no longer exists")
		default:
			log.Printf("ERROR: Failed to load session %s: %v", claims.Identity, err)
			api.WriteInternalServerError(w, "Failed to load session")
		}
		return
	}

	api.WriteJSON(w, http.StatusOK, sess)
}

// RegisterPublicRoutes registers the unauthenticated auth endpoints.
func (aah *AuthAPIHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", aah.LoginHandler).Methods("POST")
}

// RegisterProtectedRoutes registers the endpoints that require a token.
func (aah *AuthAPIHandlers) RegisterProtectedRoutes(router *mux.Router) {
	router.HandleFunc("/auth/me", aah.MeHandler).Methods("GET")
}
