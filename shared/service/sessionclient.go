// shared/service/sessionclient.go
package service

import (
	"context"
	"fmt"

	"github.com/cybercatalyst/escape-services/shared/api"
	"github.com/cybercatalyst/escape-services/shared/models"
)

// SessionServiceClient is a Go client for the session service, used by
// kiosk deployments and operator tooling. It authenticates once and
// carries the bearer token on every subsequent call.
type SessionServiceClient struct {
	apiClient *api.Client
}

// NewSessionClient creates a new session service client.
func NewSessionClient(baseURL string) *SessionServiceClient {
	return &SessionServiceClient{
		apiClient: api.NewClient(baseURL, api.NewDefaultHTTPClient()),
	}
}

// --- DTOs mirroring the session API ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token"`
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type completeSubTaskRequest struct {
	TaskID string `json:"taskId"`
}

type completeLevelRequest struct {
	Key string `json:"key"`
}

// CompleteLevelResult reports whether a key submission was accepted.
type CompleteLevelResult struct {
	Accepted bool                `json:"accepted"`
	Session  *models.TeamSession `json:"session"`
}

type revealHintRequest struct {
	HintID string `json:"hintId"`
}

// RevealHintResult reports whether the hint token was spent by this call.
type RevealHintResult struct {
	Revealed bool                `json:"revealed"`
	Session  *models.TeamSession `json:"session"`
}

// Login exchanges credentials for a token and attaches it to the client.
func (c *SessionServiceClient) Login(ctx context.Context, email, password string) error {
	var resp loginResponse
	if err := c.apiClient.Post(ctx, "/auth/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return fmt.Errorf("login failed for %s: %w", email, err)
	}
	c.apiClient.SetToken(resp.Token)
	return nil
}

// Me fetches the authenticated session record.
func (c *SessionServiceClient) Me(ctx context.Context) (*models.TeamSession, error) {
	sess := &models.TeamSession{}
	if err := c.apiClient.Get(ctx, "/auth/me", sess); err != nil {
		return nil, fmt.Errorf("failed to fetch own session: %w", err)
	}
	return sess, nil
}

// StartSession anchors the clock for the authenticated team.
func (c *SessionServiceClient) StartSession(ctx context.Context) (*models.TeamSession, error) {
	sess := &models.TeamSession{}
	if err := c.apiClient.Post(ctx, "/game/start", nil, sess); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return sess, nil
}

// GetState fetches the derived projection for the authenticated team.
func (c *SessionServiceClient) GetState(ctx context.Context) (*models.SessionProjection, error) {
	proj := &models.SessionProjection{}
	if err := c.apiClient.Get(ctx, "/game/state", proj); err != nil {
		return nil, fmt.Errorf("failed to fetch session state: %w", err)
	}
	return proj, nil
}

// FetchSession adapts the client to the countdown's fetcher contract.
func (c *SessionServiceClient) FetchSession(ctx context.Context) (*models.TeamSession, error) {
	return c.Me(ctx)
}

// CompleteSubTask reports partial puzzle progress.
func (c *SessionServiceClient) CompleteSubTask(ctx context.Context, level int, taskID string) (*models.TeamSession, error) {
	sess := &models.TeamSession{}
	err := c.apiClient.Post(ctx, fmt.Sprintf("/game/levels/%d/subtasks", level), completeSubTaskRequest{TaskID: taskID}, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to complete sub-task %s on level %d: %w", taskID, level, err)
	}
	return sess, nil
}

// CompleteLevel submits a key. A wrong key is a normal result with
// Accepted=false, not an error.
func (c *SessionServiceClient) CompleteLevel(ctx context.Context, level int, key string) (*CompleteLevelResult, error) {
	result := &CompleteLevelResult{}
	err := c.apiClient.Post(ctx, fmt.Sprintf("/game/levels/%d/complete", level), completeLevelRequest{Key: key}, result)
	if err != nil {
		return nil, fmt.Errorf("failed to submit key for level %d: %w", level, err)
	}
	return result, nil
}

// RevealHint spends the one-time hint token for (level, hint).
func (c *SessionServiceClient) RevealHint(ctx context.Context, level int, hintID string) (*RevealHintResult, error) {
	result := &RevealHintResult{}
	err := c.apiClient.Post(ctx, fmt.Sprintf("/game/levels/%d/hints", level), revealHintRequest{HintID: hintID}, result)
	if err != nil {
		return nil, fmt.Errorf("failed to reveal hint %s on level %d: %w", hintID, level, err)
	}
	return result, nil
}

// ListSessions fetches the ranked standings. Requires an operator token.
func (c *SessionServiceClient) ListSessions(ctx context.Context) ([]models.SessionProjection, error) {
	var ranked []models.SessionProjection
	if err := c.apiClient.Get(ctx, "/admin/sessions", &ranked); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ranked, nil
}

// DeleteSession removes a session. Requires an operator token.
func (c *SessionServiceClient) DeleteSession(ctx context.Context, id string) error {
	if err := c.apiClient.Delete(ctx, fmt.Sprintf("/admin/sessions/%s", id)); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}
