package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/d-kuro/crmclient/pkg/constants"
	"github.com/d-kuro/crmclient/pkg/storage"
	"github.com/d-kuro/crmclient/pkg/types"
)

// Endpoints holds the auth endpoint paths, relative to the API prefix.
type Endpoints struct {
	LoginPath   string
	RefreshPath string
	LogoutPath  string
}

// DefaultEndpoints returns the CRM API auth endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		LoginPath:   constants.DefaultLoginPath,
		RefreshPath: constants.DefaultRefreshPath,
		LogoutPath:  constants.DefaultLogoutPath,
	}
}

// Classifier returns a classifier excluding these endpoints from refresh.
func (e Endpoints) Classifier() Classifier {
	return Classifier{
		LoginPath:   e.LoginPath,
		RefreshPath: e.RefreshPath,
	}
}

// HTTPRefresher talks to the login, refresh and logout endpoints. Its
// requests bypass the coordinator, so a failing auth call never recurses.
type HTTPRefresher struct {
	transport Transport
	endpoints Endpoints
}

// NewHTTPRefresher creates a refresher sending through transport.
func NewHTTPRefresher(transport Transport, endpoints Endpoints) *HTTPRefresher {
	return &HTTPRefresher{
		transport: transport,
		endpoints: endpoints,
	}
}

// Refresh implements Refresher. The endpoint must rotate the refresh token:
// a response without both tokens is a failed refresh.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*storage.CredentialPair, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	pair, err := r.exchange(ctx, r.endpoints.RefreshPath, types.RefreshTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	return pair, nil
}

// Login exchanges user credentials for a pair.
func (r *HTTPRefresher) Login(ctx context.Context, email, password string) (*storage.CredentialPair, error) {
	pair, err := r.exchange(ctx, r.endpoints.LoginPath, types.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, &AuthError{
			Op:      "login",
			Message: "login failed",
			Err:     err,
		}
	}
	return pair, nil
}

// Logout notifies the server that pair is no longer used.
func (r *HTTPRefresher) Logout(ctx context.Context, pair *storage.CredentialPair) error {
	if r.endpoints.LogoutPath == "" {
		return nil
	}

	req := types.NewRequest(http.MethodPost, r.endpoints.LogoutPath, nil)
	resp, err := r.transport.Send(ctx, Decorate(req, pair))
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return types.NewAPIError(resp)
	}
	return nil
}

func (r *HTTPRefresher) exchange(ctx context.Context, path string, payload any) (*storage.CredentialPair, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req := types.NewRequest(http.MethodPost, path, body)
	req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)

	resp, err := r.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, types.NewAPIError(resp)
	}
	return decodePair(resp)
}

// decodePair accepts the CRM envelope {"success":true,"data":{...}} as well
// as a bare {"accessToken","refreshToken"} object.
func decodePair(resp *types.Response) (*storage.CredentialPair, error) {
	var payload struct {
		Success *bool            `json:"success"`
		Data    *types.TokenPair `json:"data"`
		Error   string           `json:"error"`
		types.TokenPair
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, err
	}
	if payload.Success != nil && !*payload.Success {
		return nil, &types.APIError{StatusCode: resp.StatusCode, Message: payload.Error, Body: resp.Body}
	}

	tokens := payload.TokenPair
	if payload.Data != nil {
		tokens = *payload.Data
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, ErrIncompleteRefresh
	}

	pair := &storage.CredentialPair{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if err := validateTokenStructure(pair); err != nil {
		return nil, &AuthError{
			Op:      "validate_token",
			Message: "token validation failed",
			Err:     err,
		}
	}
	return pair, nil
}

// validateTokenStructure validates the structure and content of a pair.
func validateTokenStructure(pair *storage.CredentialPair) error {
	for name, value := range map[string]string{
		"access token":  pair.AccessToken,
		"refresh token": pair.RefreshToken,
	} {
		if len(value) < constants.MinTokenLength {
			return fmt.Errorf("%s too short", name)
		}
		if len(value) > constants.MaxTokenLength {
			return fmt.Errorf("%s too long", name)
		}
		if strings.ContainsAny(value, "\x00\r\n") {
			return fmt.Errorf("%s contains invalid characters", name)
		}
	}
	return nil
}
