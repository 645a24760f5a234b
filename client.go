// Package crmclient provides an authenticated client for the CRM REST API.
//
// Every call carries the stored access token. When the server rejects an
// expired token, the client refreshes it once for all concurrent callers and
// replays each rejected request exactly once. If the refresh fails, every
// waiting caller receives the same error, the stored credentials are cleared
// and the configured logout handler runs.
//
// Example usage:
//
//	client, err := crmclient.NewClient(crmclient.WithBaseURL("https://crm.example.com"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := client.Login(ctx, "user@example.com", password); err != nil {
//		log.Fatal(crmclient.HandleAPIError(err))
//	}
//
//	resp, err := client.Get(ctx, "/contacts", nil)
//	if err != nil {
//		log.Fatal(crmclient.HandleAPIError(err))
//	}
//	contacts, err := crmclient.ExtractData[[]Contact](resp)
package crmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/d-kuro/crmclient/pkg/auth"
	"github.com/d-kuro/crmclient/pkg/storage"
	"github.com/d-kuro/crmclient/pkg/types"
)

// Client is the authenticated CRM API client. It is safe for concurrent use.
type Client struct {
	session *auth.Session
	config  *Config
}

// NewClient creates a new client with the provided configuration options.
// If no options are provided, default configuration will be used.
func NewClient(opts ...ConfigOption) (*Client, error) {
	return NewClientWithConfig(NewConfig(opts...))
}

// NewClientWithConfig creates a client from a complete configuration.
func NewClientWithConfig(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	transport, err := NewHTTPTransport(&HTTPTransportConfig{
		BaseURL:        config.BaseURL,
		APIPrefix:      config.APIPrefix,
		Timeout:        config.Timeout,
		MaxContentSize: config.MaxContentSize,
		UserAgent:      config.UserAgent,
	}, config.Logger)
	if err != nil {
		return nil, err
	}

	return newClient(config, transport), nil
}

// newClient wires the auth session over an arbitrary transport.
func newClient(config *Config, transport auth.Transport) *Client {
	onLogout := config.LogoutHandler
	if onLogout == nil {
		logger := config.Logger
		loginURL := config.LoginURL
		onLogout = func() {
			logger.Warn().Str("login_url", loginURL).Msg("Session expired, re-authentication required")
		}
	}

	session := auth.NewSession(transport, config.CredentialStore, config.endpoints(),
		auth.WithLogger(config.Logger),
		auth.WithLogoutHandler(onLogout),
		auth.WithRefreshTimeout(config.RefreshTimeout),
	)

	return &Client{
		session: session,
		config:  config,
	}
}

// Do sends req through the authenticated call path. A non-2xx outcome is
// returned as *types.APIError; an unrecoverable authentication failure as
// *auth.AuthError.
func (c *Client) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	return c.session.Do(ctx, req)
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*types.Response, error) {
	req := types.NewRequest(http.MethodGet, path, nil)
	req.Query = query
	return c.Do(ctx, req)
}

// Post sends body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body any) (*types.Response, error) {
	return c.doJSON(ctx, http.MethodPost, path, body)
}

// Put sends body encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, body any) (*types.Response, error) {
	return c.doJSON(ctx, http.MethodPut, path, body)
}

// Patch sends body encoded as JSON.
func (c *Client) Patch(ctx context.Context, path string, body any) (*types.Response, error) {
	return c.doJSON(ctx, http.MethodPatch, path, body)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*types.Response, error) {
	return c.Do(ctx, types.NewRequest(http.MethodDelete, path, nil))
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (*types.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	return c.Do(ctx, types.NewRequest(method, path, payload))
}

// Login authenticates with email and password and stores the issued pair.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.session.Login(ctx, email, password)
}

// Logout ends the server session and clears stored credentials.
func (c *Client) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

// Me returns the raw profile of the authenticated user.
func (c *Client) Me(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.Get(ctx, c.config.MePath, nil)
	if err != nil {
		return nil, err
	}
	return ExtractData[json.RawMessage](resp)
}

// SetAuthToken stores pair as the current credentials. A nil pair clears
// them.
func (c *Client) SetAuthToken(ctx context.Context, pair *storage.CredentialPair) error {
	return c.session.SetCredentials(ctx, pair)
}

// IsAuthenticated checks if the client has stored credentials.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	return c.session.IsAuthenticated(ctx)
}

// GetAuthStatus returns the current authentication status.
func (c *Client) GetAuthStatus(ctx context.Context) (*auth.AuthStatus, error) {
	return c.session.GetAuthStatus(ctx)
}

// ClearAuthentication removes stored authentication credentials.
func (c *Client) ClearAuthentication(ctx context.Context) error {
	return c.session.ClearAuthentication(ctx)
}

// Stats returns the refresh coordinator counters.
func (c *Client) Stats() auth.CoordinatorStats {
	return c.session.Stats()
}

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *Config {
	return c.config
}

var _ auth.Authenticatable = (*Client)(nil)
