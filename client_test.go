package crmclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/d-kuro/crmclient/pkg/auth"
	"github.com/d-kuro/crmclient/pkg/storage"
	"github.com/d-kuro/crmclient/pkg/types"
)

const (
	expiredAccess = "access-token-expired"
	staleRefresh  = "refresh-token-stale"
	freshAccess   = "access-token-fresh"
	freshRefresh  = "refresh-token-fresh"
)

// crmServer is a minimal CRM API: it accepts one access token at a time and
// rotates both tokens on refresh.
type crmServer struct {
	*httptest.Server

	mu            sync.Mutex
	access        string
	refresh       string
	rejectRefresh bool
	refreshCalls  atomic.Int32
	logoutCalls   atomic.Int32
	requestIDs    []string
	userAgents    []string
}

func newCRMServer(t *testing.T) *crmServer {
	t.Helper()
	s := &crmServer{access: freshAccess, refresh: staleRefresh}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req types.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid credentials"})
			return
		}
		s.mu.Lock()
		s.access, s.refresh = freshAccess, freshRefresh
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": types.TokenPair{AccessToken: freshAccess, RefreshToken: freshRefresh}})
	})
	mux.HandleFunc("POST /api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		var req types.RefreshTokenRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rejectRefresh || req.RefreshToken != s.refresh {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid refresh token"})
			return
		}
		s.refresh = freshRefresh
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": types.TokenPair{AccessToken: s.access, RefreshToken: freshRefresh}})
	})
	mux.HandleFunc("POST /api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		s.logoutCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
	})
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		valid := r.Header.Get("Authorization") == "Bearer "+s.access
		s.requestIDs = append(s.requestIDs, r.Header.Get("X-Request-ID"))
		s.userAgents = append(s.userAgents, r.Header.Get("User-Agent"))
		s.mu.Unlock()

		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Token expired"})
			return
		}
		switch r.URL.Path {
		case "/api/v1/auth/me":
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"email": "user@example.com"}})
		case "/api/v1/broken":
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("<html><body><h1>Internal Server Error</h1><script>x()</script></body></html>"))
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    []map[string]string{{"id": "1", "path": r.URL.Path, "query": r.URL.RawQuery}},
				"meta":    types.ResponseMeta{Page: 1, Limit: 20, Total: 1, TotalPages: 1},
			})
		}
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, server *crmServer, opts ...ConfigOption) (*Client, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Store(t.Context(), storage.CredentialPair{AccessToken: expiredAccess, RefreshToken: staleRefresh}))

	opts = append([]ConfigOption{
		WithBaseURL(server.URL),
		WithCredentialStore(store),
	}, opts...)
	client, err := NewClient(opts...)
	require.NoError(t, err)
	return client, store
}

type item struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Query string `json:"query"`
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		options     []ConfigOption
		expectError bool
	}{
		{
			name:    "default config",
			options: []ConfigOption{WithCredentialStore(storage.NewMemoryStore())},
		},
		{
			name: "with multiple options",
			options: []ConfigOption{
				WithBaseURL("https://crm.example.com"),
				WithCredentialStore(storage.NewMemoryStore()),
				WithMaxContentSize(1024),
			},
		},
		{
			name:        "invalid base URL",
			options:     []ConfigOption{WithBaseURL("ftp://crm.example.com")},
			expectError: true,
		},
		{
			name:        "missing credential store",
			options:     []ConfigOption{WithCredentialStore(nil)},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.options...)
			if tt.expectError {
				var configErr *ConfigError
				assert.ErrorAs(t, err, &configErr)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client.GetConfig())
		})
	}
}

func TestClientRefreshesExpiredToken(t *testing.T) {
	server := newCRMServer(t)
	client, store := newTestClient(t, server)

	resp, err := client.Get(t.Context(), "/contacts", map[string][]string{"page": {"2"}})
	require.NoError(t, err)

	items, meta, err := ExtractPage[item](resp)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/api/v1/contacts", items[0].Path)
	assert.Equal(t, "page=2", items[0].Query)
	assert.Equal(t, 1, meta.Total)

	assert.EqualValues(t, 1, server.refreshCalls.Load())
	stored, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, &storage.CredentialPair{AccessToken: freshAccess, RefreshToken: freshRefresh}, stored)

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Len(t, server.requestIDs, 2)
	assert.NotEmpty(t, server.requestIDs[0])
	assert.NotEqual(t, server.requestIDs[0], server.requestIDs[1], "every attempt has its own request id")
	assert.Equal(t, "crmclient/0.1", server.userAgents[0])
}

func TestClientConcurrentRequestsRefreshOnce(t *testing.T) {
	const callers = 20

	server := newCRMServer(t)
	logouts := atomic.Int32{}
	client, _ := newTestClient(t, server, WithLogoutHandler(func() { logouts.Add(1) }))

	g, ctx := errgroup.WithContext(t.Context())
	for range callers {
		g.Go(func() error {
			resp, err := client.Get(ctx, "/deals", nil)
			if err != nil {
				return err
			}
			_, err = ExtractData[[]item](resp)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, server.refreshCalls.Load())
	assert.Zero(t, logouts.Load())
	assert.EqualValues(t, 1, client.Stats().Cycles)
}

func TestClientRefreshFailure(t *testing.T) {
	server := newCRMServer(t)
	server.rejectRefresh = true
	logouts := atomic.Int32{}
	client, store := newTestClient(t, server, WithLogoutHandler(func() { logouts.Add(1) }))

	_, err := client.Get(t.Context(), "/contacts", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrRefreshFailed)
	assert.True(t, auth.IsAuthFailure(err))

	var apiErr *types.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid refresh token", apiErr.Message)

	assert.EqualValues(t, 1, logouts.Load())
	assert.False(t, store.HasCredentials(t.Context()))
	assert.False(t, client.IsAuthenticated(t.Context()))
}

func TestClientLoginLogout(t *testing.T) {
	server := newCRMServer(t)
	client, err := NewClient(WithBaseURL(server.URL), WithCredentialStore(storage.NewMemoryStore()))
	require.NoError(t, err)

	err = client.Login(t.Context(), "user@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", HandleAPIError(err))
	assert.Zero(t, server.refreshCalls.Load(), "a rejected login never triggers a refresh")

	require.NoError(t, client.Login(t.Context(), "user@example.com", "secret"))
	assert.True(t, client.IsAuthenticated(t.Context()))

	profile, err := client.Me(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"user@example.com"}`, string(profile))

	status, err := client.GetAuthStatus(t.Context())
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	assert.True(t, status.HasRefreshToken)

	require.NoError(t, client.Logout(t.Context()))
	assert.EqualValues(t, 1, server.logoutCalls.Load())
	assert.False(t, client.IsAuthenticated(t.Context()))
}

func TestClientJSONHelpers(t *testing.T) {
	server := newCRMServer(t)
	client, err := NewClient(WithBaseURL(server.URL), WithCredentialStore(storage.NewMemoryStore()))
	require.NoError(t, err)
	require.NoError(t, client.SetAuthToken(t.Context(), &storage.CredentialPair{AccessToken: freshAccess, RefreshToken: freshRefresh}))

	for name, call := range map[string]func(context.Context) (*types.Response, error){
		"post":   func(ctx context.Context) (*types.Response, error) { return client.Post(ctx, "/contacts", map[string]string{"name": "Ada"}) },
		"put":    func(ctx context.Context) (*types.Response, error) { return client.Put(ctx, "/contacts/1", map[string]string{"name": "Ada"}) },
		"patch":  func(ctx context.Context) (*types.Response, error) { return client.Patch(ctx, "/contacts/1", nil) },
		"delete": func(ctx context.Context) (*types.Response, error) { return client.Delete(ctx, "/contacts/1") },
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := call(t.Context())
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}

	_, err = client.Post(t.Context(), "/contacts", func() {})
	assert.ErrorContains(t, err, "failed to marshal request")

	require.NoError(t, client.SetAuthToken(t.Context(), nil))
	assert.False(t, client.IsAuthenticated(t.Context()))
}

func TestClientHTMLErrorBody(t *testing.T) {
	server := newCRMServer(t)
	client, err := NewClient(WithBaseURL(server.URL), WithCredentialStore(storage.NewMemoryStore()))
	require.NoError(t, err)
	require.NoError(t, client.SetAuthToken(t.Context(), &storage.CredentialPair{AccessToken: freshAccess, RefreshToken: freshRefresh}))

	_, err = client.Get(t.Context(), "/broken", nil)
	var apiErr *types.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "Internal Server Error", HandleAPIError(err))
	assert.Zero(t, server.refreshCalls.Load())
}

func TestExtractData(t *testing.T) {
	resp := &types.Response{StatusCode: http.StatusOK, Body: []byte(`{"success":true,"data":{"id":"42"}}`)}
	got, err := ExtractData[item](resp)
	require.NoError(t, err)
	assert.Equal(t, "42", got.ID)

	resp = &types.Response{StatusCode: http.StatusOK, Body: []byte(`{"success":false,"message":"Contact not found","errors":[{"field":"id","message":"unknown id"}]}`)}
	_, err = ExtractData[item](resp)
	var apiErr *types.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Contact not found", apiErr.Message)
	require.Len(t, apiErr.Errors, 1)
	assert.Equal(t, "id", apiErr.Errors[0].Field)

	_, err = ExtractData[item](&types.Response{StatusCode: http.StatusOK})
	assert.Error(t, err)
}

func TestHandleAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "api error message", err: &types.APIError{StatusCode: 400, Message: "Email is required"}, want: "Email is required"},
		{
			name: "validation errors only",
			err:  &types.APIError{StatusCode: 422, Errors: []types.ValidationError{{Field: "email", Message: "invalid email"}}},
			want: "invalid email",
		},
		{name: "status text fallback", err: &types.APIError{StatusCode: 404}, want: "Not Found"},
		{name: "unknown status", err: &types.APIError{StatusCode: 599}, want: "An unexpected error occurred"},
		{
			name: "auth error",
			err:  &auth.AuthError{Op: "refresh_token", Message: "failed to refresh token", Err: auth.ErrRefreshFailed},
			want: "failed to refresh token",
		},
		{name: "plain error", err: errors.New("dial tcp: connection refused"), want: "dial tcp: connection refused"},
		{name: "empty error", err: errors.New(""), want: "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HandleAPIError(tt.err))
		})
	}
}

func TestHTTPTransportResolve(t *testing.T) {
	tests := []struct {
		baseURL string
		prefix  string
		req     *types.Request
		want    string
	}{
		{baseURL: "http://localhost:3000", prefix: "/api/v1", req: &types.Request{Path: "/contacts"}, want: "http://localhost:3000/api/v1/contacts"},
		{baseURL: "https://crm.example.com/", prefix: "/api/v1/", req: &types.Request{Path: "contacts/"}, want: "https://crm.example.com/api/v1/contacts"},
		{baseURL: "https://crm.example.com/backend", prefix: "/api/v1", req: &types.Request{Path: "/deals?stage=won"}, want: "https://crm.example.com/backend/api/v1/deals?stage=won"},
		{baseURL: "https://crm.example.com", prefix: "", req: &types.Request{Path: "/deals", Query: map[string][]string{"q": {"a b"}}}, want: "https://crm.example.com/deals?q=a+b"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			transport, err := NewHTTPTransport(&HTTPTransportConfig{BaseURL: tt.baseURL, APIPrefix: tt.prefix}, NewConfig().Logger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, transport.resolve(tt.req))
		})
	}
}

func TestHTTPTransportMaxContentSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	t.Cleanup(server.Close)

	transport, err := NewHTTPTransport(&HTTPTransportConfig{
		BaseURL:        server.URL,
		Timeout:        NewConfig().Timeout,
		MaxContentSize: 16,
	}, NewConfig().Logger)
	require.NoError(t, err)

	_, err = transport.Send(t.Context(), types.NewRequest(http.MethodGet, "/big", nil))
	assert.ErrorIs(t, err, ErrContentTooLarge)
}

func TestHTTPTransportReturnsResponseForAnyStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(server.Close)

	transport, err := NewHTTPTransport(&HTTPTransportConfig{BaseURL: server.URL, Timeout: NewConfig().Timeout}, NewConfig().Logger)
	require.NoError(t, err)

	req := types.NewRequest(http.MethodPost, "/", []byte(`{}`))
	req.Header.Set("Authorization", "Bearer abc")
	resp, err := transport.Send(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestValidateRedirectURL(t *testing.T) {
	origin, _ := http.NewRequest(http.MethodGet, "https://crm.example.com/a", nil)
	via := []*http.Request{origin}

	tests := []struct {
		target  string
		wantErr bool
	}{
		{target: "https://crm.example.com/b"},
		{target: "http://crm.example.com/b", wantErr: true},
		{target: "https://evil.example.com/b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, tt.target, nil)
			require.NoError(t, err)
			err = validateRedirectURL(req.URL, via)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
