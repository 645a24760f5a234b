package crmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/d-kuro/crmclient/pkg/auth"
	"github.com/d-kuro/crmclient/pkg/constants"
	"github.com/d-kuro/crmclient/pkg/types"
)

// ErrContentTooLarge is returned when a response body exceeds MaxContentSize.
var ErrContentTooLarge = errors.New("response body exceeds maximum size")

// HTTPTransport sends API requests over a pooled http.Client. It performs
// no retries and returns a Response for every HTTP status.
type HTTPTransport struct {
	client  *http.Client
	config  *HTTPTransportConfig
	baseURL *url.URL
	logger  zerolog.Logger
}

// HTTPTransportConfig contains configuration for the transport.
type HTTPTransportConfig struct {
	BaseURL        string
	APIPrefix      string
	Timeout        time.Duration
	MaxContentSize int64
	UserAgent      string
}

// ClientPool manages a pool of reusable HTTP clients for different configurations.
type ClientPool struct {
	clients map[string]*http.Client
	mutex   sync.RWMutex
}

// Global client pool for efficient HTTP client reuse
var globalClientPool = &ClientPool{
	clients: make(map[string]*http.Client),
}

// getOrCreateClient retrieves or creates an HTTP client from the pool.
func (cp *ClientPool) getOrCreateClient(timeout time.Duration) *http.Client {
	key := timeout.String()

	cp.mutex.RLock()
	if client, exists := cp.clients[key]; exists {
		cp.mutex.RUnlock()
		return client
	}
	cp.mutex.RUnlock()

	cp.mutex.Lock()
	defer cp.mutex.Unlock()

	// Double-check after acquiring write lock
	if client, exists := cp.clients[key]; exists {
		return client
	}

	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= constants.MaxRedirects {
				return fmt.Errorf("too many redirects (max: %d)", constants.MaxRedirects)
			}
			if err := validateRedirectURL(req.URL, via); err != nil {
				return fmt.Errorf("redirect validation failed: %w", err)
			}
			return nil
		},
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        constants.MaxIdleConns,
			MaxIdleConnsPerHost: constants.MaxIdleConnsPerHost,
			MaxConnsPerHost:     constants.MaxConnsPerHost,
			IdleConnTimeout:     constants.IdleConnTimeout,
			DialContext: (&net.Dialer{
				Timeout:   constants.DefaultDialerTimeout,
				KeepAlive: constants.KeepAliveTimeout,
			}).DialContext,
			TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
			ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			ExpectContinueTimeout: constants.ExpectContinueTimeout,
			ForceAttemptHTTP2:     true,
			WriteBufferSize:       32 * 1024,
			ReadBufferSize:        32 * 1024,
		},
	}

	cp.clients[key] = client
	return client
}

// NewHTTPTransport creates a transport for config.
func NewHTTPTransport(config *HTTPTransportConfig, logger zerolog.Logger) (*HTTPTransport, error) {
	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", baseURL.Scheme)
	}

	return &HTTPTransport{
		client:  globalClientPool.getOrCreateClient(config.Timeout),
		config:  config,
		baseURL: baseURL,
		logger:  logger,
	}, nil
}

// Send implements auth.Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *types.Request) (*types.Response, error) {
	target := t.resolve(req)

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get(constants.HeaderContentType) == "" && req.Body != nil {
		httpReq.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}
	if httpReq.Header.Get(constants.HeaderAccept) == "" {
		httpReq.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	}
	httpReq.Header.Set(constants.HeaderUserAgent, t.config.UserAgent)
	requestID := httpReq.Header.Get(constants.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		httpReq.Header.Set(constants.HeaderRequestID, requestID)
	}

	started := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	content, err := t.readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	t.logger.Debug().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(started)).
		Msg("API request")

	return &types.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       content,
	}, nil
}

// resolve joins the base URL, the API prefix and the request path.
func (t *HTTPTransport) resolve(req *types.Request) string {
	p, rawQuery, _ := strings.Cut(req.Path, "?")

	u := *t.baseURL
	u.Path = joinPath(t.baseURL.Path, t.config.APIPrefix, p)
	u.RawPath = ""

	query, _ := url.ParseQuery(rawQuery)
	for key, values := range req.Query {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// readBody reads at most MaxContentSize bytes.
func (t *HTTPTransport) readBody(r io.Reader) ([]byte, error) {
	maxSize := t.config.MaxContentSize
	if maxSize <= 0 {
		maxSize = constants.DefaultMaxContentSize
	}

	// +1 to detect truncation
	content, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(content)) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrContentTooLarge, maxSize)
	}
	return content, nil
}

func joinPath(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part == "" {
			continue
		}
		b.WriteString("/")
		b.WriteString(part)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// validateRedirectURL allows same-host redirects without a scheme downgrade.
func validateRedirectURL(redirectURL *url.URL, via []*http.Request) error {
	if len(via) == 0 {
		return nil
	}
	original := via[0].URL
	if redirectURL.Scheme != original.Scheme {
		// Allow HTTP -> HTTPS upgrade, but not HTTPS -> HTTP downgrade
		if original.Scheme != "http" || redirectURL.Scheme != "https" {
			return fmt.Errorf("scheme change not allowed: %s -> %s", original.Scheme, redirectURL.Scheme)
		}
	}
	if redirectURL.Hostname() != original.Hostname() {
		return fmt.Errorf("cross-host redirect not allowed: %s -> %s", original.Hostname(), redirectURL.Hostname())
	}
	return nil
}

var _ auth.Transport = (*HTTPTransport)(nil)
