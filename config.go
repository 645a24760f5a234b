package crmclient

import (
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/d-kuro/crmclient/pkg/auth"
	"github.com/d-kuro/crmclient/pkg/constants"
	"github.com/d-kuro/crmclient/pkg/storage"
)

// Config holds all configuration options for the CRM client.
type Config struct {
	// API Configuration
	BaseURL   string `json:"baseUrl,omitempty" mapstructure:"base_url"`
	APIPrefix string `json:"apiPrefix,omitempty" mapstructure:"api_prefix"`

	// Auth endpoints, relative to APIPrefix
	LoginPath   string `json:"loginPath,omitempty" mapstructure:"login_path"`
	RefreshPath string `json:"refreshPath,omitempty" mapstructure:"refresh_path"`
	LogoutPath  string `json:"logoutPath,omitempty" mapstructure:"logout_path"`
	MePath      string `json:"mePath,omitempty" mapstructure:"me_path"`

	// LoginURL is where a hard logout sends the user.
	LoginURL string `json:"loginUrl,omitempty" mapstructure:"login_url"`

	// HTTP Configuration
	Timeout        time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
	RefreshTimeout time.Duration `json:"refreshTimeout,omitempty" mapstructure:"refresh_timeout"`
	MaxContentSize int64         `json:"maxContentSize,omitempty" mapstructure:"max_content_size"`
	UserAgent      string        `json:"userAgent,omitempty" mapstructure:"user_agent"`

	// Credential Storage
	CredentialStore storage.CredentialStore `json:"-" mapstructure:"-"`

	// LogoutHandler runs once per failed refresh cycle, after the
	// credentials were cleared. Defaults to logging a warning.
	LogoutHandler auth.LogoutHandler `json:"-" mapstructure:"-"`

	Logger zerolog.Logger `json:"-" mapstructure:"-"`
}

// ConfigOption defines a functional option for configuring the Config.
type ConfigOption func(*Config)

// WithBaseURL sets the server base URL.
func WithBaseURL(baseURL string) ConfigOption {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithAPIPrefix sets the path prefix every API path is joined to.
func WithAPIPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.APIPrefix = prefix
	}
}

// WithAuthPaths overrides the login and refresh endpoint paths.
func WithAuthPaths(loginPath, refreshPath string) ConfigOption {
	return func(c *Config) {
		c.LoginPath = loginPath
		c.RefreshPath = refreshPath
	}
}

// WithLogoutPath sets the server logout endpoint. An empty path skips the
// server call on logout.
func WithLogoutPath(logoutPath string) ConfigOption {
	return func(c *Config) {
		c.LogoutPath = logoutPath
	}
}

// WithLoginURL sets the hard-logout destination.
func WithLoginURL(loginURL string) ConfigOption {
	return func(c *Config) {
		c.LoginURL = loginURL
	}
}

// WithCredentialStore sets a custom credential store.
func WithCredentialStore(store storage.CredentialStore) ConfigOption {
	return func(c *Config) {
		c.CredentialStore = store
	}
}

// WithLogoutHandler sets the hard-logout side effect.
func WithLogoutHandler(handler auth.LogoutHandler) ConfigOption {
	return func(c *Config) {
		c.LogoutHandler = handler
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRefreshTimeout bounds the token refresh call.
func WithRefreshTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.RefreshTimeout = timeout
	}
}

// WithMaxContentSize sets the maximum response body size.
func WithMaxContentSize(size int64) ConfigOption {
	return func(c *Config) {
		c.MaxContentSize = size
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) ConfigOption {
	return func(c *Config) {
		c.UserAgent = userAgent
	}
}

// NewConfig creates a new configuration with the provided options.
// If no options are provided, returns a configuration pointing at a local
// development server.
func NewConfig(opts ...ConfigOption) *Config {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return config
}

func defaultConfig() *Config {
	return &Config{
		BaseURL:     constants.DefaultBaseURL,
		APIPrefix:   constants.DefaultAPIPrefix,
		LoginPath:   constants.DefaultLoginPath,
		RefreshPath: constants.DefaultRefreshPath,
		LogoutPath:  constants.DefaultLogoutPath,
		MePath:      constants.DefaultMePath,
		LoginURL:    constants.DefaultLoginURL,

		Timeout:        constants.DefaultHTTPTimeout,
		RefreshTimeout: constants.TokenRefreshTimeout,
		MaxContentSize: constants.DefaultMaxContentSize,
		UserAgent:      constants.DefaultUserAgent,

		// Process-wide store, created on first use
		CredentialStore: storage.Default(),
		Logger:          zerolog.Nop(),
	}
}

// Validate ensures the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return &ConfigError{Field: "BaseURL", Message: constants.ValidationErrorEmpty}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Field: "BaseURL", Message: constants.ValidationErrorInvalid}
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return &ConfigError{Field: "APIPrefix", Message: constants.ValidationErrorInvalid}
	}
	if c.LoginPath == "" {
		return &ConfigError{Field: "LoginPath", Message: constants.ValidationErrorEmpty}
	}
	if c.RefreshPath == "" {
		return &ConfigError{Field: "RefreshPath", Message: constants.ValidationErrorEmpty}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Field: "Timeout", Message: constants.ValidationErrorInvalid}
	}
	if c.RefreshTimeout <= 0 {
		return &ConfigError{Field: "RefreshTimeout", Message: constants.ValidationErrorInvalid}
	}
	if c.MaxContentSize <= 0 {
		return &ConfigError{Field: "MaxContentSize", Message: constants.ValidationErrorInvalid}
	}
	if c.CredentialStore == nil {
		return &ConfigError{Field: "CredentialStore", Message: constants.ValidationErrorRequired}
	}
	return nil
}

// endpoints returns the auth endpoint paths.
func (c *Config) endpoints() auth.Endpoints {
	return auth.Endpoints{
		LoginPath:   c.LoginPath,
		RefreshPath: c.RefreshPath,
		LogoutPath:  c.LogoutPath,
	}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return constants.ConfigErrorPrefix + e.Field + ": " + e.Message
}
