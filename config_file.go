package crmclient

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/d-kuro/crmclient/pkg/constants"
)

// Keys understood in config files and as CRM_-prefixed environment
// variables (for example CRM_BASE_URL).
const (
	KeyBaseURL        = "base_url"
	KeyAPIPrefix      = "api_prefix"
	KeyLoginPath      = "login_path"
	KeyRefreshPath    = "refresh_path"
	KeyLogoutPath     = "logout_path"
	KeyMePath         = "me_path"
	KeyLoginURL       = "login_url"
	KeyTimeout        = "timeout"
	KeyRefreshTimeout = "refresh_timeout"
	KeyMaxContentSize = "max_content_size"
	KeyUserAgent      = "user_agent"
)

// NewViper returns a viper instance with the client defaults registered and
// CRM_ environment variables bound.
func NewViper() *viper.Viper {
	v := viper.New()
	SetViperDefaults(v)
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// SetViperDefaults registers every config key so environment variables are
// honored by Unmarshal.
func SetViperDefaults(v *viper.Viper) {
	d := defaultConfig()
	v.SetDefault(KeyBaseURL, d.BaseURL)
	v.SetDefault(KeyAPIPrefix, d.APIPrefix)
	v.SetDefault(KeyLoginPath, d.LoginPath)
	v.SetDefault(KeyRefreshPath, d.RefreshPath)
	v.SetDefault(KeyLogoutPath, d.LogoutPath)
	v.SetDefault(KeyMePath, d.MePath)
	v.SetDefault(KeyLoginURL, d.LoginURL)
	v.SetDefault(KeyTimeout, d.Timeout)
	v.SetDefault(KeyRefreshTimeout, d.RefreshTimeout)
	v.SetDefault(KeyMaxContentSize, d.MaxContentSize)
	v.SetDefault(KeyUserAgent, d.UserAgent)
}

// LoadConfigFile reads path (any format viper supports) layered over the
// defaults and CRM_ environment variables, then applies opts.
func LoadConfigFile(path string, opts ...ConfigOption) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return ConfigFromViper(v, opts...)
}

// ConfigFromViper builds a Config from v, then applies opts.
func ConfigFromViper(v *viper.Viper, opts ...ConfigOption) (*Config, error) {
	config := defaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	for _, opt := range opts {
		opt(config)
	}
	return config, nil
}
