package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d-kuro/crmclient"
	"github.com/d-kuro/crmclient/pkg/browser"
	"github.com/d-kuro/crmclient/pkg/storage"
)

// Flag and config keys specific to the CLI.
const (
	keyConfig    = "config"
	keyStore     = "store"
	keyRedisAddr = "redis_addr"
	keyRedisKey  = "redis_key"
	keyVerbose   = "verbose"
	keyNoBrowser = "no_browser"

	storeFile   = "file"
	storeMemory = "memory"
	storeRedis  = "redis"
)

// app holds the state shared by every subcommand.
type app struct {
	v      *viper.Viper
	logger zerolog.Logger

	// newStore is replaced in tests.
	newStore func(ctx context.Context) (storage.CredentialStore, error)
}

func newRootCmd() *cobra.Command {
	a := &app{v: crmclient.NewViper()}
	a.newStore = a.openStore

	rootCmd := &cobra.Command{
		Use:   "crmctl",
		Short: "Command-line client for the CRM API",
		Long: `crmctl calls the CRM REST API with automatic access token refresh.

Configuration is read from --config, then CRM_* environment variables
(for example CRM_BASE_URL), then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(keyConfig, "", "config file (yaml, json or toml)")
	flags.String("base-url", "", "CRM server base URL")
	flags.String(keyStore, storeFile, "credential store: file, memory or redis")
	flags.String("redis-addr", "localhost:6379", "redis address for --store redis")
	flags.String("redis-key", "", "redis key holding the credentials")
	flags.BoolP(keyVerbose, "v", false, "enable debug logging")
	flags.Bool("no-browser", false, "do not open the login page on session expiry")

	for key, flag := range map[string]string{
		keyConfig:            keyConfig,
		crmclient.KeyBaseURL: "base-url",
		keyStore:             keyStore,
		keyRedisAddr:         "redis-addr",
		keyRedisKey:          "redis-key",
		keyVerbose:           keyVerbose,
		keyNoBrowser:         "no-browser",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", flag, err))
		}
	}

	rootCmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newGetCmd(a),
		newRequestCmd(a),
		newBurstCmd(a),
	)
	return rootCmd
}

// init reads the config file and sets up logging.
func (a *app) init() error {
	level := zerolog.InfoLevel
	if a.v.GetBool(keyVerbose) {
		level = zerolog.DebugLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	if path := a.v.GetString(keyConfig); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		a.logger.Debug().Str("path", path).Msg("Loaded config file")
	}
	return nil
}

// client builds an API client from the resolved configuration.
func (a *app) client(ctx context.Context) (*crmclient.Client, error) {
	store, err := a.newStore(ctx)
	if err != nil {
		return nil, err
	}

	config, err := crmclient.ConfigFromViper(a.v,
		crmclient.WithCredentialStore(store),
		crmclient.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	if !a.v.GetBool(keyNoBrowser) {
		config.LogoutHandler = browser.HardLogoutHandler(resolveLoginURL(config.BaseURL, config.LoginURL), a.logger)
	}
	return crmclient.NewClientWithConfig(config)
}

func (a *app) openStore(ctx context.Context) (storage.CredentialStore, error) {
	switch kind := strings.ToLower(a.v.GetString(keyStore)); kind {
	case storeFile, "":
		return storage.Default(), nil
	case storeMemory:
		return storage.NewMemoryStore(), nil
	case storeRedis:
		rdb := redis.NewClient(&redis.Options{Addr: a.v.GetString(keyRedisAddr)})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrRedisUnavailable, err)
		}
		var opts []storage.RedisStoreOption
		if key := a.v.GetString(keyRedisKey); key != "" {
			opts = append(opts, storage.WithRedisKey(key))
		}
		return storage.NewRedisStore(rdb, opts...), nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", kind)
	}
}

// resolveLoginURL makes a relative login URL absolute against baseURL.
func resolveLoginURL(baseURL, loginURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return loginURL
	}
	ref, err := url.Parse(loginURL)
	if err != nil {
		return loginURL
	}
	return base.ResolveReference(ref).String()
}
