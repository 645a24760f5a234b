// Package browser sends the user to the login entry point after a hard
// logout.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/d-kuro/crmclient/pkg/constants"
)

// Navigator opens the login entry point in the system browser.
type Navigator struct {
	LoginURL string

	// start launches the browser command; replaced in tests.
	start func(name string, args ...string) error
}

// NewNavigator creates a navigator for loginURL.
func NewNavigator(loginURL string) *Navigator {
	return &Navigator{
		LoginURL: loginURL,
		start:    startCommand,
	}
}

// Navigate opens LoginURL. Only absolute http(s) URLs are opened.
func (n *Navigator) Navigate() error {
	u, err := url.Parse(n.LoginURL)
	if err != nil {
		return fmt.Errorf("invalid login URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("login URL must be absolute http(s), got %q", n.LoginURL)
	}

	cmd, args := browserCommand(runtime.GOOS)
	args = append(args, u.String())

	start := n.start
	if start == nil {
		start = startCommand
	}
	return start(cmd, args...)
}

// HardLogoutHandler returns a logout handler that logs the forced logout and
// opens loginURL. Browser failures are logged, never returned.
func HardLogoutHandler(loginURL string, logger zerolog.Logger) func() {
	navigator := NewNavigator(loginURL)
	return func() {
		logger.Warn().Str("login_url", loginURL).Msg("Session expired, please log in again")
		if err := navigator.Navigate(); err != nil {
			logger.Debug().Err(err).Msg("Failed to open browser automatically")
		}
	}
}

// browserCommand returns the command opening a URL on goos.
func browserCommand(goos string) (string, []string) {
	commands, exists := constants.BrowserCommands[goos]
	if !exists {
		// Fallback for unsupported OS
		return "xdg-open", nil
	}
	return commands[0], append([]string(nil), commands[1:]...)
}

func startCommand(name string, args ...string) error {
	_, err := launch(exec.Command(name, args...))
	return err
}

// launch starts cmd and reaps it in the background. The returned channel
// receives the exit result once the process is gone.
func launch(cmd *exec.Cmd) (<-chan error, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	return done, nil
}
