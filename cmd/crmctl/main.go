// Command crmctl is a command-line client for the CRM API.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/d-kuro/crmclient"
	"github.com/d-kuro/crmclient/pkg/auth"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess      = 0
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", crmclient.HandleAPIError(err))
		os.Exit(exitCode(err))
	}
}

// exitCode maps authentication failures to a distinct exit code for scripts.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case auth.IsAuthFailure(err), errors.Is(err, errNotAuthenticated):
		return ExitCodeAuthRequired
	default:
		return ExitCodeError
	}
}
