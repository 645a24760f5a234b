package auth

import (
	"errors"
	"path"
	"strings"

	"github.com/d-kuro/crmclient/pkg/types"
)

// Classification is the verdict of the failure classifier.
type Classification int

const (
	// NotEligible failures are returned to the caller unchanged.
	NotEligible Classification = iota
	// EligibleFirstAttempt failures go through the refresh coordinator.
	EligibleFirstAttempt
	// EligibleExhausted failures were already replayed once and are
	// surfaced as an authentication failure.
	EligibleExhausted
)

func (c Classification) String() string {
	switch c {
	case NotEligible:
		return "not-eligible"
	case EligibleFirstAttempt:
		return "eligible-first-attempt"
	case EligibleExhausted:
		return "eligible-exhausted"
	default:
		return "unknown"
	}
}

// Classifier decides whether a failed attempt represents an expired
// credential. It holds only the auth endpoint paths, so classification is a
// pure function of status, target and retry flag.
type Classifier struct {
	LoginPath   string
	RefreshPath string
}

// Classify inspects the failure of attempt.
func (c Classifier) Classify(err error, attempt types.Attempt) Classification {
	var apiErr *types.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
		return NotEligible
	}
	if attempt.Request == nil || c.isAuthEndpoint(attempt.Request.Path) {
		return NotEligible
	}
	if attempt.Retried {
		return EligibleExhausted
	}
	return EligibleFirstAttempt
}

// isAuthEndpoint reports whether p targets the login or refresh endpoint.
// A failing auth call must never trigger another refresh.
func (c Classifier) isAuthEndpoint(p string) bool {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	p = path.Clean("/" + p)
	for _, endpoint := range []string{c.LoginPath, c.RefreshPath} {
		if endpoint == "" {
			continue
		}
		endpoint = path.Clean("/" + endpoint)
		if p == endpoint || strings.HasPrefix(p, endpoint+"/") {
			return true
		}
	}
	return false
}
