package auth

import (
	"context"
	"fmt"

	"github.com/d-kuro/crmclient/pkg/storage"
	"github.com/d-kuro/crmclient/pkg/types"
)

// Replayer re-issues a request once with a fresh credential.
type Replayer struct {
	transport  Transport
	classifier Classifier
}

// NewReplayer creates a replay driver.
func NewReplayer(transport Transport, classifier Classifier) *Replayer {
	return &Replayer{
		transport:  transport,
		classifier: classifier,
	}
}

// Replay sends attempt exactly once with pair. The attempt must already be
// marked retried. Its outcome is final: a 401 here is surfaced as
// ErrAuthExhausted and any other failure is returned unchanged.
func (r *Replayer) Replay(ctx context.Context, attempt types.Attempt, pair *storage.CredentialPair) (*types.Response, error) {
	if !attempt.Retried {
		return nil, &AuthError{
			Op:      "replay",
			Message: "refusing to replay",
			Err:     ErrReplayNotMarked,
		}
	}

	resp, attempt, err := send(ctx, r.transport, attempt, pair)
	if err == nil {
		return resp, nil
	}
	if r.classifier.Classify(err, attempt) == EligibleExhausted {
		return nil, exhausted(err)
	}
	return nil, err
}

func exhausted(err error) error {
	return &AuthError{
		Op:      "replay",
		Message: "credential rejected after refresh",
		Err:     fmt.Errorf("%w: %w", ErrAuthExhausted, err),
	}
}
