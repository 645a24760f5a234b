package auth

import (
	"context"

	"github.com/d-kuro/crmclient/pkg/constants"
	"github.com/d-kuro/crmclient/pkg/storage"
	"github.com/d-kuro/crmclient/pkg/types"
)

// Decorate returns a copy of req carrying the access credential as a bearer
// Authorization header. Without a credential the copy is sent undecorated.
func Decorate(req *types.Request, pair *storage.CredentialPair) *types.Request {
	decorated := req.Clone()
	decorated.Header.Del(constants.HeaderAuthorization)
	if pair.IsZero() {
		return decorated
	}

	// Same value oauth2.Token.SetAuthHeader sets on an *http.Request.
	token := pair.Token()
	decorated.Header.Set(constants.HeaderAuthorization, token.Type()+" "+token.AccessToken)
	return decorated
}

// send decorates the attempt with pair, sends it once and converts any
// non-2xx response into *types.APIError. The returned attempt records the
// credential it was sent with.
func send(ctx context.Context, transport Transport, attempt types.Attempt, pair *storage.CredentialPair) (*types.Response, types.Attempt, error) {
	if !pair.IsZero() {
		attempt = attempt.WithCredential(pair.AccessToken)
	}

	resp, err := transport.Send(ctx, Decorate(attempt.Request, pair))
	if err != nil {
		return nil, attempt, err
	}
	if !resp.IsSuccess() {
		return resp, attempt, types.NewAPIError(resp)
	}
	return resp, attempt, nil
}
