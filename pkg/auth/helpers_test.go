package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/d-kuro/crmclient/pkg/storage"
	"github.com/d-kuro/crmclient/pkg/types"
)

const (
	oldAccess  = "access-token-old"
	oldRefresh = "refresh-token-old"
	newAccess  = "access-token-new"
	newRefresh = "refresh-token-new"
)

func oldPair() storage.CredentialPair {
	return storage.CredentialPair{AccessToken: oldAccess, RefreshToken: oldRefresh}
}

func newPair() *storage.CredentialPair {
	return &storage.CredentialPair{AccessToken: newAccess, RefreshToken: newRefresh}
}

// fakeAPI accepts requests carrying the valid bearer token and answers 401
// otherwise. Paths listed in status always answer with that code.
type fakeAPI struct {
	mu     sync.Mutex
	valid  string
	status map[string]int
	err    error
	calls  []string
}

func newFakeAPI(valid string) *fakeAPI {
	return &fakeAPI{valid: valid, status: map[string]int{}}
}

func (f *fakeAPI) Send(_ context.Context, req *types.Request) (*types.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	auth := req.Header.Get("Authorization")
	f.calls = append(f.calls, req.Method+" "+req.Path+" "+auth)
	if f.err != nil {
		return nil, f.err
	}
	if code, ok := f.status[req.Path]; ok {
		return jsonResponse(code, `{"success":false,"error":"forced failure"}`), nil
	}
	if auth != "Bearer "+f.valid {
		return jsonResponse(http.StatusUnauthorized, `{"success":false,"error":"Token expired"}`), nil
	}
	return jsonResponse(http.StatusOK, fmt.Sprintf(`{"success":true,"data":{"path":%q}}`, req.Path)), nil
}

func (f *fakeAPI) callsTo(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, call := range f.calls {
		if fields := strings.Fields(call); len(fields) > 1 && fields[1] == path {
			n++
		}
	}
	return n
}

func jsonResponse(code int, body string) *types.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &types.Response{StatusCode: code, Header: header, Body: []byte(body)}
}

// fakeRefresher counts calls and optionally blocks until gate is closed.
type fakeRefresher struct {
	calls  atomic.Int32
	tokens chan string
	gate   chan struct{}
	fn     func(ctx context.Context, refreshToken string) (*storage.CredentialPair, error)
}

func (r *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*storage.CredentialPair, error) {
	r.calls.Add(1)
	if r.tokens != nil {
		r.tokens <- refreshToken
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.fn == nil {
		return newPair(), nil
	}
	return r.fn(ctx, refreshToken)
}

type logoutCounter struct {
	n atomic.Int32
}

func (l *logoutCounter) handler() LogoutHandler {
	return func() { l.n.Add(1) }
}

func (l *logoutCounter) count() int {
	return int(l.n.Load())
}

// brokenStore fails every Load with a non-recoverable error.
type brokenStore struct {
	storage.MemoryStore
}

func (b *brokenStore) Load(context.Context) (*storage.CredentialPair, error) {
	return nil, storage.ErrStoragePermission
}
