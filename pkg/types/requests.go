// Package types provides the request and response descriptors shared by the
// transport, the auth coordinator and the public client.
package types

import (
	"net/http"
	"net/url"
)

// Request describes an outgoing API call independently of any credential.
// Path is relative to the configured API prefix (for example "/contacts").
type Request struct {
	Method string      `json:"method"`
	Path   string      `json:"path"`
	Query  url.Values  `json:"query,omitempty"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// NewRequest creates a request descriptor.
func NewRequest(method, path string, body []byte) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Header: make(http.Header),
		Body:   body,
	}
}

// Clone returns a deep copy so decorations never leak between attempts.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := &Request{
		Method: r.Method,
		Path:   r.Path,
		Header: r.Header.Clone(),
	}
	if clone.Header == nil {
		clone.Header = make(http.Header)
	}
	if r.Query != nil {
		clone.Query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			clone.Query[k] = append([]string(nil), v...)
		}
	}
	if r.Body != nil {
		clone.Body = append([]byte(nil), r.Body...)
	}
	return clone
}

// Attempt wraps a request with per-attempt state. It is a value type: Retry
// returns a flipped copy and never mutates the receiver.
type Attempt struct {
	Request *Request

	// Retried is set once the request has been replayed after a refresh.
	// It is never unset.
	Retried bool

	// Credential is the access token the attempt was sent with, empty if it
	// was sent undecorated.
	Credential string
}

// NewAttempt creates the first attempt for a request.
func NewAttempt(req *Request) Attempt {
	return Attempt{Request: req}
}

// Retry returns a copy of the attempt marked as already retried.
func (a Attempt) Retry() Attempt {
	a.Retried = true
	a.Credential = ""
	return a
}

// WithCredential returns a copy recording the access token used to send it.
func (a Attempt) WithCredential(accessToken string) Attempt {
	a.Credential = accessToken
	return a
}
