package rpc

import (
	"fmt"
	"net/http"
	"tap/session"
	"tap/store"
)

// Context is the per-request bundle every handler receives: the shared
// store handle, the session resolved for this request (nil when anonymous)
// and the original request headers. It is built once per request and never
// outlives it.
type Context struct {
	Store   store.Store
	Session *session.SessionValidationResult
	Header  http.Header
}

// NewContext resolves the session exactly once for the inbound request. A
// store failure during resolution is an error, not an anonymous context,
// so protected procedures fail closed.
func NewContext(r *http.Request, st store.Store, sessions *session.Manager) (*Context, error) {
	result, err := sessions.Resolve(r)
	if err != nil {
		return nil, fmt.Errorf("error resolving session: %w", err)
	}
	return &Context{
		Store:   st,
		Session: result,
		Header:  r.Header,
	}, nil
}
