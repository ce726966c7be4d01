package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"tap/session"
	"tap/store"
)

// Router maps procedure names to their assembled pipelines and serves them
// over HTTP on /api/rpc/{procedure}.
type Router struct {
	store    store.Store
	sessions *session.Manager
	procs    map[string]Handler
}

func NewRouter(st store.Store, sessions *session.Manager, feed Publisher, pipeline *Pipeline) *Router {
	posts := &postRouter{feed: feed}
	return &Router{
		store:    st,
		sessions: sessions,
		procs: map[string]Handler{
			"post.hello":            pipeline.Public("post.hello", posts.hello),
			"post.create":           pipeline.Protected("post.create", posts.create),
			"post.getLatest":        pipeline.Protected("post.getLatest", posts.getLatest),
			"post.getSecretMessage": pipeline.Protected("post.getSecretMessage", posts.getSecretMessage),
		},
	}
}

// Call invokes a procedure directly with an already-built context. The
// HTTP handler and in-process callers (server-rendered paths, tests) share
// this path so both get identical pipeline semantics.
func (rt *Router) Call(ctx *Context, name string, input json.RawMessage) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("rpc procedure panicked", "procedure", name, "panic", rec)
			err = &Error{Code: CodeInternal, Cause: fmt.Errorf("panic: %v", rec)}
		}
	}()

	h, ok := rt.procs[name]
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("no procedure %q", name)}
	}
	return h(ctx, input)
}

type resultShape struct {
	Data any `json:"data"`
}

type response struct {
	Result *resultShape `json:"result,omitempty"`
	Error  *errorShape  `json:"error,omitempty"`
}

func (rt *Router) Handle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("procedure")

	ctx, err := NewContext(r, rt.store, rt.sessions)
	if err != nil {
		slog.Error("error building rpc context", "procedure", name, "error", err)
		writeError(w, &Error{Code: CodeInternal, Cause: err})
		return
	}

	var input json.RawMessage
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, &Error{Code: CodeBadRequest, Message: "malformed request body", Cause: err})
			return
		}
	}

	out, err := rt.Call(ctx, name, input)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response{Result: &resultShape{Data: out}}); err != nil {
		slog.Error("error encoding rpc response", "procedure", name, "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, shape := formatError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Error: &shape}); err != nil {
		slog.Error("error encoding rpc error response", "error", err)
	}
}
