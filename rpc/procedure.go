package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

type Handler func(ctx *Context, input json.RawMessage) (any, error)

// Middleware wraps a handler and may short-circuit it, chain-of-
// responsibility style.
type Middleware func(next Handler) Handler

func chain(h Handler, m ...Middleware) Handler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Pipeline assembles procedures from the shared middleware stages: timing
// first, then the session gate for protected procedures, then the handler.
type Pipeline struct {
	dev       bool
	timingLog bool
}

func NewPipeline(dev bool, timingLog bool) *Pipeline {
	return &Pipeline{dev: dev, timingLog: timingLog}
}

func (p *Pipeline) Public(name string, h Handler) Handler {
	return chain(h, p.timing(name))
}

func (p *Pipeline) Protected(name string, h Handler) Handler {
	return chain(h, p.timing(name), requireSession)
}

// timing is a passthrough outside dev mode. In dev it injects an
// artificial 100-500ms delay to surface latency-sensitive UI bugs early,
// and logs the elapsed time per procedure unless the timing log is
// switched off.
func (p *Pipeline) timing(name string) Middleware {
	if !p.dev {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx *Context, input json.RawMessage) (any, error) {
			start := time.Now()

			waitMs := rand.Intn(400) + 100
			time.Sleep(time.Duration(waitMs) * time.Millisecond)

			out, err := next(ctx, input)

			if p.timingLog {
				slog.Info("rpc procedure finished", "procedure", name, "duration", time.Since(start))
			}
			return out, err
		}
	}
}

// requireSession aborts with UNAUTHORIZED before the handler runs when the
// request carries no complete session. Past this point handlers may rely
// on ctx.Session.User being set.
func requireSession(next Handler) Handler {
	return func(ctx *Context, input json.RawMessage) (any, error) {
		if ctx.Session == nil || ctx.Session.User == nil {
			return nil, &Error{Code: CodeUnauthorized, Cause: errors.New("no session on context")}
		}
		return next(ctx, input)
	}
}
