package rpc

import (
	"encoding/json"
	"fmt"
	"tap/store"
)

const secretMessage = "you can now see this secret message!"

// Publisher receives every freshly created post so live listeners can be
// notified. A nil publisher is a no-op.
type Publisher interface {
	Publish(userID int64, post *store.Post)
}

type postRouter struct {
	feed Publisher
}

type greeting struct {
	Greeting string `json:"greeting"`
}

func (p *postRouter) hello(ctx *Context, input json.RawMessage) (any, error) {
	var in struct {
		Text *string `json:"text"`
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	fe := FieldErrors{}
	if in.Text == nil {
		fe.Add("text", "Required")
	}
	if len(fe) > 0 {
		return nil, invalidInput(fe)
	}

	return greeting{Greeting: "Hello " + *in.Text}, nil
}

// create inserts a post owned by the session user. The owner always comes
// from the session, never from the input.
func (p *postRouter) create(ctx *Context, input json.RawMessage) (any, error) {
	var in struct {
		Name *string `json:"name"`
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	fe := FieldErrors{}
	switch {
	case in.Name == nil:
		fe.Add("name", "Required")
	case *in.Name == "":
		fe.Add("name", "String must contain at least 1 character(s)")
	}
	if len(fe) > 0 {
		return nil, invalidInput(fe)
	}

	post, err := ctx.Store.CreatePost(*in.Name, ctx.Session.User.ID)
	if err != nil {
		return nil, &Error{Code: CodeInternal, Cause: fmt.Errorf("error creating post: %w", err)}
	}

	if p.feed != nil {
		p.feed.Publish(ctx.Session.User.ID, post)
	}
	return post, nil
}

func (p *postRouter) getLatest(ctx *Context, input json.RawMessage) (any, error) {
	post, err := ctx.Store.LatestPostByUserID(ctx.Session.User.ID)
	if err != nil {
		return nil, &Error{Code: CodeInternal, Cause: fmt.Errorf("error getting latest post: %w", err)}
	}
	return post, nil
}

func (p *postRouter) getSecretMessage(ctx *Context, input json.RawMessage) (any, error) {
	return secretMessage, nil
}

func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return &Error{Code: CodeBadRequest, Message: "malformed input", Cause: err}
	}
	return nil
}
