package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"tap/herr"
	"tap/session"
	"tap/store"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type scoreMessage struct {
	Type string      `json:"type"`
	Post *store.Post `json:"post"`
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// you can't write concurrently to a websocket so every write goes through
// the per-connection mutex
func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// Feed pushes a user's latest post to that user's open connections. The
// RPC create procedure publishes into it after every successful insert.
type Feed struct {
	store store.Store
	mu    sync.Mutex
	conns map[int64]map[*conn]struct{}
}

func New(store store.Store) *Feed {
	return &Feed{
		store: store,
		conns: map[int64]map[*conn]struct{}{},
	}
}

func (f *Feed) register(userID int64, c *conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conns[userID] == nil {
		f.conns[userID] = map[*conn]struct{}{}
	}
	f.conns[userID][c] = struct{}{}
}

func (f *Feed) unregister(userID int64, c *conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns[userID], c)
	if len(f.conns[userID]) == 0 {
		delete(f.conns, userID)
	}
}

// Publish fans the post out to every open connection of its owner. Dead
// connections are dropped; their read loops clean up the registry.
func (f *Feed) Publish(userID int64, post *store.Post) {
	f.mu.Lock()
	conns := make([]*conn, 0, len(f.conns[userID]))
	for c := range f.conns[userID] {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	msg := scoreMessage{Type: "score", Post: post}
	for _, c := range conns {
		if err := c.writeJSON(msg); err != nil {
			slog.Warn("error writing to score feed connection", "error", err)
			c.ws.Close()
		}
	}
}

func (f *Feed) Handle(w http.ResponseWriter, r *http.Request) *herr.Error {
	result, ok := session.FromContext(r.Context())
	if !ok {
		return herr.Unauthorized(errors.New("no session"), "No session data on context")
	}

	latest, err := f.store.LatestPostByUserID(result.User.ID)
	if err != nil {
		return herr.Internal(err, "Error getting latest post")
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return nil
	}

	c := &conn{ws: wsConn}
	f.register(result.User.ID, c)
	slog.Info("score feed connected", "user_id", result.User.ID)

	if err := c.writeJSON(scoreMessage{Type: "score", Post: latest}); err != nil {
		herr.WS(wsConn, err, "error sending initial score")
		f.unregister(result.User.ID, c)
		wsConn.Close()
		return nil
	}

	go f.readLoop(result.User.ID, c)
	return nil
}

// readLoop drains client frames so pings and close messages are handled,
// and tears the connection down when the client goes away.
func (f *Feed) readLoop(userID int64, c *conn) {
	defer func() {
		f.unregister(userID, c)
		c.ws.Close()
		slog.Info("score feed disconnected", "user_id", userID)
	}()

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				slog.Warn("score feed read error", "user_id", userID, "error", err)
			}
			return
		}
	}
}
