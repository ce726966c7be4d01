package server

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"tap/auth"
	"tap/herr"
	mw "tap/middleware"
	"tap/rpc"
	"tap/session"
	"tap/store"
	"tap/ws"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type server struct {
	host            string
	env             string
	staticDir       string
	store           store.Store
	sessionManager  *session.Manager
	feed            *ws.Feed
	github          *auth.Github
	rpcRouter       *rpc.Router
	CORSAllowed     map[string]bool
	protectedRoutes map[string]bool
}

type ServerCfg struct {
	Host         string
	ClientID     string
	ClientSecret string
	Env          string
	DBPath       string
	StaticDir    string
	TimingLog    bool
}

func New(cfg ServerCfg) *server {
	store, err := store.New(cfg.DBPath)
	if err != nil {
		log.Panicln("something went wrong creating the store:", err)
	}
	isProd := cfg.Env == "prod"
	sessionManager := session.NewManager(store, 30, 15, isProd)
	feed := ws.New(store)
	github := auth.NewGithub(
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.Host+"/api/login/github/callback",
		cfg.Host,
		store,
		sessionManager,
	)
	pipeline := rpc.NewPipeline(!isProd, cfg.TimingLog)
	rpcRouter := rpc.NewRouter(store, sessionManager, feed, pipeline)

	CORSAllowed := map[string]bool{
		cfg.Host: true,
	}
	protectedRoutes := map[string]bool{
		"/api/login/session": true,
		"/api/logout":        true,
		"/api/ws":            true,
	}
	return &server{
		host:            cfg.Host,
		env:             cfg.Env,
		staticDir:       cfg.StaticDir,
		store:           store,
		sessionManager:  sessionManager,
		feed:            feed,
		github:          github,
		rpcRouter:       rpcRouter,
		CORSAllowed:     CORSAllowed,
		protectedRoutes: protectedRoutes,
	}
}

const port = 3000

var portStr = fmt.Sprintf(":%d", port)

func (s *server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	mux.HandleFunc("POST /api/rpc/{procedure}", s.rpcRouter.Handle)
	mux.Handle("GET /api/ws", herr.Wrap(s.feed.Handle))
	mux.Handle("GET /api/login/github", herr.Wrap(s.github.HandleLogin))
	mux.Handle("GET /api/login/github/callback", herr.Wrap(s.github.HandleCallBack))
	mux.Handle("GET /api/login/session", herr.Wrap(s.sessionManager.HandleCurrentSession))
	mux.Handle("POST /api/logout", herr.Wrap(s.sessionManager.HandleLogout))
	mux.Handle("GET /metrics", promhttp.Handler())

	server := mw.Chain(
		mux,
		mw.RateLimit(15, 50),
		mw.Logger(),
		mw.CORS(s.CORSAllowed),
		mw.Protect(s.protectedRoutes, s.sessionManager),
		mw.Metrics(),
	)

	slog.Info("Server is listening", "port", port, "env", s.env)
	return http.ListenAndServe(portStr, server)
}
