package main

import (
	"log/slog"
	"os"
	"tap/server"

	_ "github.com/joho/godotenv/autoload"
)

func run() error {
	env := getEnv("ENV", "dev")
	cfg := server.ServerCfg{
		Host:         getEnv("HOST", "http://localhost:3000"),
		ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		Env:          env,
		DBPath:       getEnv("DB_PATH", "./tap.db"),
		StaticDir:    getEnv("STATIC_DIR", "./web"),
		TimingLog:    os.Getenv("RPC_TIMING_LOG") != "false",
	}
	return server.New(cfg).Start()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func main() {
	if err := run(); err != nil {
		slog.Error("Application failed", "err", err)
		os.Exit(1)
	}
}
