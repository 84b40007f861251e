package main

import (
	"flag"
	"fmt"
	"os"

	"pulsechat/internal/app"
)

func main() {
	defaultServer := envOrDefault("PULSECHAT_SERVER_URL", "ws://localhost:8080/join")

	serverJoinURL := flag.String("server", defaultServer, "WebSocket join URL (e.g., ws://localhost:8080/join)")
	session := flag.String("session", "", "path to the session file (defaults to a per-user path)")
	flag.Parse()

	cfg := app.ClientConfig{
		ServerURL:   *serverJoinURL,
		SessionPath: *session,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
