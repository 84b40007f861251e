package app

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr       string
	Path       string
	DBPath     string
	TokenTTL   time.Duration
	AuthLimit  int
	AuthWindow time.Duration
	NotifyURL  string
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL   string
	SessionPath string
	SuggestURL  string
}

// ServerConfigFromEnv fills the gaps in cfg from PULSECHAT_* variables.
func ServerConfigFromEnv(cfg ServerConfig) ServerConfig {
	if cfg.Addr == "" {
		cfg.Addr = envOr("PULSECHAT_ADDR", ":8080")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = envDuration("PULSECHAT_TOKEN_TTL", 24*time.Hour)
	}
	if cfg.AuthLimit == 0 {
		cfg.AuthLimit = envInt("PULSECHAT_AUTH_LIMIT", 10)
	}
	if cfg.AuthWindow == 0 {
		cfg.AuthWindow = envDuration("PULSECHAT_AUTH_WINDOW", time.Minute)
	}
	if cfg.NotifyURL == "" {
		cfg.NotifyURL = os.Getenv("PULSECHAT_NOTIFY_WEBHOOK")
	}
	return cfg
}

// ClientConfigFromEnv fills the gaps in cfg from PULSECHAT_* variables.
func ClientConfigFromEnv(cfg ClientConfig) ClientConfig {
	if cfg.ServerURL == "" {
		cfg.ServerURL = envOr("PULSECHAT_SERVER_URL", "ws://localhost:8080/join")
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = DefaultSessionPath()
	}
	if cfg.SuggestURL == "" {
		cfg.SuggestURL = os.Getenv("PULSECHAT_SUGGEST_WEBHOOK")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("PULSECHAT_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("PULSECHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "pulsechat.db")
	}
	return filepath.Join(dataDir(), "pulsechat.db")
}

// DefaultSessionPath returns where the client keeps its login token.
func DefaultSessionPath() string {
	if env := os.Getenv("PULSECHAT_SESSION_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "session.json")
}

func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pulsechat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "PulseChat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "PulseChat")
		}
		return filepath.Join(home, ".local", "share", "pulsechat")
	}
	return filepath.Join(".", ".pulsechat")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/join"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
