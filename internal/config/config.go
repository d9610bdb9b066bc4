package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig configures the chatsync client binary.
type ClientConfig struct {
	APIBaseURL string
	WSURL      string
	Token      string

	ReconnectDelay time.Duration
	TypingTTL      time.Duration
	TypingSuppress time.Duration
	SeenCap        int
	HistoryLimit   int
}

// LoadClient reads client configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIBaseURL: getEnv("CHATSYNC_API_URL", "http://localhost:8000"),
		WSURL:      getEnv("CHATSYNC_WS_URL", "ws://localhost:8000/ws"),
		Token:      os.Getenv("CHATSYNC_TOKEN"),

		ReconnectDelay: getEnvAsDuration("CHATSYNC_RECONNECT_DELAY", 5*time.Second),
		TypingTTL:      getEnvAsDuration("CHATSYNC_TYPING_TTL", 3*time.Second),
		TypingSuppress: getEnvAsDuration("CHATSYNC_TYPING_SUPPRESS", 2*time.Second),
		SeenCap:        getEnvAsInt("CHATSYNC_SEEN_CAP", 100),
		HistoryLimit:   getEnvAsInt("CHATSYNC_HISTORY_LIMIT", 50),
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("CHATSYNC_TOKEN is required")
	}
	return cfg, nil
}

// ServerConfig configures the loopback devserver.
type ServerConfig struct {
	Host         string
	Port         int
	DatabasePath string
	JWTSecret    string
	TokenMinutes int
	CORSOrigins  []string
	DevUsers     []string // user:password pairs
}

// LoadServer reads devserver configuration from the environment.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Host:         getEnv("DEVSERVER_HOST", "0.0.0.0"),
		Port:         getEnvAsInt("DEVSERVER_PORT", 8000),
		DatabasePath: getEnv("DEVSERVER_DB", "devserver.db"),
		JWTSecret:    os.Getenv("DEVSERVER_JWT_SECRET"),
		TokenMinutes: getEnvAsInt("DEVSERVER_TOKEN_MINUTES", 60*24),
	}

	origins := getEnv("DEVSERVER_CORS_ORIGINS", "")
	if origins != "" {
		cfg.CORSOrigins = splitTrimmed(origins)
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	users := getEnv("DEVSERVER_USERS", "alice:alice,bob:bob")
	cfg.DevUsers = splitTrimmed(users)

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("DEVSERVER_JWT_SECRET is required")
	}
	return cfg, nil
}

func (c *ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
