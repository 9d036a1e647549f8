// Package config loads broker configuration from YAML with environment
// variable overrides, the same layered shape the teacher's backend uses:
// file defaults, then env overrides, then hardcoded fallbacks.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

// =============================================================================
// aria-bridge host — configuration with environment overrides
// =============================================================================

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Transport TransportConfig `yaml:"transport"`
}

type ServerConfig struct {
	Host             string   `yaml:"host"`
	PreferredPort    int      `yaml:"preferred_port"`
	Env              string   `yaml:"env"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// WorkspaceConfig controls the lock/discovery file location and the secret
// used to authenticate bridges and consumers.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
	// Secret, when set via ARIA_BRIDGE_SECRET/ARIA_BRIDGE_HOST_SECRET, takes
	// priority over any secret persisted from a prior run.
	Secret string `yaml:"-"`
}

// RateLimitConfig exposes the §4.4/§5 timers as configuration for test and
// deployment tuning; defaults match the spec's canonical values exactly.
type RateLimitConfig struct {
	ScreenshotMinIntervalMs int `yaml:"screenshot_min_interval_ms"`
	OverloadWindowMs        int `yaml:"overload_window_ms"`
	OverloadLimit           int `yaml:"overload_limit"`
}

// TransportConfig toggles the optional Socket.IO dashboard transport
// alongside the mandatory WebSocket and HTTP bridge-session transports.
type TransportConfig struct {
	EnableSocketIO bool   `yaml:"enable_socketio"`
	SocketIOPath   string `yaml:"socketio_path"`
}

// =============================================================================
// Singleton pattern with environment overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance, loading bridge.yaml (or
// CONFIG_PATH) and a .env file if present, then applying environment
// overrides and finally defaults.
func Get() *Config {
	once.Do(func() {
		instance = load()
	})
	return instance
}

// Reset clears the singleton; test-only.
func Reset() {
	once = sync.Once{}
	instance = nil
}

func load() *Config {
	if path := getEnv("DOTENV_PATH", ".env"); path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("config: failed to load .env file", "path", path, "error", err)
		}
	}

	cfg, err := LoadConfig(getEnv("CONFIG_PATH", "bridge.yaml"))
	if err != nil {
		slog.Warn("config: failed to load config file, using defaults", "error", err)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Host = getEnv("ARIA_BRIDGE_HOST", c.Server.Host)
	if v := getEnvInt("ARIA_BRIDGE_PORT", 0); v > 0 {
		c.Server.PreferredPort = v
	}
	c.Server.Env = getEnv("ARIA_BRIDGE_ENV", c.Server.Env)
	if origins := getEnv("ARIA_BRIDGE_CORS_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	c.Workspace.Path = getEnv("ARIA_BRIDGE_WORKSPACE", c.Workspace.Path)

	// Secret priority: ARIA_BRIDGE_HOST_SECRET > ARIA_BRIDGE_SECRET > (lock
	// manager's own "reuse persisted secret" fallback, applied later).
	if s := getEnv("ARIA_BRIDGE_HOST_SECRET", ""); s != "" {
		c.Workspace.Secret = s
	} else if s := getEnv("ARIA_BRIDGE_SECRET", ""); s != "" {
		c.Workspace.Secret = s
	}

	if v := getEnvInt("ARIA_BRIDGE_SCREENSHOT_MIN_INTERVAL_MS", 0); v > 0 {
		c.RateLimit.ScreenshotMinIntervalMs = v
	}
	if v := getEnvInt("ARIA_BRIDGE_OVERLOAD_WINDOW_MS", 0); v > 0 {
		c.RateLimit.OverloadWindowMs = v
	}
	if v := getEnvInt("ARIA_BRIDGE_OVERLOAD_LIMIT", 0); v > 0 {
		c.RateLimit.OverloadLimit = v
	}

	c.Transport.EnableSocketIO = getEnvBool("ARIA_BRIDGE_ENABLE_SOCKETIO", c.Transport.EnableSocketIO)
	c.Transport.SocketIOPath = getEnv("ARIA_BRIDGE_SOCKETIO_PATH", c.Transport.SocketIOPath)
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.PreferredPort == 0 {
		c.Server.PreferredPort = 9230
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Workspace.Path == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Workspace.Path = wd
		} else {
			c.Workspace.Path = "."
		}
	}
	if c.RateLimit.ScreenshotMinIntervalMs == 0 {
		c.RateLimit.ScreenshotMinIntervalMs = int(protocol.ScreenshotMinInterval.Milliseconds())
	}
	if c.RateLimit.OverloadWindowMs == 0 {
		c.RateLimit.OverloadWindowMs = int(protocol.OverloadWindow.Milliseconds())
	}
	if c.RateLimit.OverloadLimit == 0 {
		c.RateLimit.OverloadLimit = protocol.OverloadLimit
	}
	if c.Transport.SocketIOPath == "" {
		c.Transport.SocketIOPath = "/socket.io/"
	}
}

// =============================================================================
// Helper functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
