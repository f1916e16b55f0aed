package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds settings for both the hub and node daemons. Each binary only
// reads its own section but the loader is shared.
type Config struct {
	// Hub (controller) settings.
	Host              string
	Port              string
	SQLiteDBPath      string
	JWTSecret         string
	JWTTokenExpirySec int
	SetupCode         string
	PingIntervalSec   int
	CommandTimeoutMs  int
	SchedulerTickSec  int
	DefaultNodePort   int

	// Node (audio server) settings.
	NodeHost      string
	NodePort      int
	MediaDir      string
	PlayerCommand string
}

// fileValues holds the optional YAML config file contents. Environment
// variables always win over the file; the file wins over built-in defaults.
type fileValues struct {
	Host              string `yaml:"host"`
	Port              string `yaml:"port"`
	SQLiteDBPath      string `yaml:"sqlite_db_path"`
	JWTSecret         string `yaml:"jwt_secret"`
	JWTTokenExpirySec int    `yaml:"jwt_token_expiry_sec"`
	SetupCode         string `yaml:"setup_code"`
	PingIntervalSec   int    `yaml:"ping_interval_sec"`
	CommandTimeoutMs  int    `yaml:"command_timeout_ms"`
	SchedulerTickSec  int    `yaml:"scheduler_tick_sec"`
	DefaultNodePort   int    `yaml:"default_node_port"`
	NodeHost          string `yaml:"node_host"`
	NodePort          int    `yaml:"node_port"`
	MediaDir          string `yaml:"media_dir"`
	PlayerCommand     string `yaml:"player_command"`
}

// Load reads configuration from the optional YAML file named by
// HEARTBEAT_CONFIG (default ./heartbeat.yaml) and then applies environment
// variable overrides.
func Load() (Config, error) {
	var file fileValues
	path := envString("HEARTBEAT_CONFIG", "heartbeat.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := Config{
		Host:              envString("HUB_HOST", orString(file.Host, "0.0.0.0")),
		Port:              envString("HUB_PORT", orString(file.Port, "9900")),
		SQLiteDBPath:      envString("SQLITE_DB_PATH", orString(file.SQLiteDBPath, "./data/heartbeat-hub.db")),
		JWTSecret:         envString("HUB_JWT_SECRET", file.JWTSecret),
		JWTTokenExpirySec: envInt("HUB_JWT_TOKEN_EXPIRY", orInt(file.JWTTokenExpirySec, 86400)),
		SetupCode:         envString("HUB_SETUP_CODE", file.SetupCode),
		PingIntervalSec:   envInt("HUB_PING_INTERVAL_SEC", orInt(file.PingIntervalSec, 10)),
		CommandTimeoutMs:  envInt("HUB_COMMAND_TIMEOUT_MS", orInt(file.CommandTimeoutMs, 5000)),
		SchedulerTickSec:  envInt("HUB_SCHEDULER_TICK_SEC", orInt(file.SchedulerTickSec, 30)),
		DefaultNodePort:   envInt("HUB_DEFAULT_NODE_PORT", orInt(file.DefaultNodePort, 9915)),
		NodeHost:          envString("NODE_HOST", orString(file.NodeHost, "0.0.0.0")),
		NodePort:          envInt("NODE_PORT", orInt(file.NodePort, 9915)),
		MediaDir:          envString("NODE_MEDIA_DIR", orString(file.MediaDir, defaultMediaDir())),
		PlayerCommand:     envString("NODE_PLAYER_COMMAND", orString(file.PlayerCommand, "cvlc")),
	}

	if cfg.JWTSecret != "" && len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return Config{}, fmt.Errorf("HUB_JWT_SECRET must be at least 32 characters when set")
	}
	if cfg.PingIntervalSec <= 0 {
		return Config{}, fmt.Errorf("HUB_PING_INTERVAL_SEC must be positive")
	}
	if cfg.CommandTimeoutMs <= 0 {
		return Config{}, fmt.Errorf("HUB_COMMAND_TIMEOUT_MS must be positive")
	}

	return cfg, nil
}

// AuthEnabled reports whether the hub HTTP API requires bearer tokens.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func defaultMediaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Documents")
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func orString(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

func orInt(val, fallback int) int {
	if val == 0 {
		return fallback
	}
	return val
}
