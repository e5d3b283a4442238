// Package config loads the client core configuration from a YAML file, an
// optional .env file and PEERWALL_* environment overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the client core.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	DataDir    string           `yaml:"data_dir"`
	Log        LogConfig        `yaml:"log"`
	Retry      RetryConfig      `yaml:"retry"`
	Pagination PaginationConfig `yaml:"pagination"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Notify     NotifyConfig     `yaml:"notify"`
	Media      MediaConfig      `yaml:"media"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Guard      GuardConfig      `yaml:"guard"`

	// DebugAddr, when set, serves health and metrics on a loopback address.
	DebugAddr string `yaml:"debug_addr"`
}

// BackendConfig locates the native backend's command endpoint.
type BackendConfig struct {
	URL         string        `yaml:"url"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LogConfig selects the log level and sink.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// RetryConfig holds the invoke defaults used when callers pass no options.
type RetryConfig struct {
	Count    int           `yaml:"count"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// PaginationConfig holds page sizes per container.
type PaginationConfig struct {
	Messages int `yaml:"messages"`
	Feed     int `yaml:"feed"`
	Wall     int `yaml:"wall"`
	Comments int `yaml:"comments"`
}

// AlertsConfig controls alert cues.
type AlertsConfig struct {
	SoundEnabled  bool    `yaml:"sound_enabled"`
	CuesPerSecond float64 `yaml:"cues_per_second"`
	Burst         int     `yaml:"burst"`
}

// NotifyConfig controls toast durations.
type NotifyConfig struct {
	Normal   time.Duration `yaml:"normal"`
	Critical time.Duration `yaml:"critical"`
}

// MediaConfig controls media staging and resolution.
type MediaConfig struct {
	StagingDir          string   `yaml:"staging_dir"`
	MaxUpload           string   `yaml:"max_upload"`
	PassthroughPrefixes []string `yaml:"passthrough_prefixes"`
}

// OutboxConfig controls the best-effort publish retry queue.
type OutboxConfig struct {
	MaxSize       int           `yaml:"max_size"`
	MaxRetries    int           `yaml:"max_retries"`
	DrainInterval time.Duration `yaml:"drain_interval"`
}

// GuardConfig lists failure texts treated as benign noise.
type GuardConfig struct {
	BenignErrors []string `yaml:"benign_errors"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:         "ws://127.0.0.1:7341/bridge",
			CallTimeout: 30 * time.Second,
			DialTimeout: 5 * time.Second,
		},
		DataDir: "./data",
		Log:     LogConfig{Level: "info"},
		Retry: RetryConfig{
			Count:    0,
			Delay:    time.Second,
			MaxDelay: 30 * time.Second,
		},
		Pagination: PaginationConfig{
			Messages: 50,
			Feed:     20,
			Wall:     20,
			Comments: 50,
		},
		Alerts: AlertsConfig{
			SoundEnabled:  true,
			CuesPerSecond: 1,
			Burst:         3,
		},
		Notify: NotifyConfig{
			Normal:   4 * time.Second,
			Critical: 8 * time.Second,
		},
		Media: MediaConfig{
			MaxUpload: "25MB",
		},
		Outbox: OutboxConfig{
			MaxSize:       256,
			MaxRetries:    5,
			DrainInterval: 30 * time.Second,
		},
		Guard: GuardConfig{
			BenignErrors: []string{
				"context canceled",
				"websocket: close 1000",
				"websocket: close 1001",
			},
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if non-empty and present), then .env, then PEERWALL_* variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults only
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	_ = godotenv.Load(".env")

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PEERWALL_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("PEERWALL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PEERWALL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PEERWALL_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("PEERWALL_SOUND_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PEERWALL_SOUND_ENABLED %q: %w", v, err)
		}
		c.Alerts.SoundEnabled = enabled
	}
	if v := os.Getenv("PEERWALL_RETRY_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PEERWALL_RETRY_COUNT %q: %w", v, err)
		}
		c.Retry.Count = n
	}
	if v := os.Getenv("PEERWALL_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PEERWALL_RETRY_DELAY %q: %w", v, err)
		}
		c.Retry.Delay = d
	}
	if v := os.Getenv("PEERWALL_MEDIA_MAX_UPLOAD"); v != "" {
		c.Media.MaxUpload = v
	}
	if v := os.Getenv("PEERWALL_DEBUG_ADDR"); v != "" {
		c.DebugAddr = v
	}
	return nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Backend.URL, "ws://") && !strings.HasPrefix(c.Backend.URL, "wss://") {
		return fmt.Errorf("backend.url must be a ws:// or wss:// URL, got %q", c.Backend.URL)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is empty")
	}
	if c.Retry.Count < 0 {
		return fmt.Errorf("retry.count must not be negative")
	}
	if c.Retry.Delay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	for name, size := range map[string]int{
		"pagination.messages": c.Pagination.Messages,
		"pagination.feed":     c.Pagination.Feed,
		"pagination.wall":     c.Pagination.Wall,
		"pagination.comments": c.Pagination.Comments,
	} {
		if size <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Alerts.CuesPerSecond <= 0 || c.Alerts.Burst <= 0 {
		return fmt.Errorf("alerts.cues_per_second and alerts.burst must be positive")
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	if c.DebugAddr != "" {
		host, _, err := net.SplitHostPort(c.DebugAddr)
		if err != nil {
			return fmt.Errorf("invalid debug_addr %q: %w", c.DebugAddr, err)
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return fmt.Errorf("debug_addr must be a loopback address, got %q", c.DebugAddr)
		}
	}
	return nil
}

// MaxUploadBytes parses media.max_upload ("25MB", "512 KiB").
func (c *Config) MaxUploadBytes() (int64, error) {
	if c.Media.MaxUpload == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Media.MaxUpload)
	if err != nil {
		return 0, fmt.Errorf("invalid media.max_upload %q: %w", c.Media.MaxUpload, err)
	}
	return int64(n), nil
}

// DBPath is the SQLite file holding client-only durable state.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "peerwall.db")
}

// StagingDir is where picked media waits until it is stored by the backend.
func (c *Config) StagingDir() string {
	if c.Media.StagingDir != "" {
		return c.Media.StagingDir
	}
	return filepath.Join(c.DataDir, "staging")
}
