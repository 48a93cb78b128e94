package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Build-time variables injected via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Config holds all launcher configuration.
type Config struct {
	// APIURL is the base URL of the launcher backend, ending in "/".
	APIURL string `yaml:"api_url"`

	// Debug enables verbose logging to stderr in addition to the log file.
	Debug bool `yaml:"debug"`

	// Home overrides the user home directory used for the local layout.
	Home string `yaml:"home"`

	// LogDir is the directory for log files. Defaults to <cache>/logs.
	LogDir string `yaml:"log_dir"`

	// ControlAddr is the listen address of the local control API.
	// A zero port picks a free one.
	ControlAddr string `yaml:"control_addr"`

	// ControlSecret, when set, is required in the X-Launcher-Secret header.
	ControlSecret string `yaml:"control_secret"`

	// RuntimeVersion is the Java major version downloaded when none is installed.
	RuntimeVersion int `yaml:"runtime_version"`

	// PollInterval is the mailbox poll cadence.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RegisterInterval is the presence re-registration cadence.
	RegisterInterval time.Duration `yaml:"register_interval"`

	// Throttle is the default delay between successive client launches.
	Throttle time.Duration `yaml:"throttle"`

	// RequestTimeout bounds every backend API call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// IPCheckURL returns this machine's public IP as plain text.
	IPCheckURL string `yaml:"ip_check_url"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		APIURL:           "https://services.botlauncher.org/api/",
		ControlAddr:      "127.0.0.1:0",
		RuntimeVersion:   11,
		PollInterval:     5 * time.Second,
		RegisterInterval: 30 * time.Second,
		Throttle:         10 * time.Second,
		RequestTimeout:   30 * time.Second,
		IPCheckURL:       "https://checkip.amazonaws.com",
	}
}

// Load reads the optional YAML file at path, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if v := os.Getenv("BOTLAUNCHER_API_URL"); v != "" {
		cfg.APIURL = v
	}

	if v := os.Getenv("BOTLAUNCHER_DEBUG"); v != "" {
		cfg.Debug = v == "true"
	}

	if v := os.Getenv("BOTLAUNCHER_HOME"); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv("BOTLAUNCHER_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}

	if v := os.Getenv("BOTLAUNCHER_CONTROL_ADDR"); v != "" {
		cfg.ControlAddr = v
	}

	if v := os.Getenv("BOTLAUNCHER_CONTROL_SECRET"); v != "" {
		cfg.ControlSecret = v
	}

	if v := os.Getenv("BOTLAUNCHER_RUNTIME_VERSION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("BOTLAUNCHER_RUNTIME_VERSION: %w", err)
		}
		cfg.RuntimeVersion = n
	}

	for env, dst := range map[string]*time.Duration{
		"BOTLAUNCHER_POLL_INTERVAL":     &cfg.PollInterval,
		"BOTLAUNCHER_REGISTER_INTERVAL": &cfg.RegisterInterval,
		"BOTLAUNCHER_THROTTLE":          &cfg.Throttle,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env, err)
		}
		*dst = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL)
	}
	if !strings.HasSuffix(c.APIURL, "/") {
		c.APIURL += "/"
	}
	if c.RuntimeVersion != 8 && c.RuntimeVersion != 11 {
		return fmt.Errorf("runtime_version must be 8 or 11, got %d", c.RuntimeVersion)
	}
	if c.PollInterval <= 0 || c.RegisterInterval <= 0 {
		return fmt.Errorf("poll and register intervals must be positive")
	}
	if c.Throttle < 0 {
		return fmt.Errorf("throttle must not be negative")
	}
	return nil
}

// HomeDir returns the configured home directory or the current user's.
func (c *Config) HomeDir() (string, error) {
	if c.Home != "" {
		return c.Home, nil
	}
	return os.UserHomeDir()
}

// NewLogger creates a structured logger that writes JSON to a log file,
// mirrored to stderr in debug mode.
func NewLogger(cfg *Config, name string) (*slog.Logger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	logPath := filepath.Join(cfg.LogDir, name+".log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}

	level := slog.LevelInfo
	var out io.Writer = file
	if cfg.Debug {
		level = slog.LevelDebug
		out = io.MultiWriter(file, os.Stderr)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}
