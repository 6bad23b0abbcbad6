package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Watcher kinds accepted by the run command.
const (
	WatcherPoll  = "poll"
	WatcherFeed  = "feed"
	WatcherStdin = "stdin"
)

// Foreground probes used by the poll watcher.
const (
	ProbeEWMH    = "ewmh"
	ProbeXdotool = "xdotool"
)

// Config holds all configurable focustrack settings.
type Config struct {
	SelfID         string `json:"self_id"`          // identifier never recorded; defaults to this executable
	Watcher        string `json:"watcher"`          // "poll" | "feed" | "stdin"
	Probe          string `json:"probe"`            // "ewmh" | "xdotool"
	PollIntervalMS int    `json:"poll_interval_ms"` // sampling interval for the poll watcher
	FeedPath       string `json:"feed_path"`        // focus feed file for the feed watcher and emit
	DefaultFormat  string `json:"default_format"`   // "markdown" | "json"
	LogLevel       string `json:"log_level"`        // "debug" | "info" | "warn" | "error"
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		Watcher:        WatcherPoll,
		Probe:          ProbeEWMH,
		PollIntervalMS: 1000,
		FeedPath:       defaultFeedPath(),
		DefaultFormat:  "markdown",
		LogLevel:       "info",
	}
}

// defaultFeedPath places the feed next to the session store. If no home
// directory is available the feed lives in the working directory.
func defaultFeedPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "focus.feed"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "focustrack", "focus.feed")
}

// PollInterval returns the poll watcher interval as a duration.
func (c Config) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate rejects settings the run command can't act on.
func (c Config) Validate() error {
	switch c.Watcher {
	case WatcherPoll, WatcherFeed, WatcherStdin:
	default:
		return fmt.Errorf("unknown watcher %q (want poll, feed or stdin)", c.Watcher)
	}
	switch c.Probe {
	case ProbeEWMH, ProbeXdotool:
	default:
		return fmt.Errorf("unknown probe %q (want ewmh or xdotool)", c.Probe)
	}
	switch c.DefaultFormat {
	case "markdown", "json":
	default:
		return fmt.Errorf("unknown format %q (want markdown or json)", c.DefaultFormat)
	}
	return nil
}

// Path returns the location of the global config file.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "focustrack", "config.json"), nil
}

// LoadGlobal reads ~/.config/focustrack/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return loadFile(path)
}

// loadFile reads and parses a JSON config file at path, returning defaults
// when the file is absent.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d := Defaults()
			return &d, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines the file config with command-line overrides, with overrides
// taking precedence. Missing keys fall back to the file, then defaults.
func Merge(file, override *Config) Config {
	result := Defaults()
	apply(&result, file)
	apply(&result, override)
	return result
}

func apply(dst *Config, src *Config) {
	if src == nil {
		return
	}
	if src.SelfID != "" {
		dst.SelfID = src.SelfID
	}
	if src.Watcher != "" {
		dst.Watcher = src.Watcher
	}
	if src.Probe != "" {
		dst.Probe = src.Probe
	}
	if src.PollIntervalMS > 0 {
		dst.PollIntervalMS = src.PollIntervalMS
	}
	if src.FeedPath != "" {
		dst.FeedPath = src.FeedPath
	}
	if src.DefaultFormat != "" {
		dst.DefaultFormat = src.DefaultFormat
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
