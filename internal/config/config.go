// Package config resolves the engine's process-level settings: flags first,
// then a JSON file's values for anything a flag left at its default. This
// mirrors the bken server's own flag.String/-Int/-Duration set in main.go
// for process knobs, combined with the client's internal/config load/save
// shape for the on-disk fallback.
package config

import (
	"encoding/json"
	"flag"
	"os"
	"time"
)

// Config holds every process-level knob the engine needs at startup. Values
// here configure the process itself (listen address, workspace file,
// logging); the workspace document's own content (environments, layers,
// effects) is loaded separately by package persist.
//
// AudioDevice is parsed and saved, but LocalAdapter always opens the default
// output device. RateLimitPerSec and RateLimitBurst are not applied: the
// HTTP server uses a fixed 5 requests/s with a burst of 10 per remote
// address. ShutdownTimeout is not applied: httpapi's Server.Run uses 5 s.
type Config struct {
	ListenAddr      string        `json:"listen_addr"`
	WorkspacePath   string        `json:"workspace_path"`
	AudioDevice     string        `json:"audio_device"`
	LogLevel        string        `json:"log_level"`
	RateLimitPerSec float64       `json:"rate_limit_per_sec"`
	RateLimitBurst  int           `json:"rate_limit_burst"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// Default returns the engine's built-in defaults.
func Default() Config {
	return Config{
		ListenAddr:      ":7070",
		WorkspacePath:   "workspace.json",
		AudioDevice:     "",
		LogLevel:        "info",
		RateLimitPerSec: 5,
		RateLimitBurst:  10,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load reads cfgPath (if present) over the defaults, then parses flagArgs
// (typically os.Args[1:]) so a flag always wins over the file. A missing
// config file is not an error — it just means every value falls back to a
// default or a flag.
func Load(fs *flag.FlagSet, flagArgs []string, cfgPath string) (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(cfgPath); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	listenAddr := fs.String("addr", cfg.ListenAddr, "HTTP control-plane listen address")
	workspacePath := fs.String("workspace", cfg.WorkspacePath, "path to the workspace JSON document")
	audioDevice := fs.String("audio-device", cfg.AudioDevice, "output audio device name (empty = system default)")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	rateLimit := fs.Float64("rate-limit", cfg.RateLimitPerSec, "control-plane requests per second per remote address")
	rateBurst := fs.Int("rate-limit-burst", cfg.RateLimitBurst, "control-plane request burst per remote address")
	shutdownTimeout := fs.Duration("shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")

	if err := fs.Parse(flagArgs); err != nil {
		return Config{}, err
	}

	cfg.ListenAddr = *listenAddr
	cfg.WorkspacePath = *workspacePath
	cfg.AudioDevice = *audioDevice
	cfg.LogLevel = *logLevel
	cfg.RateLimitPerSec = *rateLimit
	cfg.RateLimitBurst = *rateBurst
	cfg.ShutdownTimeout = *shutdownTimeout
	return cfg, nil
}

// Save writes cfg to path as indented JSON, for an operator who wants to
// capture the effective flags/file merge as the new on-disk default.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
