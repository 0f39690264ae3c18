package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.linnet/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	Account        Account `toml:"account"`
	Server         Server  `toml:"server"`
	Queue          Queue   `toml:"queue"`
	Idle           Idle    `toml:"idle"`
	Draft          Draft   `toml:"draft"`
}

// Account identifies the signed-in user for this profile.
type Account struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// Server holds the addresses of the remote collaborators.
type Server struct {
	APIBaseURL string `toml:"api_base_url"`
	SocketURL  string `toml:"socket_url"`
}

// Queue tunes the priority inbound queue.
type Queue struct {
	MaxFrameTimeMs        int  `toml:"max_frame_time_ms"`
	InitialBatchSize      int  `toml:"initial_batch_size"`
	MaxBatchSize          int  `toml:"max_batch_size"`
	BackpressureThreshold int  `toml:"backpressure_threshold"`
	EnablePriority        bool `toml:"enable_priority"`
}

// Idle tunes the idle task executor.
type Idle struct {
	MaxWorkPerIdleMs int `toml:"max_work_per_idle_ms"`
}

// Draft tunes the draft autosave debounce.
type Draft struct {
	DebounceMs int `toml:"debounce_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Queue: Queue{
			MaxFrameTimeMs:        6,
			InitialBatchSize:      8,
			MaxBatchSize:          64,
			BackpressureThreshold: 256,
			EnablePriority:        true,
		},
		Idle:  Idle{MaxWorkPerIdleMs: 10},
		Draft: Draft{DebounceMs: 800},
	}
}

// Load reads config from the given path, applying built-in defaults for
// unset fields. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from the given path, falling back to the
// built-in defaults when the file cannot be read.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
