package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Server        struct {
		BaseURL   string `json:"base_url"`
		SocketURL string `json:"socket_url"`
		AuthToken string `json:"auth_token"`
	} `json:"server"`
	Paging struct {
		ThreadLimit  int `json:"thread_limit"`
		MessageLimit int `json:"message_limit"`
	} `json:"paging"`
	Notify struct {
		Enabled bool   `json:"enabled"`
		Sound   string `json:"sound"`
	} `json:"notify"`
	Janitor struct {
		Schedule string `json:"schedule"`
		TTL      string `json:"ttl"`
	} `json:"janitor"`
}

// JanitorTTL parses the janitor TTL, falling back to an hour when the
// configured value is empty or malformed.
func (c *Config) JanitorTTL() time.Duration {
	d, err := time.ParseDuration(c.Janitor.TTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

func Load(path string) (*Config, error) {
	// A .env next to the working directory can seed the overrides below.
	godotenv.Load()

	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".roomsync"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.Server.BaseURL = "https://api.rooms.example.com/v1"
	cfg.Server.SocketURL = "wss://push.rooms.example.com/socket"
	cfg.Paging.ThreadLimit = 100
	cfg.Paging.MessageLimit = 25
	cfg.Notify.Sound = "default"
	cfg.Janitor.Schedule = "@every 5m"
	cfg.Janitor.TTL = "1h"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if baseURL := os.Getenv("ROOMSYNC_BASE_URL"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	if socketURL := os.Getenv("ROOMSYNC_SOCKET_URL"); socketURL != "" {
		cfg.Server.SocketURL = socketURL
	}
	if token := os.Getenv("ROOMSYNC_AUTH_TOKEN"); token != "" {
		cfg.Server.AuthToken = token
	}
	if dataDir := os.Getenv("ROOMSYNC_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level := os.Getenv("ROOMSYNC_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

// Save writes the config as indented JSON, atomically.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts the config to a nested map via its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns the config as a flat dot-keyed map, optionally
// with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dot-keyed value from the config file at path.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	val, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return val, nil
}

// SetValue writes one dot-keyed value into the config file at path.
// The value keeps the type of the existing entry: numbers and booleans
// are parsed, everything else stays a string.
func SetValue(path, key, value string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	existing, ok := flat[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	flat[key] = coerce(value, existing)

	nested := Unflatten(flat)
	data, err := json.Marshal(nested)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	updated := &Config{}
	if err := json.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("apply config value: %w", err)
	}
	return Save(path, updated)
}

// coerce parses value into the same JSON type as existing.
func coerce(value string, existing any) any {
	switch existing.(type) {
	case float64:
		var f float64
		if _, err := fmt.Sscanf(value, "%g", &f); err == nil {
			return f
		}
	case bool:
		return value == "true"
	}
	return value
}
