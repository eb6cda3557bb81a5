package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Daemon is the file configuration for cmd/widgetd. YAML and JSON are
// both accepted; the extension picks the decoder.
type Daemon struct {
	ListenAddr        string        `json:"listenAddr" yaml:"listenAddr"`
	BackendURL        string        `json:"backendUrl" yaml:"backendUrl"`
	BackendAPIKey     string        `json:"backendApiKey" yaml:"backendApiKey"`
	StoreBackend      string        `json:"storeBackend" yaml:"storeBackend"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"`
	RequestTimeout    time.Duration `json:"requestTimeout" yaml:"requestTimeout"`
	RateLimitPerMin   int           `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
	DailyQuota        int           `json:"dailyQuota" yaml:"dailyQuota"`
}

func LoadDaemon(path string) (Daemon, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Daemon{}, fmt.Errorf("config path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Daemon{}, fmt.Errorf("failed to resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return Daemon{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
	}

	var cfg Daemon
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Daemon{}, fmt.Errorf("failed to decode config file %q as YAML: %w", absPath, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Daemon{}, fmt.Errorf("failed to decode config file %q as JSON: %w", absPath, err)
		}
	}

	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.BackendURL = strings.TrimSpace(cfg.BackendURL)
	cfg.StoreBackend = strings.TrimSpace(cfg.StoreBackend)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8780"
	}
	return cfg, nil
}
