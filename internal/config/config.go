package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultServerURL is the relay endpoint the agent connects to when no
// --server flag or config value is given.
const DefaultServerURL = "wss://vibecheck.nestoz.co/ws/agent"

// Config holds the immutable per-process agent configuration. APIKey,
// WorkDir and NewSession come from CLI flags; ServerURL and LogLevel may
// also be seeded from the config file.
type Config struct {
	APIKey     string `json:"-"`
	WorkDir    string `json:"-"`
	NewSession bool   `json:"-"`

	ServerURL string `json:"server_url"`
	LogLevel  string `json:"log_level"`

	// DevToolsAddr is the DevTools endpoint of a locally running headless
	// browser, used by the screenshot collaborator.
	DevToolsAddr string `json:"devtools_addr"`

	// PreviewPort, when non-zero, points screenshots at a local dev server
	// instead of the project's static index.html.
	PreviewPort int `json:"preview_port"`
}

// SessionDir returns the directory holding persisted agent state
// (~/.vibecheck), creating it on demand.
func SessionDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".vibecheck")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// Load reads the config file at path, writing one with defaults if it does
// not exist. The VIBECHECK_API_KEY env var seeds APIKey so the flag can be
// omitted on trusted machines.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ServerURL:    DefaultServerURL,
		LogLevel:     "info",
		DevToolsAddr: "127.0.0.1:9222",
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	if key := os.Getenv("VIBECHECK_API_KEY"); key != "" {
		cfg.APIKey = key
	}

	return cfg, nil
}

// ResolveWorkDir makes dir absolute and verifies it is an existing directory.
func ResolveWorkDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve work dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("work dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("work dir is not a directory: %s", abs)
	}
	return abs, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
