package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/sandrinn/llm-gateway/internal/tokens"
)

const (
	DefaultPort = 8790
	DefaultHost = "127.0.0.1"
)

// Config file names probed in order; JSON is the write-back default.
var configFilenames = []string{"config.yaml", "config.yml", "config.json"}

// HostCapability configures the upstream the default capability adapter
// fronts, plus the Claude-family model mapping.
type HostCapability struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// Models lists available handles as "id" or "id@version". Fixed for
	// the process lifetime; changing it requires a reload.
	Models []string `json:"models" yaml:"models"`
	// ClaudeMainModel and ClaudeFastModel are the identifiers the Claude
	// date-suffix refinement redirects to.
	ClaudeMainModel string `json:"claude_main_model,omitempty" yaml:"claude_main_model,omitempty"`
	ClaudeFastModel string `json:"claude_fast_model,omitempty" yaml:"claude_fast_model,omitempty"`
}

type Config struct {
	Host           string         `json:"host,omitempty" yaml:"host,omitempty"`
	Port           int            `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey         string         `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	HostCapability HostCapability `json:"host_capability" yaml:"host_capability"`
	Calibration    tokens.Config  `json:"calibration,omitempty" yaml:"calibration,omitempty"`
	DiagnosticsDir string         `json:"diagnostics_dir,omitempty" yaml:"diagnostics_dir,omitempty"`
}

// Validate reports configuration errors a server start should refuse on.
func (c *Config) Validate() error {
	if c.HostCapability.BaseURL == "" {
		return errors.New("host_capability.base_url is required")
	}

	if len(c.HostCapability.Models) == 0 {
		return errors.New("host_capability.models must list at least one model")
	}

	return nil
}

// Manager loads and snapshots configuration. Get is safe for concurrent
// use; Load and Save replace the snapshot atomically.
type Manager struct {
	baseDir     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// GetPath returns the config file in use: the first existing candidate,
// else the JSON default location.
func (m *Manager) GetPath() string {
	for _, name := range configFilenames {
		path := filepath.Join(m.baseDir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return filepath.Join(m.baseDir, "config.json")
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetPath())
	return err == nil
}

func (m *Manager) Load() (*Config, error) {
	path := m.GetPath()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal json config: %w", err)
		}
	}

	applyDefaults(&cfg, m.baseDir)

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = &Config{}
		applyDefaults(cfg, m.baseDir)
	}

	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	path := m.GetPath()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func applyDefaults(cfg *Config, baseDir string) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.DiagnosticsDir == "" {
		cfg.DiagnosticsDir = filepath.Join(baseDir, "diagnostics")
	}
}
