package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/framepanel/internal/logger"
)

// PanelConfig is one hosted panel instance: a stable ID, a display name,
// and its options.
type PanelConfig struct {
	ID      string       `json:"id" yaml:"id" mapstructure:"id"`
	Name    string       `json:"name" yaml:"name" mapstructure:"name"`
	Options PanelOptions `json:"options" yaml:"options" mapstructure:"options"`
}

// Config represents the host configuration
type Config struct {
	ServerPort int           `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	Panels     []PanelConfig `json:"panels" yaml:"panels" mapstructure:"panels"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	v          *viper.Viper
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	// Set default configuration path
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "framepanel")
	defaultConfigPath := filepath.Join(configDir, "config.yaml")

	// Use provided config file or default
	actualConfigPath := defaultConfigPath
	if configFile != "" {
		actualConfigPath = configFile
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(actualConfigPath)
	v.SetConfigType("yaml")
	v.SetDefault("server_port", 8080)
	v.SetDefault("log_level", "info")

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
	}

	// Try to read config file
	if err := m.load(); err != nil {
		if isNotFound(err) {
			// Config file not found, create it with defaults
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = m.getDefaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("panels", len(m.config.Panels)).
		Msg("Config loaded")

	return m, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || os.IsNotExist(err) || errors.Is(err, os.ErrNotExist)
}

// getDefaults returns default configuration
func (m *Manager) getDefaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Panels: []PanelConfig{
			{
				ID:      "default",
				Name:    "Default",
				Options: DefaultPanelOptions(),
			},
		},
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	if err := m.v.ReadInConfig(); err != nil {
		return err
	}

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Panels == nil {
		cfg.Panels = []PanelConfig{}
	}

	// Assign IDs to panels that lack one and normalize options. Generated
	// IDs are persisted so panel URLs stay stable across restarts.
	mutated := false
	for i := range cfg.Panels {
		if cfg.Panels[i].ID == "" {
			cfg.Panels[i].ID = uuid.NewString()
			mutated = true
			logger.WithComponent("config").Info().
				Str("panel", cfg.Panels[i].ID).
				Str("name", cfg.Panels[i].Name).
				Msg("Assigned generated panel id")
		}
		cfg.Panels[i].Options.Normalize()
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()

	if mutated {
		if err := m.Save(); err != nil {
			logger.WithComponent("config").Warn().Err(err).Msg("Failed to save config after id assignment")
		}
	}

	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return m.getDefaults()
	}

	// Return a copy to prevent external modification
	cfg := *m.config
	cfg.Panels = append([]PanelConfig(nil), m.config.Panels...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = m.getDefaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Int("panels", len(cfg.Panels)).
		Msg("Saving config")

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Update replaces the configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetValue sets a dotted configuration key through viper and persists the
// refreshed configuration. Used by the config CLI.
func (m *Manager) SetValue(key string, value interface{}) error {
	m.v.Set(key, value)

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to apply %s: %w", key, err)
	}
	for i := range cfg.Panels {
		cfg.Panels[i].Options.Normalize()
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return m.Save()
}

// Value returns a dotted configuration key through viper.
func (m *Manager) Value(key string) (interface{}, bool) {
	if !m.v.IsSet(key) {
		return nil, false
	}
	return m.v.Get(key), true
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	if m.config == nil {
		m.config = m.getDefaults()
	}
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// GetPort returns the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return 8080
	}
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	if m.config == nil {
		m.config = m.getDefaults()
	}
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetLogLevel returns the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return "info"
	}
	return m.config.LogLevel
}

// GetConfigPath returns the path of the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the directory containing the config file
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// Panels returns a copy of all configured panels
func (m *Manager) Panels() []PanelConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil
	}
	return append([]PanelConfig(nil), m.config.Panels...)
}

// GetPanel returns a copy of the panel with the given id
func (m *Manager) GetPanel(id string) (*PanelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.config.Panels {
		if m.config.Panels[i].ID == id {
			p := m.config.Panels[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("panel not found: %s", id)
}

// AddPanel registers a new panel, generating an ID if none is set, and
// persists the configuration. Returns the stored panel.
func (m *Manager) AddPanel(p PanelConfig) (*PanelConfig, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Options.Normalize()
	if err := p.Options.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.config == nil {
		m.config = m.getDefaults()
	}
	for i := range m.config.Panels {
		if m.config.Panels[i].ID == p.ID {
			m.mu.Unlock()
			return nil, fmt.Errorf("panel already exists: %s", p.ID)
		}
	}
	m.config.Panels = append(m.config.Panels, p)
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		return nil, err
	}
	return &p, nil
}

// RemovePanel deletes a panel by id and persists the configuration
func (m *Manager) RemovePanel(id string) error {
	m.mu.Lock()
	found := false
	panels := m.config.Panels[:0]
	for _, p := range m.config.Panels {
		if p.ID == id {
			found = true
			continue
		}
		panels = append(panels, p)
	}
	m.config.Panels = panels
	m.mu.Unlock()

	if !found {
		return fmt.Errorf("panel not found: %s", id)
	}
	return m.Save()
}

// UpdatePanelOptions replaces one panel's options and persists the
// configuration. The caller is responsible for applying the change to a
// running panel.
func (m *Manager) UpdatePanelOptions(id string, opts PanelOptions) error {
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	found := false
	for i := range m.config.Panels {
		if m.config.Panels[i].ID == id {
			m.config.Panels[i].Options = opts
			found = true
			break
		}
	}
	m.mu.Unlock()

	if !found {
		return fmt.Errorf("panel not found: %s", id)
	}
	return m.Save()
}
