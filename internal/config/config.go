// Package config provides configuration management for the equation editor.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"latex-equations/internal/logger"
	"latex-equations/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "latex-equations-config.json"
	// EnvOpenAIAPIKey is the environment variable name for OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable name for OpenAI base URL
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the model used by the equation fixer
	DefaultModel = "gpt-4o"

	// EngineMathJax renders in-process
	EngineMathJax = "mathjax"
	// EngineCommand shells out to RenderCommand
	EngineCommand = "command"

	DefaultRenderEngine      = EngineMathJax
	DefaultRenderCommand     = "tex2svg"
	DefaultRenderTimeout     = 20 * time.Second
	DefaultRenderConcurrency = 4
	DefaultDebounce          = 300 * time.Millisecond
	DefaultDisplayMode       = "block"
	DefaultLogLevel          = "info"
	// MaxRecentFiles caps the recent file list
	MaxRecentFiles = 10
)

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// If configPath is empty, it uses the default path in user's home directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "latex-equations", DefaultConfigFileName)
	}

	logger.Info("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     defaultConfig(),
	}, nil
}

func defaultConfig() *types.Config {
	return &types.Config{
		RenderEngine:         DefaultRenderEngine,
		RenderCommand:        DefaultRenderCommand,
		RenderTimeoutSeconds: int(DefaultRenderTimeout / time.Second),
		RenderConcurrency:    DefaultRenderConcurrency,
		DefaultDisplayMode:   DefaultDisplayMode,
		DebounceMillis:       int(DefaultDebounce / time.Millisecond),
		BackupEnabled:        true,
		OpenAIBaseURL:        DefaultBaseURL,
		OpenAIModel:          DefaultModel,
		LogLevel:             DefaultLogLevel,
	}
}

// Load loads configuration from the config file.
// A missing or malformed file falls back to defaults; only IO errors are returned.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("failed to read config file", err, logger.String("path", m.configPath))
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
		logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
		m.config = defaultConfig()
		return nil
	}

	config := &types.Config{}
	if err := json.Unmarshal(data, config); err != nil {
		logger.Warn("invalid config file format, using defaults", logger.String("path", m.configPath), logger.Err(err))
		m.config = defaultConfig()
		return nil
	}

	applyDefaults(config)
	m.config = config
	logger.Info("configuration loaded",
		logger.String("path", m.configPath),
		logger.String("engine", config.RenderEngine),
		logger.Int("concurrency", config.RenderConcurrency))
	return nil
}

// applyDefaults fills zero-valued fields
func applyDefaults(c *types.Config) {
	d := defaultConfig()
	if c.RenderEngine == "" {
		c.RenderEngine = d.RenderEngine
	}
	if c.RenderCommand == "" {
		c.RenderCommand = d.RenderCommand
	}
	if c.RenderTimeoutSeconds <= 0 {
		c.RenderTimeoutSeconds = d.RenderTimeoutSeconds
	}
	if c.RenderConcurrency <= 0 {
		c.RenderConcurrency = d.RenderConcurrency
	}
	if c.DefaultDisplayMode != "inline" && c.DefaultDisplayMode != "block" {
		c.DefaultDisplayMode = d.DefaultDisplayMode
	}
	if c.DebounceMillis == 0 {
		c.DebounceMillis = d.DebounceMillis
	}
	if c.OpenAIModel == "" {
		c.OpenAIModel = d.OpenAIModel
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Save saves the current configuration to the config file.
func (m *ConfigManager) Save() error {
	logger.Debug("saving configuration", logger.String("path", m.configPath))

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("failed to create config directory", err, logger.String("dir", dir))
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.GetConfig(), "", "  ")
	if err != nil {
		logger.Error("failed to marshal config", err)
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	// 0600: the file may hold an API key
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved", logger.String("path", m.configPath))
	return nil
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		m.config = defaultConfig()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	if config != nil {
		applyDefaults(config)
	}
	m.config = config
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// GetAPIKey returns the OpenAI API key, falling back to the environment.
func (m *ConfigManager) GetAPIKey() string {
	if key := m.GetConfig().OpenAIAPIKey; key != "" {
		return key
	}
	return os.Getenv(EnvOpenAIAPIKey)
}

// GetBaseURL returns the OpenAI API base URL.
// Config value wins, then the environment, then DefaultBaseURL.
func (m *ConfigManager) GetBaseURL() string {
	if u := m.GetConfig().OpenAIBaseURL; u != "" {
		return u
	}
	if envURL := os.Getenv(EnvOpenAIBaseURL); envURL != "" {
		return envURL
	}
	return DefaultBaseURL
}

// GetModel returns the model used for equation fixing.
func (m *ConfigManager) GetModel() string {
	if model := m.GetConfig().OpenAIModel; model != "" {
		return model
	}
	return DefaultModel
}

// GetRenderEngine returns the configured engine name.
func (m *ConfigManager) GetRenderEngine() string {
	if e := m.GetConfig().RenderEngine; e != "" {
		return e
	}
	return DefaultRenderEngine
}

// GetRenderTimeout returns the per-equation render timeout.
func (m *ConfigManager) GetRenderTimeout() time.Duration {
	if s := m.GetConfig().RenderTimeoutSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return DefaultRenderTimeout
}

// GetRenderConcurrency returns how many equations render in parallel.
func (m *ConfigManager) GetRenderConcurrency() int {
	if c := m.GetConfig().RenderConcurrency; c > 0 {
		return c
	}
	return DefaultRenderConcurrency
}

// GetDebounce returns the edit coalescing window.
// A negative DebounceMillis disables debouncing and yields zero.
func (m *ConfigManager) GetDebounce() time.Duration {
	ms := m.GetConfig().DebounceMillis
	switch {
	case ms < 0:
		return 0
	case ms == 0:
		return DefaultDebounce
	default:
		return time.Duration(ms) * time.Millisecond
	}
}

// GetDisplayMode returns "block" or "inline".
func (m *ConfigManager) GetDisplayMode() string {
	if mode := m.GetConfig().DefaultDisplayMode; mode == "inline" || mode == "block" {
		return mode
	}
	return DefaultDisplayMode
}

// GetGlobalPreamble returns the shared macro preamble.
func (m *ConfigManager) GetGlobalPreamble() string {
	return m.GetConfig().GlobalPreamble
}

// GetWorkDirectory returns the work directory.
func (m *ConfigManager) GetWorkDirectory() string {
	return m.GetConfig().WorkDirectory
}

// GetRecentFiles returns recently used files, newest first.
func (m *ConfigManager) GetRecentFiles() []types.RecentFileItem {
	return m.GetConfig().RecentFiles
}

// AddRecentFile records path at the top of the recent list and saves.
func (m *ConfigManager) AddRecentFile(path, kind string) {
	c := m.GetConfig()
	rest := lo.Filter(c.RecentFiles, func(item types.RecentFileItem, _ int) bool {
		return item.Path != path
	})
	c.RecentFiles = append([]types.RecentFileItem{{
		Path:      path,
		Timestamp: time.Now().UnixMilli(),
		Kind:      kind,
	}}, rest...)
	if len(c.RecentFiles) > MaxRecentFiles {
		c.RecentFiles = c.RecentFiles[:MaxRecentFiles]
	}
	// Save silently, a failed write only loses history
	_ = m.Save()
}

// GetRenderCommand returns the executable used by the command engine.
func (m *ConfigManager) GetRenderCommand() string {
	if c := m.GetConfig().RenderCommand; c != "" {
		return c
	}
	return DefaultRenderCommand
}

// GetRenderArgs returns the extra arguments placed before each equation.
func (m *ConfigManager) GetRenderArgs() []string {
	return append([]string(nil), m.GetConfig().RenderArgs...)
}

// IsBackupEnabled reports whether files are backed up before being overwritten.
func (m *ConfigManager) IsBackupEnabled() bool {
	return m.GetConfig().BackupEnabled
}
