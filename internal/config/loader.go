// Config loader with hot-reload and validation.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReloadCallback is invoked after a successful hot reload.
type ReloadCallback func(oldConfig, newConfig *Config)

// Manager loads the configuration, watches the source files and republishes
// the tree on change. Reads are cheap and safe from any goroutine.
type Manager struct {
	mu       sync.RWMutex
	viper    *viper.Viper
	validate *validator.Validate
	logger   *zap.Logger

	config     *Config
	lastReload time.Time

	watcher    *fsnotify.Watcher
	watchPaths []string
	callbacks  []ReloadCallback
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewManager creates an unloaded configuration manager.
func NewManager(logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		viper:    viper.New(),
		validate: validator.New(),
		logger:   logger.Named("config"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Load reads the configuration from the given YAML paths (missing files are
// skipped), overlays environment variables, validates the result and starts
// the file watcher for hot reload.
func (m *Manager) Load(configPaths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setupViper()
	setDefaults(m.viper)

	if err := m.mergeConfigFiles(configPaths...); err != nil {
		return fmt.Errorf("failed to load config files: %w", err)
	}

	cfg, err := m.unmarshalAndValidate()
	if err != nil {
		return err
	}

	if err := m.startWatcher(); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	m.config = cfg
	m.lastReload = time.Now()

	m.logger.Info("Configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.Strings("files", m.watchPaths))

	return nil
}

// Config returns the current configuration tree.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnReload registers a callback fired after every successful hot reload.
func (m *Manager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// LastReload returns the time the configuration was last (re)loaded.
func (m *Manager) LastReload() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReload
}

// Close stops the file watcher.
func (m *Manager) Close() error {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) setupViper() {
	m.viper.SetConfigType("yaml")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.SetEnvPrefix("ECOBRIDGE")
}

func (m *Manager) mergeConfigFiles(configPaths ...string) error {
	if len(configPaths) == 0 {
		configPaths = []string{
			"./config.yaml",
			"./configs/config.yaml",
			"/etc/ecobridge/config.yaml",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			m.logger.Debug("Config file not found, skipping", zap.String("path", path))
			continue
		}

		m.viper.SetConfigFile(path)
		if err := m.viper.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to merge config file %s: %w", path, err)
		}
		m.watchPaths = append(m.watchPaths, path)
	}

	if len(m.watchPaths) == 0 {
		m.logger.Warn("No configuration files found, using defaults and environment variables")
	}
	return nil
}

func (m *Manager) unmarshalAndValidate() (*Config, error) {
	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := m.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := validateRules(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// validateRules checks cross-field constraints the tag validator cannot.
func validateRules(cfg *Config) error {
	if cfg.Quota.OptimalDailyCap > cfg.Quota.HardDailyCap {
		return fmt.Errorf("quota.optimal_daily_cap (%v) exceeds quota.hard_daily_cap (%v)",
			cfg.Quota.OptimalDailyCap, cfg.Quota.HardDailyCap)
	}
	if cfg.Transfer.PoorLine > cfg.Transfer.RichLine {
		return fmt.Errorf("transfer.poor_line (%v) exceeds transfer.rich_line (%v)",
			cfg.Transfer.PoorLine, cfg.Transfer.RichLine)
	}
	if cfg.Transfer.NewbieHours > cfg.Transfer.VeteranHours {
		return fmt.Errorf("transfer.newbie_hours (%v) exceeds transfer.veteran_hours (%v)",
			cfg.Transfer.NewbieHours, cfg.Transfer.VeteranHours)
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis sync enabled but redis.addr is empty")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka sync enabled but kafka.brokers is empty")
	}
	w := cfg.Market.SeasonalWeight + cfg.Market.WeekendWeight +
		cfg.Market.NewbieWeight + cfg.Market.InflationWeight
	if w <= 0 {
		return fmt.Errorf("market environment weights must sum to a positive value, got %v", w)
	}
	return nil
}

func (m *Manager) startWatcher() error {
	if len(m.watchPaths) == 0 {
		m.logger.Info("No config files to watch, hot-reload disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	m.watcher = watcher

	for _, path := range m.watchPaths {
		if err := watcher.Add(path); err != nil {
			m.logger.Warn("Failed to watch config file", zap.String("path", path), zap.Error(err))
		}
	}

	go m.watchForChanges()
	return nil
}

func (m *Manager) watchForChanges() {
	debounce := time.NewTimer(0)
	debounce.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				m.logger.Debug("Config file changed", zap.String("file", event.Name))
				// Editors fire bursts of events on save; collapse them.
				debounce.Reset(500 * time.Millisecond)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("Config watcher error", zap.Error(err))

		case <-debounce.C:
			if err := m.reload(); err != nil {
				m.logger.Error("Failed to reload configuration, keeping previous", zap.Error(err))
			}
		}
	}
}

func (m *Manager) reload() error {
	m.mu.Lock()

	for _, path := range m.watchPaths {
		m.viper.SetConfigFile(path)
		if err := m.viper.MergeInConfig(); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("failed to re-read config file %s: %w", path, err)
		}
	}

	newCfg, err := m.unmarshalAndValidate()
	if err != nil {
		m.mu.Unlock()
		return err
	}

	oldCfg := m.config
	m.config = newCfg
	m.lastReload = time.Now()
	callbacks := make([]ReloadCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.logger.Info("Configuration reloaded", zap.Time("at", m.LastReload()))
	for _, cb := range callbacks {
		cb(oldCfg, newCfg)
	}
	return nil
}
