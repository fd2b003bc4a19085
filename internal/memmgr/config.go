package memmgr

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bundy-dns/memmgrd/internal/slogutil"
	"github.com/jinzhu/copier"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// BuilderConfig governs retry behavior for the bounded-latency startup RPC
// that enumerates already-connected readers.
type BuilderConfig struct {
	StartupRPCRetries uint          `yaml:"startup_rpc_retries" mapstructure:"startup_rpc_retries"`
	StartupRPCBackoff time.Duration `yaml:"startup_rpc_backoff" mapstructure:"startup_rpc_backoff"`
}

// Config is memmgrd's full configuration surface.
type Config struct {
	MappedFileDir string             `yaml:"mapped_file_dir" mapstructure:"mapped_file_dir"`
	Log           slogutil.LogConfig `yaml:"log" mapstructure:"log"`
	Builder       BuilderConfig      `yaml:"builder" mapstructure:"builder"`
}

// DefaultConfig returns memmgrd's default configuration.
func DefaultConfig() *Config {
	return &Config{
		MappedFileDir: "/var/bundy/mapped-files",
		Log: slogutil.LogConfig{
			Level:      "info",
			MaxSizeMB:  5,
			MaxAgeDays: 14,
			MaxBackups: 5,
			Compress:   false,
		},
		Builder: BuilderConfig{
			StartupRPCRetries: 3,
			StartupRPCBackoff: 50 * time.Millisecond,
		},
	}
}

// DeepCopy returns an independent copy of the configuration, used to hand
// callbacks a snapshot that is safe to read without holding the manager's
// lock.
func (c *Config) DeepCopy() *Config {
	var dst Config
	if err := copier.CopyWithOption(&dst, c, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on incompatible types, which cannot happen
		// copying Config onto itself; a clean fallback keeps this total.
		dst = *c
	}
	return &dst
}

// Validate rejects configurations that cannot be acted on. fs is used to
// check mapped_file_dir's existence and writability on every reconfigure,
// not only once at startup.
func (c *Config) Validate(fs afero.Fs) error {
	if c.MappedFileDir == "" {
		return fmt.Errorf("mapped_file_dir must be set")
	}
	if err := ValidateMappedFileDir(fs, c.MappedFileDir); err != nil {
		return err
	}
	if c.Builder.StartupRPCRetries == 0 {
		return fmt.Errorf("builder.startup_rpc_retries must be at least 1")
	}
	return nil
}

// ConfigGetter returns the current configuration snapshot.
type ConfigGetter func() *Config

// ChangeCallback is invoked with the previous and new configuration
// whenever the manager accepts an update.
type ChangeCallback func(old, new *Config)

// Manager is a thread-safe holder of the current configuration, grounded
// on the teacher's config manager: callbacks always receive DeepCopy
// snapshots so they can't observe (or corrupt) the manager's live value.
type Manager struct {
	mu         sync.RWMutex
	current    *Config
	configFile string
	fs         afero.Fs
	callbacks  []ChangeCallback
	log        *slog.Logger
}

// NewManager wraps an already-validated configuration. fs is used to
// re-check mapped_file_dir on every subsequent UpdateConfig.
func NewManager(cfg *Config, configFile string, fs afero.Fs, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Manager{current: cfg, configFile: configFile, fs: fs, log: log.With("component", "config-manager")}
}

// GetConfig returns a DeepCopy snapshot of the current configuration.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.DeepCopy()
}

// GetConfigGetter returns a ConfigGetter bound to this manager.
func (m *Manager) GetConfigGetter() ConfigGetter {
	return m.GetConfig
}

// UpdateConfig validates and installs a new configuration, then invokes
// every registered callback with DeepCopy snapshots of the old and new
// values, outside the lock so a slow callback cannot stall readers.
func (m *Manager) UpdateConfig(next *Config) error {
	if err := next.Validate(m.fs); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.current.DeepCopy()
	m.current = next.DeepCopy()
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, next.DeepCopy())
	}
	return nil
}

// OnConfigChange registers a callback invoked after every accepted update.
func (m *Manager) OnConfigChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// LoadConfig reads configuration from configFile via viper, applying
// defaults for anything unset and writing the file if it does not yet
// exist, exactly as the teacher's LoadConfig does for its own config
// surface.
func LoadConfig(fs afero.Fs, configFile string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := fs.Stat(configFile); os.IsNotExist(err) {
		if err := SaveToFile(fs, configFile, cfg); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(fs); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveToFile serializes cfg as YAML to configFile.
func SaveToFile(fs afero.Fs, configFile string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return afero.WriteFile(fs, configFile, data, 0o644)
}
