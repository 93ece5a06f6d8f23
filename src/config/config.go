// Package config manages catindex configuration: the snapshot store, the set
// of maintained indexes, the category tree import and logging.
// Configuration can be loaded from files (JSON/YAML), environment variables, or code.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/index"
)

// Config represents the complete catindex configuration.
type Config struct {
	// Debug forces debug logging regardless of Log.Level.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty"`

	// StoreConfig specifies where snapshots and the catalog are persisted.
	StoreConfig StoreConfig `json:"store,omitempty" yaml:"store,omitempty"`

	// IndexConfig specifies which indexes are maintained and how they are rebuilt.
	IndexConfig IndexConfig `json:"index,omitempty" yaml:"index,omitempty"`

	// ImportConfig specifies the category tree and ICS import.
	ImportConfig ImportConfig `json:"import,omitempty" yaml:"import,omitempty"`

	// LogConfig specifies logging.
	LogConfig LogConfig `json:"log,omitempty" yaml:"log,omitempty"`

	// MetricsConfig specifies the optional Prometheus exporter.
	MetricsConfig MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// StoreConfig defines the sqlite store.
type StoreConfig struct {
	// Path is the sqlite database file. ":memory:" keeps everything in RAM.
	// Default: "./data/catindex.db"
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// IndexConfig defines the maintained indexes.
type IndexConfig struct {
	// Enabled lists the index names to maintain.
	// Default: every name in index.Names()
	Enabled []string `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// CheckpointEvery is the number of categories between rebuild checkpoints.
	// Zero disables checkpoints.
	// Default: 500
	CheckpointEvery int `json:"checkpoint_every,omitempty" yaml:"checkpoint_every,omitempty"`

	// CheckOnLoad runs a consistency check after snapshots are loaded.
	// Default: false
	CheckOnLoad bool `json:"check_on_load,omitempty" yaml:"check_on_load,omitempty"`
}

// ImportConfig defines how the category tree is read.
type ImportConfig struct {
	// TreeFile is the YAML category tree. Relative ICS paths inside it are
	// resolved against its directory.
	// Default: "./tree.yaml"
	TreeFile string `json:"tree_file,omitempty" yaml:"tree_file,omitempty"`

	// RefreshCron is the schedule of the watch command's rebuilds.
	// Default: "*/15 * * * *"
	RefreshCron string `json:"refresh_cron,omitempty" yaml:"refresh_cron,omitempty"`

	// RecurrenceWindowDays bounds recurring event expansion around now.
	// Default: 365
	RecurrenceWindowDays int `json:"recurrence_window_days,omitempty" yaml:"recurrence_window_days,omitempty"`

	// MaxOccurrences caps the occurrences produced by one recurring event.
	// Default: 1000
	MaxOccurrences int `json:"max_occurrences,omitempty" yaml:"max_occurrences,omitempty"`
}

// LogConfig defines logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
}

// MetricsConfig defines the Prometheus exporter.
type MetricsConfig struct {
	// Port is the HTTP port serving /metrics. Zero disables the exporter.
	// Default: 0
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
}

// Manager manages configuration loading, validation, and updating.
type Manager interface {
	// Load loads configuration from a file (JSON or YAML).
	// Returns error if the file doesn't exist or is invalid.
	Load(ctx context.Context, path string) error

	// LoadFromEnv loads configuration from environment variables.
	// Variables are prefixed with CATINDEX_ (e.g., CATINDEX_STORE_PATH).
	// Env vars override file config if both are present.
	LoadFromEnv(ctx context.Context) error

	// SetDefaults sets default values for any unspecified fields.
	SetDefaults()

	// Validate checks that the configuration is valid and consistent.
	Validate() error

	// Get returns the current configuration (read-only).
	Get() *Config

	// Update applies a partial configuration update.
	// Only specified fields are updated; unspecified fields are left unchanged.
	Update(ctx context.Context, partial *Config) error

	// Save writes the current configuration to a file.
	// The format follows the file extension; anything but .yaml/.yml is JSON.
	Save(ctx context.Context, path string) error
}

// ManagerImpl is a default implementation of Manager.
type ManagerImpl struct {
	config *Config
}

// NewManager creates a new configuration manager.
func NewManager() Manager {
	return &ManagerImpl{
		config: DefaultConfig(),
	}
}

// Load loads configuration from a file.
func (m *ManagerImpl) Load(ctx context.Context, path string) error {
	if path == "" {
		return errors.NewConfigError("config path is empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.NewConfigError("read config file", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var cfg *Config
	switch ext {
	case ".json":
		cfg, err = LoadJSON(data)
	case ".yaml", ".yml":
		cfg, err = LoadYAML(data)
	default:
		return errors.NewConfigError(fmt.Sprintf("unsupported config file extension: %s", ext), nil)
	}
	if err != nil {
		return errors.NewConfigError("parse config", err)
	}

	m.config = cfg
	m.SetDefaults()
	return m.Validate()
}

// LoadFromEnv loads configuration from environment variables.
func (m *ManagerImpl) LoadFromEnv(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.config == nil {
		m.config = DefaultConfig()
	}

	if v, ok := getEnvBool("CATINDEX_DEBUG"); ok {
		m.config.Debug = v
	}

	if v, ok := getEnvString("CATINDEX_STORE_PATH"); ok {
		m.config.StoreConfig.Path = v
	}

	if v, ok := getEnvList("CATINDEX_INDEX_ENABLED"); ok {
		m.config.IndexConfig.Enabled = v
	}
	if v, ok := getEnvInt("CATINDEX_INDEX_CHECKPOINT_EVERY"); ok {
		m.config.IndexConfig.CheckpointEvery = v
	}
	if v, ok := getEnvBool("CATINDEX_INDEX_CHECK_ON_LOAD"); ok {
		m.config.IndexConfig.CheckOnLoad = v
	}

	if v, ok := getEnvString("CATINDEX_IMPORT_TREE_FILE"); ok {
		m.config.ImportConfig.TreeFile = v
	}
	if v, ok := getEnvString("CATINDEX_IMPORT_REFRESH_CRON"); ok {
		m.config.ImportConfig.RefreshCron = v
	}
	if v, ok := getEnvInt("CATINDEX_IMPORT_RECURRENCE_WINDOW_DAYS"); ok {
		m.config.ImportConfig.RecurrenceWindowDays = v
	}
	if v, ok := getEnvInt("CATINDEX_IMPORT_MAX_OCCURRENCES"); ok {
		m.config.ImportConfig.MaxOccurrences = v
	}

	if v, ok := getEnvString("CATINDEX_LOG_LEVEL"); ok {
		m.config.LogConfig.Level = v
	}

	if v, ok := getEnvInt("CATINDEX_METRICS_PORT"); ok {
		m.config.MetricsConfig.Port = v
	}

	m.SetDefaults()
	return m.Validate()
}

// SetDefaults sets default values.
func (m *ManagerImpl) SetDefaults() {
	defaults := DefaultConfig()
	if m.config == nil {
		m.config = defaults
		return
	}

	if m.config.StoreConfig.Path == "" {
		m.config.StoreConfig.Path = defaults.StoreConfig.Path
	}

	if len(m.config.IndexConfig.Enabled) == 0 {
		m.config.IndexConfig.Enabled = defaults.IndexConfig.Enabled
	}
	if m.config.IndexConfig.CheckpointEvery == 0 {
		m.config.IndexConfig.CheckpointEvery = defaults.IndexConfig.CheckpointEvery
	}

	if m.config.ImportConfig.TreeFile == "" {
		m.config.ImportConfig.TreeFile = defaults.ImportConfig.TreeFile
	}
	if m.config.ImportConfig.RefreshCron == "" {
		m.config.ImportConfig.RefreshCron = defaults.ImportConfig.RefreshCron
	}
	if m.config.ImportConfig.RecurrenceWindowDays == 0 {
		m.config.ImportConfig.RecurrenceWindowDays = defaults.ImportConfig.RecurrenceWindowDays
	}
	if m.config.ImportConfig.MaxOccurrences == 0 {
		m.config.ImportConfig.MaxOccurrences = defaults.ImportConfig.MaxOccurrences
	}

	if m.config.LogConfig.Level == "" {
		m.config.LogConfig.Level = defaults.LogConfig.Level
	}
}

// Validate validates the configuration.
func (m *ManagerImpl) Validate() error {
	return ValidateConfig(m.config)
}

// Get returns the current configuration.
func (m *ManagerImpl) Get() *Config {
	return m.config
}

// Update applies a partial configuration update.
func (m *ManagerImpl) Update(ctx context.Context, partial *Config) error {
	if partial == nil {
		return errors.NewConfigError("partial config is nil", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.config == nil {
		m.config = DefaultConfig()
	}

	mergeConfig(m.config, partial)
	m.SetDefaults()
	return m.Validate()
}

// Save writes the configuration to a file.
func (m *ManagerImpl) Save(ctx context.Context, path string) error {
	if path == "" {
		return errors.NewConfigError("config path is empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.config == nil {
		return errors.NewConfigError("no config to save", nil)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(m.config)
	default:
		data, err = json.MarshalIndent(m.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from JSON bytes.
// Used internally by Load() and in tests.
func LoadJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadYAML loads configuration from YAML bytes.
// Used internally by Load().
func LoadYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToRegistryOptions converts this config to index.Options. Logger, metrics
// and the snapshotter are wired by the caller.
func (c *Config) ToRegistryOptions() index.Options {
	return index.Options{
		Enabled:         append([]string(nil), c.IndexConfig.Enabled...),
		CheckpointEvery: c.IndexConfig.CheckpointEvery,
	}
}

// EffectiveLogLevel returns the configured level, or debug when Debug is set.
func (c *Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogConfig.Level
}

// DefaultConfig returns a configuration with all sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug: false,
		StoreConfig: StoreConfig{
			Path: "./data/catindex.db",
		},
		IndexConfig: IndexConfig{
			Enabled:         index.Names(),
			CheckpointEvery: 500,
			CheckOnLoad:     false,
		},
		ImportConfig: ImportConfig{
			TreeFile:             "./tree.yaml",
			RefreshCron:          "*/15 * * * *",
			RecurrenceWindowDays: 365,
			MaxOccurrences:       1000,
		},
		LogConfig: LogConfig{
			Level: "info",
		},
	}
}

func getEnvString(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(val), true
}

func getEnvInt(key string) (int, bool) {
	val, ok := getEnvString(key)
	if !ok || val == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func getEnvBool(key string) (bool, bool) {
	val, ok := getEnvString(key)
	if !ok || val == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, false
	}
	return parsed, true
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) ([]string, bool) {
	val, ok := getEnvString(key)
	if !ok || val == "" {
		return nil, false
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, len(out) > 0
}

func mergeConfig(dst *Config, src *Config) {
	if src == nil || dst == nil {
		return
	}

	if src.Debug {
		dst.Debug = true
	}

	if src.StoreConfig.Path != "" {
		dst.StoreConfig.Path = src.StoreConfig.Path
	}

	if len(src.IndexConfig.Enabled) > 0 {
		dst.IndexConfig.Enabled = src.IndexConfig.Enabled
	}
	if src.IndexConfig.CheckpointEvery != 0 {
		dst.IndexConfig.CheckpointEvery = src.IndexConfig.CheckpointEvery
	}
	if src.IndexConfig.CheckOnLoad {
		dst.IndexConfig.CheckOnLoad = true
	}

	if src.ImportConfig.TreeFile != "" {
		dst.ImportConfig.TreeFile = src.ImportConfig.TreeFile
	}
	if src.ImportConfig.RefreshCron != "" {
		dst.ImportConfig.RefreshCron = src.ImportConfig.RefreshCron
	}
	if src.ImportConfig.RecurrenceWindowDays != 0 {
		dst.ImportConfig.RecurrenceWindowDays = src.ImportConfig.RecurrenceWindowDays
	}
	if src.ImportConfig.MaxOccurrences != 0 {
		dst.ImportConfig.MaxOccurrences = src.ImportConfig.MaxOccurrences
	}

	if src.LogConfig.Level != "" {
		dst.LogConfig.Level = src.LogConfig.Level
	}

	if src.MetricsConfig.Port != 0 {
		dst.MetricsConfig.Port = src.MetricsConfig.Port
	}
}
