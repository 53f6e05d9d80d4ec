package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/logger"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Events    EventsConfig    `yaml:"events" json:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Tracker   TrackerConfig   `yaml:"tracker" json:"tracker"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host" env:"PROJECTACE_HOST" default:"0.0.0.0"`
	Port            int           `yaml:"port" json:"port" env:"PROJECTACE_PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"PROJECTACE_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"PROJECTACE_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"PROJECTACE_SHUTDOWN_TIMEOUT" default:"10s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"PROJECTACE_MAX_HEADER_BYTES" default:"1048576"`
	MaxBatchSize    int           `yaml:"max_batch_size" json:"max_batch_size" env:"PROJECTACE_MAX_BATCH_SIZE" default:"100"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes" env:"PROJECTACE_MAX_BODY_BYTES" default:"1048576"`
	EnableCORS      bool          `yaml:"enable_cors" json:"enable_cors" env:"PROJECTACE_ENABLE_CORS" default:"true"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins" env:"PROJECTACE_ALLOWED_ORIGINS" default:"*"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"PROJECTACE_TRUSTED_PROXIES"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds connection and pool settings
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER" default:"projectace"`
	Password        string        `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB" default:"projectace"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" env:"POSTGRES_SSLMODE" default:"disable"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"PROJECTACE_DATA_DIR" default:"./data"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"PROJECTACE_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"2h"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" default:"30m"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"PROJECTACE_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"PROJECTACE_LOG_FORMAT" default:"text"`
}

// EventsConfig sizes the in-process event bus.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" json:"buffer_size" env:"PROJECTACE_EVENT_BUFFER" default:"1000"`
}

// TelemetryConfig selects where trackers driven by this process deliver
// their events.
type TelemetryConfig struct {
	Sink          string        `yaml:"sink" json:"sink" env:"PROJECTACE_SINK" default:"log"`
	Endpoint      string        `yaml:"endpoint" json:"endpoint" env:"PROJECTACE_SINK_ENDPOINT" default:"http://localhost:8080/api/video-events"`
	QueueSize     int           `yaml:"queue_size" json:"queue_size" env:"PROJECTACE_SINK_QUEUE_SIZE" default:"1024"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size" env:"PROJECTACE_SINK_BATCH_SIZE" default:"20"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" env:"PROJECTACE_SINK_FLUSH_INTERVAL" default:"1s"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" env:"PROJECTACE_SINK_TIMEOUT" default:"5s"`
}

// TrackerConfig holds tracker defaults.
type TrackerConfig struct {
	AutoplayInViewport bool          `yaml:"autoplay_in_viewport" json:"autoplay_in_viewport" env:"PROJECTACE_AUTOPLAY" default:"true"`
	ViewportThreshold  float64       `yaml:"viewport_threshold" json:"viewport_threshold" env:"PROJECTACE_VIEWPORT_THRESHOLD" default:"0.25"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval" env:"PROJECTACE_HEARTBEAT_INTERVAL" default:"5s"`
	CustomerCode       string        `yaml:"customer_code" json:"customer_code" env:"CLOUDFLARE_STREAM_CUSTOMER_CODE"`
	IdentityFile       string        `yaml:"identity_file" json:"identity_file" env:"PROJECTACE_IDENTITY_FILE"`
}

var sinkKinds = map[string]bool{"log": true, "http": true, "none": true}

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	cfg := DefaultConfig()
	applyDerivedConfig(cfg)
	return &ConfigManager{
		config:   cfg,
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the configuration described by the default tags.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := loadStructDefaults(reflect.ValueOf(cfg).Elem()); err != nil {
		panic(fmt.Sprintf("config: bad default tag: %v", err))
	}
	return cfg
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := *cm.config
	cm.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		logger.Info("Configuration loaded from file", "path", configPath)
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDerivedConfig(newConfig)

	cm.config = newConfig

	for _, watcher := range cm.watchers {
		go watcher(&oldConfig, newConfig)
	}

	return nil
}

// Reload re-reads the file the manager was last loaded from.
func (cm *ConfigManager) Reload() error {
	cm.mu.RLock()
	path := cm.configPath
	cm.mu.RUnlock()
	return cm.LoadConfig(path)
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	return &configCopy
}

// Path returns the file the configuration was loaded from.
func (cm *ConfigManager) Path() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// SaveConfig saves the current configuration to file
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	return saveToFile(cm.configPath, cm.config)
}

// codecFor picks the file format from the extension.
func codecFor(path string) (unmarshal func([]byte, any) error, marshal func(any) ([]byte, error), err error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal, yaml.Marshal, nil
	case ".json":
		return json.Unmarshal, func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func loadFromFile(path string, config *Config) error {
	unmarshal, _, err := codecFor(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return unmarshal(data, config)
}

func saveToFile(path string, config *Config) error {
	_, marshal, err := codecFor(path)
	if err != nil {
		return err
	}
	data, err := marshal(config)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func loadStructDefaults(v reflect.Value) error {
	return walkTagged(v, "default", func(string) (string, bool) { return "", false })
}

func loadStructFromEnv(v reflect.Value) error {
	return walkTagged(v, "env", os.LookupEnv)
}

// walkTagged sets every field carrying tag. For "default" the tag holds the
// value itself; otherwise the tag names a key passed to lookup.
func walkTagged(v reflect.Value, tag string, lookup func(string) (string, bool)) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := walkTagged(field, tag, lookup); err != nil {
				return err
			}
			continue
		}

		tagValue := fieldType.Tag.Get(tag)
		if tagValue == "" {
			continue
		}

		value := tagValue
		if tag != "default" {
			var ok bool
			value, ok = lookup(tagValue)
			if !ok || value == "" {
				continue
			}
		}

		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		field.Set(reflect.ValueOf(lo.Map(strings.Split(value, ","), func(v string, _ int) string {
			return strings.TrimSpace(v)
		})))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxBatchSize < 1 {
		return fmt.Errorf("invalid max batch size: %d", config.Server.MaxBatchSize)
	}

	if config.Server.MaxBodyBytes < 1 {
		return fmt.Errorf("invalid max body bytes: %d", config.Server.MaxBodyBytes)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if !sinkKinds[config.Telemetry.Sink] {
		return fmt.Errorf("unsupported telemetry sink: %s", config.Telemetry.Sink)
	}

	if config.Telemetry.QueueSize < 1 || config.Telemetry.BatchSize < 1 {
		return fmt.Errorf("telemetry queue and batch sizes must be positive")
	}

	if t := config.Tracker.ViewportThreshold; t < 0 || t > 1 {
		return fmt.Errorf("viewport threshold must be within 0..1: %v", t)
	}

	if config.Tracker.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid heartbeat interval: %s", config.Tracker.HeartbeatInterval)
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "projectace.db")
	}

	if config.Tracker.IdentityFile == "" {
		config.Tracker.IdentityFile = filepath.Join(config.Database.DataDir, "identity.json")
	}

	if config.Events.BufferSize < 1 {
		config.Events.BufferSize = 1000
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}

// Save saves the current configuration
func Save() error {
	return GetConfigManager().SaveConfig()
}
