package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Resources   ResourcesConfig   `mapstructure:"resources"`
	Cache       CacheConfig       `mapstructure:"cache"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ResourcesConfig describes where bundles come from
type ResourcesConfig struct {
	Host                  string `mapstructure:"host"`
	DownloadBaseURL       string `mapstructure:"download_base_url"`
	BufferSizeMB          int    `mapstructure:"buffer_size_mb"`
	ResponseHeaderTimeout string `mapstructure:"response_header_timeout"`
}

// CacheConfig contains cache settings
type CacheConfig struct {
	Name                   string `mapstructure:"name"`
	RootDir                string `mapstructure:"root_dir"`
	MaterializeConcurrency int    `mapstructure:"materialize_concurrency"`
	ProgressUpdateInterval string `mapstructure:"progress_update_interval"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	CacheSizeMB   int    `mapstructure:"cache_size_mb"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// MaintenanceConfig contains periodic housekeeping settings
type MaintenanceConfig struct {
	Interval        string `mapstructure:"interval"`
	TaskStateMaxAge string `mapstructure:"task_state_max_age"`
	StatsInterval   string `mapstructure:"stats_interval"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("resources.download_base_url", "")
	v.SetDefault("resources.buffer_size_mb", 1)
	v.SetDefault("resources.response_header_timeout", "30s")
	v.SetDefault("cache.name", "netless")
	v.SetDefault("cache.root_dir", "/var/lib/convert-cache")
	v.SetDefault("cache.materialize_concurrency", 8)
	v.SetDefault("cache.progress_update_interval", "200ms")
	v.SetDefault("http.bind_addr", "0.0.0.0:8080")
	v.SetDefault("http.admin_username", "")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.compress", true)
	v.SetDefault("database.path", "")
	v.SetDefault("database.cache_size_mb", 64)
	v.SetDefault("database.busy_timeout_ms", 5000)
	v.SetDefault("maintenance.interval", "10m")
	v.SetDefault("maintenance.task_state_max_age", "24h")
	v.SetDefault("maintenance.stats_interval", "1h")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate resources config
	if c.Resources.Host == "" {
		return fmt.Errorf("resources.host is required")
	}
	if strings.Contains(c.Resources.Host, "/") {
		return fmt.Errorf("resources.host must be a bare host name, got %q", c.Resources.Host)
	}
	if c.Resources.DownloadBaseURL != "" {
		u, err := url.Parse(c.Resources.DownloadBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid resources.download_base_url: %q", c.Resources.DownloadBaseURL)
		}
	}

	// Validate cache config
	if c.Cache.Name == "" {
		return fmt.Errorf("cache.name is required")
	}
	if c.Cache.MaterializeConcurrency < 1 || c.Cache.MaterializeConcurrency > 64 {
		return fmt.Errorf("cache.materialize_concurrency must be between 1 and 64")
	}

	// Validate durations
	durations := map[string]string{
		"resources.response_header_timeout": c.Resources.ResponseHeaderTimeout,
		"cache.progress_update_interval":    c.Cache.ProgressUpdateInterval,
		"maintenance.interval":              c.Maintenance.Interval,
		"maintenance.task_state_max_age":    c.Maintenance.TaskStateMaxAge,
		"maintenance.stats_interval":        c.Maintenance.StatsInterval,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	// Validate HTTP config
	if c.HTTP.AdminUsername != "" && c.HTTP.AdminPassword == "" {
		return fmt.Errorf("http.admin_password is required when http.admin_username is set")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetDatabasePath returns the sqlite path, defaulting to a file in the cache root
func (c *Config) GetDatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Cache.RootDir, "cache.db")
}

// GetBufferSize returns the download buffer size in MB
func (c *ResourcesConfig) GetBufferSize() int {
	if c.BufferSizeMB <= 0 {
		return 1
	}
	return c.BufferSizeMB
}

// GetResponseHeaderTimeout returns the response header timeout as time.Duration
func (c *ResourcesConfig) GetResponseHeaderTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ResponseHeaderTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetProgressUpdateInterval returns the progress update interval as time.Duration
func (c *CacheConfig) GetProgressUpdateInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressUpdateInterval)
	if d == 0 {
		return 200 * time.Millisecond
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}

// GetInterval returns the maintenance interval as time.Duration
func (c *MaintenanceConfig) GetInterval() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	if d == 0 {
		return 10 * time.Minute
	}
	return d
}

// GetTaskStateMaxAge returns how long finished task records are kept
func (c *MaintenanceConfig) GetTaskStateMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.TaskStateMaxAge)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetStatsInterval returns the stats logging interval as time.Duration
func (c *MaintenanceConfig) GetStatsInterval() time.Duration {
	d, _ := time.ParseDuration(c.StatsInterval)
	if d == 0 {
		return time.Hour
	}
	return d
}
