package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for bunkrgrab
type Config struct {
	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Link resolution settings
	Resolver ResolverConfig `yaml:"resolver" json:"resolver"`

	// Persistent store settings
	Store StoreConfig `yaml:"store" json:"store"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout" json:"read_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" json:"retry_attempts"`
	ChunkSize           int           `yaml:"chunk_size" json:"chunk_size"`
	// ItemLimit truncates the active download set per run; 0 means no limit.
	ItemLimit int `yaml:"item_limit" json:"item_limit"`
}

// ResolverConfig holds link-resolution configuration
type ResolverConfig struct {
	// MaxHops bounds the HTML-walk redirect chase.
	MaxHops int `yaml:"max_hops" json:"max_hops"`
	// APIBase is the resolution API origin for opaque file ids.
	APIBase string `yaml:"api_base" json:"api_base"`
	// ExtraCDNHosts are appended to the built-in CDN probe candidates.
	ExtraCDNHosts []string `yaml:"extra_cdn_hosts" json:"extra_cdn_hosts"`
	// CDNHostsFile is an append-only list of discovered working hosts.
	CDNHostsFile  string        `yaml:"cdn_hosts_file" json:"cdn_hosts_file"`
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base" json:"backoff_base"`
}

// StoreConfig holds persistent store configuration
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Download: DownloadConfig{
			ConcurrentDownloads: 12,
			ConnectTimeout:      30 * time.Second,
			ReadTimeout:         5 * time.Minute,
			RetryAttempts:       3,
			ChunkSize:           32 * 1024,
			ItemLimit:           0,
		},
		Resolver: ResolverConfig{
			MaxHops:       8,
			APIBase:       "https://apidl.bunkr.ru",
			CDNHostsFile:  "cdn_hosts.txt",
			RetryAttempts: 3,
			BackoffBase:   1500 * time.Millisecond,
		},
		Store: StoreConfig{
			Path: "albums.db",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Output: OutputConfig{
			BaseDirectory: "./downloads",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("BUNKRGRAB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Download.ConcurrentDownloads = n
		}
	}
	if v := os.Getenv("BUNKRGRAB_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Download.ItemLimit = n
		}
	}
	if v := os.Getenv("BUNKRGRAB_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("BUNKRGRAB_OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}
	if v := os.Getenv("BUNKRGRAB_CDN_HOSTS"); v != "" {
		for _, host := range strings.Split(v, ",") {
			if host = strings.TrimSpace(host); host != "" {
				c.Resolver.ExtraCDNHosts = append(c.Resolver.ExtraCDNHosts, host)
			}
		}
	}
	if v := os.Getenv("BUNKRGRAB_CDN_HOSTS_FILE"); v != "" {
		c.Resolver.CDNHostsFile = v
	}
	if v := os.Getenv("BUNKRGRAB_DEBUG"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.Logging.Level = "debug"
		}
	}
	if v := os.Getenv("BUNKRGRAB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".bunkrgrab.yaml",
		".bunkrgrab.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "bunkrgrab", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "bunkrgrab", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".bunkrgrab.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ReadTimeout <= 0 {
		errs = append(errs, errors.New("read timeout must be positive"))
	}
	if c.Download.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}
	if c.Download.ItemLimit < 0 {
		errs = append(errs, errors.New("item limit cannot be negative"))
	}

	if c.Resolver.MaxHops <= 0 {
		errs = append(errs, errors.New("max hops must be positive"))
	}
	if c.Resolver.APIBase == "" {
		errs = append(errs, errors.New("resolver API base is required"))
	}

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required"))
	}
	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent > 0 {
		c.Download.ConcurrentDownloads = concurrent
	}
	if limit, ok := flags["limit"].(int); ok && limit > 0 {
		c.Download.ItemLimit = limit
	}
	if storePath, ok := flags["store"].(string); ok && storePath != "" {
		c.Store.Path = storePath
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".bunkrgrab.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
