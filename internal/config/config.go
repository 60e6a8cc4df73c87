package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. INFINIGRAM_SERVER_ADDR.
const EnvPrefix = "INFINIGRAM"

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`
	Cache    CacheConfig    `json:"cache" mapstructure:"cache"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Admin    AdminConfig    `json:"admin" mapstructure:"admin"`

	Indexes     []IndexConfig `json:"indexes" mapstructure:"indexes"`
	IndexesFile string        `json:"indexesFile" mapstructure:"indexesFile"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Addr         string        `json:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `json:"readTimeout" mapstructure:"readTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout" mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `json:"idleTimeout" mapstructure:"idleTimeout"`
	MaxBodyBytes int64         `json:"maxBodyBytes" mapstructure:"maxBodyBytes"`
}

// DispatchConfig contains worker pool configuration
type DispatchConfig struct {
	Deadline    time.Duration `json:"deadline" mapstructure:"deadline"`
	QueueName   string        `json:"queueName" mapstructure:"queueName"`
	QueueSize   int           `json:"queueSize" mapstructure:"queueSize"`
	Concurrency int           `json:"concurrency" mapstructure:"concurrency"`
}

// CacheConfig contains result cache configuration
type CacheConfig struct {
	Backend    string        `json:"backend" mapstructure:"backend"`
	Path       string        `json:"path" mapstructure:"path"`
	TTL        time.Duration `json:"ttl" mapstructure:"ttl"`
	RefreshTTL time.Duration `json:"refreshTtl" mapstructure:"refreshTtl"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format     string `json:"format" mapstructure:"format"`
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// AdminConfig contains admin endpoint configuration
type AdminConfig struct {
	// TokenHash is the bcrypt hash of the admin bearer token.
	TokenHash string `json:"tokenHash" mapstructure:"tokenHash"`
}

// IndexConfig describes one servable index
type IndexConfig struct {
	ID         string `json:"id" mapstructure:"id" toml:"id"`
	CorpusPath string `json:"corpusPath" mapstructure:"corpusPath" toml:"corpusPath"`
	Encoding   string `json:"encoding" mapstructure:"encoding" toml:"encoding"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 75 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Dispatch: DispatchConfig{
			Deadline:    60 * time.Second,
			QueueName:   "infini-gram-attribution",
			QueueSize:   100,
			Concurrency: 1,
		},
		Cache: CacheConfig{
			Backend:    "sqlite",
			Path:       filepath.Join(".infinigram", "cache.db"),
			TTL:        time.Hour,
			RefreshTTL: 12 * time.Hour,
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Indexes: []IndexConfig{},
	}
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.readTimeout", d.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", d.Server.WriteTimeout)
	v.SetDefault("server.idleTimeout", d.Server.IdleTimeout)
	v.SetDefault("server.maxBodyBytes", d.Server.MaxBodyBytes)
	v.SetDefault("dispatch.deadline", d.Dispatch.Deadline)
	v.SetDefault("dispatch.queueName", d.Dispatch.QueueName)
	v.SetDefault("dispatch.queueSize", d.Dispatch.QueueSize)
	v.SetDefault("dispatch.concurrency", d.Dispatch.Concurrency)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.refreshTtl", d.Cache.RefreshTTL)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("admin.tokenHash", "")
	v.SetDefault("indexesFile", "")
}

// LoadOptions selects where configuration comes from.
type LoadOptions struct {
	// ConfigFile is an explicit config path. When empty, infinigram.{json,yaml,toml}
	// is searched in the working directory and $HOME/.infinigram.
	ConfigFile string
	// EnvFile is a dotenv file loaded before the environment is read.
	// Defaults to .env; a missing file is not an error.
	EnvFile string
}

// Load reads configuration from file, .env and INFINIGRAM_* environment
// variables, in increasing priority. It does not validate.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("infinigram")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", ".infinigram"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.IndexesFile != "" {
		path := cfg.IndexesFile
		if used := v.ConfigFileUsed(); used != "" && !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(used), path)
		}
		indexes, err := LoadIndexesFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Indexes = append(cfg.Indexes, indexes...)
	}
	return cfg, nil
}

var indexIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &ConfigError{Field: "server.addr", Message: "must not be empty"}
	}
	if c.Dispatch.Deadline <= 0 {
		return &ConfigError{Field: "dispatch.deadline", Message: "must be positive"}
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Dispatch.Deadline {
		return &ConfigError{Field: "server.writeTimeout", Message: "must exceed dispatch.deadline"}
	}
	if c.Dispatch.QueueSize <= 0 {
		return &ConfigError{Field: "dispatch.queueSize", Message: "must be positive"}
	}
	if c.Dispatch.Concurrency <= 0 {
		return &ConfigError{Field: "dispatch.concurrency", Message: "must be positive"}
	}

	switch c.Cache.Backend {
	case "sqlite":
		if c.Cache.Path == "" {
			return &ConfigError{Field: "cache.path", Message: "required for the sqlite backend"}
		}
	case "memory", "none":
	default:
		return &ConfigError{Field: "cache.backend", Message: fmt.Sprintf("unknown backend %q", c.Cache.Backend)}
	}
	if c.Cache.TTL <= 0 || c.Cache.RefreshTTL <= 0 {
		return &ConfigError{Field: "cache.ttl", Message: "ttl and refreshTtl must be positive"}
	}

	switch c.Logging.Format {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}

	if len(c.Indexes) == 0 {
		return &ConfigError{Field: "indexes", Message: "at least one index is required"}
	}
	seen := make(map[string]bool, len(c.Indexes))
	for i, idx := range c.Indexes {
		field := fmt.Sprintf("indexes[%d]", i)
		if !indexIDPattern.MatchString(idx.ID) {
			return &ConfigError{Field: field + ".id", Message: fmt.Sprintf("invalid index id %q", idx.ID)}
		}
		if seen[idx.ID] {
			return &ConfigError{Field: field + ".id", Message: fmt.Sprintf("duplicate index id %q", idx.ID)}
		}
		seen[idx.ID] = true
		if idx.CorpusPath == "" {
			return &ConfigError{Field: field + ".corpusPath", Message: "must not be empty"}
		}
	}
	return nil
}

// Index returns the configuration of index id.
func (c *Config) Index(id string) (IndexConfig, bool) {
	for _, idx := range c.Indexes {
		if idx.ID == id {
			return idx, true
		}
	}
	return IndexConfig{}, false
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
