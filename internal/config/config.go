package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Log     LogConfig     `mapstructure:"log"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Session SessionConfig `mapstructure:"session"`
	OIDC    OIDCConfig    `mapstructure:"oidc"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port    string    `mapstructure:"port"`
	BaseURL string    `mapstructure:"base_url"`
	TLS     TLSConfig `mapstructure:"tls"`
}

// TLSConfig holds TLS-specific configuration.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

// DBConfig holds the storage file and connection pool settings.
type DBConfig struct {
	Path               string        `mapstructure:"path"`
	PoolSize           int           `mapstructure:"pool_size"`
	AcquireTimeout     time.Duration `mapstructure:"acquire_timeout"`
	BusyTimeout        time.Duration `mapstructure:"busy_timeout"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // e.g., "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // e.g., "json", "console"
}

// CacheConfig holds the rendered-content cache settings.
type CacheConfig struct {
	FilePath string        `mapstructure:"file_path"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SessionConfig holds session settings. Lifetime is in hours.
type SessionConfig struct {
	Lifetime int `mapstructure:"lifetime"`
}

// OIDCConfig holds OIDC client configuration.
type OIDCConfig struct {
	IssuerURL    string `mapstructure:"issuer_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// AuthConfig lists the subjects granted elevated roles at startup.
type AuthConfig struct {
	Editors []string `mapstructure:"editors"`
	Admins  []string `mapstructure:"admins"`
}

// LoadConfig reads configuration from file, environment variables and,
// when flags is non-nil, the command line. Later sources win.
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("db.path", "press.db")
	v.SetDefault("db.pool_size", 4)
	v.SetDefault("db.acquire_timeout", 5*time.Second)
	v.SetDefault("db.busy_timeout", 5*time.Second)
	v.SetDefault("db.slow_query_threshold", 200*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("cache.file_path", "press-cache.db")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("session.lifetime", 24)
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("oidc.issuer_url", "")
	v.SetDefault("oidc.client_id", "")
	v.SetDefault("oidc.client_secret", "")
	v.SetDefault("oidc.redirect_url", "")
	v.SetDefault("auth.editors", []string{})
	v.SetDefault("auth.admins", []string{})

	// Set up viper to read from config file
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/go-press/")
	v.AddConfigPath("$HOME/.go-press")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		// Config file not found; proceed with defaults and env vars
	}

	v.SetEnvPrefix("PRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RegisterFlags adds the command-line overrides shared by the binaries.
// Flag names match the config keys so BindPFlags can map them directly.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("db.path", "", "path to the SQLite storage file")
	flags.Int("db.pool_size", 0, "number of pooled connections")
	flags.Duration("db.acquire_timeout", 0, "how long to wait for a pooled connection")
	flags.String("log.level", "", "log level (debug, info, warn, error)")
	flags.String("log.format", "", "log format (json, console)")
}
