// Package config loads shardsearch configuration from defaults, an
// optional config file, a .env file and SHARDSEARCH_* environment
// variables, in increasing order of precedence. Command-line flags bound
// by the binaries take precedence over all of them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dreamware/shardsearch/internal/membership"
)

// EnvPrefix prefixes every environment variable, for example
// SHARDSEARCH_NODE_PORT for node.port.
const EnvPrefix = "SHARDSEARCH"

// Membership backends.
const (
	BackendCoordinator = membership.BackendCoordinator
	BackendRedis       = membership.BackendRedis
)

// Config is the complete configuration of a node or coordinator.
type Config struct {
	Node        NodeConfig        `mapstructure:"node"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Membership  MembershipConfig  `mapstructure:"membership"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Federation  FederationConfig  `mapstructure:"federation"`
}

// NodeConfig identifies a search node. Address is what other members use
// to reach it; Listen is the local bind address.
type NodeConfig struct {
	Address  string `mapstructure:"address"`
	Listen   string `mapstructure:"listen"`
	Version  string `mapstructure:"version"`
	Port     int    `mapstructure:"port"`
	RestPort int    `mapstructure:"restPort"`
}

type CoordinatorConfig struct {
	URL            string        `mapstructure:"url"`
	Listen         string        `mapstructure:"listen"`
	HealthInterval time.Duration `mapstructure:"healthInterval"`
	MaxFailures    int           `mapstructure:"maxFailures"`
}

type MembershipConfig struct {
	Backend           string        `mapstructure:"backend"`
	RedisAddr         string        `mapstructure:"redisAddr"`
	RedisPrefix       string        `mapstructure:"redisPrefix"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	RefreshInterval   time.Duration `mapstructure:"refreshInterval"`
	NodeTTL           time.Duration `mapstructure:"nodeTTL"`
}

type FederationConfig struct {
	LocalConcurrency  int64         `mapstructure:"localConcurrency"`
	RemoteConcurrency int64         `mapstructure:"remoteConcurrency"`
	RequestTimeout    time.Duration `mapstructure:"requestTimeout"`
}

type LoggingConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type HTTPConfig struct {
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

var defaults = map[string]any{
	"node.address":                 "127.0.0.1",
	"node.listen":                  "",
	"node.version":                 "dev",
	"node.port":                    8081,
	"node.restPort":                0,
	"coordinator.url":              "http://127.0.0.1:8080",
	"coordinator.listen":           ":8080",
	"coordinator.healthInterval":   5 * time.Second,
	"coordinator.maxFailures":      3,
	"membership.backend":           BackendCoordinator,
	"membership.redisAddr":         "127.0.0.1:6379",
	"membership.redisPrefix":       "shardsearch",
	"membership.heartbeatInterval": 3 * time.Second,
	"membership.refreshInterval":   2 * time.Second,
	"membership.nodeTTL":           15 * time.Second,
	"federation.localConcurrency":  16,
	"federation.remoteConcurrency": 64,
	"federation.requestTimeout":    30 * time.Second,
	"logging.format":               "text",
	"logging.level":                "info",
	"http.readTimeout":             10 * time.Second,
	"http.writeTimeout":            30 * time.Second,
	"http.shutdownTimeout":         5 * time.Second,
}

// NewViper returns a viper instance with defaults and environment
// binding in place. Binaries bind their flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present), then configFile, or shardsearch.{yaml,
// toml,json} in the working directory when configFile is empty and such
// a file exists.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("shardsearch")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	switch c.Membership.Backend {
	case BackendCoordinator, BackendRedis:
	default:
		return &ConfigError{Field: "membership.backend", Message: fmt.Sprintf("unknown backend %q", c.Membership.Backend)}
	}
	if c.Membership.Backend == BackendRedis && c.Membership.RedisAddr == "" {
		return &ConfigError{Field: "membership.redisAddr", Message: "required for the redis backend"}
	}
	if c.Node.Port <= 0 || c.Node.Port > 65535 {
		return &ConfigError{Field: "node.port", Message: fmt.Sprintf("invalid port %d", c.Node.Port)}
	}
	if c.Federation.LocalConcurrency <= 0 || c.Federation.RemoteConcurrency <= 0 {
		return &ConfigError{Field: "federation", Message: "concurrency must be positive"}
	}
	if c.Federation.RequestTimeout < 0 {
		return &ConfigError{Field: "federation.requestTimeout", Message: "must not be negative"}
	}
	return nil
}

// ListenAddr is the node's bind address, defaulting to all interfaces on
// the service port.
func (n NodeConfig) ListenAddr() string {
	if n.Listen != "" {
		return n.Listen
	}
	return fmt.Sprintf(":%d", n.Port)
}
