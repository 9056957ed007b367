// Package config loads the hub's auth configuration from file and
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hearthhome/hubauth/provider"
)

// StorageType selects a storage backend.
type StorageType string

const (
	StorageTypeMemory  StorageType = "memory"
	StorageTypeBolt    StorageType = "bbolt"
	StorageTypeMongoDB StorageType = "mongodb"
	StorageTypeRedis   StorageType = "redis"
)

// Config holds all configuration for the auth server.
type Config struct {
	HTTPAddr  string `mapstructure:"http_addr"`
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	// UserBackend stores users and refresh tokens: memory, bbolt or
	// mongodb.
	UserBackend StorageType `mapstructure:"user_backend"`
	BoltPath    string      `mapstructure:"bolt_path"`
	MongoURI    string      `mapstructure:"mongo_uri"`
	MongoDBName string      `mapstructure:"mongo_db_name"`

	// TokenBackend stores access tokens: memory or redis.
	TokenBackend  StorageType `mapstructure:"token_backend"`
	RedisAddr     string      `mapstructure:"redis_addr"`
	RedisPassword string      `mapstructure:"redis_password"`
	RedisDB       int         `mapstructure:"redis_db"`
	RedisPrefix   string      `mapstructure:"redis_prefix"`

	AccessTokenTTL   time.Duration `mapstructure:"access_token_ttl"`
	FlowTTL          time.Duration `mapstructure:"flow_ttl"`
	FlowCapacity     uint64        `mapstructure:"flow_capacity"`
	NewUsersInactive bool          `mapstructure:"new_users_inactive"`

	TracingEnabled bool `mapstructure:"tracing_enabled"`

	// Providers comes from the auth_providers list in the config file.
	// There is no environment form for it.
	Providers []provider.Config `mapstructure:"-"`
}

// LoadConfig loads configuration from the default search paths and
// environment variables.
func LoadConfig() (Config, error) {
	return load("")
}

// LoadConfigFrom loads configuration from an explicit file, still applying
// environment overrides.
func LoadConfigFrom(path string) (Config, error) {
	return load(path)
}

func load(path string) (config Config, err error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("hubauth")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hubauth/")
		viper.AddConfigPath("$HOME/.hubauth")
	}

	viper.SetEnvPrefix("HUBAUTH") // HUBAUTH_HTTP_ADDR, HUBAUTH_MONGO_URI, ...
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("http_addr", "0.0.0.0:8124")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_pretty", true)
	viper.SetDefault("user_backend", string(StorageTypeMemory))
	viper.SetDefault("bolt_path", "hubauth.db")
	viper.SetDefault("mongo_uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo_db_name", "hubauth")
	viper.SetDefault("token_backend", string(StorageTypeMemory))
	viper.SetDefault("redis_addr", "localhost:6379")
	viper.SetDefault("redis_prefix", "hubauth")
	viper.SetDefault("access_token_ttl", "30m")
	viper.SetDefault("flow_ttl", "10m")
	viper.SetDefault("flow_capacity", 1024)
	viper.SetDefault("new_users_inactive", false)
	viper.SetDefault("tracing_enabled", false)

	if errRead := viper.ReadInConfig(); errRead != nil {
		// A missing config file is fine, defaults and env cover it. A file
		// that exists but cannot be parsed is not.
		if _, ok := errRead.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, errRead
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}

	switch config.UserBackend {
	case StorageTypeMemory, StorageTypeBolt, StorageTypeMongoDB:
	default:
		return Config{}, fmt.Errorf("user_backend must be %q, %q or %q, got %q",
			StorageTypeMemory, StorageTypeBolt, StorageTypeMongoDB, config.UserBackend)
	}
	switch config.TokenBackend {
	case StorageTypeMemory, StorageTypeRedis:
	default:
		return Config{}, fmt.Errorf("token_backend must be %q or %q, got %q",
			StorageTypeMemory, StorageTypeRedis, config.TokenBackend)
	}

	if raw := viper.Get("auth_providers"); raw != nil {
		entries, ok := raw.([]any)
		if !ok {
			return Config{}, fmt.Errorf("auth_providers must be a list, got %T", raw)
		}
		for i, entry := range entries {
			m, ok := entry.(map[string]any)
			if !ok {
				return Config{}, fmt.Errorf("auth_providers[%d] must be a map, got %T", i, entry)
			}
			config.Providers = append(config.Providers, provider.ConfigFromMap(m))
		}
	}

	return config, nil
}
