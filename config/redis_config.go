package config

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings of the session store
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	// DB is the database number (0-15)
	DB int `yaml:"db"`

	PoolSize     int `yaml:"poolSize"`
	MinIdleConns int `yaml:"minIdleConns"`
	MaxRetries   int `yaml:"maxRetries"`

	DialTimeout     time.Duration `yaml:"dialTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	PoolTimeout     time.Duration `yaml:"poolTimeout"`
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`

	TLSEnabled            bool `yaml:"tlsEnabled"`
	TLSInsecureSkipVerify bool `yaml:"tlsInsecureSkipVerify"`
}

// DefaultRedisConfig returns default Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:            "localhost:6379",
		DB:              0,
		PoolSize:        10,
		MinIdleConns:    2,
		MaxRetries:      3,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Validate validates the Redis configuration
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DB < 0 || c.DB > 15 {
		return fmt.Errorf("db must be between 0 and 15, got %d", c.DB)
	}
	if c.PoolSize < 0 || c.MinIdleConns < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("pool settings cannot be negative")
	}
	return nil
}

// Options converts the configuration into go-redis client options
func (c *RedisConfig) Options() *redis.Options {
	opts := &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		MaxRetries:      c.MaxRetries,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		PoolTimeout:     c.PoolTimeout,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
	if c.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.TLSInsecureSkipVerify, // #nosec G402 -- opt-in for self-signed dev clusters
		}
	}
	return opts
}

// NewClient creates a go-redis client for the configuration
func (c *RedisConfig) NewClient() *redis.Client {
	return redis.NewClient(c.Options())
}
