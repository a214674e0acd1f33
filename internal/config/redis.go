package config

// Redis is used for distributed rate limiting, HTTP response caching and
// leaderboard cache invalidation.  If the server cannot be reached during
// startup, callers degrade gracefully: caching is disabled and rate
// limiting falls back to an in-process limiter.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
)

// RedisConfig describes how to reach Redis.  REDIS_HOST and REDIS_PORT take
// precedence over REDIS_ADDR when both are set.
type RedisConfig struct {
	Host        string        `envconfig:"REDIS_HOST"`
	Port        string        `envconfig:"REDIS_PORT"`
	Addr        string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password    string        `envconfig:"REDIS_PASSWORD"`
	DB          int           `envconfig:"REDIS_DB" default:"0"`
	TLS         bool          `envconfig:"REDIS_TLS" default:"false"`
	DialTimeout time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"2s"`
}

// LoadRedisConfig reads the Redis settings from the environment.
func LoadRedisConfig() RedisConfig {
	var rc RedisConfig
	if err := envconfig.Process("", &rc); err != nil {
		rc = RedisConfig{Addr: "localhost:6379", DialTimeout: 2 * time.Second}
	}
	return rc
}

// Address resolves the host:port to dial.
func (rc RedisConfig) Address() string {
	if rc.Host != "" && rc.Port != "" {
		return rc.Host + ":" + rc.Port
	}
	if rc.Addr == "" {
		return "localhost:6379"
	}
	return rc.Addr
}

// NewRedisClient instantiates a Redis client and pings it with a short
// timeout.  The returned client is nil if a connection cannot be established.
func NewRedisClient(rc RedisConfig) *redis.Client {
	var tlsConf *tls.Config
	if rc.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:        rc.Address(),
		Password:    rc.Password,
		DB:          rc.DB,
		TLSConfig:   tlsConf,
		DialTimeout: rc.DialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
