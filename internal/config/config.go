package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const (
	DefaultHistoryLimit     = 50
	DefaultMaxContentLength = 4096
	DefaultPersistAttempts  = 3
	DefaultSendBuffer       = 256
	DefaultShutdownTimeout  = 10 * time.Second
)

type Config struct {
	ServerAddr     string
	StoreBackend   string
	DatabaseDSN    string
	RedisAddr      string
	SigningKey     []byte
	AllowedOrigins []string

	HistoryLimit     int
	MaxContentLength int
	PersistAttempts  int
	SendBuffer       int
	ShutdownTimeout  time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

// NewConfig builds a Config with default tunables. storeURL is the DSN for
// the postgres backend and the host:port for redis; it is ignored for the
// memory backend. An empty base64Secret disables token verification.
func NewConfig(serverAddr, storeBackend, storeURL, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	cfg := &Config{
		ServerAddr:       serverAddr,
		StoreBackend:     storeBackend,
		AllowedOrigins:   allowedOrigins,
		HistoryLimit:     DefaultHistoryLimit,
		MaxContentLength: DefaultMaxContentLength,
		PersistAttempts:  DefaultPersistAttempts,
		SendBuffer:       DefaultSendBuffer,
		ShutdownTimeout:  DefaultShutdownTimeout,
	}

	switch storeBackend {
	case BackendMemory:
	case BackendPostgres:
		if storeURL == "" {
			return nil, fmt.Errorf("database DSN cannot be empty")
		}
		cfg.DatabaseDSN = storeURL
	case BackendRedis:
		if storeURL == "" {
			return nil, fmt.Errorf("redis address cannot be empty")
		}
		cfg.RedisAddr = storeURL
	default:
		return nil, fmt.Errorf("unknown store backend %q", storeBackend)
	}

	if base64Secret != "" {
		signingKey, err := decodeSigningSecret(base64Secret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
		cfg.SigningKey = signingKey
	}

	return cfg, nil
}

// Validate checks the tunables, which callers may override after NewConfig.
func (c *Config) Validate() error {
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive")
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("max content length must be positive")
	}
	if c.PersistAttempts <= 0 {
		return fmt.Errorf("persist attempts must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send buffer must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}
