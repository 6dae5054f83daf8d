package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Auth    AuthConfig    `koanf:"auth"`
	Dynamo  DynamoConfig  `koanf:"dynamo"`
	Redis   RedisConfig   `koanf:"redis"`
	SQS     SQSConfig     `koanf:"sqs"`
	Session SessionConfig `koanf:"session"`
	Flush   FlushConfig   `koanf:"flush"`
	Log     LogConfig     `koanf:"log"`
}

type ServerConfig struct {
	Port           int      `koanf:"port"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	DevMode        bool     `koanf:"dev_mode"`
}

type AuthConfig struct {
	// JWTSecret is base64 encoded.
	JWTSecret string `koanf:"jwt_secret"`
}

type DynamoConfig struct {
	Endpoint string `koanf:"endpoint"`
	Table    string `koanf:"table"`
}

type RedisConfig struct {
	Endpoint string `koanf:"endpoint"`
}

type SQSConfig struct {
	Endpoint    string `koanf:"endpoint"`
	OutboxQueue string `koanf:"outbox_queue"`
}

type SessionConfig struct {
	BroadcastBacklog  int     `koanf:"broadcast_backlog"`
	MaxMessageBytes   int64   `koanf:"max_message_bytes"`
	MessagesPerSecond float64 `koanf:"messages_per_second"`
	Burst             int     `koanf:"burst"`
}

type FlushConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"`
	InitialBackoff  time.Duration `koanf:"initial_backoff"`
	StoreTimeout    time.Duration `koanf:"store_timeout"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// JWTSecretBytes decodes the configured signing secret.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(c.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("auth.jwt_secret is not valid base64: %w", err)
	}
	return secret, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if _, err := c.JWTSecretBytes(); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Session.BroadcastBacklog <= 0 {
		return fmt.Errorf("session.broadcast_backlog must be positive, got %d", c.Session.BroadcastBacklog)
	}
	if c.Session.MaxMessageBytes <= 0 {
		return fmt.Errorf("session.max_message_bytes must be positive, got %d", c.Session.MaxMessageBytes)
	}
	if c.Flush.MaxAttempts < 1 {
		return fmt.Errorf("flush.max_attempts must be at least 1, got %d", c.Flush.MaxAttempts)
	}
	if c.Dynamo.Table == "" {
		return errors.New("dynamo.table is required")
	}
	// Replayed diffs must stay in order per whiteboard.
	if !strings.HasSuffix(c.SQS.OutboxQueue, ".fifo") {
		return fmt.Errorf("sqs.outbox_queue must name a FIFO queue, got %q", c.SQS.OutboxQueue)
	}
	return nil
}
