package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file is loaded.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/boardsync/config.yaml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Dynamo: DynamoConfig{
			Table: "Boardsync",
		},
		SQS: SQSConfig{
			OutboxQueue: "BoardsyncDiffOutbox.fifo",
		},
		Session: SessionConfig{
			BroadcastBacklog:  100,
			MaxMessageBytes:   64 * 1024,
			MessagesPerSecond: 20,
			Burst:             40,
		},
		Flush: FlushConfig{
			MaxAttempts:     3,
			InitialBackoff:  50 * time.Millisecond,
			StoreTimeout:    5 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, an optional YAML file and the environment, in that
// order of increasing priority, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

var envMappings = map[string]string{
	"server_port":                 "server.port",
	"server_allowed_origins":      "server.allowed_origins",
	"dev_mode":                    "server.dev_mode",
	"server_dev_mode":             "server.dev_mode",
	"auth_jwt_secret":             "auth.jwt_secret",
	"jwt_secret":                  "auth.jwt_secret",
	"dynamodb_endpoint":           "dynamo.endpoint",
	"dynamo_endpoint":             "dynamo.endpoint",
	"dynamo_table":                "dynamo.table",
	"redis_endpoint":              "redis.endpoint",
	"sqs_endpoint":                "sqs.endpoint",
	"sqs_outbox_queue":            "sqs.outbox_queue",
	"session_broadcast_backlog":   "session.broadcast_backlog",
	"session_max_message_bytes":   "session.max_message_bytes",
	"session_messages_per_second": "session.messages_per_second",
	"session_burst":               "session.burst",
	"flush_max_attempts":          "flush.max_attempts",
	"flush_initial_backoff":       "flush.initial_backoff",
	"flush_store_timeout":         "flush.store_timeout",
	"flush_breaker_failures":      "flush.breaker_failures",
	"flush_breaker_timeout":       "flush.breaker_timeout",
	"log_level":                   "log.level",
	"log_format":                  "log.format",
}

// envTransformFunc maps SERVER_PORT to server.port and so on. Unknown
// variables map to "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

var sliceConfigPaths = []string{
	"server.allowed_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
