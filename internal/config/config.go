// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Datastore backends.
const (
	DatastorePostgres = "postgres"
	DatastoreBolt     = "bolt"
)

type Config struct {
	Port               string
	Datastore          string
	DatabaseURL        string
	BoltPath           string
	TerrainGridPath    string
	DatasetCacheDir    string
	HTTPTimeout        time.Duration
	ReadRetries        int
	MaxConcurrentLoads int
	LogLevel           string
	CORSAllowedOrigins []string
	Redis              RedisConfig
	Kafka              KafkaConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Enabled reports whether a shared parameter cache is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type KafkaConfig struct {
	Brokers    []string
	TopicLoads string
}

// Enabled reports whether load events are published.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Load reads the configuration, first loading a .env file when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Datastore:          getEnv("DATASTORE", DatastoreBolt),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		BoltPath:           getEnv("BOLT_PATH", "./data/dsg.db"),
		TerrainGridPath:    getEnv("TERRAIN_GRID_PATH", ""),
		DatasetCacheDir:    getEnv("DATASET_CACHE_DIR", os.TempDir()),
		HTTPTimeout:        getEnvAsDuration("HTTP_TIMEOUT", 5*time.Minute),
		ReadRetries:        getEnvAsInt("READ_RETRIES", 3),
		MaxConcurrentLoads: getEnvAsInt("MAX_CONCURRENT_LOADS", 2),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("PARAMETER_CACHE_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvAsList("KAFKA_BROKERS"),
			TopicLoads: getEnv("KAFKA_TOPIC_LOADS", "dsg.loads"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.Datastore {
	case DatastorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATASTORE=%s", DatastorePostgres)
		}
	case DatastoreBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required when DATASTORE=%s", DatastoreBolt)
		}
	default:
		return fmt.Errorf("unknown DATASTORE %q (expected %s or %s)", c.Datastore, DatastorePostgres, DatastoreBolt)
	}
	if c.MaxConcurrentLoads < 1 {
		return fmt.Errorf("MAX_CONCURRENT_LOADS must be at least 1, got %d", c.MaxConcurrentLoads)
	}
	if c.ReadRetries < 0 {
		return fmt.Errorf("READ_RETRIES must not be negative, got %d", c.ReadRetries)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	if c.Kafka.Enabled() && c.Kafka.TopicLoads == "" {
		return fmt.Errorf("KAFKA_TOPIC_LOADS is required when KAFKA_BROKERS is set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, s := range strings.Split(getEnv(key, ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
