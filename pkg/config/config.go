package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// CommonConfig holds the configuration shared by every process that hosts
// the saga engine: its HTTP admin surface, its SSS backing store, and its
// EB transport.
type CommonConfig struct {
	HTTP     HTTPConfig
	Postgres PostgresConfig
	RabbitMQ RabbitMQConfig
	Saga     SagaConfig
}

// HTTPConfig holds the admin HTTP server settings.
type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig holds PostgreSQL connection settings for the saga state store.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RabbitMQConfig holds RabbitMQ connection settings for the event bus.
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

// SagaConfig holds engine-wide tunables: the default participant-call
// deadline (§5) and the SSS retry backoff schedule (§4.2).
type SagaConfig struct {
	DefaultStepDeadline time.Duration
	RetryBackoff        []time.Duration
	MaxStepRetries      int
}

// LoadCommonConfig loads the shared configuration from environment
// variables, falling back to the values this module ships with when a
// variable is unset.
func LoadCommonConfig(serviceName string, port string) *CommonConfig {
	// Load .env if present; ignored when absent.
	godotenv.Load()

	return &CommonConfig{
		HTTP: HTTPConfig{
			Port:         GetEnv("HTTP_PORT", port),
			ReadTimeout:  GetEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: GetEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     GetEnv("POSTGRES_HOST", "localhost"),
			Port:     GetEnv("POSTGRES_PORT", "5432"),
			User:     GetEnv("POSTGRES_USER", "postgres"),
			Password: GetEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:   GetEnv("POSTGRES_DB", serviceName),
			SSLMode:  GetEnv("POSTGRES_SSLMODE", "disable"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     GetEnv("RABBITMQ_HOST", "localhost"),
			Port:     GetEnv("RABBITMQ_PORT", "5672"),
			User:     GetEnv("RABBITMQ_USER", "guest"),
			Password: GetEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    GetEnv("RABBITMQ_VHOST", "/"),
		},
		Saga: SagaConfig{
			DefaultStepDeadline: GetEnvAsDuration("SAGA_STEP_DEADLINE", 30*time.Second),
			RetryBackoff: []time.Duration{
				GetEnvAsDuration("SAGA_RETRY_BACKOFF_1", 50*time.Millisecond),
				GetEnvAsDuration("SAGA_RETRY_BACKOFF_2", 200*time.Millisecond),
				GetEnvAsDuration("SAGA_RETRY_BACKOFF_3", 800*time.Millisecond),
			},
			MaxStepRetries: GetEnvAsInt("SAGA_MAX_STEP_RETRIES", 3),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := GetEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
