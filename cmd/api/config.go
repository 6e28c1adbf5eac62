package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tilestock/stock-service/pkg/kafka"
	"github.com/tilestock/stock-service/pkg/mongodb"
)

// Config holds application configuration
type Config struct {
	ServerAddr         string
	Environment        string
	JWTSecret          string
	LowStockThreshold  int
	OTLPEndpoint       string
	TracingEnabled     bool
	OutboxPollInterval time.Duration
	AllowedOrigins     []string
	MongoDB            *mongodb.Config
	Kafka              *kafka.Config
}

// loadConfig reads the environment, after loading a .env file when present
func loadConfig() *Config {
	_ = godotenv.Load()

	mongoConfig := mongodb.DefaultConfig()
	mongoConfig.URI = getEnv("MONGODB_URI", mongoConfig.URI)
	mongoConfig.Database = getEnv("MONGODB_DATABASE", mongoConfig.Database)

	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = splitList(getEnv("KAFKA_BROKERS", "localhost:9092"))
	kafkaConfig.ClientID = serviceName

	return &Config{
		ServerAddr:         getEnv("SERVER_ADDR", ":8080"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		LowStockThreshold:  getEnvInt("DEFAULT_LOW_STOCK_THRESHOLD", 10),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled:     getEnv("TRACING_ENABLED", "true") == "true",
		OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
		AllowedOrigins:     splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		MongoDB:            mongoConfig,
		Kafka:              kafkaConfig,
	}
}

// IsProduction reports whether error causes must be hidden from clients
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil || value < 0 {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
