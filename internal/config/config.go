package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Market struct {
	Name           string
	PriceDecimals  int32
	VolumeDecimals int32
}

type Server struct {
	HTTPPort          string
	MetricsPort       string
	DataDir           string
	ChannelBufferSize int
}

type Log struct {
	Level string
	File  string // empty logs to stdout only
}

// Kafka is disabled when Brokers is empty.
type Kafka struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NATS is disabled when URL is empty.
type NATS struct {
	URL string
}

type Config struct {
	Market Market
	Server Server
	Log    Log
	Kafka  Kafka
	NATS   NATS
}

func Default() Config {
	return Config{
		Market: Market{
			Name:           "btcusdt",
			PriceDecimals:  8,
			VolumeDecimals: 8,
		},
		Server: Server{
			HTTPPort:          "8080",
			MetricsPort:       "9090",
			DataDir:           "./data",
			ChannelBufferSize: 4096,
		},
		Log: Log{
			Level: "info",
		},
		Kafka: Kafka{
			Topic:   "orders",
			GroupID: "matching",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Market.Name = getEnv("MARKET", cfg.Market.Name)
	cfg.Market.PriceDecimals = getEnvInt32("PRICE_DECIMALS", cfg.Market.PriceDecimals)
	cfg.Market.VolumeDecimals = getEnvInt32("VOLUME_DECIMALS", cfg.Market.VolumeDecimals)

	cfg.Server.HTTPPort = getEnv("PORT", cfg.Server.HTTPPort)
	cfg.Server.MetricsPort = getEnv("METRICS_PORT", cfg.Server.MetricsPort)
	cfg.Server.DataDir = getEnv("DATA_DIR", cfg.Server.DataDir)
	if size := os.Getenv("CHANNEL_BUFFER_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil && n > 0 {
			cfg.Server.ChannelBufferSize = n
		}
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	// Brokers from comma-separated list, e.g. "kafka1:9092,kafka2:9092"
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 32); err == nil && n >= 0 {
			return int32(n)
		}
	}
	return defaultValue
}
