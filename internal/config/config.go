package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	Port             int           `env:"PORT" envDefault:"8080"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	PredictionDelay  time.Duration `env:"PREDICTION_DELAY" envDefault:"2s"`
	MaxAttempts      int           `env:"PREDICT_MAX_ATTEMPTS" envDefault:"0"` // 0 sizes the budget from the seed
	CacheSize        int           `env:"CACHE_SIZE" envDefault:"256"`
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	SubmitRate       float64       `env:"SUBMIT_RATE" envDefault:"5"` // submissions per second
	SubmitBurst      int           `env:"SUBMIT_BURST" envDefault:"10"`
	RequestTimeout   int           `env:"REQUEST_TIMEOUT" envDefault:"30"` // seconds
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN"`
	Version          string
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.Port = getEnvIntWithDefault("PORT", 8080)
	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")
	cfg.PredictionDelay = getEnvDurationWithDefault("PREDICTION_DELAY", 2*time.Second)
	cfg.MaxAttempts = getEnvIntWithDefault("PREDICT_MAX_ATTEMPTS", 0)
	cfg.CacheSize = getEnvIntWithDefault("CACHE_SIZE", 256)
	cfg.SessionTTL = getEnvDurationWithDefault("SESSION_TTL", time.Hour)
	cfg.SubmitRate = getEnvFloatWithDefault("SUBMIT_RATE", 5)
	cfg.SubmitBurst = getEnvIntWithDefault("SUBMIT_BURST", 10)
	cfg.RequestTimeout = getEnvIntWithDefault("REQUEST_TIMEOUT", 30)
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	return &cfg, nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDurationWithDefault accepts Go durations ("1500ms") or plain seconds ("2").
func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
