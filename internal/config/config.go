// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir           string // Base directory for all databases (always absolute)
	Port              int
	DevMode           bool
	LogLevel          string
	CoinMarketCapKey  string // API key for market data listings
	BinanceBaseURL    string // Override for tests; empty means the production endpoint
	BinanceAPIKey     string // Optional; settings database takes precedence
	BinanceAPISecret  string
	RebalanceSchedule string // cron expression for periodic rebalancing runs
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QUANTFOLIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("PORT", 8080),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		CoinMarketCapKey:  getEnv("COINMARKETCAP_API_KEY", ""),
		BinanceBaseURL:    getEnv("BINANCE_BASE_URL", ""),
		BinanceAPIKey:     getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret:  getEnv("BINANCE_API_SECRET", ""),
		RebalanceSchedule: getEnv("REBALANCE_SCHEDULE", "@hourly"),
	}

	return cfg, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
