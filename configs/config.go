package config

import (
	"os"
	"strconv"
)

// Config holds the application configuration
type Config struct {
	Port                      string
	Environment               string
	APIKey                    string
	MySQLDSN                  string
	DashboardCacheTTLSeconds  int
	CacheSweepIntervalSeconds int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:                      getEnv("PORT", "8080"),
		Environment:               getEnv("ENVIRONMENT", "development"),
		APIKey:                    getEnv("API_KEY", ""),
		MySQLDSN:                  getEnv("MYSQL_DSN", ""),
		DashboardCacheTTLSeconds:  getEnvInt("DASHBOARD_CACHE_TTL_SECONDS", 300),
		CacheSweepIntervalSeconds: getEnvInt("CACHE_SWEEP_INTERVAL_SECONDS", 600),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable, falling back on the default
// when unset or not a positive integer.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}
