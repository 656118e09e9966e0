package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port             string
	Env              string
	DatabaseDriver   string // "sqlite3" or "postgres"
	DatabaseURL      string // DSN for postgres, file path for sqlite
	EncryptionSecret string
	StaticDir        string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present. A missing or
// unreachable database is not fatal: the server starts in degraded mode.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "5000"),
		Env:              getEnv("ENV", "development"),
		DatabaseDriver:   getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:      getEnv("DATABASE_URL", "confab.db"),
		EncryptionSecret: getEnv("ENCRYPTION_SECRET", "default-secret-key"),
		StaticDir:        getEnv("STATIC_DIR", "public"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
