package config

import (
	"os"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads environment variables from .env/.env.local files.
// It attempts each supported filename in order and stops at the first
// successfully parsed file. Existing process environment variables are
// not overwritten.
func loadEnvFiles() {
	envPaths := []string{".env", ".env.local"}
	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			return
		}
	}
}
