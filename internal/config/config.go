package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddress string
	DatabasePath  string
	JWTSecret     string
	AllowedOrigin string
	AdminEmail    string
	AdminPassword string
}

func Load() *Config {
	// Optional .env file; environment variables win either way.
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	dataDir := filepath.Join(cwd, "data")
	os.MkdirAll(dataDir, 0755)

	return &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		DatabasePath:  getEnv("DATABASE_PATH", filepath.Join(dataDir, "chatd.db")),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://localhost:3000"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@local.dev"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
