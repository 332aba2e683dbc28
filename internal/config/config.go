package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	BaseURL            string
	GoogleClientID     string
	GoogleClientSecret string
	AzureClientID      string
	AzureClientSecret  string
	SessionSecret      string
	DatabaseURL        string
	MaxFetchEmails     int64
	SyncMinInterval    time.Duration
	Env                string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	maxFetch, _ := strconv.ParseInt(GetEnv("MAX_FETCH_EMAILS", "50"), 10, 64)
	if maxFetch <= 0 {
		maxFetch = 50
	}

	syncMinutes, _ := strconv.Atoi(GetEnv("SYNC_MIN_INTERVAL_MINUTES", "5"))
	if syncMinutes <= 0 {
		syncMinutes = 5
	}

	return &Config{
		Port:               GetEnv("PORT", "8080"),
		BaseURL:            GetEnv("BASE_URL", "http://localhost:8080"),
		GoogleClientID:     GetEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: GetEnv("GOOGLE_CLIENT_SECRET", ""),
		AzureClientID:      GetEnv("AZURE_AD_CLIENT_ID", ""),
		AzureClientSecret:  GetEnv("AZURE_AD_CLIENT_SECRET", ""),
		SessionSecret:      GetEnv("SESSION_SECRET", "c9a3a1de-7d31-4bfa-9c18-33d1df0afd7b"),
		DatabaseURL:        GetEnv("DATABASE_URL", ""),
		MaxFetchEmails:     maxFetch,
		SyncMinInterval:    time.Duration(syncMinutes) * time.Minute,
		Env:                GetEnv("ENV", "development"),
	}, nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.GoogleClientID == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID is required")
	}
	if c.GoogleClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_SECRET is required")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	return nil
}
