package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Session JWT
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	// Sign in with Apple
	AppleTeamID         string
	AppleClientID       string
	AppleAuthKeyID      string
	AppleAuthPrivateKey string

	// App Store purchases
	AppleBundleID       string
	AppleSharedSecret   string
	AppleIAPKeyID       string
	AppleIAPIssuerID    string
	AppleIAPPrivateKey  string

	// Assistant relay
	AssistantAPIURL string
	AssistantAPIKey string

	// Admin
	AdminEmails  string
	AdminUserIDs string
	AdminToken   string

	// Server
	Port        string
	CORSOrigins string
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "theone_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAccessExpiry:  parseDuration(getEnv("JWT_ACCESS_EXPIRY", "15m")),
		JWTRefreshExpiry: parseDuration(getEnv("JWT_REFRESH_EXPIRY", "168h")),

		AppleTeamID:         getEnv("APPLE_TEAM_ID", ""),
		AppleClientID:       getEnv("APPLE_CLIENT_ID", ""),
		AppleAuthKeyID:      getEnv("APPLE_AUTH_KEY_ID", ""),
		AppleAuthPrivateKey: getEnv("APPLE_AUTH_PRIVATE_KEY", ""),

		AppleBundleID:      getEnv("APPLE_BUNDLE_ID", ""),
		AppleSharedSecret:  getEnv("APPLE_SHARED_SECRET", ""),
		AppleIAPKeyID:      getEnv("APPLE_IAP_KEY_ID", ""),
		AppleIAPIssuerID:   getEnv("APPLE_IAP_ISSUER_ID", ""),
		AppleIAPPrivateKey: getEnv("APPLE_IAP_PRIVATE_KEY", ""),

		AssistantAPIURL: getEnv("ASSISTANT_API_URL", ""),
		AssistantAPIKey: getEnv("ASSISTANT_API_KEY", ""),

		AdminEmails:  getEnv("ADMIN_EMAILS", ""),
		AdminUserIDs: getEnv("ADMIN_USER_IDS", ""),
		AdminToken:   getEnv("ADMIN_TOKEN", ""),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}

// Validate rejects configurations that cannot serve purchase validation.
// Missing signing material is fatal at startup, not per-request.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AppleIAPKeyID == "" || c.AppleIAPIssuerID == "" || c.AppleIAPPrivateKey == "" {
		return fmt.Errorf("APPLE_IAP_KEY_ID, APPLE_IAP_ISSUER_ID and APPLE_IAP_PRIVATE_KEY are required")
	}
	if c.AppleBundleID == "" {
		return fmt.Errorf("APPLE_BUNDLE_ID is required")
	}
	return nil
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}
