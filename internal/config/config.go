package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	JWTSecret   string
	DatabaseURL string
	CORSOrigins []string

	AdminEmail     string
	AdminPassword  string
	AdminAllowlist []string

	CardgateSecret   string
	WalletpaySecret  string
	AllocationSecret string

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables with sensible defaults.
// DATABASE_URL is optional: when empty the server falls back to the in-memory
// store, which is only suitable for local development.
func Load() (*Config, error) {
	port, _ := strconv.Atoi(getEnv("PORT", "4001"))

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cardgateSecret := getEnv("CARDGATE_WEBHOOK_SECRET", "")
	if cardgateSecret == "" {
		return nil, fmt.Errorf("CARDGATE_WEBHOOK_SECRET is required")
	}

	walletpaySecret := getEnv("WALLETPAY_SERVER_KEY", "")
	if walletpaySecret == "" {
		return nil, fmt.Errorf("WALLETPAY_SERVER_KEY is required")
	}

	allocationSecret := getEnv("ALLOCATION_SECRET", "")
	if allocationSecret == "" {
		return nil, fmt.Errorf("ALLOCATION_SECRET is required")
	}

	origins := splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:3010"))

	var brokers []string
	if raw := getEnv("KAFKA_BROKERS", ""); raw != "" {
		brokers = splitList(raw)
	}

	var allowlist []string
	if raw := getEnv("ADMIN_ALLOWLIST", ""); raw != "" {
		allowlist = splitList(raw)
	}

	return &Config{
		Port:             port,
		JWTSecret:        jwtSecret,
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		CORSOrigins:      origins,
		AdminEmail:       getEnv("ADMIN_EMAIL", "admin@credithub.dev"),
		AdminPassword:    getEnv("ADMIN_PASSWORD", "admin123"),
		AdminAllowlist:   allowlist,
		CardgateSecret:   cardgateSecret,
		WalletpaySecret:  walletpaySecret,
		AllocationSecret: allocationSecret,
		KafkaBrokers:     brokers,
		KafkaTopic:       getEnv("KAFKA_TOPIC", "credit-events"),
	}, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
