package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB     DBConfig
	JWT    JWTConfig
	Server ServerConfig
	MFA    MFAConfig
	Auth   AuthConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret            string
	ExpirationMinutes int
}

type ServerConfig struct {
	Port        string
	Env         string
	FrontendURL string
}

type MFAConfig struct {
	Issuer       string
	ChallengeTTL time.Duration
}

type AuthConfig struct {
	RefreshTTL     time.Duration
	DeviceTrustTTL time.Duration
	ResetTokenTTL  time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "milemoto"),
			Password: getEnv("DB_PASSWORD", "milemoto_secret"),
			Name:     getEnv("DB_NAME", "milemoto"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationMinutes: getEnvAsInt("JWT_EXPIRATION_MINUTES", 15),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Env:         getEnv("APP_ENV", "development"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3001"),
		},
		MFA: MFAConfig{
			Issuer:       getEnv("MFA_ISSUER", "MileMoto"),
			ChallengeTTL: getEnvAsDuration("MFA_CHALLENGE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			RefreshTTL:     getEnvAsDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
			DeviceTrustTTL: getEnvAsDuration("DEVICE_TRUST_TTL", 30*24*time.Hour),
			ResetTokenTTL:  getEnvAsDuration("RESET_TOKEN_TTL", 1*time.Hour),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
