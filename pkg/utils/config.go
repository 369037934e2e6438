package utils

import (
	"os"
	"strconv"
	"time"
)

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTDuration time.Duration
}

func LoadAuthConfig() AuthConfig {
	secret := os.Getenv("ANNOTHUB_JWT_SECRET")
	if secret == "" {
		// dev default (change for demo / production)
		secret = "dev-secret-change-me"
	}

	issuer := os.Getenv("ANNOTHUB_JWT_ISSUER")
	if issuer == "" {
		issuer = "annothub"
	}

	ttl := 24 * time.Hour
	if raw := os.Getenv("ANNOTHUB_JWT_TTL_HOURS"); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil && hours > 0 {
			ttl = time.Duration(hours) * time.Hour
		}
	}

	return AuthConfig{
		JWTSecret:   secret,
		JWTIssuer:   issuer,
		JWTDuration: ttl,
	}
}

type ServerConfig struct {
	Addr string
}

func LoadServerConfig() ServerConfig {
	addr := os.Getenv("ANNOTHUB_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return ServerConfig{Addr: addr}
}
