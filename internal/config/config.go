package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects the persistence collaborator at session construction.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
	ModeRedis  = "redis"
	ModeMySQL  = "mysql"
)

type Config struct {
	Mode string

	// Remote mode
	APIBaseURL   string
	AccessToken  string
	RefreshToken string
	HTTPTimeout  time.Duration

	// Local (guest/offline) mode
	LocalCartPath string

	// Redis mode
	RedisAddr     string
	RedisPassword string

	// MySQL mode
	MySQLDSN string

	// OwnerID identifies the session's cart in redis/mysql modes.
	// Empty means a fresh guest id is generated at startup.
	OwnerID string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: no .env file loaded, using environment")
	}

	cfg := &Config{
		Mode:          getEnvOrDefault("CART_MODE", ModeLocal),
		APIBaseURL:    getEnvOrDefault("CART_API_BASE_URL", "http://localhost:8080"),
		AccessToken:   os.Getenv("CART_ACCESS_TOKEN"),
		RefreshToken:  os.Getenv("CART_REFRESH_TOKEN"),
		LocalCartPath: getEnvOrDefault("CART_LOCAL_PATH", ".cart/cart.json"),
		RedisAddr:     getEnvOrDefault("CART_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("CART_REDIS_PASSWORD"),
		MySQLDSN:      getEnvOrDefault("CART_MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront?parseTime=true"),
		OwnerID:       os.Getenv("CART_OWNER_ID"),
	}

	switch cfg.Mode {
	case ModeLocal, ModeRemote, ModeRedis, ModeMySQL:
	default:
		return nil, fmt.Errorf("unknown CART_MODE %q", cfg.Mode)
	}

	cfg.HTTPTimeout = 10 * time.Second
	if raw := os.Getenv("CART_HTTP_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid CART_HTTP_TIMEOUT %q: %w", raw, err)
		}
		cfg.HTTPTimeout = d
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
