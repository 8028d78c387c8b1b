package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noosphere/hub/pkg/logger"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

// KeycloakConfig covers both the OIDC client used to verify end-user tokens
// and the confidential admin client used to query users and groups.
type KeycloakConfig struct {
	URL               string
	Realm             string
	ClientID          string
	AdminClientID     string
	AdminClientSecret string
	Timeout           time.Duration
}

// Issuer returns the realm issuer URL.
func (k KeycloakConfig) Issuer() string {
	return strings.TrimRight(k.URL, "/") + "/realms/" + k.Realm
}

// AdminEnabled reports whether the admin client can be built.
func (k KeycloakConfig) AdminEnabled() bool {
	return k.URL != "" && k.Realm != "" && k.AdminClientID != ""
}

type JWTConfig struct {
	Secret string
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string
	Size    int
	TTL     time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type SecurityConfig struct {
	APIKeyHeader string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("MONGODB_DATABASE", "hub")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KEYCLOAK_REALM", "noosphere")
	v.SetDefault("KEYCLOAK_CLIENT_ID", "web_app")
	v.SetDefault("KEYCLOAK_TIMEOUT", 10)
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("CACHE_SIZE", 1000)
	v.SetDefault("CACHE_TTL", 3600)
	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_USE_REDIS", false)
	v.SetDefault("RATE_LIMIT_RPS", 10.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("API_KEY_HEADER", "X-API-KEY")
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Keycloak: KeycloakConfig{
			URL:               v.GetString("KEYCLOAK_URL"),
			Realm:             v.GetString("KEYCLOAK_REALM"),
			ClientID:          v.GetString("KEYCLOAK_CLIENT_ID"),
			AdminClientID:     v.GetString("KEYCLOAK_ADMIN_CLIENT_ID"),
			AdminClientSecret: os.Getenv("KEYCLOAK_ADMIN_CLIENT_SECRET"),
			Timeout:           time.Duration(v.GetInt("KEYCLOAK_TIMEOUT")) * time.Second,
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(v.GetString("CACHE_BACKEND")),
			Size:    v.GetInt("CACHE_SIZE"),
			TTL:     time.Duration(v.GetInt("CACHE_TTL")) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Security: SecurityConfig{
			APIKeyHeader: v.GetString("API_KEY_HEADER"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Host == "" {
			return nil, fmt.Errorf("CACHE_BACKEND=redis requires REDIS_HOST")
		}
	default:
		return nil, fmt.Errorf("unsupported CACHE_BACKEND %q", cfg.Cache.Backend)
	}
	if cfg.Security.APIKeyHeader == "" {
		return nil, fmt.Errorf("API_KEY_HEADER must not be empty")
	}

	if cfg.Keycloak.URL != "" && !cfg.Keycloak.AdminEnabled() {
		logger.Warn("KEYCLOAK_ADMIN_CLIENT_ID is not set; unseen API keys cannot be provisioned from Keycloak")
	}
	if cfg.MongoDB.URI == "" {
		logger.Warn("MONGODB_URI is not set; users are kept in memory only")
	}

	return cfg, nil
}
