package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	AutoMigrate bool
	SeedFile    string
	LogLevel    string
	LogFormat   string

	DefaultEntitySlug string

	StorageProvider     string
	ArchiveBucket       string
	GCSCredentialsJSON  string
	GCSSignerEmail      string
	GCSSignerPrivateKey string

	RendererURL   string
	RendererToken string

	SealProcedure    string
	ResolveProcedure string

	DependencyTimeoutSeconds int
	SignedURLDefaultSeconds  int

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RenderLeaseSeconds int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
}

// Load reads an optional .env file before FromEnv. Variables already present
// in the environment win.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		HTTPAddr:                 envDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		AutoMigrate:              envBoolDefault("AUTO_MIGRATE", false),
		SeedFile:                 os.Getenv("SEED_FILE"),
		LogLevel:                 envDefault("LOG_LEVEL", "info"),
		LogFormat:                envDefault("LOG_FORMAT", "json"),
		DefaultEntitySlug:        strings.TrimSpace(os.Getenv("DEFAULT_ENTITY_SLUG")),
		StorageProvider:          strings.ToLower(envDefault("STORAGE_PROVIDER", "gcs")),
		ArchiveBucket:            os.Getenv("ARCHIVE_BUCKET"),
		GCSCredentialsJSON:       os.Getenv("GCS_CREDENTIALS_JSON"),
		GCSSignerEmail:           os.Getenv("GCS_SIGNER_EMAIL"),
		GCSSignerPrivateKey:      os.Getenv("GCS_SIGNER_PRIVATE_KEY"),
		RendererURL:              os.Getenv("RENDERER_URL"),
		RendererToken:            os.Getenv("RENDERER_TOKEN"),
		SealProcedure:            os.Getenv("SEAL_PROCEDURE"),
		ResolveProcedure:         os.Getenv("RESOLVE_PROCEDURE"),
		DependencyTimeoutSeconds: envIntDefault("DEPENDENCY_TIMEOUT_SECONDS", 10),
		SignedURLDefaultSeconds:  envIntDefault("SIGNED_URL_DEFAULT_SECONDS", 900),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  envIntDefault("REDIS_DB", 0),
		RenderLeaseSeconds:       envIntDefault("RENDER_LEASE_SECONDS", 60),
		RateLimitRequests:        envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:   envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:      envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) DependencyTimeout() time.Duration {
	if c.DependencyTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.DependencyTimeoutSeconds) * time.Second
}

func (c Config) SignedURLDefault() time.Duration {
	return time.Duration(c.SignedURLDefaultSeconds) * time.Second
}

func (c Config) RenderLeaseTTL() time.Duration {
	if c.RenderLeaseSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RenderLeaseSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
