package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	HTTPAddr       string
	MigrationsPath string
	LogLevel       string

	// Hosted Postgres convenience:
	// - DATABASE_URL: runtime connection (often a pooler)
	// - DIRECT_URL: direct connection for migrations
	DatabaseURL string
	DirectURL   string

	DB DBConfig

	Auth AuthConfig

	// WorkflowsPath points at a YAML file with status workflow definitions.
	// Empty means the embedded defaults.
	WorkflowsPath string

	// AllowedOrigins is the CORS allowlist for the browser client. Example:
	//   https://app.example.com,http://localhost:5173
	AllowedOrigins []string

	ObjectStore ObjectStoreConfig

	PDF PDFConfig
}

type DBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration
}

type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
	// PresignTTL bounds the lifetime of shared document links.
	PresignTTL time.Duration
}

// Enabled reports whether document sharing can reach an object store.
func (c ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

type PDFConfig struct {
	CompanyName string
	Currency    string
	DateFormat  string
}

func Load() Config {
	// Convenience for local dev: load variables from .env if present.
	// In production, rely on real environment variables.
	_ = godotenv.Load()

	// Container platforms set PORT. Prefer it when HTTP_ADDR isn't explicitly set.
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			httpAddr = ":" + port
		} else {
			httpAddr = ":8081"
		}
	}

	return Config{
		AppEnv:         env("APP_ENV", "dev"),
		HTTPAddr:       httpAddr,
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
		LogLevel:       env("LOG_LEVEL", "info"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DirectURL:      os.Getenv("DIRECT_URL"),
		DB: DBConfig{
			Host:     env("DB_HOST", "localhost"),
			Port:     env("DB_PORT", "5432"),
			Name:     env("DB_NAME", "fieldservice"),
			User:     env("DB_USER", "fieldservice"),
			Password: env("DB_PASSWORD", "fieldservice"),
			SSLMode:  env("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			JWTIssuer: env("JWT_ISSUER", "fieldservice"),
			TokenTTL:  envDuration("JWT_TTL", 12*time.Hour),
		},
		WorkflowsPath:  os.Getenv("WORKFLOWS_PATH"),
		AllowedOrigins: envList("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:4173"),
		ObjectStore: ObjectStoreConfig{
			Endpoint:   os.Getenv("OBJECTSTORE_ENDPOINT"),
			AccessKey:  os.Getenv("OBJECTSTORE_ACCESS_KEY"),
			SecretKey:  os.Getenv("OBJECTSTORE_SECRET_KEY"),
			Region:     env("OBJECTSTORE_REGION", "us-east-1"),
			Bucket:     env("OBJECTSTORE_BUCKET", "documents"),
			UseSSL:     envBool("OBJECTSTORE_USE_SSL", false),
			PresignTTL: envDuration("OBJECTSTORE_PRESIGN_TTL", 24*time.Hour),
		},
		PDF: PDFConfig{
			CompanyName: env("PDF_COMPANY_NAME", "Field Service"),
			Currency:    env("PDF_CURRENCY", "EUR"),
			DateFormat:  env("PDF_DATE_FORMAT", "2006-01-02"),
		},
	}
}

func env(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envList(key, fallbackCSV string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallbackCSV
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
