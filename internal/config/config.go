package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port   string
	AppEnv string
	Store  string
	DBURL  string
	SQLite string

	ClerkSecretKey     string
	ClerkWebhookSecret string

	RedisAddr      string
	StatusCacheTTL time.Duration

	FCMCredentialsFile string

	MetricsUser string
	MetricsPass string
	PprofSecret string

	RateLimitRPS   float64
	RateLimitBurst int

	LockTimeout time.Duration
}

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "3333"),
		AppEnv:             getEnv("APP_ENV", "development"),
		Store:              getEnv("STREAK_STORE", StorePostgres),
		DBURL:              os.Getenv("DATABASE_URL"),
		SQLite:             getEnv("SQLITE_PATH", "data/streaks.db"),
		ClerkSecretKey:     os.Getenv("CLERK_SECRET_KEY"),
		ClerkWebhookSecret: os.Getenv("CLERK_WEBHOOK_SECRET"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		StatusCacheTTL:     getEnvDuration("STATUS_CACHE_TTL", 30*time.Second),
		FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", "./serviceAccountKey.json"),
		MetricsUser:        os.Getenv("METRICS_USER"),
		MetricsPass:        os.Getenv("METRICS_PASS"),
		PprofSecret:        os.Getenv("PPROF_SECRET"),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 30),
		LockTimeout:        getEnvDuration("LOCK_TIMEOUT", 5*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate requires DATABASE_URL for every store: users, XP and
// notifications always live in Postgres. STREAK_STORE only moves the
// streak rows.
func (c *Config) validate() error {
	if c.DBURL == "" {
		return errMissing("DATABASE_URL")
	}
	switch c.Store {
	case StorePostgres:
	case StoreSQLite:
		if c.SQLite == "" {
			return errMissing("SQLITE_PATH")
		}
	default:
		return &ConfigError{Key: "STREAK_STORE", Msg: "must be postgres or sqlite, got " + strconv.Quote(c.Store)}
	}
	if c.ClerkSecretKey == "" {
		return errMissing("CLERK_SECRET_KEY")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}

type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string {
	return "config " + e.Key + ": " + e.Msg
}

func errMissing(key string) error {
	return &ConfigError{Key: key, Msg: "environment variable is not set"}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
