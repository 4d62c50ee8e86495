package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	KimPath string
	LogDir  string

	RefreshInterval       time.Duration
	RefreshBackoffStep    time.Duration
	RefreshMaxInterval    time.Duration
	ResetBackoffOnSuccess bool
	WatchdogTimeout       time.Duration
	// AutoStart begins polling kim when the server starts
	AutoStart bool

	JwtSecret string

	OtelEnabled     bool
	OtelEndpoint    string
	OtelServiceName string
	OtelInsecure    bool

	Env string
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		KimPath: getEnv("KIM_PATH", "kim"),
		LogDir:  getEnv("LOG_DIR", "/var/log/kimd"),

		RefreshInterval:       getEnvDuration("REFRESH_INTERVAL", 5*time.Second),
		RefreshBackoffStep:    getEnvDuration("REFRESH_BACKOFF_STEP", 500*time.Millisecond),
		RefreshMaxInterval:    getEnvDuration("REFRESH_MAX_INTERVAL", 0),
		ResetBackoffOnSuccess: getEnvBool("RESET_BACKOFF_ON_SUCCESS", false),
		WatchdogTimeout:       getEnvDuration("WATCHDOG_TIMEOUT", 10*time.Second),
		AutoStart:             getEnvBool("AUTO_START", true),

		JwtSecret: getEnv("JWT_SECRET", ""),

		OtelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:    getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName: getEnv("OTEL_SERVICE_NAME", "kimd"),
		OtelInsecure:    getEnvBool("OTEL_INSECURE", true),

		Env: getEnv("ENV", "dev"),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value < 0 {
		return defaultValue
	}
	return value
}
