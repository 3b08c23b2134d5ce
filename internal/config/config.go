package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort    string
	GRPCPort    string
	CORSOrigins string
	Environment string

	// Load balancing and failure isolation.
	Strategy                string
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	HealthCheckInterval     time.Duration
	HealthProbeTimeout      time.Duration
	EngineTimeout           time.Duration
	HistorySize             int
	MetricsWindowSize       int

	// Engine endpoints per capability, comma-separated base URLs.
	DamageEngines   []string
	MaterialEngines []string
	VolumeEngines   []string

	DamageThreshold   float64
	MaterialThreshold float64
	VolumeThreshold   float64
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func LoadConfig() *Config {
	// .env is optional; fall back to system environment variables.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		Environment: getEnv("ENVIRONMENT", "production"),

		Strategy:                getEnv("LB_STRATEGY", "round_robin"),
		CircuitBreakerThreshold: getEnvInt("CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerTimeout:   getEnvDuration("CIRCUIT_BREAKER_TIMEOUT_SECONDS", 60*time.Second),
		HealthCheckInterval:     getEnvDuration("HEALTH_CHECK_INTERVAL_SECONDS", 30*time.Second),
		HealthProbeTimeout:      getEnvDuration("HEALTH_PROBE_TIMEOUT_SECONDS", 2*time.Second),
		EngineTimeout:           getEnvDuration("ENGINE_TIMEOUT_SECONDS", 5*time.Second),
		HistorySize:             getEnvInt("REQUEST_HISTORY_SIZE", 1000),
		MetricsWindowSize:       getEnvInt("METRICS_WINDOW_SIZE", 1024),

		DamageEngines:   getEnvList("DAMAGE_ENGINES", "http://damage-engine:8001"),
		MaterialEngines: getEnvList("MATERIAL_ENGINES", "http://material-engine:8002"),
		VolumeEngines:   getEnvList("VOLUME_ENGINES", "http://volume-engine:8003"),

		DamageThreshold:   getEnvFloat("DAMAGE_CONFIDENCE_THRESHOLD", 0.75),
		MaterialThreshold: getEnvFloat("MATERIAL_CONFIDENCE_THRESHOLD", 0.75),
		VolumeThreshold:   getEnvFloat("VOLUME_CONFIDENCE_THRESHOLD", 0.70),
	}

	if cfg.CircuitBreakerThreshold < 1 {
		log.Println("WARNING: CIRCUIT_BREAKER_THRESHOLD must be >= 1, using default 5")
		cfg.CircuitBreakerThreshold = 5
	}

	return cfg
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if floatVal, err := strconv.ParseFloat(v, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

// getEnvDuration reads whole seconds, matching the *_SECONDS variable names.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal string) []string {
	raw := getEnv(key, defaultVal)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
