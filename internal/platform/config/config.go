package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends selectable with STORE_BACKEND.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL   string
	Port          string
	IsProduction  bool
	EnableDBCheck bool
	StoreBackend  string

	JWTSecret          string
	JWTIssuer          string
	CORSAllowedOrigins []string
	RateLimit          string // ulule formatted rate for run triggers, e.g. "100-M"

	// Run execution
	WorkerConcurrency    int
	WorkerPollInterval   time.Duration
	RunLeaseDuration     time.Duration
	RunHeartbeatInterval time.Duration
	RunMaxDuration       time.Duration
	WatchdogInterval     time.Duration
	SchedulerInterval    time.Duration

	// Simulated connector used when no real connector is registered for a source type
	SimulatedMinLatency  time.Duration
	SimulatedMaxLatency  time.Duration
	SimulatedFailureRate float64

	DefaultMaxSubAccounts int
	MigrationPageSize     int
}

// LoadConfig loads configuration from environment variables and .env file if present.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	viper.SetDefault("PGSQL_URL", "")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("IS_PRODUCTION", false)
	viper.SetDefault("ENABLE_DB_CHECK", false)
	viper.SetDefault("STORE_BACKEND", StorePostgres)
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("JWT_ISSUER", "backup-orchestrator")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("RATE_LIMIT", "100-M")
	viper.SetDefault("WORKER_CONCURRENCY", 4)
	viper.SetDefault("WORKER_POLL_INTERVAL", "2s")
	viper.SetDefault("RUN_LEASE_DURATION", "2m")
	viper.SetDefault("RUN_HEARTBEAT_INTERVAL", "30s")
	viper.SetDefault("RUN_MAX_DURATION", "1h")
	viper.SetDefault("WATCHDOG_INTERVAL", "1m")
	viper.SetDefault("SCHEDULER_INTERVAL", "30s")
	viper.SetDefault("SIMULATED_MIN_LATENCY", "2s")
	viper.SetDefault("SIMULATED_MAX_LATENCY", "10s")
	viper.SetDefault("SIMULATED_FAILURE_RATE", 0.1)
	viper.SetDefault("DEFAULT_MAX_SUB_ACCOUNTS", 10)
	viper.SetDefault("MIGRATION_PAGE_SIZE", 100)

	viper.AutomaticEnv()

	cfg := &Config{
		DatabaseURL:   viper.GetString("PGSQL_URL"),
		Port:          viper.GetString("PORT"),
		IsProduction:  viper.GetBool("IS_PRODUCTION"),
		EnableDBCheck: viper.GetBool("ENABLE_DB_CHECK"),
		JWTIssuer:     viper.GetString("JWT_ISSUER"),
		RateLimit:     viper.GetString("RATE_LIMIT"),
	}

	cfg.StoreBackend = strings.ToLower(viper.GetString("STORE_BACKEND"))
	if cfg.StoreBackend != StorePostgres && cfg.StoreBackend != StoreMemory {
		log.Printf("Warning: unknown STORE_BACKEND %q. Defaulting to %s.\n", cfg.StoreBackend, StorePostgres)
		cfg.StoreBackend = StorePostgres
	}
	if cfg.StoreBackend == StorePostgres && cfg.DatabaseURL == "" {
		log.Println("Warning: PGSQL_URL environment variable not set.")
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
		log.Printf("Warning: PORT environment variable not set. Defaulting to %s\n", cfg.Port)
	}

	cfg.JWTSecret = viper.GetString("JWT_SECRET")
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "a-very-secret-key-should-be-longer-and-random" // !! CHANGE IN PRODUCTION !!
		log.Println("Warning: JWT_SECRET environment variable not set. Using default insecure key.")
	}

	for _, origin := range strings.Split(viper.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	cfg.WorkerConcurrency = positiveInt("WORKER_CONCURRENCY", 4)
	cfg.WorkerPollInterval = duration("WORKER_POLL_INTERVAL", 2*time.Second)
	cfg.RunLeaseDuration = duration("RUN_LEASE_DURATION", 2*time.Minute)
	cfg.RunHeartbeatInterval = duration("RUN_HEARTBEAT_INTERVAL", 30*time.Second)
	if cfg.RunHeartbeatInterval >= cfg.RunLeaseDuration {
		cfg.RunHeartbeatInterval = cfg.RunLeaseDuration / 3
		log.Printf("Warning: RUN_HEARTBEAT_INTERVAL must be shorter than RUN_LEASE_DURATION. Using %s.\n", cfg.RunHeartbeatInterval)
	}
	cfg.RunMaxDuration = duration("RUN_MAX_DURATION", time.Hour)
	cfg.WatchdogInterval = duration("WATCHDOG_INTERVAL", time.Minute)
	cfg.SchedulerInterval = duration("SCHEDULER_INTERVAL", 30*time.Second)

	cfg.SimulatedMinLatency = duration("SIMULATED_MIN_LATENCY", 2*time.Second)
	cfg.SimulatedMaxLatency = duration("SIMULATED_MAX_LATENCY", 10*time.Second)
	cfg.SimulatedFailureRate = viper.GetFloat64("SIMULATED_FAILURE_RATE")
	if cfg.SimulatedFailureRate < 0 || cfg.SimulatedFailureRate > 1 {
		log.Printf("Warning: SIMULATED_FAILURE_RATE %v is outside [0,1]. Defaulting to 0.1.\n", cfg.SimulatedFailureRate)
		cfg.SimulatedFailureRate = 0.1
	}

	cfg.DefaultMaxSubAccounts = positiveInt("DEFAULT_MAX_SUB_ACCOUNTS", 10)
	cfg.MigrationPageSize = positiveInt("MIGRATION_PAGE_SIZE", 100)

	return cfg, nil
}

// duration reads a Go duration string, falling back to def with a warning when it is invalid.
func duration(key string, def time.Duration) time.Duration {
	raw := viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Warning: Invalid value for %s ('%s'). Defaulting to %s.\n", key, raw, def)
		return def
	}
	return d
}

func positiveInt(key string, def int) int {
	n := viper.GetInt(key)
	if n <= 0 {
		log.Printf("Warning: Invalid value for %s (%d). Defaulting to %d.\n", key, n, def)
		return def
	}
	return n
}
