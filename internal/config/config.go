package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	Database  DatabaseConfig
	PMS       PMSConfig
	AMQP      AMQPConfig
	Scheduler SchedulerConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// PMSConfig holds the external booking system (property management
// system) connection settings
type PMSConfig struct {
	URL           string
	Database      string
	Username      string
	Password      string
	ReconInterval int // minutes between reconciliation runs
}

// AMQPConfig holds the booking-event broker settings. Empty URL disables
// the consumer; the webhook endpoint keeps working regardless.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// SchedulerConfig holds the credential scheduling knobs
type SchedulerConfig struct {
	GenerateLead  time.Duration // how long before check-in a code is issued
	MutexTTL      time.Duration // booking mutex expiry
	VendorTimeout time.Duration // per vendor call
	PollInterval  time.Duration // queue poll cadence
	MaxAttempts   int           // transient-failure ceiling before dead letter
	Workers       int           // concurrent queue workers
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "3310"),
		JWTSecret: jwtSecret,
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "staykey"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		PMS: PMSConfig{
			URL:           os.Getenv("PMS_URL"),
			Database:      getEnv("PMS_DATABASE", "pms"),
			Username:      os.Getenv("PMS_USERNAME"),
			Password:      os.Getenv("PMS_PASSWORD"),
			ReconInterval: getEnvInt("PMS_RECON_INTERVAL", 30),
		},
		AMQP: AMQPConfig{
			URL:      os.Getenv("AMQP_URL"),
			Exchange: getEnv("AMQP_EXCHANGE", "booking.exchange"),
			Queue:    getEnv("AMQP_QUEUE", "staykey.bookings"),
		},
		Scheduler: SchedulerConfig{
			// 2h is the authoritative lead constant. A legacy scheduling
			// path used 1h; that variant was dropped deliberately.
			GenerateLead:  time.Duration(getEnvInt("GENERATE_LEAD_MINUTES", 120)) * time.Minute,
			MutexTTL:      time.Duration(getEnvInt("MUTEX_TTL_SECONDS", 60)) * time.Second,
			VendorTimeout: time.Duration(getEnvInt("VENDOR_TIMEOUT_SECONDS", 30)) * time.Second,
			PollInterval:  time.Duration(getEnvInt("QUEUE_POLL_SECONDS", 5)) * time.Second,
			MaxAttempts:   getEnvInt("JOB_MAX_ATTEMPTS", 3),
			Workers:       getEnvInt("QUEUE_WORKERS", 4),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
