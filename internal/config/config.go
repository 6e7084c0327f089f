// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"deer-cwd-pairing/internal/models"
)

// Config holds all configuration values for the application.
type Config struct {
	// Pairing
	Trials              int
	Seed                int64
	Workers             int
	CoverageThreshold   int
	MaxIntervalDays     int
	IdealAgeYears       float64
	AcceptableAgeYears  float64
	IntervalQualityDays int
	AgeQualityYears     float64
	WindowDays          int

	// AWS
	AWSRegion      string
	S3Bucket       string
	ResultsPrefix  string
	SESSenderEmail string
	NotifyEmail    string

	// Database
	DatabaseURLOverride string
	DBHost              string
	DBPort              int
	DBName              string
	DBUser              string
	DBPassword          string

	// Application
	Stage    string
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	_ = godotenv.Load()

	p := &envParser{}

	cfg := &Config{
		// Pairing
		Trials:              p.intVar("PAIRING_TRIALS", 500),
		Seed:                p.int64Var("PAIRING_SEED", 20210601),
		Workers:             p.intVar("PAIRING_WORKERS", runtime.NumCPU()),
		CoverageThreshold:   p.intVar("PAIRING_COVERAGE_THRESHOLD", 180),
		MaxIntervalDays:     p.intVar("PAIRING_MAX_INTERVAL", models.MaxIntervalMatch),
		IdealAgeYears:       p.floatVar("PAIRING_IDEAL_AGE_YEARS", 1),
		AcceptableAgeYears:  p.floatVar("PAIRING_ACCEPTABLE_AGE_YEARS", 5),
		IntervalQualityDays: p.intVar("PAIRING_INTERVAL_QUALITY_DAYS", 120),
		AgeQualityYears:     p.floatVar("PAIRING_AGE_QUALITY_YEARS", 5),
		WindowDays:          p.intVar("PAIRING_WINDOW_DAYS", models.MaxIntervalMatch),

		// AWS
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		S3Bucket:       getEnv("S3_BUCKET", "cwd-pairing-dev"),
		ResultsPrefix:  getEnv("RESULTS_PREFIX", "results/"),
		SESSenderEmail: getEnv("SES_SENDER_EMAIL", ""),
		NotifyEmail:    getEnv("NOTIFY_EMAIL", ""),

		// Database
		DatabaseURLOverride: getEnv("DATABASE_URL", ""),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnvInt("DB_PORT", 5432),
		DBName:              getEnv("DB_NAME", "cwd_pairing"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", ""),

		// Application
		Stage:    getEnv("STAGE", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidConfig, strings.Join(p.errs, "; "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the pairing parameters can drive a run.
func (c *Config) Validate() error {
	var problems []string

	if c.Trials <= 0 {
		problems = append(problems, fmt.Sprintf("PAIRING_TRIALS must be > 0, got %d", c.Trials))
	}
	if c.Workers <= 0 {
		problems = append(problems, fmt.Sprintf("PAIRING_WORKERS must be > 0, got %d", c.Workers))
	}
	if c.CoverageThreshold < 0 {
		problems = append(problems, fmt.Sprintf("PAIRING_COVERAGE_THRESHOLD must be >= 0, got %d", c.CoverageThreshold))
	}
	if c.MaxIntervalDays <= 0 || c.MaxIntervalDays > models.MaxIntervalMatch {
		problems = append(problems, fmt.Sprintf("PAIRING_MAX_INTERVAL must be in 1..%d, got %d", models.MaxIntervalMatch, c.MaxIntervalDays))
	}
	if c.IdealAgeYears < 0 {
		problems = append(problems, fmt.Sprintf("PAIRING_IDEAL_AGE_YEARS must be >= 0, got %g", c.IdealAgeYears))
	}
	if c.AcceptableAgeYears < c.IdealAgeYears {
		problems = append(problems, fmt.Sprintf("PAIRING_ACCEPTABLE_AGE_YEARS (%g) must be >= PAIRING_IDEAL_AGE_YEARS (%g)", c.AcceptableAgeYears, c.IdealAgeYears))
	}
	if c.IntervalQualityDays < 0 {
		problems = append(problems, fmt.Sprintf("PAIRING_INTERVAL_QUALITY_DAYS must be >= 0, got %d", c.IntervalQualityDays))
	}
	if c.AgeQualityYears < 0 {
		problems = append(problems, fmt.Sprintf("PAIRING_AGE_QUALITY_YEARS must be >= 0, got %g", c.AgeQualityYears))
	}
	if c.WindowDays <= 0 || c.WindowDays > models.MaxIntervalMatch {
		problems = append(problems, fmt.Sprintf("PAIRING_WINDOW_DAYS must be in 1..%d, got %d", models.MaxIntervalMatch, c.WindowDays))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	if c.DatabaseURLOverride != "" {
		return c.DatabaseURLOverride
	}
	sslMode := "require"
	if c.DBHost == "localhost" || c.DBHost == "127.0.0.1" {
		sslMode = "disable"
	}
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + strconv.Itoa(c.DBPort) + "/" + c.DBName + "?sslmode=" + sslMode
}

// HasDatabase reports whether a database has been configured explicitly.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURLOverride != "" || os.Getenv("DB_HOST") != ""
}

// envParser reads numeric pairing parameters, recording values that fail to parse.
type envParser struct {
	errs []string
}

func (p *envParser) intVar(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return v
}

func (p *envParser) int64Var(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return v
}

func (p *envParser) floatVar(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return v
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as int or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
