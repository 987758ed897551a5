// Package config reads service settings from the environment, after loading
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	StoreDriver string
	DB          DBConfig

	DashboardPort    string
	OrderServicePort string

	RefreshInterval time.Duration
	Location        *time.Location

	KafkaBrokers string
	KafkaGroupID string

	WebhookURL string
	TaxRate    decimal.Decimal

	// IngestAtomic writes an order and its items in a single transaction.
	IngestAtomic bool

	LogLevel logrus.Level
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Load reads .env files when present and then the process environment.
// Values already set in the environment win over the files.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return fromEnv()
}

func fromEnv() (Config, error) {
	var errs []error

	cfg := Config{
		StoreDriver: getEnv("STORE_DRIVER", DriverPostgres),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "orderservice"),
			Password: getEnv("DB_PASSWORD", "orderservice"),
			Name:     getEnv("DB_NAME", "orders"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		DashboardPort:    getEnv("DASHBOARD_PORT", "8080"),
		OrderServicePort: getEnv("ORDER_SERVICE_PORT", "8081"),
		KafkaBrokers:     getEnv("KAFKA_BROKERS", ""),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "order-dashboard"),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}

	switch cfg.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", cfg.StoreDriver))
	}

	var err error
	if cfg.RefreshInterval, err = getDuration("REFRESH_INTERVAL", 30*time.Second); err != nil {
		errs = append(errs, err)
	} else if cfg.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL: must be positive"))
	}

	if cfg.TaxRate, err = getDecimal("TAX_RATE", decimal.Zero); err != nil {
		errs = append(errs, err)
	} else if cfg.TaxRate.IsNegative() {
		errs = append(errs, fmt.Errorf("TAX_RATE: must not be negative"))
	}

	if cfg.IngestAtomic, err = getBool("INGEST_ATOMIC", false); err != nil {
		errs = append(errs, err)
	}

	if cfg.Location, err = time.LoadLocation(getEnv("TIMEZONE", "Local")); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}

	if cfg.LogLevel, err = logrus.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// KafkaEnabled reports whether change events go through Kafka.
func (c Config) KafkaEnabled() bool {
	return c.KafkaBrokers != ""
}

// NewLogger returns the JSON logger both services use.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(c.LogLevel)
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	// bare numbers are seconds
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
