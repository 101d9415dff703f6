package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/giovaniif/stock-reservation/domain/reservation"
)

const (
	ServiceName = "stock"

	defaultPort          = "3133"
	defaultDriver        = "memory"
	defaultSweepInterval = 5 * time.Minute
	defaultLockTTL       = 5 * time.Second
	defaultKafkaTopic    = "stock.reservations"
	defaultCheckoutLimit = 30 * time.Second
)

type Config struct {
	Port          string
	DBDriver      string
	DatabaseURL   string
	HoldDuration  time.Duration
	SweepInterval time.Duration
	RedisAddr     string
	LockTTL       time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
	LokiURL       string
	OtelEndpoint  string
	SeedStock     map[string]int

	PaymentURL      string
	CheckoutTimeout time.Duration
}

// Load reads the service configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:         getenv("PORT", defaultPort),
		DBDriver:     strings.ToLower(getenv("DB_DRIVER", defaultDriver)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: parseCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getenv("KAFKA_TOPIC", defaultKafkaTopic),
		LokiURL:      os.Getenv("LOKI_URL"),
		OtelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PaymentURL:   os.Getenv("PAYMENT_URL"),
	}

	var err error
	if cfg.HoldDuration, err = duration("HOLD_DURATION", reservation.DefaultHoldDuration); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = duration("SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.LockTTL, err = duration("LOCK_TTL", defaultLockTTL); err != nil {
		return Config{}, err
	}
	if cfg.CheckoutTimeout, err = duration("CHECKOUT_TIMEOUT", defaultCheckoutLimit); err != nil {
		return Config{}, err
	}
	if cfg.SeedStock, err = parseSeed(os.Getenv("SEED_STOCK")); err != nil {
		return Config{}, err
	}

	switch cfg.DBDriver {
	case "memory":
	case "postgres", "sqlite":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for DB_DRIVER=%s", cfg.DBDriver)
		}
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

func parseCSV(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// parseSeed reads "product=qty,product=qty".
func parseSeed(input string) (map[string]int, error) {
	seed := make(map[string]int)
	for _, pair := range parseCSV(input) {
		id, qty, ok := strings.Cut(pair, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("SEED_STOCK: malformed entry %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("SEED_STOCK: invalid quantity in %q", pair)
		}
		seed[id] = n
	}
	return seed, nil
}
