package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMySQL  = "mysql"
	StoreSQLite = "sqlite"
)

type Config struct {
	HTTPAddr string `validate:"required"`
	GRPCAddr string `validate:"required"`

	Store       string `validate:"oneof=memory redis mysql sqlite"`
	RedisAddr   string `validate:"required_if=Store redis"`
	MySQLDSN    string `validate:"required_if=Store mysql"`
	SQLitePath  string `validate:"required_if=Store sqlite"`
	SharedStore bool
	LockTTL     time.Duration `validate:"gt=0"`

	KafkaBrokers []string
	KafkaTopic   string `validate:"required_with=KafkaBrokers"`

	EventQueueSize int `validate:"gte=0"`
	EventWorkers   int `validate:"gte=1"`

	DetectionThreshold float64 `validate:"gt=0,lt=1"`
	DetectionIgnore    []string

	Catalog           []string `validate:"dive,required"`
	SeedQuantity      int      `validate:"gt=0"`
	LowStockThreshold int      `validate:"gte=0"`

	LogLevel string `validate:"oneof=trace debug info warn error"`
}

// Load reads .env when present, then the environment. Unset keys take their
// defaults; malformed values are errors.
func Load() (Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		GRPCAddr: getenv("GRPC_ADDR", ":50051"),

		Store:       strings.ToLower(getenv("LEDGER_STORE", StoreMemory)),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		MySQLDSN:    getenv("MYSQL_DSN", ""),
		SQLitePath:  getenv("SQLITE_PATH", "data/ledger.db"),
		SharedStore: p.bool("LEDGER_SHARED_STORE", false),
		LockTTL:     p.duration("LEDGER_LOCK_TTL", 30*time.Second),

		KafkaBrokers: list(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "ledger-events"),

		EventQueueSize: p.int("EVENT_QUEUE_SIZE", 1000),
		EventWorkers:   p.int("EVENT_WORKERS", 2),

		DetectionThreshold: p.float("DETECTION_THRESHOLD", 0.85),
		DetectionIgnore:    list(getenv("DETECTION_IGNORE", "")),

		Catalog:           list(getenv("LEDGER_CATALOG", "")),
		SeedQuantity:      p.int("LEDGER_SEED_QUANTITY", 20),
		LowStockThreshold: p.int("LOW_STOCK_THRESHOLD", 10),

		LogLevel: strings.ToLower(getenv("LOG_LEVEL", "info")),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// list splits a comma separated value, dropping blanks. An empty value gives nil.
func list(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	p.err = errors.Join(p.err, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}
