package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Environment    string `env:"ENV" env-default:"development"`
	Port           string `env:"PORT" env-default:"8080"`
	MongoURI       string `env:"MONGODB_URI" env-default:"mongodb://localhost:27017/bisoncoders"`
	PostgresURI    string `env:"POSTGRES_URI" env-default:"postgres://localhost:5432/bisoncoders?sslmode=disable"`
	RedisURI       string `env:"REDIS_URI" env-default:"redis://localhost:6379/0"`
	JWTSecret      string `env:"JWT_SECRET"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" env-default:"http://localhost:3000"`
	TrustProxy     bool   `env:"TRUST_PROXY" env-default:"false"`

	// PubSubDriver selects the realtime transport: redis, nats or memory.
	PubSubDriver string `env:"PUBSUB_DRIVER" env-default:"redis"`
	NATSURL      string `env:"NATS_URL" env-default:"nats://localhost:4222"`

	// KafkaBrokers is a comma separated list; empty disables the stream sink.
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" env-default:"chat.messages"`

	HistoryPageSize int `env:"CHAT_HISTORY_LIMIT" env-default:"50"`

	SendRatePerSecond    float64 `env:"CHAT_SEND_RPS" env-default:"2"`
	SendRateBurst        int     `env:"CHAT_SEND_BURST" env-default:"10"`
	HistoryRatePerSecond float64 `env:"CHAT_HISTORY_RPS" env-default:"0.5"`
	HistoryRateBurst     int     `env:"CHAT_HISTORY_BURST" env-default:"20"`
}

// Load reads the process environment. A .env file, when present, has
// already been applied by main.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.PubSubDriver = strings.ToLower(strings.TrimSpace(cfg.PubSubDriver))

	switch cfg.PubSubDriver {
	case "":
		cfg.PubSubDriver = "redis"
	case "redis", "nats", "memory":
	default:
		return nil, fmt.Errorf("unknown PUBSUB_DRIVER %q", cfg.PubSubDriver)
	}
	if cfg.HistoryPageSize <= 0 || cfg.HistoryPageSize > 100 {
		cfg.HistoryPageSize = 50
	}
	return &cfg, nil
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Origins is the CORS allow list.
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func (c *Config) Kafka() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DatabaseName extracts the database from a mongodb:// URI, falling back to
// "bisoncoders".
func DatabaseName(mongoURI string) string {
	rest := mongoURI
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "bisoncoders"
	}
	name := strings.SplitN(rest[slash+1:], "?", 2)[0]
	if name == "" {
		return "bisoncoders"
	}
	return name
}
