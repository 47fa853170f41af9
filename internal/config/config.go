package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	DatabaseURL string

	MigrationsDir string

	ExpireScanInterval time.Duration
	MinutesPerPatient  int

	RateLimitPerMinute int
	RateLimitBurst     int

	NATSURL string

	SMSProvider      string
	EmailProvider    string
	TelegramProvider string
	TelegramToken    string
	WebhookURL       string
	WebhookToken     string

	// STAFF_TOKENS is "token:staffID:role" triples separated by commas.
	StaffTokens map[string]StaffToken

	OTLPEndpoint string
}

type StaffToken struct {
	StaffID string
	Role    string
}

func Load() Config {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	return Config{
		Port:               port,
		Env:                env,
		DatabaseURL:        os.Getenv("DB_DSN"),
		MigrationsDir:      readString("MIGRATIONS_DIR", "migrations"),
		ExpireScanInterval: readDurationSeconds("EXPIRE_SCAN_INTERVAL_SECONDS", 300),
		MinutesPerPatient:  readInt("MINUTES_PER_PATIENT", 15),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		NATSURL:            os.Getenv("NATS_URL"),
		SMSProvider:        os.Getenv("NOTIF_SMS_PROVIDER"),
		EmailProvider:      os.Getenv("NOTIF_EMAIL_PROVIDER"),
		TelegramProvider:   os.Getenv("NOTIF_TELEGRAM_PROVIDER"),
		TelegramToken:      os.Getenv("TELEGRAM_TOKEN"),
		WebhookURL:         os.Getenv("NOTIF_WEBHOOK_URL"),
		WebhookToken:       os.Getenv("NOTIF_WEBHOOK_TOKEN"),
		StaffTokens:        parseStaffTokens(os.Getenv("STAFF_TOKENS")),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func parseStaffTokens(raw string) map[string]StaffToken {
	tokens := make(map[string]StaffToken)
	for _, triple := range strings.Split(raw, ",") {
		triple = strings.TrimSpace(triple)
		if triple == "" {
			continue
		}
		parts := strings.SplitN(triple, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		token := StaffToken{StaffID: parts[1]}
		if len(parts) == 3 {
			token.Role = parts[2]
		}
		tokens[parts[0]] = token
	}
	return tokens
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
