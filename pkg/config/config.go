package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds gateway configuration.
type Config struct {
	Port     string
	LogLevel string

	// Policy
	PolicyFile      string
	RestrictedStart int // hour, inclusive
	RestrictedEnd   int // hour, exclusive

	// Ledger peer gateway
	LedgerURL      string
	LedgerChannel  string
	LedgerContract string

	// Content store (cluster API + node API for health)
	ContentAPIURL     string
	ContentNodeURL    string
	ContentGatewayURL string
	ContentMaxRetries int
	ContentTimeout    time.Duration

	// Uploads
	UploadDir   string
	MaxFileSize int64

	// Optional distributed rate limiting
	RedisAddr string

	// Telemetry
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:     getenv("PORT", "3000"),
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		PolicyFile:      getenv("POLICY_FILE", "policy.yaml"),
		RestrictedStart: getint("RESTRICTED_START", 22),
		RestrictedEnd:   getint("RESTRICTED_END", 6),

		LedgerURL:      getenv("LEDGER_URL", "http://localhost:7059"),
		LedgerChannel:  getenv("LEDGER_CHANNEL", "benihchannel"),
		LedgerContract: getenv("LEDGER_CONTRACT", "benih-certification"),

		ContentAPIURL:     getenv("CONTENT_API_URL", "http://localhost:9094"),
		ContentNodeURL:    getenv("CONTENT_NODE_URL", "http://localhost:5001/api/v0"),
		ContentGatewayURL: getenv("CONTENT_GATEWAY_URL", "http://localhost:8080/ipfs"),
		ContentMaxRetries: getint("CONTENT_MAX_RETRIES", 3),
		ContentTimeout:    getduration("CONTENT_TIMEOUT", 120*time.Second),

		UploadDir:   getenv("UPLOAD_DIR", "./uploads"),
		MaxFileSize: getint64("MAX_FILE_SIZE", 10*1024*1024),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getint64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
