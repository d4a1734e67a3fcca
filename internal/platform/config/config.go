// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Log      LogConfig
	Auth     AuthConfig
	Backend  BackendConfig
	Provider ProviderConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Session  SessionConfig
	Uploads  UploadConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// AuthConfig verifies the applicant tokens the upstream gateway issues.
type AuthConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

// BackendConfig points at the verification backend that records submissions.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ProviderConfig locates the third-party verification widget.
type ProviderConfig struct {
	ProgramURL          string
	ScriptURL           string
	StylesheetURL       string
	APIBaseURL          string
	APIKey              string
	WebhookToken        string
	AvailabilityTimeout time.Duration
}

// RedisConfig holds the status cache connection. An empty URL disables the
// cache.
type RedisConfig struct {
	URL          string
	StatusTTL    time.Duration
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the audit sink. No brokers means audit stays in memory.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	ClientID   string
}

type SessionConfig struct {
	MaxRetries    int
	IdleTimeout   time.Duration
	ReapInterval  time.Duration
	SettleTimeout time.Duration
}

type UploadConfig struct {
	MaxFileBytes int64
	AllowedMIME  []string
}

// FromEnv builds the configuration from environment variables so main stays
// lean. A missing .env file is not an error.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: Server{
			Addr:            v.GetString("STUDENTCHECK_ADDR"),
			RequestTimeout:  parseDuration(v.GetString("REQUEST_TIMEOUT"), 60*time.Second),
			ShutdownTimeout: parseDuration(v.GetString("SHUTDOWN_TIMEOUT"), 15*time.Second),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Auth: AuthConfig{
			SigningKey: v.GetString("AUTH_SIGNING_KEY"),
			Issuer:     v.GetString("AUTH_ISSUER"),
			Audience:   v.GetString("AUTH_AUDIENCE"),
		},
		Backend: BackendConfig{
			BaseURL: v.GetString("BACKEND_BASE_URL"),
			Timeout: parseDuration(v.GetString("BACKEND_TIMEOUT"), 10*time.Second),
		},
		Provider: ProviderConfig{
			ProgramURL:          v.GetString("PROVIDER_PROGRAM_URL"),
			ScriptURL:           v.GetString("PROVIDER_SCRIPT_URL"),
			StylesheetURL:       v.GetString("PROVIDER_STYLESHEET_URL"),
			APIBaseURL:          v.GetString("PROVIDER_API_BASE_URL"),
			APIKey:              v.GetString("PROVIDER_API_KEY"),
			WebhookToken:        v.GetString("PROVIDER_WEBHOOK_TOKEN"),
			AvailabilityTimeout: parseDuration(v.GetString("PROVIDER_AVAILABILITY_TIMEOUT"), 2*time.Second),
		},
		Redis: RedisConfig{
			URL:          v.GetString("REDIS_URL"),
			StatusTTL:    parseDuration(v.GetString("REDIS_STATUS_TTL"), 30*time.Second),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
			DialTimeout:  parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 5*time.Second),
			ReadTimeout:  parseDuration(v.GetString("REDIS_READ_TIMEOUT"), 3*time.Second),
			WriteTimeout: parseDuration(v.GetString("REDIS_WRITE_TIMEOUT"), 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitAndTrim(v.GetString("KAFKA_BROKERS")),
			AuditTopic: v.GetString("KAFKA_AUDIT_TOPIC"),
			ClientID:   v.GetString("KAFKA_CLIENT_ID"),
		},
		Session: SessionConfig{
			MaxRetries:    v.GetInt("MAX_RETRIES"),
			IdleTimeout:   parseDuration(v.GetString("SESSION_IDLE_TIMEOUT"), 30*time.Minute),
			ReapInterval:  parseDuration(v.GetString("SESSION_REAP_INTERVAL"), time.Minute),
			SettleTimeout: parseDuration(v.GetString("SUBMIT_SETTLE_TIMEOUT"), 20*time.Second),
		},
		Uploads: UploadConfig{
			MaxFileBytes: v.GetInt64("UPLOAD_MAX_FILE_BYTES"),
			AllowedMIME:  splitAndTrim(v.GetString("UPLOAD_ALLOWED_MIME_TYPES")),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Auth.SigningKey == "" {
		missing = append(missing, "AUTH_SIGNING_KEY")
	}
	if c.Backend.BaseURL == "" {
		missing = append(missing, "BACKEND_BASE_URL")
	}
	if c.Provider.APIBaseURL == "" {
		missing = append(missing, "PROVIDER_API_BASE_URL")
	}
	if c.Provider.ProgramURL == "" {
		missing = append(missing, "PROVIDER_PROGRAM_URL")
	}
	if c.Provider.ScriptURL == "" {
		missing = append(missing, "PROVIDER_SCRIPT_URL")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	if c.Session.MaxRetries < 1 {
		return errors.New("MAX_RETRIES must be at least 1")
	}
	if c.Uploads.MaxFileBytes <= 0 {
		return errors.New("UPLOAD_MAX_FILE_BYTES must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("STUDENTCHECK_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AUTH_ISSUER", "studentcheck-gateway")
	v.SetDefault("AUTH_AUDIENCE", "studentcheck")

	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)

	v.SetDefault("KAFKA_AUDIT_TOPIC", "studentcheck.audit")
	v.SetDefault("KAFKA_CLIENT_ID", "studentcheck")

	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("UPLOAD_MAX_FILE_BYTES", 5*1024*1024)
	v.SetDefault("UPLOAD_ALLOWED_MIME_TYPES", "image/jpeg,image/png,application/pdf")
}

// viper reports a missing explicit config file as a filesystem error rather
// than ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
