package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"wtbooking/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Payment    PaymentConfig    `yaml:"payment"`
	Events     EventsConfig     `yaml:"events"`
	Seed       SeedConfig       `yaml:"seed"`
	Google     GoogleConfig     `yaml:"google"`
	Telegram   TelegramConfig   `yaml:"telegram"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BookingConfig struct {
	ExpiryWindow         time.Duration `yaml:"expiry_window"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	DefaultMarkupPercent string        `yaml:"default_markup_percent"`
}

// DefaultMarkup parses the markup percent as an exact decimal.
func (c BookingConfig) DefaultMarkup() (decimal.Decimal, error) {
	markup, err := decimal.NewFromString(strings.TrimSpace(c.DefaultMarkupPercent))
	if err != nil {
		return decimal.Zero, fmt.Errorf("booking.default_markup_percent: %w", err)
	}
	if markup.IsNegative() {
		return decimal.Zero, errors.New("booking.default_markup_percent must not be negative")
	}
	return markup, nil
}

const (
	PaymentModeSimulated = "simulated"
	PaymentModeHTTP      = "http"
)

type PaymentConfig struct {
	Mode              string        `yaml:"mode"`
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	ApproveLimitMinor int64         `yaml:"approve_limit_minor"`
	Retry             RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type SeedConfig struct {
	UnitsPath string `yaml:"units_path"`
}

// GoogleConfig включает зеркалирование броней в Google Sheets.
type GoogleConfig struct {
	CredentialsFile       string      `yaml:"credentials_file"`
	BookingsSpreadsheetID string      `yaml:"bookings_spreadsheet_id"`
	QueueSize             int         `yaml:"queue_size"`
	Retry                 RetryConfig `yaml:"retry"`
}

func (c GoogleConfig) Enabled() bool {
	return c.CredentialsFile != "" && c.BookingsSpreadsheetID != ""
}

// TelegramConfig описывает уведомления менеджерам.
type TelegramConfig struct {
	BotToken       string  `yaml:"bot_token"`
	APIEndpoint    string  `yaml:"api_endpoint"`
	ManagerChatIDs []int64 `yaml:"manager_chat_ids"`
	DigestTime     string  `yaml:"digest_time"`
	QueueSize      int     `yaml:"queue_size"`
}

func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && len(c.ManagerChatIDs) > 0
}

func Load(configPath string) (*Config, error) {
	// .env необязателен: в контейнере переменные приходят из окружения
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Booking.ExpiryWindow <= 0 {
		return errors.New("booking.expiry_window must be positive")
	}
	if c.Booking.SweepInterval <= 0 {
		return errors.New("booking.sweep_interval must be positive")
	}
	if _, err := c.Booking.DefaultMarkup(); err != nil {
		return err
	}

	switch c.Payment.Mode {
	case PaymentModeSimulated:
	case PaymentModeHTTP:
		if c.Payment.URL == "" {
			return errors.New("payment.url is required when payment.mode=http")
		}
	default:
		return fmt.Errorf("unknown payment.mode %q", c.Payment.Mode)
	}

	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		return errors.New("events.kafka.topic is required when brokers are set")
	}

	if c.Telegram.BotToken != "" {
		if _, _, err := ParseClock(c.Telegram.DigestTime); err != nil {
			return fmt.Errorf("telegram.digest_time: %w", err)
		}
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

// ParseClock разбирает время суток в формате HH:MM.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "wtbooking"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Booking.ExpiryWindow == 0 {
		c.Booking.ExpiryWindow = models.DefaultExpiryWindow
	}
	if c.Booking.SweepInterval == 0 {
		c.Booking.SweepInterval = models.DefaultSweepInterval
	}
	if c.Booking.DefaultMarkupPercent == "" {
		c.Booking.DefaultMarkupPercent = fmt.Sprint(models.DefaultMarkupPercent)
	}

	if c.Payment.Mode == "" {
		c.Payment.Mode = PaymentModeSimulated
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = models.DefaultPaymentTimeout
	}

	if c.Google.QueueSize <= 0 {
		c.Google.QueueSize = 256
	}
	if c.Google.Retry.MaxRetries <= 0 {
		c.Google.Retry = RetryConfig{MaxRetries: 5, InitialDelay: 2 * time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
	}
	if c.Telegram.QueueSize <= 0 {
		c.Telegram.QueueSize = 64
	}
	if c.Telegram.DigestTime == "" {
		c.Telegram.DigestTime = "09:00"
	}
}
