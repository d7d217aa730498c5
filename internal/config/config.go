package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deskflow/billing/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment   DeploymentConfig   `validate:"required"`
	Server       ServerConfig       `validate:"required"`
	Logging      LoggingConfig      `validate:"required"`
	Postgres     PostgresConfig     `validate:"required"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Quota        QuotaConfig        `mapstructure:"quota" validate:"required"`
	Invoice      InvoiceConfig      `mapstructure:"invoice" validate:"required"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Webhook      Webhook            `mapstructure:"webhook"`
	Cache        CacheConfig        `mapstructure:"cache"`
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" default:"10"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" default:"5"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" default:"60"`
}

type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	PoolSize   int    `mapstructure:"pool_size"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
}

// QuotaConfig controls the optimistic retry loop around quota and rollover writes
type QuotaConfig struct {
	MaxAttempts             int           `mapstructure:"max_attempts" validate:"min=1"`
	InitialInterval         time.Duration `mapstructure:"initial_interval"`
	MaxInterval             time.Duration `mapstructure:"max_interval"`
	WarningThresholdPercent float64       `mapstructure:"warning_threshold_percent" validate:"min=0,max=100"`
	DefaultCycleDays        int           `mapstructure:"default_cycle_days" validate:"min=1"`
}

type InvoiceConfig struct {
	NumberPrefix    string                `mapstructure:"number_prefix" validate:"required"`
	SequenceBackend types.SequenceBackend `mapstructure:"sequence_backend" validate:"required"`
	DueDays         int                   `mapstructure:"due_days" validate:"min=0"`
	Currency        string                `mapstructure:"currency"`
	OverdueSchedule string                `mapstructure:"overdue_schedule"`
	CycleSchedule   string                `mapstructure:"cycle_schedule"`
}

type SubscriptionConfig struct {
	ExpirySchedule string `mapstructure:"expiry_schedule"`
	SweepWorkers   int    `mapstructure:"sweep_workers"`
}

type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	AnalyticsTTL time.Duration `mapstructure:"analytics_ttl"`
}

func NewConfig() (*Configuration, error) {
	// .env is optional, real deployments inject the environment directly
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/deskflow")

	setDefaults(v)

	v.SetEnvPrefix("DESKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()
	v.SetDefault("deployment.mode", d.Deployment.Mode)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_minutes", 60)
	v.SetDefault("quota.max_attempts", d.Quota.MaxAttempts)
	v.SetDefault("quota.initial_interval", d.Quota.InitialInterval)
	v.SetDefault("quota.max_interval", d.Quota.MaxInterval)
	v.SetDefault("quota.warning_threshold_percent", d.Quota.WarningThresholdPercent)
	v.SetDefault("quota.default_cycle_days", d.Quota.DefaultCycleDays)
	v.SetDefault("invoice.number_prefix", d.Invoice.NumberPrefix)
	v.SetDefault("invoice.sequence_backend", d.Invoice.SequenceBackend)
	v.SetDefault("invoice.due_days", d.Invoice.DueDays)
	v.SetDefault("invoice.currency", d.Invoice.Currency)
	v.SetDefault("invoice.overdue_schedule", d.Invoice.OverdueSchedule)
	v.SetDefault("invoice.cycle_schedule", d.Invoice.CycleSchedule)
	v.SetDefault("subscription.expiry_schedule", d.Subscription.ExpirySchedule)
	v.SetDefault("subscription.sweep_workers", d.Subscription.SweepWorkers)
	v.SetDefault("webhook.enabled", d.Webhook.Enabled)
	v.SetDefault("webhook.topic", d.Webhook.Topic)
	v.SetDefault("webhook.pubsub", d.Webhook.PubSub)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.analytics_ttl", d.Cache.AnalyticsTTL)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts, tests or other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Quota: QuotaConfig{
			MaxAttempts:             5,
			InitialInterval:         50 * time.Millisecond,
			MaxInterval:             time.Second,
			WarningThresholdPercent: 80,
			DefaultCycleDays:        30,
		},
		Invoice: InvoiceConfig{
			NumberPrefix:    "INV",
			SequenceBackend: types.SequenceBackendPostgres,
			DueDays:         15,
			Currency:        "usd",
			OverdueSchedule: "@hourly",
			CycleSchedule:   "@every 1h",
		},
		Subscription: SubscriptionConfig{
			ExpirySchedule: "@every 15m",
			SweepWorkers:   4,
		},
		Webhook: Webhook{
			Enabled: true,
			Topic:   "notifications",
			PubSub:  types.MemoryPubSub,
		},
		Cache: CacheConfig{
			Enabled:      true,
			AnalyticsTTL: time.Minute,
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
