// Package config loads and validates the EcoBridge runtime configuration
// from YAML files and environment variables, with hot-reload of tunables.
package config

import (
	"time"
)

// Config is the complete EcoBridge configuration tree.
type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment" validate:"required,oneof=development staging production"`
	ServerID    string `mapstructure:"server_id" yaml:"server_id"`

	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka" yaml:"kafka"`
	Economy  EconomyConfig  `mapstructure:"economy" yaml:"economy"`
	Market   MarketConfig   `mapstructure:"market" yaml:"market"`
	Pricing  PricingConfig  `mapstructure:"pricing" yaml:"pricing"`
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`
	Quota    QuotaConfig    `mapstructure:"quota" yaml:"quota"`
	Holiday  HolidayConfig  `mapstructure:"holiday" yaml:"holiday"`
	Audit    AuditConfig    `mapstructure:"audit" yaml:"audit"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds the HTTP API server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the persistence settings. The sqlite driver is the
// zero-configuration default; production deployments point DSN at postgres.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	LogQueries      bool          `mapstructure:"log_queries" yaml:"log_queries"`
}

// RedisConfig holds the cross-server trade sync settings for the redis
// pub/sub backend.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"min=0"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// KafkaConfig holds the alternative kafka sync backend settings.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers     []string `mapstructure:"brokers" yaml:"brokers"`
	Topic       string   `mapstructure:"topic" yaml:"topic"`
	GroupPrefix string   `mapstructure:"group_prefix" yaml:"group_prefix"`
}

// EconomyConfig tunes the macro economy: money supply, heat decay and the
// stability recovery window.
type EconomyConfig struct {
	M1Supply            float64       `mapstructure:"m1_supply" yaml:"m1_supply" validate:"gt=0"`
	VolatilityThreshold float64       `mapstructure:"volatility_threshold" yaml:"volatility_threshold" validate:"gt=0"`
	DailyDecayRate      float64       `mapstructure:"daily_decay_rate" yaml:"daily_decay_rate" validate:"min=0,max=1"`
	DecayInterval       time.Duration `mapstructure:"decay_interval" yaml:"decay_interval"`
	DecayCyclesPerDay   float64       `mapstructure:"decay_cycles_per_day" yaml:"decay_cycles_per_day" validate:"gt=0"`
	StabilityWindow     time.Duration `mapstructure:"stability_window" yaml:"stability_window"`
}

// MarketConfig tunes the behavioral pricing environment. The values map
// straight onto the engine's market parameters.
type MarketConfig struct {
	BaseLambda           float64 `mapstructure:"base_lambda" yaml:"base_lambda" validate:"gt=0"`
	Tau                  float64 `mapstructure:"tau" yaml:"tau" validate:"gt=0"`
	VolatilityFactor     float64 `mapstructure:"volatility_factor" yaml:"volatility_factor"`
	SeasonalAmplitude    float64 `mapstructure:"seasonal_amplitude" yaml:"seasonal_amplitude"`
	WeekendMultiplier    float64 `mapstructure:"weekend_multiplier" yaml:"weekend_multiplier"`
	NewbieProtectionRate float64 `mapstructure:"newbie_protection_rate" yaml:"newbie_protection_rate"`
	SeasonalWeight       float64 `mapstructure:"seasonal_weight" yaml:"seasonal_weight"`
	WeekendWeight        float64 `mapstructure:"weekend_weight" yaml:"weekend_weight"`
	NewbieWeight         float64 `mapstructure:"newbie_weight" yaml:"newbie_weight"`
	InflationWeight      float64 `mapstructure:"inflation_weight" yaml:"inflation_weight"`
}

// PricingConfig tunes the snapshot loop and the product catalog.
type PricingConfig struct {
	SnapshotInterval time.Duration      `mapstructure:"snapshot_interval" yaml:"snapshot_interval"`
	HistoryLimit     int                `mapstructure:"history_limit" yaml:"history_limit" validate:"min=1"`
	HistoryReload    time.Duration      `mapstructure:"history_reload" yaml:"history_reload"`
	TradeThrottle    time.Duration      `mapstructure:"trade_throttle" yaml:"trade_throttle"`
	TargetVelocity   float64            `mapstructure:"target_velocity" yaml:"target_velocity"`
	Products         map[string]float64 `mapstructure:"products" yaml:"products"`
}

// TransferConfig tunes the transfer regulator: taxation, risk lines and
// velocity limits.
type TransferConfig struct {
	BaseTaxRate        float64       `mapstructure:"base_tax_rate" yaml:"base_tax_rate" validate:"min=0,max=1"`
	LuxuryThreshold    float64       `mapstructure:"luxury_threshold" yaml:"luxury_threshold" validate:"min=0"`
	LuxuryRate         float64       `mapstructure:"luxury_rate" yaml:"luxury_rate" validate:"min=0,max=1"`
	WealthGapRate      float64       `mapstructure:"wealth_gap_rate" yaml:"wealth_gap_rate" validate:"min=0,max=1"`
	PoorLine           float64       `mapstructure:"poor_line" yaml:"poor_line" validate:"min=0"`
	RichLine           float64       `mapstructure:"rich_line" yaml:"rich_line" validate:"min=0"`
	NewbieReceiveLimit float64       `mapstructure:"newbie_receive_limit" yaml:"newbie_receive_limit" validate:"min=0"`
	WarnRatio          float64       `mapstructure:"warn_ratio" yaml:"warn_ratio" validate:"min=0,max=1"`
	WarnMin            float64       `mapstructure:"warn_min" yaml:"warn_min" validate:"min=0"`
	NewbieHours        float64       `mapstructure:"newbie_hours" yaml:"newbie_hours" validate:"min=0"`
	VeteranHours       float64       `mapstructure:"veteran_hours" yaml:"veteran_hours" validate:"min=0"`
	VelocityThreshold  int           `mapstructure:"velocity_threshold" yaml:"velocity_threshold" validate:"min=1"`
	VelocityWindow     time.Duration `mapstructure:"velocity_window" yaml:"velocity_window"`
}

// QuotaConfig caps per-actor daily sales volume.
type QuotaConfig struct {
	HardDailyCap    float64 `mapstructure:"hard_daily_cap" yaml:"hard_daily_cap" validate:"gt=0"`
	OptimalDailyCap float64 `mapstructure:"optimal_daily_cap" yaml:"optimal_daily_cap" validate:"gt=0"`
}

// HolidayConfig lists holiday dates ("2006-01-02" or annual "01-02") and
// recurring weekday names treated as holidays.
type HolidayConfig struct {
	Dates    []string `mapstructure:"dates" yaml:"dates"`
	Weekdays []string `mapstructure:"weekdays" yaml:"weekdays"`
}

// AuditConfig tunes the async economy log writer.
type AuditConfig struct {
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"min=1"`
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"min=1"`
}

// CacheConfig tunes the hot profile cache.
type CacheConfig struct {
	ProfileTTL      time.Duration `mapstructure:"profile_ttl" yaml:"profile_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval" yaml:"janitor_interval"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}
