package config

import "github.com/spf13/viper"

// setDefaults seeds every tunable with the kernel defaults so a bare
// deployment comes up with a sane economy.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server_id", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "ecobridge.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.log_queries", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "ecobridge:trades:v1")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "ecobridge.trades.v1")
	v.SetDefault("kafka.group_prefix", "ecobridge-sync")

	v.SetDefault("economy.m1_supply", 10_000_000.0)
	v.SetDefault("economy.volatility_threshold", 50_000.0)
	v.SetDefault("economy.daily_decay_rate", 0.05)
	v.SetDefault("economy.decay_interval", "30m")
	v.SetDefault("economy.decay_cycles_per_day", 48.0)
	v.SetDefault("economy.stability_window", "15m")

	v.SetDefault("market.base_lambda", 0.1)
	v.SetDefault("market.tau", 7.0)
	v.SetDefault("market.volatility_factor", 1.0)
	v.SetDefault("market.seasonal_amplitude", 0.15)
	v.SetDefault("market.weekend_multiplier", 1.2)
	v.SetDefault("market.newbie_protection_rate", 0.2)
	v.SetDefault("market.seasonal_weight", 0.25)
	v.SetDefault("market.weekend_weight", 0.25)
	v.SetDefault("market.newbie_weight", 0.25)
	v.SetDefault("market.inflation_weight", 0.25)

	v.SetDefault("pricing.snapshot_interval", "2s")
	v.SetDefault("pricing.history_limit", 3000)
	v.SetDefault("pricing.history_reload", "30m")
	v.SetDefault("pricing.trade_throttle", "150ms")
	v.SetDefault("pricing.target_velocity", 10.0)

	v.SetDefault("transfer.base_tax_rate", 0.05)
	v.SetDefault("transfer.luxury_threshold", 100_000.0)
	v.SetDefault("transfer.luxury_rate", 0.10)
	v.SetDefault("transfer.wealth_gap_rate", 0.20)
	v.SetDefault("transfer.poor_line", 10_000.0)
	v.SetDefault("transfer.rich_line", 1_000_000.0)
	v.SetDefault("transfer.newbie_receive_limit", 50_000.0)
	v.SetDefault("transfer.warn_ratio", 0.9)
	v.SetDefault("transfer.warn_min", 50_000.0)
	v.SetDefault("transfer.newbie_hours", 10.0)
	v.SetDefault("transfer.veteran_hours", 100.0)
	v.SetDefault("transfer.velocity_threshold", 20)
	v.SetDefault("transfer.velocity_window", "1h")

	v.SetDefault("quota.hard_daily_cap", 2000.0)
	v.SetDefault("quota.optimal_daily_cap", 500.0)

	v.SetDefault("holiday.dates", []string{})
	v.SetDefault("holiday.weekdays", []string{})

	v.SetDefault("audit.queue_size", 50_000)
	v.SetDefault("audit.batch_size", 1000)

	v.SetDefault("cache.profile_ttl", "10m")
	v.SetDefault("cache.janitor_interval", "1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
