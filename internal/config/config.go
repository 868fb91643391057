// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Bot      BotConfig      `mapstructure:"bot"`
	Staff    StaffConfig    `mapstructure:"staff"`
	Loyalty  LoyaltyConfig  `mapstructure:"loyalty"`
	Redeem   RedeemConfig   `mapstructure:"redeem"`
	Game     GameConfig     `mapstructure:"game"`
	KV       KVConfig       `mapstructure:"kv"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// BotConfig holds the chat-bot notification sink configuration.
// An empty token disables outgoing notifications.
type BotConfig struct {
	Token          string `mapstructure:"token"`
	BackofficeChat int64  `mapstructure:"backoffice_chat"`
}

// StaffConfig lists user IDs allowed to verify redemption codes.
type StaffConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// LoyaltyConfig holds spin and referral configuration.
type LoyaltyConfig struct {
	Timezone      string  `mapstructure:"timezone"`
	Rewards       []int64 `mapstructure:"rewards"`
	Weights       []int   `mapstructure:"weights"`
	InStoreBonus  int64   `mapstructure:"in_store_bonus"`
	ReferralBonus int64   `mapstructure:"referral_bonus"`
}

// RedeemConfig holds redemption code configuration.
type RedeemConfig struct {
	CodeTTL   time.Duration `mapstructure:"code_ttl"`
	MinPoints int64         `mapstructure:"min_points"`
}

// GameConfig holds game session configuration.
type GameConfig struct {
	DailyWinCap int           `mapstructure:"daily_win_cap"`
	BaseAward   int64         `mapstructure:"base_award"`
	AwardStep   int64         `mapstructure:"award_step"`
	MinAward    int64         `mapstructure:"min_award"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// KVConfig selects the coordination store implementation.
// Driver is "memory" or "postgres".
type KVConfig struct {
	Driver        string        `mapstructure:"driver"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., SERVER_ADDR, DATABASE_HOST, LOYALTY_TIMEZONE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Loyalty.Weights) != 0 && len(cfg.Loyalty.Weights) != len(cfg.Loyalty.Rewards) {
		return nil, fmt.Errorf("loyalty.weights must be empty or match loyalty.rewards in length")
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "loyalty")
	v.SetDefault("database.name", "loyalty")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Loyalty defaults
	v.SetDefault("loyalty.timezone", "Europe/Moscow")
	v.SetDefault("loyalty.rewards", []int64{5, 10, 15, 25, 50})
	v.SetDefault("loyalty.weights", []int{40, 30, 15, 10, 5})
	v.SetDefault("loyalty.in_store_bonus", 5)
	v.SetDefault("loyalty.referral_bonus", 50)

	// Redemption defaults
	v.SetDefault("redeem.code_ttl", "5m")
	v.SetDefault("redeem.min_points", 50)

	// Game defaults
	v.SetDefault("game.daily_win_cap", 5)
	v.SetDefault("game.base_award", 30)
	v.SetDefault("game.award_step", 5)
	v.SetDefault("game.min_award", 10)
	v.SetDefault("game.idle_timeout", "30m")

	// Coordination store defaults
	v.SetDefault("kv.driver", "memory")
	v.SetDefault("kv.sweep_interval", "1m")
}

// IsStaff checks if a user ID is in the staff list.
func (c *Config) IsStaff(userID int64) bool {
	for _, id := range c.Staff.IDs {
		if id == userID {
			return true
		}
	}
	return false
}
