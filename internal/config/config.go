// Package config loads engine configuration from YAML files and
// EMONEY_-prefixed environment variables. Regulatory parameters are inputs
// handed to the monitors at construction; they are never baked into logic.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	Environment string         `mapstructure:"environment" validate:"required,oneof=development staging production"`
	LogLevel    string         `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Database    DatabaseConfig `mapstructure:"database"`
	Regulatory  Regulatory     `mapstructure:"regulatory"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// DatabaseConfig configures the persistence layer.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// Regulatory carries the regulator-set parameters. These are immutable per
// run: a monitor receives them at construction and never re-reads them.
type Regulatory struct {
	InitialCapitalRequired decimal.Decimal
	DormancyWarningDays    int
	DormancyThresholdDays  int
	DormancyHoldDays       int
	TargetUptimePercentage float64
	RailTimeout            time.Duration
}

// rawRegulatory is the viper-facing shape; monetary values arrive as
// strings so they survive the trip into decimal without float rounding.
type rawRegulatory struct {
	InitialCapitalRequired string  `mapstructure:"initial_capital_required" validate:"required"`
	DormancyWarningDays    int     `mapstructure:"dormancy_warning_days" validate:"required,gt=0"`
	DormancyThresholdDays  int     `mapstructure:"dormancy_threshold_days" validate:"required,gt=0"`
	DormancyHoldDays       int     `mapstructure:"dormancy_hold_days" validate:"required,gt=0"`
	TargetUptimePercentage float64 `mapstructure:"target_uptime_percentage" validate:"required,gt=0,lte=100"`
	RailTimeoutSeconds     int     `mapstructure:"rail_timeout_seconds" validate:"required,gt=0"`
}

type rawConfig struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Database    DatabaseConfig `mapstructure:"database"`
	Regulatory  rawRegulatory  `mapstructure:"regulatory"`
}

// Load reads configuration from the given path (optional) plus environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("EMONEY")

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&raw); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if raw.Regulatory.DormancyWarningDays >= raw.Regulatory.DormancyThresholdDays {
		return nil, fmt.Errorf("dormancy_warning_days (%d) must be below dormancy_threshold_days (%d)",
			raw.Regulatory.DormancyWarningDays, raw.Regulatory.DormancyThresholdDays)
	}

	initialRequired, err := decimal.NewFromString(raw.Regulatory.InitialCapitalRequired)
	if err != nil {
		return nil, fmt.Errorf("invalid initial_capital_required %q: %w", raw.Regulatory.InitialCapitalRequired, err)
	}
	if initialRequired.IsNegative() {
		return nil, fmt.Errorf("initial_capital_required must not be negative")
	}

	cfg := &Config{
		Environment: raw.Environment,
		LogLevel:    raw.LogLevel,
		HTTP:        raw.HTTP,
		Database:    raw.Database,
		Regulatory: Regulatory{
			InitialCapitalRequired: initialRequired,
			DormancyWarningDays:    raw.Regulatory.DormancyWarningDays,
			DormancyThresholdDays:  raw.Regulatory.DormancyThresholdDays,
			DormancyHoldDays:       raw.Regulatory.DormancyHoldDays,
			TargetUptimePercentage: raw.Regulatory.TargetUptimePercentage,
			RailTimeout:            time.Duration(raw.Regulatory.RailTimeoutSeconds) * time.Second,
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "emoney.db")
	v.SetDefault("regulatory.initial_capital_required", "1500000")
	v.SetDefault("regulatory.dormancy_warning_days", 90)
	v.SetDefault("regulatory.dormancy_threshold_days", 180)
	v.SetDefault("regulatory.dormancy_hold_days", 1825)
	v.SetDefault("regulatory.target_uptime_percentage", 99.9)
	v.SetDefault("regulatory.rail_timeout_seconds", 30)
}
