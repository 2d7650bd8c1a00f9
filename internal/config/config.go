// Package config loads the borderd configuration through Viper and builds
// the zap logger from it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the resolved borderd configuration.
type Config struct {
	Server struct {
		Addr    string `mapstructure:"addr"`
		DevMode bool   `mapstructure:"dev_mode"`
	} `mapstructure:"server"`
	Actions struct {
		TickInterval time.Duration `mapstructure:"tick_interval"`
		QueueMax     int           `mapstructure:"queue_max"`
	} `mapstructure:"actions"`
	Collections struct {
		MaxDevices     int `mapstructure:"max_devices"`
		MaxDiagnostics int `mapstructure:"max_diagnostics"`
	} `mapstructure:"collections"`
	MQTT struct {
		Enabled     bool   `mapstructure:"enabled"`
		BrokerURL   string `mapstructure:"broker_url"`
		ClientID    string `mapstructure:"client_id"`
		TopicPrefix string `mapstructure:"topic_prefix"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
	} `mapstructure:"mqtt"`
	Probe struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"probe"`
}

// Load reads the configuration file (optional) and environment overrides
// with prefix BORDERD, and returns both the Viper instance and the decoded
// Config.
func Load(path string) (*viper.Viper, *Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8081")
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("actions.tick_interval", 2*time.Second)
	v.SetDefault("actions.queue_max", 100)
	v.SetDefault("collections.max_devices", 200)
	v.SetDefault("collections.max_diagnostics", 200)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic_prefix", "borderd")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("probe.enabled", false)
	v.SetDefault("probe.interval", time.Minute)
	v.SetDefault("probe.timeout", 2*time.Second)

	v.SetEnvPrefix("BORDERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return v, &cfg, nil
}

// NewLogger creates a configured zap logger from Viper settings. Reads
// "logging.level" (debug, info, warn, error; default "info") and
// "logging.format" (json, console; default "json").
func NewLogger(v *viper.Viper) (*zap.Logger, error) {
	level := v.GetString("logging.level")
	format := v.GetString("logging.format")

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", format)
	}

	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
