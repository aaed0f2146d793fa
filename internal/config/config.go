// Package config loads server settings from flags, environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"go-chat-history/internal/chat"
)

const (
	configName = "chat-history"
	configType = "yaml"
	envPrefix  = "CHATHISTORY"
)

var ErrMissingSetting = errors.New("missing setting")

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Encoder string `mapstructure:"encoder"`
}

type Config struct {
	Addr         string             `mapstructure:"addr"`
	DBDSN        string             `mapstructure:"db-dsn"`
	JWTSecret    string             `mapstructure:"jwt-secret"`
	RedisAddr    string             `mapstructure:"redis-addr"`
	RedisChannel string             `mapstructure:"redis-channel"`
	MetricsPath  string             `mapstructure:"metrics-path"`
	History      chat.HistoryConfig `mapstructure:"history"`
	Log          LogConfig          `mapstructure:"log"`
}

func applyDefaults(v *viper.Viper) {
	hist := chat.DefaultHistoryConfig()

	v.SetDefault("addr", ":8080")
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("redis-channel", "chat_events")
	v.SetDefault("metrics-path", "/metrics")
	v.SetDefault("history.cached-chats", hist.CachedChats)
	v.SetDefault("history.max-messages-per-chat", hist.MaxMessagesPerChat)
	v.SetDefault("history.page-size", hist.PageSize)
	v.SetDefault("history.seed", hist.Seed)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoder", "json")
}

// Load merges, in increasing priority, defaults, the config file, the
// environment and any flags set on the command line. The deployment
// variables DB_DSN, JWT_SECRET and REDIS_ADDR are honoured unprefixed.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"db-dsn":     "DB_DSN",
		"jwt-secret": "JWT_SECRET",
		"redis-addr": "REDIS_ADDR",
	} {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ReplaceAll(strings.ToUpper(key), "-", "_"), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.DBDSN == "":
		return fmt.Errorf("%w: db-dsn (DB_DSN)", ErrMissingSetting)
	case c.JWTSecret == "":
		return fmt.Errorf("%w: jwt-secret (JWT_SECRET)", ErrMissingSetting)
	case c.History.CachedChats <= 0:
		return fmt.Errorf("history.cached-chats must be positive, got %d", c.History.CachedChats)
	case c.History.PageSize <= 0:
		return fmt.Errorf("history.page-size must be positive, got %d", c.History.PageSize)
	case c.History.MaxMessagesPerChat < 0:
		return fmt.Errorf("history.max-messages-per-chat must not be negative, got %d", c.History.MaxMessagesPerChat)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Encoder == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
