package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot         BotConfig         `mapstructure:"bot"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Moderation  ModerationConfig  `mapstructure:"moderation"`
	Classifier  ClassifierConfig  `mapstructure:"classifier"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	MemberCache MemberCacheConfig `mapstructure:"member_cache"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	I18n        I18nConfig        `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
	Workers       int    `mapstructure:"workers"`
	QueueSize     int    `mapstructure:"queue_size"`
}

type StorageConfig struct {
	Type      string       `mapstructure:"type"`
	SampleCap int          `mapstructure:"sample_cap"`
	SQLite    SQLiteConfig `mapstructure:"sqlite"`
	Redis     RedisConfig  `mapstructure:"redis"`
	Retry     RetryConfig  `mapstructure:"retry"`
}

type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type ModerationConfig struct {
	WarnThreshold int           `mapstructure:"warn_threshold"`
	MuteDuration  time.Duration `mapstructure:"mute_duration"`
	DeleteNotice  bool          `mapstructure:"delete_notice"`
	DedupeTTL     time.Duration `mapstructure:"dedupe_ttl"`
	MaxTextLength int           `mapstructure:"max_text_length"`
}

type ClassifierConfig struct {
	EnabledByDefault bool          `mapstructure:"enabled_by_default"`
	DefaultThreshold float64       `mapstructure:"default_threshold"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	SampleTextLength int           `mapstructure:"sample_text_length"`
}

// Configured reports whether an external classifier endpoint is available.
func (c ClassifierConfig) Configured() bool {
	return c.APIKey != "" && c.Model != ""
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type MemberCacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Port    int           `mapstructure:"port"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("bot.workers", 8)
	v.SetDefault("bot.queue_size", 1000)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.sample_cap", 1000)
	v.SetDefault("storage.sqlite.path", "data/antispam.db")
	v.SetDefault("storage.sqlite.busy_timeout", 2*time.Second)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.retry.max_attempts", 5)
	v.SetDefault("storage.retry.initial_interval", 50*time.Millisecond)
	v.SetDefault("storage.retry.max_interval", time.Second)

	v.SetDefault("moderation.warn_threshold", 2)
	v.SetDefault("moderation.mute_duration", time.Hour)
	v.SetDefault("moderation.delete_notice", true)
	v.SetDefault("moderation.dedupe_ttl", 10*time.Minute)
	v.SetDefault("moderation.max_text_length", 4000)

	v.SetDefault("classifier.enabled_by_default", false)
	v.SetDefault("classifier.default_threshold", 0.7)
	v.SetDefault("classifier.base_url", "https://api.openai.com/v1")
	v.SetDefault("classifier.timeout", 15*time.Second)
	v.SetDefault("classifier.max_tokens", 200)
	v.SetDefault("classifier.sample_text_length", 500)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("member_cache.ttl", time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.port", 10000)
	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "zh")
	v.SetDefault("i18n.languages", []string{"zh", "en"})
}

// LoadConfig loads configuration from an optional YAML file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine: the bot can run from env alone.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("bot.token", "BOT_TOKEN")
	v.BindEnv("moderation.warn_threshold", "WARN_THRESHOLD")
	v.BindEnv("moderation.delete_notice", "DELETE_NOTICE")
	v.BindEnv("monitoring.port", "PORT")
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.sqlite.path", "SQLITE_PATH")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")
	v.BindEnv("classifier.api_key", "CLASSIFIER_API_KEY")
	v.BindEnv("classifier.base_url", "CLASSIFIER_BASE_URL")
	v.BindEnv("classifier.model", "CLASSIFIER_MODEL")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	// MUTE_SECONDS is a plain integer, unlike the duration syntax used in the file
	if raw := strings.TrimSpace(os.Getenv("MUTE_SECONDS")); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid MUTE_SECONDS %q: %w", raw, err)
		}
		config.Moderation.MuteDuration = time.Duration(seconds) * time.Second
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	switch cfg.Storage.Type {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if cfg.Moderation.WarnThreshold < 0 {
		return fmt.Errorf("moderation.warn_threshold must be >= 0, got %d", cfg.Moderation.WarnThreshold)
	}
	if cfg.Moderation.MuteDuration < 0 {
		return fmt.Errorf("moderation.mute_duration must be >= 0, got %s", cfg.Moderation.MuteDuration)
	}
	if t := cfg.Classifier.DefaultThreshold; t < 0 || t > 1 {
		return fmt.Errorf("classifier.default_threshold must be within [0,1], got %v", t)
	}
	if cfg.Storage.Retry.MaxAttempts < 1 {
		return fmt.Errorf("storage.retry.max_attempts must be >= 1")
	}
	if cfg.Bot.Workers < 1 {
		cfg.Bot.Workers = 1
	}
	return nil
}
