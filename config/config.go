package config

import (
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`
	Port     string `env:"PORT"      envDefault:"8080"  validate:"required"`
	Timezone string `env:"TIMEZONE"  envDefault:"Asia/Shanghai"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	JWTSecret   string `env:"JWT_SECRET,required" validate:"required,min=32"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"bolt" validate:"oneof=bolt postgres"`
	DatabaseURL string `env:"DATABASE_URL"                   validate:"required_if=StoreDriver postgres"`
	BoltPath    string `env:"BOLT_PATH"    envDefault:"data/df-notifier.db"`

	API       APIConfig
	OneBot    OneBotConfig
	Resend    ResendConfig
	PlaceTask PlaceTaskConfig
	Push      PushConfig
}

type APIConfig struct {
	Key          string `env:"DF_API_KEY"`
	Mode         string `env:"DF_API_MODE"           envDefault:"auto" validate:"oneof=auto primary alt1 alt2 default eo esa"`
	TimeoutSec   int    `env:"DF_API_TIMEOUT_SEC"    envDefault:"30"   validate:"min=1,max=300"`
	RetryCount   int    `env:"DF_API_RETRY_COUNT"    envDefault:"3"    validate:"min=1,max=10"`
	RetryDelayMS int    `env:"DF_API_RETRY_DELAY_MS" envDefault:"1000" validate:"min=0"`
	URLPrimary   string `env:"DF_API_URL_PRIMARY"    envDefault:"https://df-api.shallow.ink"     validate:"url"`
	URLAlt1      string `env:"DF_API_URL_ALT1"       envDefault:"https://df-api-eo.shallow.ink"  validate:"omitempty,url"`
	URLAlt2      string `env:"DF_API_URL_ALT2"       envDefault:"https://df-api-esa.shallow.ink" validate:"omitempty,url"`
}

type OneBotConfig struct {
	URL         string `env:"ONEBOT_URL"          validate:"omitempty,url"`
	AccessToken string `env:"ONEBOT_ACCESS_TOKEN"`
}

type ResendConfig struct {
	APIKey string `env:"RESEND_API_KEY"`
	From   string `env:"RESEND_FROM"    validate:"required_with=APIKey"`
}

type PlaceTaskConfig struct {
	Enabled         bool `env:"PLACE_TASK_ENABLED"      envDefault:"true"`
	SyncIntervalSec int  `env:"PLACE_SYNC_INTERVAL_SEC" envDefault:"300"  validate:"min=10"`
	FireIntervalSec int  `env:"PLACE_FIRE_INTERVAL_SEC" envDefault:"10"   validate:"min=1"`
	UserDelayMS     int  `env:"PLACE_USER_DELAY_MS"     envDefault:"2000" validate:"min=0"`
}

type PushConfig struct {
	KeywordEnabled bool     `env:"DAILY_KEYWORD_ENABLED" envDefault:"false"`
	KeywordCron    string   `env:"DAILY_KEYWORD_CRON"    envDefault:"0 8 * * *"`
	KeywordGroups  []string `env:"DAILY_KEYWORD_GROUPS"  envSeparator:","`

	DailyReportEnabled bool   `env:"DAILY_REPORT_ENABLED" envDefault:"false"`
	DailyReportCron    string `env:"DAILY_REPORT_CRON"    envDefault:"0 10 * * *"`

	WeeklyReportEnabled bool   `env:"WEEKLY_REPORT_ENABLED" envDefault:"false"`
	WeeklyReportCron    string `env:"WEEKLY_REPORT_CRON"    envDefault:"0 10 * * 1"`

	SendIntervalMS int `env:"PUSH_SEND_INTERVAL_MS" envDefault:"1000" validate:"min=0"`
	UserIntervalMS int `env:"PUSH_USER_INTERVAL_MS" envDefault:"2000" validate:"min=0"`

	BroadcastAdmins        []string `env:"BROADCAST_ADMINS"         envSeparator:","`
	BroadcastDefaultGroups []string `env:"BROADCAST_DEFAULT_GROUPS" envSeparator:","`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid config: timezone %q: %w", cfg.Timezone, err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Location falls back to UTC; Load has already rejected unknown zones.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c APIConfig) Timeout() time.Duration    { return time.Duration(c.TimeoutSec) * time.Second }
func (c APIConfig) RetryDelay() time.Duration { return ms(c.RetryDelayMS) }

func (c PlaceTaskConfig) SyncInterval() time.Duration { return time.Duration(c.SyncIntervalSec) * time.Second }
func (c PlaceTaskConfig) FireInterval() time.Duration { return time.Duration(c.FireIntervalSec) * time.Second }
func (c PlaceTaskConfig) UserDelay() time.Duration    { return ms(c.UserDelayMS) }

func (c PushConfig) SendInterval() time.Duration { return ms(c.SendIntervalMS) }
func (c PushConfig) UserInterval() time.Duration { return ms(c.UserIntervalMS) }
