package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smith3v/family-reminders/pkg/logger"
)

type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Telegram  TelegramConfig  `json:"telegram"`
	SendGrid  SendGridConfig  `json:"sendgrid"`
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	URL      string `json:"url"`
	Path     string `json:"path"`
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type SendGridConfig struct {
	APIKey    string `json:"api_key"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type LoggingConfig struct {
	Level     string `json:"level"`
	File      string `json:"file"`
	GormLevel string `json:"gorm_level"`
}

type SchedulerConfig struct {
	PollInterval          Duration `json:"poll_interval"`
	Workers               int      `json:"workers"`
	JobAttempts           int      `json:"job_attempts"`
	RetryBackoff          Duration `json:"retry_backoff"`
	LockTimeout           Duration `json:"lock_timeout"`
	RearmWindow           Duration `json:"rearm_window"`
	RearmEvery            Duration `json:"rearm_every"`
	ExpansionHorizon      Duration `json:"expansion_horizon"`
	MaxAlertsPerDay       int      `json:"max_alerts_per_day"`
	ExpansionCron         string   `json:"expansion_cron"`
	AutoCompleteCron      string   `json:"autocomplete_cron"`
	RetentionCron         string   `json:"retention_cron"`
	AlertRetention        Duration `json:"alert_retention"`
	Snooze                Duration `json:"snooze"`
	AutoCompleteRecurring bool     `json:"auto_complete_recurring"`
}

// Duration decodes Go duration strings ("10h", "30s") from JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

var AppConfig Config

func DefaultScheduler() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:     Duration{time.Second},
		Workers:          8,
		JobAttempts:      2,
		RetryBackoff:     Duration{30 * time.Second},
		LockTimeout:      Duration{5 * time.Minute},
		RearmWindow:      Duration{10 * time.Hour},
		RearmEvery:       Duration{10 * time.Hour},
		ExpansionHorizon: Duration{7 * 24 * time.Hour},
		MaxAlertsPerDay:  10,
		ExpansionCron:    "0 0 * * *",
		AutoCompleteCron: "30 0 * * *",
		RetentionCron:    "0 4 * * *",
		AlertRetention:   Duration{30 * 24 * time.Hour},
		Snooze:           Duration{10 * time.Minute},
	}
}

func defaults() Config {
	return Config{
		Database:  DatabaseConfig{Driver: "postgres", SSLMode: "disable", Port: 5432},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Scheduler: DefaultScheduler(),
	}
}

// LoadConfig reads the JSON config file, then lets a .env file and the
// process environment override secrets.
func LoadConfig(filename string) error {
	cfg := defaults()

	file, err := os.Open(filename)
	if err != nil {
		logger.Error("failed to open config file", "error", err)
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		logger.Error("failed to decode config file", "error", err)
		return err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error("failed to load .env file", "error", err)
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return err
	}

	AppConfig = cfg
	return nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"TELEGRAM_TOKEN", &cfg.Telegram.Token},
		{"SENDGRID_API_KEY", &cfg.SendGrid.APIKey},
		{"DATABASE_PASSWORD", &cfg.Database.Password},
		{"DATABASE_URL", &cfg.Database.URL},
	}
	for _, o := range overrides {
		if value, ok := os.LookupEnv(o.key); ok && strings.TrimSpace(value) != "" {
			*o.target = value
		}
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres":
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	s := c.Scheduler
	if s.Workers <= 0 {
		errs = append(errs, errors.New("scheduler.workers must be positive"))
	}
	if s.JobAttempts <= 0 {
		errs = append(errs, errors.New("scheduler.job_attempts must be positive"))
	}
	if s.MaxAlertsPerDay <= 0 {
		errs = append(errs, errors.New("scheduler.max_alerts_per_day must be positive"))
	}
	if s.PollInterval.Duration <= 0 || s.RearmEvery.Duration <= 0 || s.ExpansionHorizon.Duration <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	return errors.Join(errs...)
}
