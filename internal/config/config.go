package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

type Config struct {
	Data struct {
		Tickers     []string      `yaml:"tickers" default:"[\"TSLA\",\"BND\",\"SPY\"]" validate:"min=1,dive,required"`
		Start       string        `yaml:"start" default:"2015-01-01" validate:"datetime=2006-01-02"`
		End         string        `yaml:"end" default:"2025-01-31" validate:"datetime=2006-01-02"`
		RawPath     string        `yaml:"raw_path" default:"data/raw_data.csv" validate:"required"`
		CleanedPath string        `yaml:"cleaned_path" default:"data/cleaned_data.csv" validate:"required"`
		Timeout     time.Duration `yaml:"timeout" default:"30s"`
	} `yaml:"data"`
	Analysis struct {
		RollingWindow       int     `yaml:"rolling_window" default:"30" validate:"min=2"`
		OutlierThreshold    float64 `yaml:"outlier_threshold" default:"0.05" validate:"gt=0"`
		DecompositionPeriod int     `yaml:"decomposition_period" default:"252" validate:"min=2"`
		ReportsDir          string  `yaml:"reports_dir" default:"reports" validate:"required"`
	} `yaml:"analysis"`
	Forecast struct {
		Target  string `yaml:"target" default:"TSLA_Close" validate:"required"`
		Horizon int    `yaml:"horizon" default:"30" validate:"min=1"`
		ARIMA   struct {
			P int `yaml:"p" default:"5" validate:"min=0"`
			D int `yaml:"d" default:"1" validate:"min=0,max=2"`
			Q int `yaml:"q" validate:"eq=0"`
		} `yaml:"arima"`
	} `yaml:"forecast"`
	Storage struct {
		DBPath string `yaml:"db_path" default:"data/runs.db"`
	} `yaml:"storage"`
	Redis struct {
		Addr      string        `yaml:"addr"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		TTL       time.Duration `yaml:"ttl" default:"12h"`
		Namespace string        `yaml:"namespace" default:"bars"`
	} `yaml:"redis"`
	Telegram struct {
		Token      string `yaml:"token"`
		ChatID     int64  `yaml:"chat_id"`
		WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
	} `yaml:"telegram"`
	OpenAI struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model" default:"gpt-4"`
	} `yaml:"openai"`
	Server struct {
		Port string `yaml:"port" default:"9095" validate:"numeric"`
	} `yaml:"server"`
	Schedule struct {
		Cron string `yaml:"cron" default:"0 30 22 * * 1-5"`
	} `yaml:"schedule"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	} `yaml:"log"`
}

var validate = validator.New()

// StartDate parses Data.Start.
func (c *Config) StartDate() time.Time { return mustDate(c.Data.Start) }

// EndDate parses Data.End.
func (c *Config) EndDate() time.Time { return mustDate(c.Data.End) }

func mustDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

// Default returns a config holding only default values.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	return &c, nil
}

// Load fills defaults, overlays path (optional) and environment overrides,
// then validates. Explicit zero values in the file are kept. A missing .env
// file is ignored.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("config: .env not loaded")
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks field constraints and the date range.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if !c.StartDate().Before(c.EndDate()) {
		return fmt.Errorf("data.start %s must be before data.end %s", c.Data.Start, c.Data.End)
	}
	return nil
}

func applyEnv(c *Config) error {
	if v := os.Getenv("TICKERS"); v != "" {
		c.Data.Tickers = nil
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.Data.Tickers = append(c.Data.Tickers, strings.ToUpper(t))
			}
		}
	}
	setString(&c.Data.Start, "START_DATE")
	setString(&c.Data.End, "END_DATE")
	setString(&c.Forecast.Target, "FORECAST_TARGET")
	setString(&c.Storage.DBPath, "DB_PATH")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&c.Telegram.WebhookURL, "WEBHOOK_PUBLIC_URL")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Server.Port, "PORT")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("FORECAST_HORIZON"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FORECAST_HORIZON: %w", err)
		}
		c.Forecast.Horizon = n
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		c.Telegram.ChatID = id
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
