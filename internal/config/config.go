package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Exchange connection. The WebSocket monitor and the click-to-dial API
	// share host and port but use separate credential pairs.
	UCMHost        string `env:"UCM_HOST,required"`
	UCMPort        int    `env:"UCM_PORT" envDefault:"8089"`
	MonitorUser    string `env:"UCM_MONITOR_USER,required"`
	MonitorPass    string `env:"UCM_MONITOR_PASSWORD,required"`
	DialUser       string `env:"UCM_API_USER"`
	DialPass       string `env:"UCM_API_PASSWORD"`
	TLSVerify      bool   `env:"UCM_TLS_VERIFY" envDefault:"false"`
	MonitorEnabled bool   `env:"MONITOR_ENABLED" envDefault:"true"`

	DBPath string `env:"CALL_LOG_DB" envDefault:"./calllog.db"`

	// Region used to normalize numbers for directory lookups (ISO 3166-1).
	PhoneRegion string `env:"PHONE_REGION" envDefault:"IT"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	UCMHost  string
	DBPath   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.UCMHost != "" {
		cfg.UCMHost = overrides.UCMHost
	}
	if overrides.DBPath != "" {
		cfg.DBPath = overrides.DBPath
	}

	return cfg, nil
}
