package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	StoreDriver    string        `mapstructure:"STORE_DRIVER"`
	AutoMigrate    bool          `mapstructure:"AUTO_MIGRATE"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	PushURL         string        `mapstructure:"PUSH_URL"`
	PushAccessToken string        `mapstructure:"PUSH_ACCESS_TOKEN"`
	PushTimeout     time.Duration `mapstructure:"PUSH_TIMEOUT"`

	GeocodeURL       string `mapstructure:"GEOCODE_URL"`
	GeocodeUserAgent string `mapstructure:"GEOCODE_USER_AGENT"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	// Unmarshal only sees keys viper knows about, so every key gets a default.
	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("AUTO_MIGRATE", true)
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PUSH_URL", "")
	v.SetDefault("PUSH_ACCESS_TOKEN", "")
	v.SetDefault("PUSH_TIMEOUT", "10s")
	v.SetDefault("GEOCODE_URL", "")
	v.SetDefault("GEOCODE_USER_AGENT", "pawsos-backend")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}
