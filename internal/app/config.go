package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete dispatcher configuration, loadable from
// environment variables (REZERV_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"admin server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (REZERV_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SettingsFile string `default:"settings.yaml" usage:"path to the runtime settings file" flag:"settings-file"`
	Telegram     TelegramConfig
	Dispatch     DispatchConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// TelegramConfig configures the Bot API channel.
type TelegramConfig struct {
	Token   string `usage:"bot token (REZERV_TELEGRAM_TOKEN)" flag:"telegram-token"`
	BaseURL string `default:"" usage:"Bot API base URL override, for tests and proxies" flag:"telegram-base-url"`
}

// DispatchConfig holds the dispatcher knobs fixed at process start. The
// scan cadence and throttle intervals live in the settings file and are
// editable at runtime.
type DispatchConfig struct {
	SendTimeout        time.Duration `default:"10s" usage:"per-delivery timeout" flag:"send-timeout"`
	MaxConcurrentSends int           `default:"4" usage:"notification fan-out limit" flag:"max-concurrent-sends"`
}

// RateLimitConfig controls the admin server rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"max requests per window"`
	Window time.Duration `default:"1m" usage:"rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "REZERV",
		Files:     []string{"config.yaml", "/etc/rezerv/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set REZERV_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Telegram.Token == "" {
		return nil, errors.New("telegram token is required: set REZERV_TELEGRAM_TOKEN")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the REZERV_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
