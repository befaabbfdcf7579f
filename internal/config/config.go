package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env              string                  `env:"ENV,default=local"`
	Logger           LoggerConfig            `env:",prefix=LOGGER_"`
	Observability    ObservabilityHTTPConfig `env:",prefix=OBSERVABILITY_"`
	ShutdownDuration time.Duration           `env:"SHUTDOWN_DURATION,default=30s"`
	DB               SQLiteConfig            `env:",prefix=DB_"`
	Panel            PanelConfig             `env:",prefix=PANEL_"`
	Sync             SyncConfig              `env:",prefix=SYNC_"`
	Health           HealthConfig            `env:",prefix=HEALTH_"`
	SeedFile         string                  `env:"SEED_FILE"`
}

// Load fills a Config from lookuper and validates it.
func Load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("env processing: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	switch c.Panel.TrojanTokenMode {
	case "legacy", "random":
	default:
		return fmt.Errorf("PANEL_TROJAN_TOKEN_MODE must be legacy or random, got %q", c.Panel.TrojanTokenMode)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be positive, got %d", c.Sync.Concurrency)
	}
	if c.Health.Enabled && c.Health.Interval <= 0 {
		return fmt.Errorf("HEALTH_INTERVAL must be positive, got %s", c.Health.Interval)
	}
	if _, err := time.ParseDuration(c.DB.MaxLifetime); c.DB.MaxLifetime != "" && err != nil {
		return fmt.Errorf("DB_MAX_LIFETIME: %w", err)
	}
	return nil
}

type LoggerConfig struct {
	Level string `env:"LEVEL,default=debug"`
}

type ObservabilityHTTPConfig struct {
	Host         string        `env:"HOST,default=127.0.0.1"`
	Port         uint16        `env:"PORT,default=8383"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a ObservabilityHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type SQLiteConfig struct {
	Path         string        `env:"PATH,default=./data/provisioner.db"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS,default=25"`
	MaxIdleConns int           `env:"MAX_IDLE_CONNS,default=5"`
	MaxLifetime  string        `env:"MAX_LIFETIME,default=5m"`
	BusyTimeout  time.Duration `env:"BUSY_TIMEOUT,default=5s"`
}

// PanelConfig tunes every call made to remote panels.
type PanelConfig struct {
	LoginTimeout    time.Duration `env:"LOGIN_TIMEOUT,default=3s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT,default=15s"`
	UserAgent       string        `env:"USER_AGENT"`
	TrojanTokenMode string        `env:"TROJAN_TOKEN_MODE,default=legacy"`
	RateLimit       struct {
		RPS   float64 `env:"RPS,default=5"`
		Burst int     `env:"BURST,default=5"`
	} `env:",prefix=RATE_LIMIT_"`
}

type SyncConfig struct {
	Enabled     bool   `env:"ENABLED,default=true"`
	Schedule    string `env:"SCHEDULE,default=@every 5m"`
	Concurrency int    `env:"CONCURRENCY,default=4"`
}

type HealthConfig struct {
	Enabled  bool          `env:"ENABLED,default=true"`
	Interval time.Duration `env:"INTERVAL,default=1m"`
}
