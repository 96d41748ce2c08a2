package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Postgres struct {
		URL      string `yaml:"url"`
		LockMode string `yaml:"lock_mode"` // advisory | rowlock
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Chain struct {
		RelayURL       string `yaml:"relay_url"`
		SignerAddress  string `yaml:"signer_address"`
		ConfirmTimeout string `yaml:"confirm_timeout"`
	} `yaml:"chain"`
	Quiz struct {
		TimeLimitSecs       int   `yaml:"time_limit_secs"`
		DefaultCount        int   `yaml:"default_count"`
		MaxCount            int   `yaml:"max_count"`
		EntryFeeMicro       int64 `yaml:"entry_fee_micro"`
		SettleAutomatically bool  `yaml:"settle_automatically"`
	} `yaml:"quiz"`
	Tournament struct {
		MaxDailyPlays int `yaml:"max_daily_plays"`
	} `yaml:"tournament"`
	Worker struct {
		Interval string `yaml:"interval"`
	} `yaml:"worker"`
}

// Load reads YAML config from path and applies defaults for omitted values.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Postgres.LockMode == "" {
		c.Postgres.LockMode = "advisory"
	}
	if c.Quiz.TimeLimitSecs == 0 {
		c.Quiz.TimeLimitSecs = 100
	}
	if c.Quiz.DefaultCount == 0 {
		c.Quiz.DefaultCount = 10
	}
	if c.Quiz.MaxCount == 0 {
		c.Quiz.MaxCount = 50
	}
	if c.Quiz.EntryFeeMicro == 0 {
		c.Quiz.EntryFeeMicro = 1_000_000
	}
	if c.Tournament.MaxDailyPlays == 0 {
		c.Tournament.MaxDailyPlays = 2
	}
}

// TTLDuration parses a duration string or returns the fallback if empty or invalid.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
