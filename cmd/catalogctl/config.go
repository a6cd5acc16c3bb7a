package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/jobs"
	"github.com/rmax-ai/catalogctl/pkg/purge"
)

const (
	defaultLoginURL  = "https://dm-us.informaticacloud.com"
	defaultAPIURL    = "https://cdgc-api.dm-us.informaticacloud.com"
	defaultHistory   = "sqlite:catalogctl.db"
	defaultRateLimit = 10
	defaultLogFormat = "text"
)

type PurgeConfig struct {
	PageSize    int `yaml:"page_size"`
	Concurrency int `yaml:"concurrency"`
	MaxPasses   int `yaml:"max_passes"`
	StallPasses int `yaml:"stall_passes"`
}

type JobsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
	Concurrency  int           `yaml:"concurrency"`
	MaxJitter    time.Duration `yaml:"max_jitter"`
}

type LineageConfig struct {
	OutputDir      string `yaml:"output_dir"`
	AssetURLPrefix string `yaml:"asset_url_prefix"`
	MaxDepth       int    `yaml:"max_depth"`
}

// Config is the layered configuration: defaults, then the YAML file,
// then CATALOGCTL_* environment variables, then explicit flags.
type Config struct {
	LoginURL   string        `yaml:"login_url"`
	APIURL     string        `yaml:"api_url"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	History    string        `yaml:"history"`
	RateLimit  float64       `yaml:"rate_limit"`
	Burst      int           `yaml:"burst"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`

	LogFormat   string `yaml:"log_format"`
	Debug       bool   `yaml:"debug"`
	MetricsAddr string `yaml:"metrics_addr"`
	TraceStdout bool   `yaml:"trace_stdout"`

	Purge   PurgeConfig   `yaml:"purge"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Lineage LineageConfig `yaml:"lineage"`
}

func DefaultConfig() Config {
	return Config{
		LoginURL:   defaultLoginURL,
		APIURL:     defaultAPIURL,
		History:    defaultHistory,
		RateLimit:  defaultRateLimit,
		Burst:      defaultRateLimit,
		Timeout:    catalog.DefaultTimeout,
		MaxRetries: catalog.DefaultMaxRetries,
		LogFormat:  defaultLogFormat,
		Purge: PurgeConfig{
			PageSize:    purge.DefaultPageSize,
			Concurrency: purge.DefaultConcurrency,
			MaxPasses:   purge.DefaultMaxPasses,
			StallPasses: purge.DefaultStallPasses,
		},
		Jobs: JobsConfig{
			PollInterval: jobs.DefaultInterval,
			Concurrency:  jobs.DefaultSourceConcurrency,
			MaxJitter:    jobs.DefaultMaxJitter,
		},
		Lineage: LineageConfig{OutputDir: "."},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at
// path (skipped when empty) and the environment read through getenv.
// Flags are applied afterwards by the caller.
func LoadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("CATALOGCTL_LOGIN_URL", &cfg.LoginURL)
	setString("CATALOGCTL_API_URL", &cfg.APIURL)
	setString("CATALOGCTL_USERNAME", &cfg.Username)
	setString("CATALOGCTL_HISTORY", &cfg.History)
	setString("CATALOGCTL_LOG_FORMAT", &cfg.LogFormat)
	setString("CATALOGCTL_METRICS_ADDR", &cfg.MetricsAddr)
	// passwords may legitimately have surrounding spaces
	if v := getenv("CATALOGCTL_PASSWORD"); v != "" {
		cfg.Password = v
	}

	if v := getenv("CATALOGCTL_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid CATALOGCTL_RATE: %w", err)
		}
		cfg.RateLimit = rate
	}
	if v := getenv("CATALOGCTL_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CATALOGCTL_POLL_INTERVAL: %w", err)
		}
		cfg.Jobs.PollInterval = d
	}
	if v := getenv("CATALOGCTL_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CATALOGCTL_DEBUG: %w", err)
		}
		cfg.Debug = debug
	}
	return nil
}

// Validate checks the values every command depends on. Errors name the
// offending key.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LoginURL) == "" {
		errs = append(errs, errors.New("login_url cannot be empty"))
	}
	if strings.TrimSpace(c.APIURL) == "" {
		errs = append(errs, errors.New("api_url cannot be empty"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit cannot be negative"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries cannot be negative"))
	}
	if c.Jobs.PollInterval <= 0 {
		errs = append(errs, errors.New("jobs.poll_interval must be positive"))
	}
	if c.Jobs.MaxWait < 0 {
		errs = append(errs, errors.New("jobs.max_wait cannot be negative"))
	}
	if c.Purge.PageSize > purge.MaxPageSize {
		errs = append(errs, fmt.Errorf("purge.page_size cannot exceed %d", purge.MaxPageSize))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log_format: %s", c.LogFormat))
	}
	if _, _, err := parseHistory(c.History); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) credentials() catalog.Credentials {
	return catalog.Credentials{Username: c.Username, Password: c.Password}
}

// historyBackend is where campaign history goes.
type historyBackend string

const (
	historyNone   historyBackend = "none"
	historySQLite historyBackend = "sqlite"
	historyRedis  historyBackend = "redis"
)

// parseHistory splits a history spec: "none", "sqlite:<path>" or a
// redis:// / rediss:// URL.
func parseHistory(spec string) (historyBackend, string, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "none":
		return historyNone, "", nil
	case strings.HasPrefix(spec, "sqlite:"):
		path := strings.TrimPrefix(spec, "sqlite:")
		if path == "" {
			return "", "", errors.New("history: sqlite needs a path, e.g. sqlite:catalogctl.db")
		}
		return historySQLite, path, nil
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		return historyRedis, spec, nil
	default:
		return "", "", fmt.Errorf("history: unsupported spec %q (want none, sqlite:<path> or redis://...)", spec)
	}
}
