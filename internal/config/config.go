// Package config loads engine configuration from a YAML file, a .env file and
// environment overrides, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/gateway"
	"nav-strike-engine/internal/schedule"
)

// Config holds all engine configuration.
type Config struct {
	Fund struct {
		ID                 string   `yaml:"id"`
		InitialNAV         string   `yaml:"initial_nav"`
		Schedule           []string `yaml:"schedule"`
		Timezone           string   `yaml:"timezone"`
		SettlementAccount  string   `yaml:"settlement_account"`
		ShareIssuerAccount string   `yaml:"share_issuer_account"`
	} `yaml:"fund"`
	Gateway struct {
		RPCEndpoint         string        `yaml:"rpc_endpoint"`
		WSEndpoint          string        `yaml:"ws_endpoint"`
		ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
		PollInterval        time.Duration `yaml:"poll_interval"`
		MaxRetries          int           `yaml:"max_retries"`
	} `yaml:"gateway"`
	Strike struct {
		Workers       int    `yaml:"workers"`
		RetryAttempts int    `yaml:"retry_attempts"`
		BatchOrder    string `yaml:"batch_order"`
	} `yaml:"strike"`
	Storage struct {
		UseMemory     bool   `yaml:"use_memory"`
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickhouseDSN string `yaml:"clickhouse_dsn"`
	} `yaml:"storage"`
	Kafka struct {
		Brokers     []string `yaml:"brokers"`
		TopicPrefix string   `yaml:"topic_prefix"`
	} `yaml:"kafka"`
	NAVFeed struct {
		URL     string        `yaml:"url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"nav_feed"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	str("NAVSTRIKE_FUND_ID", &c.Fund.ID)
	str("NAVSTRIKE_INITIAL_NAV", &c.Fund.InitialNAV)
	list("NAVSTRIKE_SCHEDULE", &c.Fund.Schedule)
	str("NAVSTRIKE_TIMEZONE", &c.Fund.Timezone)
	str("SETTLEMENT_ACCOUNT", &c.Fund.SettlementAccount)
	str("SHARE_ISSUER_ACCOUNT", &c.Fund.ShareIssuerAccount)
	str("LEDGER_RPC_ENDPOINT", &c.Gateway.RPCEndpoint)
	str("LEDGER_WS_ENDPOINT", &c.Gateway.WSEndpoint)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("CLICKHOUSE_DSN", &c.Storage.ClickhouseDSN)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC_PREFIX", &c.Kafka.TopicPrefix)
	str("NAV_FEED_URL", &c.NAVFeed.URL)
	str("NAV_FEED_API_KEY", &c.NAVFeed.APIKey)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("STRIKE_BATCH_ORDER", &c.Strike.BatchOrder)
	str("LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("USE_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse USE_MEMORY: %w", err)
		}
		c.Storage.UseMemory = b
	}
	if v := os.Getenv("CONFIRMATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CONFIRMATION_TIMEOUT: %w", err)
		}
		c.Gateway.ConfirmationTimeout = d
	}
	for key, dst := range map[string]*int{
		"STRIKE_WORKERS":        &c.Strike.Workers,
		"STRIKE_RETRY_ATTEMPTS": &c.Strike.RetryAttempts,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Fund.InitialNAV == "" {
		c.Fund.InitialNAV = "1"
	}
	if len(c.Fund.Schedule) == 0 {
		c.Fund.Schedule = []string{"09:30", "16:00"}
	}
	if c.Fund.Timezone == "" {
		c.Fund.Timezone = "UTC"
	}
	if c.Gateway.ConfirmationTimeout == 0 {
		c.Gateway.ConfirmationTimeout = 60 * time.Second
	}
	if c.Gateway.PollInterval == 0 {
		c.Gateway.PollInterval = 2 * time.Second
	}
	if c.Gateway.MaxRetries == 0 {
		c.Gateway.MaxRetries = 3
	}
	if c.Strike.Workers == 0 {
		c.Strike.Workers = 4
	}
	if c.Strike.RetryAttempts == 0 {
		c.Strike.RetryAttempts = 1
	}
	if c.Strike.BatchOrder == "" {
		c.Strike.BatchOrder = "subscriptions_first"
	}
	if c.Kafka.TopicPrefix == "" {
		c.Kafka.TopicPrefix = "navstrike"
	}
	if c.NAVFeed.Timeout == 0 {
		c.NAVFeed.Timeout = 10 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks that all required fields are set and well formed.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Fund.ID == "" {
		fail("fund.id is required")
	}
	if nav, err := c.InitialNAV(); err != nil {
		fail("fund.initial_nav: %v", err)
	} else if !nav.IsPositive() {
		fail("fund.initial_nav must be positive")
	}
	loc, err := time.LoadLocation(c.Fund.Timezone)
	if err != nil {
		fail("fund.timezone: %v", err)
	} else if _, err := schedule.New(c.Fund.Schedule, loc); err != nil {
		fail("fund.schedule: %v", err)
	}
	if err := gateway.ValidateAccount(c.Fund.SettlementAccount); err != nil {
		fail("fund.settlement_account: %v", err)
	}
	if err := gateway.ValidateAccount(c.Fund.ShareIssuerAccount); err != nil {
		fail("fund.share_issuer_account: %v", err)
	}
	if c.Gateway.RPCEndpoint == "" {
		fail("gateway.rpc_endpoint is required")
	}
	if c.Gateway.ConfirmationTimeout <= 0 {
		fail("gateway.confirmation_timeout must be positive")
	}
	if c.Strike.Workers < 1 {
		fail("strike.workers must be at least 1")
	}
	if c.Strike.RetryAttempts < 1 {
		fail("strike.retry_attempts must be at least 1")
	}
	switch c.Strike.BatchOrder {
	case "subscriptions_first", "redemptions_first":
	default:
		fail("strike.batch_order must be subscriptions_first or redemptions_first, got %q", c.Strike.BatchOrder)
	}
	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		fail("storage.postgres_dsn is required (set storage.use_memory for in-memory storage)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// InitialNAV parses fund.initial_nav.
func (c *Config) InitialNAV() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Fund.InitialNAV)
}

// Location loads fund.timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Fund.Timezone)
}

// LoadEnvFile loads KEY=VALUE lines from path into the environment.
// Variables already set win. A missing file is ignored.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
