package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	coreconfig "github.com/m3rciful/exchangebot/core/config"
	coredatabase "github.com/m3rciful/exchangebot/core/database"
	"github.com/m3rciful/exchangebot/internal/exchange"
)

// Session store backends.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

const (
	defaultSessionTTL   = 24 * time.Hour
	defaultOCRTimeout   = 60 * time.Second
	defaultProofTimeout = 20 * time.Second
)

// SessionConfig selects where conversation state lives.
type SessionConfig struct {
	Backend  string        `yaml:"backend" envconfig:"SESSION_BACKEND"`
	Addr     string        `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string        `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string        `yaml:"prefix" envconfig:"SESSION_PREFIX"`
	TTL      time.Duration `yaml:"ttl" envconfig:"SESSION_TTL"`
}

// ExchangeConfig holds the commercial terms. Money values are decimal strings.
type ExchangeConfig struct {
	RateBs        string `yaml:"rate_bs" envconfig:"EXCHANGE_RATE_BS"`
	CommissionUSD string `yaml:"commission_usd" envconfig:"EXCHANGE_COMMISSION_USD"`
	MaxAmountUSD  string `yaml:"max_amount_usd" envconfig:"EXCHANGE_MAX_AMOUNT_USD"`
	Denominations []int  `yaml:"denominations" envconfig:"EXCHANGE_DENOMINATIONS"`
	Currency      string `yaml:"currency" envconfig:"EXCHANGE_CURRENCY"`
}

// MaxAmount parses the per-operation cap. Empty means the exchange default.
func (c ExchangeConfig) MaxAmount() (decimal.Decimal, error) {
	s := strings.TrimSpace(c.MaxAmountUSD)
	if s == "" {
		return exchange.DefaultMaxAmountUSD, nil
	}
	limit, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("exchange.max_amount_usd: %w", err)
	}
	if !limit.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("exchange.max_amount_usd must be > 0")
	}
	return limit, nil
}

// Pricing parses the configured rate and commission.
func (c ExchangeConfig) Pricing() (exchange.Pricing, error) {
	p := exchange.DefaultPricing()
	if s := strings.TrimSpace(c.RateBs); s != "" {
		rate, err := decimal.NewFromString(s)
		if err != nil {
			return p, fmt.Errorf("exchange.rate_bs: %w", err)
		}
		p.RateBs = rate
	}
	if s := strings.TrimSpace(c.CommissionUSD); s != "" {
		commission, err := decimal.NewFromString(s)
		if err != nil {
			return p, fmt.Errorf("exchange.commission_usd: %w", err)
		}
		p.CommissionUSD = commission
	}
	if !p.RateBs.IsPositive() {
		return p, fmt.Errorf("exchange.rate_bs must be > 0")
	}
	if p.CommissionUSD.IsNegative() {
		return p, fmt.Errorf("exchange.commission_usd must be >= 0")
	}
	return p, nil
}

// OCRConfig tunes receipt recognition.
type OCRConfig struct {
	Language string        `yaml:"language" envconfig:"OCR_LANGUAGE"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"OCR_TIMEOUT"`
}

// ProofConfig tunes proof downloads.
type ProofConfig struct {
	Dir      string        `yaml:"dir" envconfig:"PROOF_DIR"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"PROOF_TIMEOUT"`
	MaxBytes int64         `yaml:"max_bytes" envconfig:"PROOF_MAX_BYTES"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// Config is the full bot configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Session  SessionConfig       `yaml:"session"`
	Exchange ExchangeConfig      `yaml:"exchange"`
	OCR      OCRConfig           `yaml:"ocr"`
	Proof    ProofConfig         `yaml:"proof"`
	Metrics  MetricsConfig       `yaml:"metrics"`
}

// CoreConfig exposes the embedded core section to the runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// LoadConfig reads path, overlays the environment and normalizes the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}

	if c.Database.Port == "" {
		c.Database.Port = "5432"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
		return fmt.Errorf("database.host, database.name and database.user are required")
	}

	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	switch c.Session.Backend {
	case "":
		c.Session.Backend = SessionMemory
	case SessionMemory:
	case SessionRedis:
		if strings.TrimSpace(c.Session.Addr) == "" {
			return fmt.Errorf("session.addr is required when session.backend is 'redis'")
		}
	default:
		return fmt.Errorf("invalid session.backend %q; allowed: memory, redis", c.Session.Backend)
	}
	if c.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must be >= 0")
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = defaultSessionTTL
	}

	if _, err := c.Exchange.Pricing(); err != nil {
		return err
	}
	limit, err := c.Exchange.MaxAmount()
	if err != nil {
		return err
	}
	if len(c.Exchange.Denominations) == 0 {
		c.Exchange.Denominations = exchange.DefaultDenominations()
	}
	for _, d := range c.Exchange.Denominations {
		if d <= 0 || decimal.NewFromInt(int64(d)).GreaterThan(limit) {
			return fmt.Errorf("exchange.denominations must be in (0, %s], got %d", limit, d)
		}
	}
	if strings.TrimSpace(c.Exchange.Currency) == "" {
		c.Exchange.Currency = "Zinli"
	}

	if c.OCR.Language == "" {
		c.OCR.Language = "spa"
	}
	if c.OCR.Timeout <= 0 {
		c.OCR.Timeout = defaultOCRTimeout
	}
	if c.Proof.Timeout <= 0 {
		c.Proof.Timeout = defaultProofTimeout
	}
	if c.Proof.MaxBytes < 0 {
		return fmt.Errorf("proof.max_bytes must be >= 0")
	}
	return nil
}
