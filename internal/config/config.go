package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string  `yaml:"token"`
	Username string  `yaml:"username"`
	Workers  int     `yaml:"workers"` // polling workers
	AdminIDs []int64 `yaml:"admin_ids"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type WebConfig struct {
	Port       int           `yaml:"port"`
	PublicURL  string        `yaml:"public_url"` // base for payment return and webhook URLs
	RateLimit  int           `yaml:"rate_limit"` // webhook requests per window per caller
	RateWindow time.Duration `yaml:"rate_window"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type YooMoneyConfig struct {
	Wallet      string `yaml:"wallet"`
	Secret      string `yaml:"secret"` // notification secret for signature checks
	PaymentType string `yaml:"payment_type"`
}

type StarsConfig struct {
	Enabled bool  `yaml:"enabled"`
	Rate    int64 `yaml:"rate"` // rubles per star
}

type SBPConfig struct {
	MerchantID string `yaml:"merchant_id"`
	BankID     string `yaml:"bank_id"`
	APIURL     string `yaml:"api_url"`
	Secret     string `yaml:"secret"`
	Phone      string `yaml:"phone"`
	QRWidth    int    `yaml:"qr_width"`
}

type PaymentConfig struct {
	YooMoney YooMoneyConfig `yaml:"yoomoney"`
	Stars    StarsConfig    `yaml:"stars"`
	SBP      SBPConfig      `yaml:"sbp"`
}

type SweepConfig struct {
	Interval         time.Duration `yaml:"interval"`
	WarnWindows      []int         `yaml:"warn_windows"` // days before expiry
	PaymentStaleness time.Duration `yaml:"payment_staleness"`
	BatchLimit       int           `yaml:"batch_limit"`
}

type WelcomePromoConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Type       string `yaml:"type"` // fixed_amount | percentage
	Value      string `yaml:"value"`
	ValidDays  int    `yaml:"valid_days"`
	CodePrefix string `yaml:"code_prefix"`
}

type PromoConfig struct {
	Welcome WelcomePromoConfig `yaml:"welcome"`
}

type SecurityConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Config struct {
	Bot      BotConfig      `yaml:"bot"`
	Log      LogConfig      `yaml:"log"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Payment  PaymentConfig  `yaml:"payment"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Promo    PromoConfig    `yaml:"promo"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	// .env is optional; real environment wins over yaml values.
	_ = godotenv.Load()

	return loadFrom(configPath, dev)
}

func loadFrom(configPath string, dev bool) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Bot.Token == "" {
		return nil, errors.New("bot.token is required")
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}
	if cfg.Security.JWTSecret == "" {
		return nil, errors.New("security.jwt_secret is required")
	}
	if cfg.Payment.SBP.QRWidth > 255 {
		return nil, errors.New("payment.sbp.qr_width must be between 1 and 255 (pixels per QR block)")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// applyEnv overlays secrets from the environment so they can stay out of
// the yaml file in deployments.
func (c *Config) applyEnv() {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.Bot.Token = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("YOOMONEY_WALLET"); v != "" {
		c.Payment.YooMoney.Wallet = v
	}
	if v := os.Getenv("YOOMONEY_SECRET"); v != "" {
		c.Payment.YooMoney.Secret = v
	}
	if v := os.Getenv("SBP_SECRET"); v != "" {
		c.Payment.SBP.Secret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Security.JWTSecret = v
	}
	if v := os.Getenv("STARS_RATE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Payment.Stars.Rate = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Bot.Workers <= 0 {
		c.Bot.Workers = 8
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 8080
	}
	if c.Web.RateLimit <= 0 {
		c.Web.RateLimit = 30
	}
	if c.Web.RateWindow <= 0 {
		c.Web.RateWindow = time.Minute
	}
	if c.Payment.Stars.Rate <= 0 {
		c.Payment.Stars.Rate = 100
	}
	if c.Payment.SBP.QRWidth <= 0 {
		c.Payment.SBP.QRWidth = 8
	}
	if c.Sweep.Interval <= 0 {
		c.Sweep.Interval = 5 * time.Minute
	}
	if len(c.Sweep.WarnWindows) == 0 {
		c.Sweep.WarnWindows = []int{7, 3, 1}
	}
	if c.Sweep.PaymentStaleness <= 0 {
		c.Sweep.PaymentStaleness = 30 * time.Minute
	}
	if c.Sweep.BatchLimit <= 0 {
		c.Sweep.BatchLimit = 100
	}
	if c.Security.TokenTTL <= 0 {
		c.Security.TokenTTL = 24 * time.Hour
	}
	if c.Promo.Welcome.CodePrefix == "" {
		c.Promo.Welcome.CodePrefix = "WELCOME"
	}
	if c.Promo.Welcome.ValidDays <= 0 {
		c.Promo.Welcome.ValidDays = 30
	}
}
