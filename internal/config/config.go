package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const EnvPrefix = "POS"

const (
	StoreDriverMemory    = "memory"
	StoreDriverPostgres  = "postgres"
	StoreDriverFirestore = "firestore"

	PersistDriverFile   = "file"
	PersistDriverRedis  = "redis"
	PersistDriverMemory = "memory"
)

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"dev"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`

	ShopID       string        `envconfig:"SHOP_ID" default:"shop123"`
	ShopName     string        `envconfig:"SHOP_NAME" default:"Main Shop"`
	TaxRateValue string        `envconfig:"TAX_RATE" default:"0.07"`
	TZOffset     time.Duration `envconfig:"TZ_OFFSET" default:"7h"`
	Currency     string        `envconfig:"CURRENCY" default:"THB"`
	MenuFile     string        `envconfig:"MENU_FILE"`

	StoreDriver              string `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL              string `envconfig:"DATABASE_URL"`
	FirestoreProjectID       string `envconfig:"FIRESTORE_PROJECT_ID"`
	FirestoreCredentialsFile string `envconfig:"FIRESTORE_CREDENTIALS_FILE"`

	PersistDriver string `envconfig:"PERSIST_DRIVER" default:"file"`
	DataDir       string `envconfig:"DATA_DIR" default:"./data"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	RemoteTimeout       time.Duration `envconfig:"REMOTE_TIMEOUT" default:"10s"`
	ReachabilityTimeout time.Duration `envconfig:"REACHABILITY_TIMEOUT" default:"2s"`
	ForceOffline        bool          `envconfig:"FORCE_OFFLINE" default:"false"`
	ReconcileInterval   time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`

	AuthSecret       string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL   time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	GoogleClientID   string        `envconfig:"GOOGLE_CLIENT_ID"`
	SeedUserEmail    string        `envconfig:"SEED_USER_EMAIL"`
	SeedUserPassword string        `envconfig:"SEED_USER_PASSWORD"`
}

// Load reads an optional .env file and then the POS_* environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.PersistDriver = strings.ToLower(strings.TrimSpace(cfg.PersistDriver))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ShopID) == "" {
		return errors.New("POS_SHOP_ID is required")
	}
	rate, err := decimal.NewFromString(c.TaxRateValue)
	if err != nil {
		return fmt.Errorf("POS_TAX_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("POS_TAX_RATE must be in [0, 1), got %s", c.TaxRateValue)
	}
	switch c.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("POS_DATABASE_URL is required for the postgres store")
		}
	case StoreDriverFirestore:
		if c.FirestoreProjectID == "" {
			return errors.New("POS_FIRESTORE_PROJECT_ID is required for the firestore store")
		}
	default:
		return fmt.Errorf("unknown POS_STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.PersistDriver {
	case PersistDriverFile, PersistDriverMemory:
	case PersistDriverRedis:
		if c.RedisAddr == "" {
			return errors.New("POS_REDIS_ADDR is required for redis persistence")
		}
	default:
		return fmt.Errorf("unknown POS_PERSIST_DRIVER %q", c.PersistDriver)
	}
	if c.RemoteTimeout <= 0 {
		return errors.New("POS_REMOTE_TIMEOUT must be positive")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// TaxRate is validated by Load; a zero rate is returned for a malformed value.
func (c Config) TaxRate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.TaxRateValue)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// Location is the fixed receipt zone used for invoice years and aggregate dates.
func (c Config) Location() *time.Location {
	hours := c.TZOffset.Hours()
	name := fmt.Sprintf("UTC%+03d:%02d", int(hours), int(c.TZOffset.Minutes())%60)
	if c.TZOffset < 0 {
		name = fmt.Sprintf("UTC-%02d:%02d", int(-hours), int(-c.TZOffset.Minutes())%60)
	}
	return time.FixedZone(name, int(c.TZOffset.Seconds()))
}

func (c Config) IsProd() bool {
	return strings.EqualFold(c.AppEnv, "prod")
}
