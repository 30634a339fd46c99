package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Configuration keys shared by flags, environment variables and .env files.
// Environment variables use the SETTLEMENT_ prefix with dashes replaced by underscores.
const (
	KeyHTTPListenAddr       = "http-listen-addr"
	KeyGRPCListenAddr       = "grpc-listen-addr"
	KeyDatabaseURL          = "database-url"
	KeyStoreDriver          = "store-driver"
	KeyDefaultCurrency      = "default-currency"
	KeyFeeCustomerCheckout  = "fee-customer-checkout"
	KeyFeeWallet            = "fee-wallet"
	KeyFeePayout            = "fee-payout"
	KeyPlatformAccountEmail = "platform-account-email"
	KeyGatewayBaseURL       = "gateway-base-url"
	KeyGatewayProvider      = "gateway-provider"
	KeyGatewaySecret        = "gateway-secret"
	KeyGatewayTimeout       = "gateway-timeout"
	KeyGatewayMaxRetries    = "gateway-max-retries"
	KeyJWTSigningKey        = "jwt-signing-key"
	KeyJWTIssuer            = "jwt-issuer"
	KeyAllowedOrigins       = "allowed-origins"
	KeyRequestTimeout       = "request-timeout"
	KeyRedisURL             = "redis-url"
	KeyRateLimitRequests    = "rate-limit-requests"
	KeyRateLimitWindow      = "rate-limit-window"

	EnvPrefix = "SETTLEMENT"

	StoreDriverGorm = "gorm"
	StoreDriverPgx  = "pgx"
)

const (
	defaultHTTPListenAddr    = ":8080"
	defaultGRPCListenAddr    = ":7000"
	defaultDatabaseURL       = "sqlite:///tmp/settlement.db"
	defaultCurrency          = "NGN"
	defaultFee               = "10.00"
	defaultGatewayBaseURL    = "https://api.paystack.co"
	defaultGatewayProvider   = "paystack"
	defaultGatewayTimeout    = 20 * time.Second
	defaultGatewayMaxRetries = 2
	defaultJWTIssuer         = "settlement"
	defaultRequestTimeout    = 5 * time.Second
	defaultRateLimitRequests = 60
	defaultRateLimitWindow   = time.Minute
)

// Config aggregates runtime settings for settlementd.
type Config struct {
	HTTPListenAddr       string        `validate:"required"`
	GRPCListenAddr       string        `validate:"required"`
	DatabaseURL          string        `validate:"required"`
	StoreDriver          string        `validate:"oneof=gorm pgx"`
	DefaultCurrency      string        `validate:"len=3,alpha"`
	FeeCustomerCheckout  string        `validate:"required,numeric"`
	FeeWallet            string        `validate:"required,numeric"`
	FeePayout            string        `validate:"required,numeric"`
	PlatformAccountEmail string        `validate:"required,email"`
	GatewayBaseURL       string        `validate:"required,url"`
	GatewayProvider      string        `validate:"required,alphanum"`
	GatewaySecret        string        `validate:"-"`
	GatewayTimeout       time.Duration `validate:"gt=0"`
	GatewayMaxRetries    int           `validate:"gte=0,lte=10"`
	JWTSigningKey        string        `validate:"required,min=16"`
	JWTIssuer            string        `validate:"-"`
	AllowedOrigins       []string      `validate:"dive,url"`
	RequestTimeout       time.Duration `validate:"gt=0"`
	RedisURL             string        `validate:"omitempty,url"`
	RateLimitRequests    int64         `validate:"gt=0"`
	RateLimitWindow      time.Duration `validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadDotEnv loads variables from path into the process environment. A missing
// file is not an error; variables already set are left untouched.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// BindEnvironment makes every key readable from SETTLEMENT_* variables.
func BindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// FromViper reads every key. Call Validate before use.
func FromViper(v *viper.Viper) Config {
	return Config{
		HTTPListenAddr:       v.GetString(KeyHTTPListenAddr),
		GRPCListenAddr:       v.GetString(KeyGRPCListenAddr),
		DatabaseURL:          v.GetString(KeyDatabaseURL),
		StoreDriver:          v.GetString(KeyStoreDriver),
		DefaultCurrency:      v.GetString(KeyDefaultCurrency),
		FeeCustomerCheckout:  v.GetString(KeyFeeCustomerCheckout),
		FeeWallet:            v.GetString(KeyFeeWallet),
		FeePayout:            v.GetString(KeyFeePayout),
		PlatformAccountEmail: v.GetString(KeyPlatformAccountEmail),
		GatewayBaseURL:       v.GetString(KeyGatewayBaseURL),
		GatewayProvider:      v.GetString(KeyGatewayProvider),
		GatewaySecret:        v.GetString(KeyGatewaySecret),
		GatewayTimeout:       v.GetDuration(KeyGatewayTimeout),
		GatewayMaxRetries:    v.GetInt(KeyGatewayMaxRetries),
		JWTSigningKey:        v.GetString(KeyJWTSigningKey),
		JWTIssuer:            v.GetString(KeyJWTIssuer),
		AllowedOrigins:       ParseAllowedOrigins(strings.Join(v.GetStringSlice(KeyAllowedOrigins), ",")),
		RequestTimeout:       v.GetDuration(KeyRequestTimeout),
		RedisURL:             v.GetString(KeyRedisURL),
		RateLimitRequests:    v.GetInt64(KeyRateLimitRequests),
		RateLimitWindow:      v.GetDuration(KeyRateLimitWindow),
	}
}

// ValidateStorage applies defaults to and checks only the database settings.
func (cfg *Config) ValidateStorage() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGorm))
	switch cfg.StoreDriver {
	case StoreDriverGorm:
		return nil
	case StoreDriverPgx:
		if !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("store driver %s requires a postgres database url", StoreDriverPgx)
		}
		return nil
	default:
		return fmt.Errorf("invalid configuration: StoreDriver failed oneof (%q)", cfg.StoreDriver)
	}
}

// Validate applies defaults and checks the configuration.
func (cfg *Config) Validate() error {
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DefaultCurrency = strings.ToUpper(defaultIfEmpty(cfg.DefaultCurrency, defaultCurrency))
	cfg.FeeCustomerCheckout = defaultIfEmpty(cfg.FeeCustomerCheckout, defaultFee)
	cfg.FeeWallet = defaultIfEmpty(cfg.FeeWallet, defaultFee)
	cfg.FeePayout = defaultIfEmpty(cfg.FeePayout, defaultFee)
	cfg.GatewayBaseURL = defaultIfEmpty(cfg.GatewayBaseURL, defaultGatewayBaseURL)
	cfg.GatewayProvider = strings.ToLower(defaultIfEmpty(cfg.GatewayProvider, defaultGatewayProvider))
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	if cfg.GatewayMaxRetries == 0 {
		cfg.GatewayMaxRetries = defaultGatewayMaxRetries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = defaultRateLimitRequests
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = defaultRateLimitWindow
	}
	if err := validate.Struct(cfg); err != nil {
		return describeValidationError(err)
	}
	if _, err := cfg.Fees(); err != nil {
		return err
	}
	return nil
}

// Fees parses the configured flat fees. A zero fee disables that charge.
func (cfg Config) Fees() (settlement.FeeSchedule, error) {
	customerCheckout, err := parseFee(KeyFeeCustomerCheckout, cfg.FeeCustomerCheckout)
	if err != nil {
		return settlement.FeeSchedule{}, err
	}
	wallet, err := parseFee(KeyFeeWallet, cfg.FeeWallet)
	if err != nil {
		return settlement.FeeSchedule{}, err
	}
	payout, err := parseFee(KeyFeePayout, cfg.FeePayout)
	if err != nil {
		return settlement.FeeSchedule{}, err
	}
	return settlement.FeeSchedule{CustomerCheckout: customerCheckout, Wallet: wallet, Payout: payout}, nil
}

// Currency returns the default wallet currency.
func (cfg Config) Currency() (settlement.Currency, error) {
	return settlement.NewCurrency(cfg.DefaultCurrency)
}

// RateLimitEnabled reports whether a Redis URL was configured.
func (cfg Config) RateLimitEnabled() bool {
	return strings.TrimSpace(cfg.RedisURL) != ""
}

func parseFee(key string, raw string) (settlement.Amount, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a decimal", key, raw)
	}
	if value.IsZero() {
		return 0, nil
	}
	amount, err := settlement.NewAmountFromDecimal(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return amount, nil
}

func describeValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	problems := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		problems = append(problems, fmt.Sprintf("%s failed %s", fieldError.Field(), fieldError.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
