// Package config handles application configuration from environment variables
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Energy rental modes.
const (
	RentalModeTransfer = "transfer"
	RentalModeAPI      = "api"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage
	DatabaseURL      string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL         string // Redis for energy tickets (optional)
	EnergyTicketMode string // "memory" or "redis"

	// Chain access
	TronNodes     []string
	TronAPIKey    string
	USDTContract  string
	CredentialKey []byte // 32 bytes, seals wallet private keys at rest

	// Dispatch policy
	AutoTransferEnabled bool
	MaxRetryCount       int
	DispatchInterval    time.Duration
	DispatchWorkers     int
	SubmitTimeout       time.Duration
	TxExpiry            time.Duration // how long an unconfirmed broadcast may still land
	PaymentWindow       time.Duration

	// Wallet defaults
	MinCoinBalanceAlert  decimal.Decimal
	MinTokenBalanceAlert decimal.Decimal
	MinEnergyAlert       int64
	WalletRefresh        time.Duration

	// Fee estimates (TRX) used by wallet selection
	TRXTransferFee     decimal.Decimal
	USDTTransferFeeTRX decimal.Decimal

	// Energy provisioning
	EnergyRentalMode       string
	EnergyProviderAddress  string
	EnergyRentalTRX        decimal.Decimal
	EnergyAPIURL           string
	EnergyAPIKey           string
	EnergyLeaseDuration    time.Duration
	EnergyNewHolder        int64
	EnergyExistingHolder   int64
	EnergyDailyBudgetTRX   decimal.Decimal
	ResourceProvisionWait  time.Duration
	EnergyPollInterval     time.Duration

	// Security
	AdminSecret    string
	RateLimitRPS   int
	AllowedOrigins []string

	// Observability
	OTLPEndpoint string
}

// Defaults target TRON mainnet.
const (
	DefaultTronNode       = "https://api.trongrid.io"
	DefaultUSDTContract   = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultRateLimit      = 10
	DefaultMaxRetryCount  = 3
	DefaultEnergyNew      = 131_000
	DefaultEnergyExisting = 65_000
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		EnergyTicketMode:      getEnv("ENERGY_TICKET_STORE", "memory"),
		TronNodes:             getEnvList("TRON_NODES", DefaultTronNode),
		TronAPIKey:            os.Getenv("TRON_API_KEY"),
		USDTContract:          getEnv("USDT_CONTRACT", DefaultUSDTContract),
		AutoTransferEnabled:   getEnvBool("AUTO_TRANSFER_ENABLED", true),
		MaxRetryCount:         int(getEnvInt64("MAX_RETRY_COUNT", DefaultMaxRetryCount)),
		DispatchInterval:      getEnvDuration("DISPATCH_INTERVAL", 5*time.Second),
		DispatchWorkers:       int(getEnvInt64("DISPATCH_WORKERS", 4)),
		SubmitTimeout:         time.Duration(getEnvInt64("SUBMIT_TIMEOUT_SECONDS", 20)) * time.Second,
		TxExpiry:              getEnvDuration("TX_EXPIRY_WINDOW", 2*time.Minute),
		PaymentWindow:         getEnvDuration("ORDER_PAYMENT_WINDOW", 30*time.Minute),
		MinCoinBalanceAlert:   getEnvDecimal("MIN_COIN_BALANCE_ALERT", "50"),
		MinTokenBalanceAlert:  getEnvDecimal("MIN_TOKEN_BALANCE_ALERT", "100"),
		MinEnergyAlert:        getEnvInt64("MIN_ENERGY_ALERT", 0),
		WalletRefresh:         getEnvDuration("WALLET_REFRESH_INTERVAL", time.Minute),
		TRXTransferFee:        getEnvDecimal("TRX_TRANSFER_FEE", "1.1"),
		USDTTransferFeeTRX:    getEnvDecimal("USDT_TRANSFER_FEE_TRX", "15"),
		EnergyRentalMode:      getEnv("ENERGY_RENTAL_MODE", RentalModeTransfer),
		EnergyProviderAddress: os.Getenv("ENERGY_PROVIDER_ADDRESS"),
		EnergyRentalTRX:       getEnvDecimal("ENERGY_RENTAL_TRX", "8"),
		EnergyAPIURL:          os.Getenv("ENERGY_API_URL"),
		EnergyAPIKey:          os.Getenv("ENERGY_API_KEY"),
		EnergyLeaseDuration:   getEnvDuration("ENERGY_LEASE_DURATION", time.Hour),
		EnergyNewHolder:       getEnvInt64("ENERGY_NEW_HOLDER", DefaultEnergyNew),
		EnergyExistingHolder:  getEnvInt64("ENERGY_EXISTING_HOLDER", DefaultEnergyExisting),
		EnergyDailyBudgetTRX:  getEnvDecimal("ENERGY_DAILY_BUDGET_TRX", "0"),
		ResourceProvisionWait: time.Duration(getEnvInt64("RESOURCE_PROVISION_TIMEOUT_SECONDS", 45)) * time.Second,
		EnergyPollInterval:    getEnvDuration("ENERGY_POLL_INTERVAL", 3*time.Second),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:          int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		AllowedOrigins:        getEnvList("CORS_ALLOWED_ORIGINS", ""),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if raw := os.Getenv("CREDENTIAL_KEY"); raw != "" {
		key, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("CREDENTIAL_KEY must be hex: %w", err)
		}
		cfg.CredentialKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if len(c.TronNodes) == 0 {
		return fmt.Errorf("TRON_NODES is required")
	}
	if len(c.CredentialKey) != 32 {
		return fmt.Errorf("CREDENTIAL_KEY must be 64 hex characters")
	}
	if c.MaxRetryCount < 1 {
		return fmt.Errorf("MAX_RETRY_COUNT must be at least 1")
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be at least 1")
	}
	if c.EnergyNewHolder < c.EnergyExistingHolder {
		return fmt.Errorf("ENERGY_NEW_HOLDER must be >= ENERGY_EXISTING_HOLDER")
	}

	switch c.EnergyRentalMode {
	case RentalModeTransfer:
		if c.EnergyProviderAddress == "" {
			return fmt.Errorf("ENERGY_PROVIDER_ADDRESS is required for transfer rental mode")
		}
		if !c.EnergyRentalTRX.IsPositive() {
			return fmt.Errorf("ENERGY_RENTAL_TRX must be positive")
		}
	case RentalModeAPI:
		if c.EnergyAPIURL == "" {
			return fmt.Errorf("ENERGY_API_URL is required for api rental mode")
		}
	default:
		return fmt.Errorf("ENERGY_RENTAL_MODE must be %q or %q", RentalModeTransfer, RentalModeAPI)
	}

	if c.EnergyTicketMode == "redis" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when ENERGY_TICKET_STORE=redis")
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(defaultValue)
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
