package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Redis       RedisConfig
	Formance    FormanceConfig
	Paystack    GatewayConfig
	Stripe      GatewayConfig
	Idempotency IdempotencyConfig
	Reconcile   ReconcileConfig
	PolicyFile  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AdminToken      string
	AllowedOrigins  []string
}

// RedisConfig holds fraud state store settings. An empty Addr selects the in-memory store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FormanceConfig holds the optional ledger mirror settings. Disabled when StackURL is empty.
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
	QueueSize    int
	Timeout      time.Duration
}

// GatewayConfig holds credentials and endpoints for one payment gateway
type GatewayConfig struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	CancelURL   string
	Timeout     time.Duration
}

// IdempotencyConfig holds idempotency key settings
type IdempotencyConfig struct {
	TTL time.Duration
}

// ReconcileConfig holds reconciliation pass settings
type ReconcileConfig struct {
	Interval  time.Duration
	BatchSize int
	// StaleAfter is how long a requested or locked withdrawal may sit
	// untouched before the reconciler takes it over.
	StaleAfter time.Duration
}

// Policy is the static money-movement policy loaded from the policy file
type Policy struct {
	CommissionRate   decimal.Decimal
	Fees             map[string]FeeSchedule
	LargeTransaction map[string]int64
	Rates            map[string]map[string]decimal.Decimal
	Coupons          map[string]Coupon
	Tiers            map[string]map[string]TierLimits
	DefaultTier      string
	Fraud            FraudPolicy
}

// FeeSchedule is a currency's payout gateway fee. A zero Cap means uncapped.
type FeeSchedule struct {
	Percent decimal.Decimal
	Fixed   decimal.Decimal
	Floor   decimal.Decimal
	Cap     decimal.Decimal
}

// CouponKind selects how a coupon discounts a price
type CouponKind string

const (
	CouponPercent CouponKind = "percent"
	CouponFixed   CouponKind = "fixed"
)

// Coupon is a named discount scoped to content ids. Empty ContentIds applies to any content.
type Coupon struct {
	Code       string
	Kind       CouponKind
	Value      decimal.Decimal
	ContentIds []string
}

// TierLimits are the default withdrawal caps of a tier for one currency
type TierLimits struct {
	Daily   int64
	Monthly int64
}

// FraudPolicy holds risk signal thresholds and weights
type FraudPolicy struct {
	VelocityMaxCount   int64
	VelocityMaxSum     map[string]int64
	NewPayeeGrace      time.Duration
	OffHoursStart      int
	OffHoursEnd        int
	BaselineMultiplier decimal.Decimal
	BaselineMinSamples int64
	ReviewThreshold    int
	BlockThreshold     int
	Weights            FraudWeights
}

// FraudWeights are the score contributions of each signal
type FraudWeights struct {
	Velocity          int
	VelocitySum       int
	LargeTransaction  int
	NewPayee          int
	OffHours          int
	BaselineDeviation int
}
