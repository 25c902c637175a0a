// Package config provides typed reads over the core's key-value settings.
// Values come from an optional config file, TPC_-prefixed environment
// variables and runtime Set calls, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ErrConfigInvalid is returned when a value cannot be read as the requested type.
var ErrConfigInvalid = errors.New("config invalid")

const (
	KeyMaintenanceMode        = "maintenance-mode"
	KeyATMWithdrawalLimit     = "atm-withdrawal-limit"
	KeyVirtualWithdrawalLimit = "virtual-withdrawal-limit"
	KeyDailyTransactionLimit  = "daily-transaction-limit"
	KeyVirtualEnabled         = "virtual-enabled"
	KeySessionTimeoutSeconds  = "session-timeout-seconds"
	KeyMaxPinAttempts         = "max-pin-attempts"
	KeyMiniStatementSize      = "mini-statement-size"
	KeyCurrency               = "currency"

	KeyDataDir            = "data-dir"
	KeyLogDir             = "log-dir"
	KeyTempDir            = "temp-dir"
	KeyLogMaxSizeMB       = "log-max-size-mb"
	KeyLogRetentionDays   = "log-retention-days"
	KeyAuditRetentionDays = "audit-retention-days"
	KeyFileFallback       = "file-backend-fallback"

	KeyPoolMin              = "db-pool-min"
	KeyPoolMax              = "db-pool-max"
	KeyPoolInitial          = "db-pool-initial"
	KeyPoolBorrowTimeoutMS  = "db-pool-borrow-timeout-ms"
	KeyPoolIdleTimeoutSecs  = "db-pool-idle-timeout-seconds"
	KeyPoolValidateOnBorrow = "db-pool-validate-on-borrow"
)

// Defaults holds the built-in value of every key the core reads.
var Defaults = map[string]any{
	KeyMaintenanceMode:        false,
	KeyATMWithdrawalLimit:     "25000",
	KeyVirtualWithdrawalLimit: "10000",
	KeyDailyTransactionLimit:  "50000",
	KeyVirtualEnabled:         false,
	KeySessionTimeoutSeconds:  180,
	KeyMaxPinAttempts:         3,
	KeyMiniStatementSize:      5,
	KeyCurrency:               "INR",

	KeyDataDir:            "data",
	KeyLogDir:             "logs",
	KeyTempDir:            "data/temp",
	KeyLogMaxSizeMB:       10,
	KeyLogRetentionDays:   7,
	KeyAuditRetentionDays: 2555,
	KeyFileFallback:       true,

	KeyPoolMin:              3,
	KeyPoolMax:              10,
	KeyPoolInitial:          5,
	KeyPoolBorrowTimeoutMS:  5000,
	KeyPoolIdleTimeoutSecs:  300,
	KeyPoolValidateOnBorrow: true,
}

type Provider struct {
	mu sync.RWMutex
	v  *viper.Viper
}

// New loads path when it is non-empty and exists, then layers the environment
// and Defaults underneath.
func New(path string) (*Provider, error) {
	v := viper.New()
	v.SetEnvPrefix("TPC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			log.Printf("Config file %s not found, using defaults", path)
		} else {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w: %v", path, ErrConfigInvalid, err)
			}
		}
	}
	return &Provider{v: v}, nil
}

// Set overrides key at runtime.
func (p *Provider) Set(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set(key, value)
}

func (p *Provider) raw(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.v.IsSet(key) {
		return nil, false
	}
	return p.v.Get(key), true
}

func invalid(key string, err error) error {
	return fmt.Errorf("key %q: %w: %v", key, ErrConfigInvalid, err)
}

func (p *Provider) String(key, def string) (string, error) {
	raw, ok := p.raw(key)
	if !ok {
		return def, nil
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return def, invalid(key, err)
	}
	return s, nil
}

func (p *Provider) Int(key string, def int) (int, error) {
	raw, ok := p.raw(key)
	if !ok {
		return def, nil
	}
	i, err := cast.ToIntE(raw)
	if err != nil {
		return def, invalid(key, err)
	}
	return i, nil
}

func (p *Provider) Float(key string, def float64) (float64, error) {
	raw, ok := p.raw(key)
	if !ok {
		return def, nil
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return def, invalid(key, err)
	}
	return f, nil
}

func (p *Provider) Bool(key string, def bool) (bool, error) {
	raw, ok := p.raw(key)
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(raw)
	if err != nil {
		return def, invalid(key, err)
	}
	return b, nil
}

// Money reads a non-negative amount rounded to two places.
func (p *Provider) Money(key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := p.raw(key)
	if !ok {
		return def, nil
	}
	var (
		amount decimal.Decimal
		err    error
	)
	switch v := raw.(type) {
	case decimal.Decimal:
		amount = v
	case string:
		amount, err = decimal.NewFromString(strings.TrimSpace(v))
	default:
		var f float64
		if f, err = cast.ToFloat64E(v); err == nil {
			amount = decimal.NewFromFloat(f)
		}
	}
	if err != nil {
		return def, invalid(key, err)
	}
	if amount.IsNegative() {
		return def, invalid(key, fmt.Errorf("negative amount %s", amount))
	}
	return amount.Round(2), nil
}

// Limits is the policy snapshot the engine reads once per operation.
type Limits struct {
	MaintenanceMode        bool
	VirtualEnabled         bool
	ATMWithdrawalLimit     decimal.Decimal
	VirtualWithdrawalLimit decimal.Decimal
	DailyTransactionLimit  decimal.Decimal
	MaxPinAttempts         int
	MiniStatementSize      int
	Currency               string
}

// Limits reads every policy key and reports the first invalid one.
func (p *Provider) Limits() (Limits, error) {
	var (
		l    Limits
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	l.MaintenanceMode, err = p.Bool(KeyMaintenanceMode, false)
	collect(err)
	l.VirtualEnabled, err = p.Bool(KeyVirtualEnabled, false)
	collect(err)
	l.ATMWithdrawalLimit, err = p.Money(KeyATMWithdrawalLimit, decimal.NewFromInt(25000))
	collect(err)
	l.VirtualWithdrawalLimit, err = p.Money(KeyVirtualWithdrawalLimit, decimal.NewFromInt(10000))
	collect(err)
	l.DailyTransactionLimit, err = p.Money(KeyDailyTransactionLimit, decimal.NewFromInt(50000))
	collect(err)
	l.MaxPinAttempts, err = p.Int(KeyMaxPinAttempts, 3)
	collect(err)
	l.MiniStatementSize, err = p.Int(KeyMiniStatementSize, 5)
	collect(err)
	l.Currency, err = p.String(KeyCurrency, "INR")
	collect(err)
	if len(errs) > 0 {
		return l, errs[0]
	}
	return l, nil
}

// SessionTimeout is the idle limit for customer sessions.
func (p *Provider) SessionTimeout() (time.Duration, error) {
	secs, err := p.Int(KeySessionTimeoutSeconds, 180)
	return time.Duration(secs) * time.Second, err
}

// Storage holds the paths, log rotation and pool settings used at startup.
type Storage struct {
	DataDir            string
	LogDir             string
	TempDir            string
	LogMaxSizeMB       int
	LogRetentionDays   int
	AuditRetentionDays int
	FileFallback       bool

	PoolMin              int
	PoolMax              int
	PoolInitial          int
	PoolBorrowTimeout    time.Duration
	PoolIdleTimeout      time.Duration
	PoolValidateOnBorrow bool
}

func (p *Provider) Storage() (Storage, error) {
	var (
		s    Storage
		errs []error
		err  error
	)
	str := func(dst *string, key, def string) {
		if *dst, err = p.String(key, def); err != nil {
			errs = append(errs, err)
		}
	}
	num := func(dst *int, key string, def int) {
		if *dst, err = p.Int(key, def); err != nil {
			errs = append(errs, err)
		}
	}
	flag := func(dst *bool, key string, def bool) {
		if *dst, err = p.Bool(key, def); err != nil {
			errs = append(errs, err)
		}
	}
	var borrowMS, idleSecs int

	str(&s.DataDir, KeyDataDir, "data")
	str(&s.LogDir, KeyLogDir, "logs")
	str(&s.TempDir, KeyTempDir, "data/temp")
	num(&s.LogMaxSizeMB, KeyLogMaxSizeMB, 10)
	num(&s.LogRetentionDays, KeyLogRetentionDays, 7)
	num(&s.AuditRetentionDays, KeyAuditRetentionDays, 2555)
	flag(&s.FileFallback, KeyFileFallback, true)
	num(&s.PoolMin, KeyPoolMin, 3)
	num(&s.PoolMax, KeyPoolMax, 10)
	num(&s.PoolInitial, KeyPoolInitial, 5)
	num(&borrowMS, KeyPoolBorrowTimeoutMS, 5000)
	num(&idleSecs, KeyPoolIdleTimeoutSecs, 300)
	flag(&s.PoolValidateOnBorrow, KeyPoolValidateOnBorrow, true)

	s.PoolBorrowTimeout = time.Duration(borrowMS) * time.Millisecond
	s.PoolIdleTimeout = time.Duration(idleSecs) * time.Second
	if len(errs) > 0 {
		return s, errs[0]
	}
	return s, nil
}
