// Package validation checks presented card data against the active backend.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/eaglebank/core-banking/shared/utils"
	"github.com/shopspring/decimal"
)

// Result is the validator's verdict. The set is closed.
type Result int

const (
	Valid Result = iota
	InvalidFormat
	NotFound
	Expired
	CVVInvalid
	Blocked
	PINInvalid
	Error
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case InvalidFormat:
		return "invalid-format"
	case NotFound:
		return "not-found"
	case Expired:
		return "expired"
	case CVVInvalid:
		return "cvv-invalid"
	case Blocked:
		return "blocked"
	case PINInvalid:
		return "pin-invalid"
	default:
		return "error"
	}
}

// Store is what the validator reads.
type Store interface {
	GetCard(ctx context.Context, cardNumber string) (*models.Card, error)
	ValidatePIN(ctx context.Context, cardNumber, pin string) (bool, error)
	ValidateCVV(ctx context.Context, cardNumber, cvv string) (bool, error)
	DailyWithdrawals(ctx context.Context, cardNumber string) (decimal.Decimal, error)
}

type Validator struct {
	store  Store
	scheme repository.CardScheme
	now    func() time.Time
}

func New(store Store, scheme repository.CardScheme) *Validator {
	return &Validator{store: store, scheme: scheme, now: time.Now}
}

// Normalize strips separators and checks digits, length and, when the scheme
// asks for it, the Luhn checksum.
func (v *Validator) Normalize(number string) (string, Result) {
	n := utils.NormalizeCardNumber(number)
	if !utils.IsDigits(n) {
		return "", InvalidFormat
	}
	if v.scheme.Length > 0 && len(n) != v.scheme.Length {
		return "", InvalidFormat
	}
	if v.scheme.Luhn && !utils.LuhnValid(n) {
		return "", InvalidFormat
	}
	return n, Valid
}

// IsExpired reports whether the card's expiry month lies before the current
// month in the local time zone.
func (v *Validator) IsExpired(card *models.Card) bool {
	return card.Expiry.Before(v.now())
}

// Card resolves a normalized number and checks existence, status and expiry,
// in that order.
func (v *Validator) Card(ctx context.Context, number string) (*models.Card, Result, error) {
	card, err := v.store.GetCard(ctx, number)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFound, nil
	}
	if err != nil {
		return nil, Error, err
	}
	if card.Status != models.CardActive {
		return card, Blocked, nil
	}
	if v.IsExpired(card) {
		return card, Expired, nil
	}
	return card, Valid, nil
}

// PIN checks the presented PIN against the card's verifier.
func (v *Validator) PIN(ctx context.Context, number, pin string) (Result, error) {
	if !utils.ValidatePIN(pin) {
		return InvalidFormat, nil
	}
	ok, err := v.store.ValidatePIN(ctx, number, pin)
	if err != nil {
		return Error, err
	}
	if !ok {
		return PINInvalid, nil
	}
	return Valid, nil
}

// CVV checks the presented CVV against the card's verifier.
func (v *Validator) CVV(ctx context.Context, number, cvv string) (Result, error) {
	if !utils.ValidateCVV(cvv) {
		return InvalidFormat, nil
	}
	ok, err := v.store.ValidateCVV(ctx, number, cvv)
	if err != nil {
		return Error, err
	}
	if !ok {
		return CVVInvalid, nil
	}
	return Valid, nil
}

// ParseExpiry reads an MM/YY or MM/YYYY expiry.
func ParseExpiry(s string) (models.Expiry, error) {
	month, year, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return models.Expiry{}, fmt.Errorf("expiry %q is not MM/YY", s)
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return models.Expiry{}, fmt.Errorf("expiry month %q out of range", month)
	}
	y, err := strconv.Atoi(year)
	if err != nil || y < 0 {
		return models.Expiry{}, fmt.Errorf("expiry year %q invalid", year)
	}
	switch len(year) {
	case 2:
		y += 2000
	case 4:
	default:
		return models.Expiry{}, fmt.Errorf("expiry year %q invalid", year)
	}
	return models.Expiry{Month: m, Year: y}, nil
}

// Triple validates the virtual (number, CVV, expiry) credentials. A presented
// expiry that differs from the stored one counts as a card verification
// failure, like a wrong CVV.
func (v *Validator) Triple(ctx context.Context, number, cvv, expiry string) (*models.Card, Result, error) {
	n, res := v.Normalize(number)
	if res != Valid {
		return nil, res, nil
	}
	presented, err := ParseExpiry(expiry)
	if err != nil {
		return nil, InvalidFormat, nil
	}
	card, res, err := v.Card(ctx, n)
	if res != Valid {
		return card, res, err
	}
	if res, err := v.CVV(ctx, n, cvv); res != Valid {
		return card, res, err
	}
	if presented != card.Expiry {
		return card, CVVInvalid, nil
	}
	return card, Valid, nil
}

// WithinDailyLimit reports whether today's withdrawals plus amount stay at or
// below limit, along with today's total before amount.
func (v *Validator) WithinDailyLimit(ctx context.Context, number string, amount, limit decimal.Decimal) (bool, decimal.Decimal, error) {
	total, err := v.store.DailyWithdrawals(ctx, number)
	if err != nil {
		return false, decimal.Zero, err
	}
	return total.Add(amount).LessThanOrEqual(limit), total, nil
}
