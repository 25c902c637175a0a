package cqrs

import "github.com/shopspring/decimal"

// AuthenticateCommand opens an ATM session with a physical card and PIN.
type AuthenticateCommand struct {
	CardNumber string `validate:"required"`
	PIN        string `validate:"required"`
}

type DepositCommand struct {
	CardNumber string          `validate:"required"`
	Amount     decimal.Decimal `validate:"gt=0"`
}

type WithdrawCommand struct {
	CardNumber string          `validate:"required"`
	Amount     decimal.Decimal `validate:"gt=0"`
}

type TransferCommand struct {
	CardNumber   string          `validate:"required"`
	ToCardNumber string          `validate:"required"`
	Amount       decimal.Decimal `validate:"gt=0"`
}

type BillPaymentCommand struct {
	CardNumber string          `validate:"required"`
	Biller     string          `validate:"required,max=64"`
	Reference  string          `validate:"max=40"`
	Amount     decimal.Decimal `validate:"gt=0"`
}

type PinChangeCommand struct {
	CardNumber string `validate:"required"`
	OldPIN     string `validate:"required,len=4,numeric"`
	NewPIN     string `validate:"required,len=4,numeric,nefield=OldPIN"`
}

// VirtualWithdrawCommand authenticates with the card number, CVV and
// expiry instead of a PIN.
type VirtualWithdrawCommand struct {
	CardNumber string          `validate:"required"`
	CVV        string          `validate:"required,len=3,numeric"`
	Expiry     string          `validate:"required"`
	Amount     decimal.Decimal `validate:"gt=0"`
}

type VirtualTransferCommand struct {
	CardNumber   string          `validate:"required"`
	CVV          string          `validate:"required,len=3,numeric"`
	Expiry       string          `validate:"required"`
	ToCardNumber string          `validate:"required"`
	Amount       decimal.Decimal `validate:"gt=0"`
}

// ---------- Administrative commands ----------

type AdminLoginCommand struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required"`
}

// CardStatusCommand blocks or unblocks a card on behalf of an administrator.
type CardStatusCommand struct {
	Actor      string `validate:"required"`
	CardNumber string `validate:"required"`
}

type MaintenanceCommand struct {
	Actor   string `validate:"required"`
	Enabled bool
}
