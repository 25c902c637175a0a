// Package repository defines the data access contract shared by every storage
// backend of the transaction core. Implementations live in the postgres and
// flatfile sub-packages; the command engine is written against these
// interfaces only.
package repository

import (
	"context"

	"github.com/eaglebank/core-banking/shared/models"
	"github.com/shopspring/decimal"
)

// CardScheme describes the card number format a backend stores.
type CardScheme struct {
	Length int
	Luhn   bool
}

// Conn is a backend-opaque connection handle. It must be released exactly once.
type Conn interface {
	Release()
}

// CardReader covers the card lookups used by the validator and the engine.
type CardReader interface {
	CardExists(ctx context.Context, cardNumber string) (bool, error)
	CardActive(ctx context.Context, cardNumber string) (bool, error)
	GetCard(ctx context.Context, cardNumber string) (*models.Card, error)
	ValidatePIN(ctx context.Context, cardNumber, pin string) (bool, error)
	ValidateCVV(ctx context.Context, cardNumber, cvv string) (bool, error)
	HolderName(ctx context.Context, cardNumber string) (string, error)
	HolderPhone(ctx context.Context, cardNumber string) (string, error)
}

// Ledger covers balances and the append-only records. Within an Atomic
// envelope the same capabilities run against the envelope.
type Ledger interface {
	FetchBalance(ctx context.Context, cardNumber string) (decimal.Decimal, error)
	UpdateBalance(ctx context.Context, cardNumber string, newBalance decimal.Decimal) error
	DailyWithdrawals(ctx context.Context, cardNumber string) (decimal.Decimal, error)
	LogWithdrawal(ctx context.Context, cardNumber string, amount decimal.Decimal) error
	LogTransaction(ctx context.Context, txn *models.Transaction) error
	MiniStatement(ctx context.Context, cardNumber string, max int) ([]models.Transaction, error)
}

// CardWriter covers the card state mutations.
type CardWriter interface {
	BlockCard(ctx context.Context, cardNumber string) (bool, error)
	UnblockCard(ctx context.Context, cardNumber string) (bool, error)
	UpdatePIN(ctx context.Context, cardNumber, newPinVerifier string) error
}

// Tx is the view of the store inside an atomic envelope.
type Tx interface {
	Ledger
	CardWriter
	GetCard(ctx context.Context, cardNumber string) (*models.Card, error)
}

// DataAccess is the full capability set a backend binding exposes.
type DataAccess interface {
	CardReader
	CardWriter
	Ledger

	// Atomic runs fn inside a backend-native envelope: a database transaction
	// for the relational backend, a snapshot/restore pair for the file
	// backend. fn's error aborts the envelope and is returned unchanged unless
	// the abort itself failed.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	VerifyAdmin(ctx context.Context, username, password string) (*models.Admin, error)

	Acquire(ctx context.Context) (Conn, error)
	Scheme() CardScheme
	Name() string
	Close() error
}
