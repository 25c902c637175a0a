package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money amounts are always held with two decimal places.
const MoneyPlaces = 2

type CardType string

const (
	CardDebit   CardType = "Debit"
	CardCredit  CardType = "Credit"
	CardVirtual CardType = "Virtual"
)

type CardStatus string

const (
	CardActive  CardStatus = "Active"
	CardBlocked CardStatus = "Blocked"
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "Active"
	AccountInactive AccountStatus = "Inactive"
	AccountClosed   AccountStatus = "Closed"
)

// TransactionType tokens are written verbatim into the transaction tables and streams.
type TransactionType string

const (
	TxnBalance       TransactionType = "Balance"
	TxnDeposit       TransactionType = "Deposit"
	TxnWithdrawal    TransactionType = "Withdrawal"
	TxnTransfer      TransactionType = "Transfer"
	TxnPinChange     TransactionType = "PinChange"
	TxnMiniStatement TransactionType = "MiniStatement"
	TxnBillPayment   TransactionType = "BillPayment"
)

// Financial reports whether the type moves money.
func (t TransactionType) Financial() bool {
	switch t {
	case TxnDeposit, TxnWithdrawal, TxnTransfer, TxnBillPayment:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "Success"
	StatusFailed  TransactionStatus = "Failed"
)

type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Active  bool   `json:"active"`
}

type Account struct {
	ID              string          `json:"accountId"`
	CustomerID      string          `json:"customerId"`
	Balance         decimal.Decimal `json:"balance"`
	Currency        string          `json:"currency"`
	Status          AccountStatus   `json:"status"`
	LastTransaction time.Time       `json:"lastTransaction"`
}

// Expiry is a card expiry month/year. A card is usable through the whole
// expiry month.
type Expiry struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Before reports whether e is strictly before the month of t.
func (e Expiry) Before(t time.Time) bool {
	if e.Year != t.Year() {
		return e.Year < t.Year()
	}
	return e.Month < int(t.Month())
}

type DailyLimits struct {
	ATM    decimal.Decimal `json:"atm"`
	POS    decimal.Decimal `json:"pos"`
	Online decimal.Decimal `json:"online"`
}

// Card is the snapshot the backends return. PinVerifier and CvvVerifier are
// bcrypt hashes and never leave the core.
type Card struct {
	ID          string      `json:"cardId"`
	AccountID   string      `json:"accountId"`
	Number      string      `json:"-"`
	Type        CardType    `json:"type"`
	Expiry      Expiry      `json:"expiry"`
	Status      CardStatus  `json:"status"`
	PinVerifier string      `json:"-"`
	CvvVerifier string      `json:"-"`
	Limits      DailyLimits `json:"limits"`
}

type Transaction struct {
	ID            string            `json:"id"`
	CardNumber    string            `json:"-"`
	AccountID     string            `json:"accountId"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	BalanceBefore decimal.Decimal   `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal   `json:"balanceAfter"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        TransactionStatus `json:"status"`
	Remarks       string            `json:"remarks,omitempty"`
}

// MaxRemarksLength bounds Transaction.Remarks.
const MaxRemarksLength = 100

type AuditRecord struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operationId"`
	Sequence    uint64    `json:"sequence"`
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId"`
	Before      string    `json:"before,omitempty"`
	After       string    `json:"after,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type DailyWithdrawal struct {
	CardNumber string          `json:"-"`
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"date"`
	Timestamp  time.Time       `json:"timestamp"`
}

type Session struct {
	ID              string        `json:"id"`
	CardNumber      string        `json:"-"`
	AuthenticatedAt time.Time     `json:"authenticatedAt"`
	LastActivity    time.Time     `json:"lastActivity"`
	IdleTimeout     time.Duration `json:"idleTimeout"`
}

// Expired reports whether the session has been idle past its timeout at now.
func (s *Session) Expired(now time.Time) bool {
	return s.IdleTimeout > 0 && now.Sub(s.LastActivity) > s.IdleTimeout
}

type Admin struct {
	Username         string   `json:"username"`
	PasswordVerifier string   `json:"-"`
	Roles            []string `json:"roles"`
	Active           bool     `json:"active"`
}
