package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HolderView is the read projection of a card holder used by the front-ends.
// It never carries the card number or any verifier.
type HolderView struct {
	CardID     string `json:"cardId"`
	AccountID  string `json:"accountId"`
	CustomerID string `json:"customerId"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
}

// StatementLine is one row of a mini-statement as shown to a customer.
type StatementLine struct {
	ID        string            `json:"id"`
	Type      TransactionType   `json:"type"`
	Amount    decimal.Decimal   `json:"amount"`
	Status    TransactionStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

func TransactionToStatementLine(t Transaction) StatementLine {
	return StatementLine{
		ID:        t.ID,
		Type:      t.Type,
		Amount:    t.Amount,
		Status:    t.Status,
		Timestamp: t.Timestamp,
	}
}
