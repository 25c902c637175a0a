package command

import (
	"strings"
	"time"

	"github.com/eaglebank/core-banking/shared/models"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

// Result is what every engine operation returns. Rejections are results,
// not errors. A result never carries a PIN or a full card number.
type Result struct {
	Code          Code
	Success       bool
	Message       string
	OldBalance    decimal.Decimal
	NewBalance    decimal.Decimal
	TransactionID string
	// PartialLog is set when the mutation committed but a record or log
	// line could not be written.
	PartialLog bool
	Statement  []models.StatementLine
	Receipt    *ReceiptDraft
	// Holder is the card holder's name, set on a successful login.
	Holder string
}

func resultOf(code Code) *Result {
	return &Result{Code: code, Message: code.Message()}
}

func succeeded() *Result {
	return &Result{Code: CodeOK, Success: true, Message: CodeOK.Message()}
}

// ReceiptDraft is the data a front-end prints on a receipt. The engine never
// renders it to a customer surface itself.
type ReceiptDraft struct {
	Title         string
	TransactionID string
	MaskedCard    string
	Counterparty  string
	Amount        decimal.Decimal
	Balance       decimal.Decimal
	Currency      string
	Timestamp     time.Time
}

// Render lays the draft out as a two-column text table.
func (r *ReceiptDraft) Render() string {
	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader([]string{r.Title, ""})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.Append([]string{"Date", r.Timestamp.Format("2006-01-02 15:04:05")})
	table.Append([]string{"Transaction", r.TransactionID})
	table.Append([]string{"Card", r.MaskedCard})
	if r.Counterparty != "" {
		table.Append([]string{"To", r.Counterparty})
	}
	if !r.Amount.IsZero() {
		table.Append([]string{"Amount", r.Currency + " " + r.Amount.StringFixed(models.MoneyPlaces)})
	}
	table.Append([]string{"Balance", r.Currency + " " + r.Balance.StringFixed(models.MoneyPlaces)})
	table.Render()
	return b.String()
}
