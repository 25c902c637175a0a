package handler

import (
	"net/http"

	"github.com/eaglebank/core-banking/internal/command"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/gin-gonic/gin"
)

var statusByCode = map[command.Code]int{
	command.CodeOK:                 http.StatusOK,
	command.CodeInvalidFormat:      http.StatusBadRequest,
	command.CodeInvalidAmount:      http.StatusBadRequest,
	command.CodeInvalidOperation:   http.StatusBadRequest,
	command.CodePINMismatch:        http.StatusUnauthorized,
	command.CodeCVVMismatch:        http.StatusUnauthorized,
	command.CodeUnauthorized:       http.StatusUnauthorized,
	command.CodeCardBlocked:        http.StatusForbidden,
	command.CodeCardExpired:        http.StatusForbidden,
	command.CodeCardNotFound:       http.StatusNotFound,
	command.CodeLockHeld:           http.StatusConflict,
	command.CodeInsufficientFunds:  http.StatusUnprocessableEntity,
	command.CodeLimitExceeded:      http.StatusUnprocessableEntity,
	command.CodeMaintenance:        http.StatusServiceUnavailable,
	command.CodeFeatureDisabled:    http.StatusServiceUnavailable,
	command.CodeStorageUnavailable: http.StatusServiceUnavailable,
	command.CodePoolExhausted:      http.StatusServiceUnavailable,
	command.CodeStorageCorrupted:   http.StatusServiceUnavailable,
}

// StatusFor maps an engine code to its HTTP status.
func StatusFor(code command.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type ReceiptResponse struct {
	Title         string `json:"title"`
	TransactionID string `json:"transactionId"`
	Card          string `json:"card"`
	Counterparty  string `json:"counterparty,omitempty"`
	Amount        string `json:"amount"`
	Balance       string `json:"balance"`
	Currency      string `json:"currency"`
	Timestamp     string `json:"timestamp"`
	Text          string `json:"text"`
}

type StatementLineResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ResultResponse struct {
	Code          string                  `json:"code"`
	Success       bool                    `json:"success"`
	Message       string                  `json:"message"`
	OldBalance    string                  `json:"oldBalance,omitempty"`
	NewBalance    string                  `json:"newBalance,omitempty"`
	TransactionID string                  `json:"transactionId,omitempty"`
	PartialLog    bool                    `json:"partialLog,omitempty"`
	Statement     []StatementLineResponse `json:"statement,omitempty"`
	Receipt       *ReceiptResponse        `json:"receipt,omitempty"`
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func toResponse(res *command.Result) ResultResponse {
	out := ResultResponse{
		Code:          string(res.Code),
		Success:       res.Success,
		Message:       res.Message,
		TransactionID: res.TransactionID,
		PartialLog:    res.PartialLog,
	}
	if res.Success {
		out.OldBalance = res.OldBalance.StringFixed(models.MoneyPlaces)
		out.NewBalance = res.NewBalance.StringFixed(models.MoneyPlaces)
	}
	for _, line := range res.Statement {
		out.Statement = append(out.Statement, StatementLineResponse{
			ID:        line.ID,
			Type:      string(line.Type),
			Amount:    line.Amount.StringFixed(models.MoneyPlaces),
			Status:    string(line.Status),
			Timestamp: line.Timestamp.Format(timestampLayout),
		})
	}
	if r := res.Receipt; r != nil {
		out.Receipt = &ReceiptResponse{
			Title:         r.Title,
			TransactionID: r.TransactionID,
			Card:          r.MaskedCard,
			Counterparty:  r.Counterparty,
			Amount:        r.Amount.StringFixed(models.MoneyPlaces),
			Balance:       r.Balance.StringFixed(models.MoneyPlaces),
			Currency:      r.Currency,
			Timestamp:     r.Timestamp.Format(timestampLayout),
			Text:          r.Render(),
		}
	}
	return out
}

// respond writes an engine result with the status its code maps to.
func respond(c *gin.Context, res *command.Result) {
	c.JSON(StatusFor(res.Code), toResponse(res))
}
