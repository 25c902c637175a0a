package handler

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/eaglebank/core-banking/internal/command"
	"github.com/eaglebank/core-banking/shared/cqrs"
	"github.com/eaglebank/core-banking/shared/middleware"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ATMCommander defines the engine operations that change state.
type ATMCommander interface {
	Authenticate(context.Context, cqrs.AuthenticateCommand) (*command.Result, *models.Card)
	Deposit(context.Context, cqrs.DepositCommand) *command.Result
	Withdraw(context.Context, cqrs.WithdrawCommand) *command.Result
	Transfer(context.Context, cqrs.TransferCommand) *command.Result
	PayBill(context.Context, cqrs.BillPaymentCommand) *command.Result
	ChangePIN(context.Context, cqrs.PinChangeCommand) *command.Result
	VirtualWithdraw(context.Context, cqrs.VirtualWithdrawCommand) *command.Result
	VirtualTransfer(context.Context, cqrs.VirtualTransferCommand) *command.Result
}

// ATMQuerier defines the read-side engine operations.
type ATMQuerier interface {
	Balance(context.Context, cqrs.BalanceQuery) *command.Result
	MiniStatement(context.Context, cqrs.MiniStatementQuery) *command.Result
}

// SessionOpener starts and ends customer sessions.
type SessionOpener interface {
	Open(cardNumber string) (string, *models.Session, error)
	Close(token string) error
}

type ATMHandler struct {
	commands ATMCommander
	queries  ATMQuerier
	sessions SessionOpener
}

type OpenSessionRequest struct {
	CardNumber string `json:"cardNumber" validate:"required,cardnumber"`
	PIN        string `json:"pin" validate:"required,pin"`
}

type SessionResponse struct {
	Token              string `json:"token"`
	Holder             string `json:"holder,omitempty"`
	IdleTimeoutSeconds int    `json:"idleTimeoutSeconds"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type TransferRequest struct {
	ToCardNumber string          `json:"toCardNumber" validate:"required,cardnumber"`
	Amount       decimal.Decimal `json:"amount"`
}

type BillPaymentRequest struct {
	Biller    string          `json:"biller" validate:"required,max=64"`
	Reference string          `json:"reference" validate:"max=40"`
	Amount    decimal.Decimal `json:"amount"`
}

type PinChangeRequest struct {
	OldPIN string `json:"oldPin" validate:"required,pin"`
	NewPIN string `json:"newPin" validate:"required,pin"`
}

type VirtualWithdrawRequest struct {
	CardNumber string          `json:"cardNumber" validate:"required,cardnumber"`
	CVV        string          `json:"cvv" validate:"required,cvv"`
	Expiry     string          `json:"expiry" validate:"required,mmyy"`
	Amount     decimal.Decimal `json:"amount"`
}

type VirtualTransferRequest struct {
	CardNumber   string          `json:"cardNumber" validate:"required,cardnumber"`
	CVV          string          `json:"cvv" validate:"required,cvv"`
	Expiry       string          `json:"expiry" validate:"required,mmyy"`
	ToCardNumber string          `json:"toCardNumber" validate:"required,cardnumber"`
	Amount       decimal.Decimal `json:"amount"`
}

func NewATMHandler(commands ATMCommander, queries ATMQuerier, sessions SessionOpener) *ATMHandler {
	return &ATMHandler{commands: commands, queries: queries, sessions: sessions}
}

// bind decodes and validates a request body, answering 400 itself when
// either step fails.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}

func cardOf(c *gin.Context) (string, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok || p.CardNumber == "" {
		middleware.RespondWithError(c, http.StatusUnauthorized, "Session required")
		return "", false
	}
	return p.CardNumber, true
}

func (h *ATMHandler) OpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if !bind(c, &req) {
		return
	}

	res, card := h.commands.Authenticate(c.Request.Context(), cqrs.AuthenticateCommand{
		CardNumber: req.CardNumber,
		PIN:        req.PIN,
	})
	if !res.Success {
		respond(c, res)
		return
	}

	token, s, err := h.sessions.Open(card.Number)
	if err != nil {
		log.Printf("Failed to open session: %v", err)
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to open session")
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{
		Token:              token,
		Holder:             res.Holder,
		IdleTimeoutSeconds: int(s.IdleTimeout.Seconds()),
	})
}

func (h *ATMHandler) CloseSession(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if err := h.sessions.Close(token); err != nil {
		middleware.RespondWithError(c, http.StatusUnauthorized, "Invalid session")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ATMHandler) Balance(c *gin.Context) {
	card, ok := cardOf(c)
	if !ok {
		return
	}
	respond(c, h.queries.Balance(c.Request.Context(), cqrs.BalanceQuery{CardNumber: card}))
}

func (h *ATMHandler) MiniStatement(c *gin.Context) {
	card, ok := cardOf(c)
	if !ok {
		return
	}
	max := 0
	if raw := c.Query("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.RespondWithError(c, http.StatusBadRequest, "Invalid max parameter")
			return
		}
		max = n
	}
	respond(c, h.queries.MiniStatement(c.Request.Context(), cqrs.MiniStatementQuery{CardNumber: card, Max: max}))
}

func (h *ATMHandler) Deposit(c *gin.Context) {
	card, ok := cardOf(c)
	if !ok {
		return
	}
	var req AmountRequest
	if !bind(c, &req) {
		return
	}
	respond(c, h.commands.Deposit(c.Request.Context(), cqrs.DepositCommand{CardNumber: card, Amount: req.Amount}))
}

func (h *ATMHandler) Withdraw(c *gin.Context) {
	card, ok := cardOf(c)
	if !ok {
		return
	}
	var req AmountRequest
	if !bind(c, &req) {
		return
	}
	respond(c, h.commands.Withdraw(c.Request.Context(), cqrs.WithdrawCommand{CardNumber: card, Amount: req.Amount}))
}

func (h *ATMHandler) Transfer(c *gin.Context) {
	card, ok := cardOf(c)
	if !ok {
		return
	}
	var req TransferRequest
	if !bind(c, &req) {
		return
	}
	respond(c, h.commands.Transfer(c.Request.Context(), cqrs.TransferCommand{
		CardNumber:   card,
		ToCardNumber: req.ToCardNumber,
		Amount:       req.Amount,
	}))
}

func (h *ATMHandler) PayBill(c *gin.Context) {
	card, ok := cardOf(c)
	if !ok {
		return
	}
	var req BillPaymentRequest
	if !bind(c, &req) {
		return
	}
	respond(c, h.commands.PayBill(c.Request.Context(), cqrs.BillPaymentCommand{
		CardNumber: card,
		Biller:     req.Biller,
		Reference:  req.Reference,
		Amount:     req.Amount,
	}))
}

func (h *ATMHandler) ChangePIN(c *gin.Context) {
	card, ok := cardOf(c)
	if !ok {
		return
	}
	var req PinChangeRequest
	if !bind(c, &req) {
		return
	}
	respond(c, h.commands.ChangePIN(c.Request.Context(), cqrs.PinChangeCommand{
		CardNumber: card,
		OldPIN:     req.OldPIN,
		NewPIN:     req.NewPIN,
	}))
}

func (h *ATMHandler) VirtualWithdraw(c *gin.Context) {
	var req VirtualWithdrawRequest
	if !bind(c, &req) {
		return
	}
	respond(c, h.commands.VirtualWithdraw(c.Request.Context(), cqrs.VirtualWithdrawCommand{
		CardNumber: req.CardNumber,
		CVV:        req.CVV,
		Expiry:     req.Expiry,
		Amount:     req.Amount,
	}))
}

func (h *ATMHandler) VirtualTransfer(c *gin.Context) {
	var req VirtualTransferRequest
	if !bind(c, &req) {
		return
	}
	respond(c, h.commands.VirtualTransfer(c.Request.Context(), cqrs.VirtualTransferCommand{
		CardNumber:   req.CardNumber,
		CVV:          req.CVV,
		Expiry:       req.Expiry,
		ToCardNumber: req.ToCardNumber,
		Amount:       req.Amount,
	}))
}
