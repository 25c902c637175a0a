package command

import (
	"context"
	"fmt"
	"log"

	"github.com/eaglebank/core-banking/internal/audit"
	"github.com/eaglebank/core-banking/internal/config"
	"github.com/eaglebank/core-banking/internal/validation"
	"github.com/eaglebank/core-banking/shared/cqrs"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/eaglebank/core-banking/shared/utils"
)

// Authenticate checks a card and PIN for a new ATM session. Failures count
// towards the card's daily attempts; the result carries the holder's name
// on success.
func (e *Engine) Authenticate(ctx context.Context, cmd cqrs.AuthenticateCommand) (*Result, *models.Card) {
	number := utils.NormalizeCardNumber(cmd.CardNumber)
	actor := audit.MaskCard(number)
	maxAttempts, _ := e.config.Int(config.KeyMaxPinAttempts, 3)

	code, card := e.authenticate(ctx, cmd, number)
	switch code {
	case CodeOK:
		e.logs.AuthSuccess(card.Number)
	case CodePINMismatch:
		if _, err := e.logs.AuthFailure(actor, "PIN_FAILED", card.Number, "login rejected: incorrect PIN", maxAttempts); err != nil {
			log.Printf("Failed to write security stream: %v", err)
		}
	default:
		o := &op{action: "CARD_LOGIN", actor: actor, resource: number}
		e.security(o, code)
	}

	rec := models.AuditRecord{
		OperationID: e.logs.NewOperationID(),
		Actor:       actor,
		Action:      "CARD_LOGIN",
		EntityType:  "card",
		EntityID:    actor,
		Detail:      "login " + string(code),
	}
	if card != nil {
		rec.EntityID = card.ID
	}
	if _, err := e.logs.Audit(ctx, rec); err != nil {
		log.Printf("Failed to audit card login: %v", err)
	}

	res := resultOf(code)
	if code != CodeOK {
		return res, nil
	}
	res.Success = true
	if name, err := e.store.HolderName(ctx, card.Number); err == nil {
		res.Holder = name
	}
	return res, card
}

func (e *Engine) authenticate(ctx context.Context, cmd cqrs.AuthenticateCommand, number string) (Code, *models.Card) {
	if err := cqrs.Validate(cmd); err != nil {
		return commandCode(err), nil
	}
	number, res := e.validator.Normalize(number)
	if res != validation.Valid {
		return CodeInvalidFormat, nil
	}
	card, res, err := e.validator.Card(ctx, number)
	if err != nil {
		return codeFor("load card", err), nil
	}
	if res != validation.Valid {
		return verdictCode(res), card
	}
	res, err = e.validator.PIN(ctx, number, cmd.PIN)
	if err != nil {
		return codeFor("verify PIN", err), card
	}
	return verdictCode(res), card
}

// AdminLogin verifies back-office credentials.
func (e *Engine) AdminLogin(ctx context.Context, cmd cqrs.AdminLoginCommand) (*Result, *models.Admin) {
	code := CodeOK
	var admin *models.Admin
	if err := cqrs.Validate(cmd); err != nil {
		code = commandCode(err)
	} else {
		var verr error
		admin, verr = e.store.VerifyAdmin(ctx, cmd.Username, cmd.Password)
		code = codeFor("verify admin", verr)
	}

	key := "admin:" + cmd.Username
	if code == CodeOK {
		e.logs.AuthSuccess(key)
	} else if code == CodeUnauthorized {
		maxAttempts, _ := e.config.Int(config.KeyMaxPinAttempts, 3)
		if _, err := e.logs.AuthFailure(cmd.Username, "ADMIN_LOGIN_FAILED", key, "invalid credentials", maxAttempts); err != nil {
			log.Printf("Failed to write security stream: %v", err)
		}
	}
	if _, err := e.logs.Audit(ctx, models.AuditRecord{
		OperationID: e.logs.NewOperationID(),
		Actor:       cmd.Username,
		Action:      "ADMIN_LOGIN",
		EntityType:  "admin",
		EntityID:    cmd.Username,
		Detail:      "login " + string(code),
	}); err != nil {
		log.Printf("Failed to audit admin login: %v", err)
	}

	res := resultOf(code)
	res.Success = code == CodeOK
	return res, admin
}

// BlockCard moves an active card to blocked.
func (e *Engine) BlockCard(ctx context.Context, cmd cqrs.CardStatusCommand) *Result {
	return e.setCardStatus(ctx, cmd, models.CardBlocked)
}

// UnblockCard moves a blocked card back to active.
func (e *Engine) UnblockCard(ctx context.Context, cmd cqrs.CardStatusCommand) *Result {
	return e.setCardStatus(ctx, cmd, models.CardActive)
}

func (e *Engine) setCardStatus(ctx context.Context, cmd cqrs.CardStatusCommand, to models.CardStatus) *Result {
	action, from := "BLOCK_CARD", models.CardActive
	if to == models.CardActive {
		action, from = "UNBLOCK_CARD", models.CardBlocked
	}
	if e.corrupted.Load() {
		return resultOf(CodeStorageCorrupted)
	}
	if err := cqrs.Validate(cmd); err != nil {
		return resultOf(commandCode(err))
	}
	number, res := e.validator.Normalize(cmd.CardNumber)
	if res != validation.Valid {
		return resultOf(CodeInvalidFormat)
	}

	var changed bool
	err := e.lock.With(func() error {
		var err error
		if to == models.CardBlocked {
			changed, err = e.store.BlockCard(ctx, number)
		} else {
			changed, err = e.store.UnblockCard(ctx, number)
		}
		return err
	})
	if err != nil {
		return resultOf(codeFor(fmt.Sprintf("%s %s", action, audit.MaskCard(number)), err))
	}
	if !changed {
		res := resultOf(CodeInvalidOperation)
		res.Message = fmt.Sprintf("Card is already %s", to)
		return res
	}

	if _, err := e.logs.Audit(ctx, models.AuditRecord{
		OperationID: e.logs.NewOperationID(),
		Actor:       cmd.Actor,
		Action:      action,
		EntityType:  "card",
		EntityID:    audit.MaskCard(number),
		Before:      fmt.Sprintf(`{"status":"%s"}`, from),
		After:       fmt.Sprintf(`{"status":"%s"}`, to),
	}); err != nil {
		log.Printf("Failed to audit %s: %v", action, err)
		r := succeeded()
		r.PartialLog = true
		return r
	}
	return succeeded()
}

// SetMaintenance switches maintenance mode for every later operation.
func (e *Engine) SetMaintenance(ctx context.Context, cmd cqrs.MaintenanceCommand) *Result {
	if err := cqrs.Validate(cmd); err != nil {
		return resultOf(commandCode(err))
	}
	before, _ := e.config.Bool(config.KeyMaintenanceMode, false)
	e.config.Set(config.KeyMaintenanceMode, cmd.Enabled)

	r := succeeded()
	if _, err := e.logs.Audit(ctx, models.AuditRecord{
		OperationID: e.logs.NewOperationID(),
		Actor:       cmd.Actor,
		Action:      "SET_MAINTENANCE",
		EntityType:  "config",
		EntityID:    config.KeyMaintenanceMode,
		Before:      fmt.Sprintf(`{"enabled":%t}`, before),
		After:       fmt.Sprintf(`{"enabled":%t}`, cmd.Enabled),
	}); err != nil {
		log.Printf("Failed to audit maintenance change: %v", err)
		r.PartialLog = true
	}
	return r
}
