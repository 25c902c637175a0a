// Package command is the transaction engine: the only code path that moves
// money. Each operation is admitted (maintenance gate, command checks, card
// verdict), limit-checked, applied inside one store envelope while holding
// the process mutation lock, and then recorded in the store and in the log
// streams.
package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/eaglebank/core-banking/internal/audit"
	"github.com/eaglebank/core-banking/internal/config"
	"github.com/eaglebank/core-banking/internal/lock"
	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/internal/validation"
	"github.com/eaglebank/core-banking/shared/cqrs"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/eaglebank/core-banking/shared/utils"
	"github.com/shopspring/decimal"
)

type Engine struct {
	store     repository.DataAccess
	validator *validation.Validator
	config    *config.Provider
	lock      *lock.Lock
	logs      *audit.Logger
	now       func() time.Time

	// corrupted latches after a failed rollback; mutations are refused
	// until the process is restarted by an operator.
	corrupted atomic.Bool
}

func NewEngine(store repository.DataAccess, cfg *config.Provider, lk *lock.Lock, logs *audit.Logger) *Engine {
	return &Engine{
		store:     store,
		validator: validation.New(store, store.Scheme()),
		config:    cfg,
		lock:      lk,
		logs:      logs,
		now:       time.Now,
	}
}

// Corrupted reports whether the engine has stopped accepting mutations.
func (e *Engine) Corrupted() bool {
	return e.corrupted.Load()
}

// op carries one operation from admission to its records.
type op struct {
	id          string
	kind        models.TransactionType
	action      string
	actor       string
	number      string
	resource    string
	card        *models.Card
	amount      decimal.Decimal
	before      decimal.Decimal
	after       decimal.Decimal
	balanced    bool
	debit       bool
	virtual     bool
	remarks     string
	currency    string
	maxAttempts int

	peer        *models.Card
	peerNumber  string
	peerBefore  decimal.Decimal
	peerAfter   decimal.Decimal
	peerRemarks string

	// audit state override for non-balance operations
	entityType  string
	entityID    string
	beforeState string
	afterState  string

	statement []models.StatementLine
}

func (e *Engine) begin(kind models.TransactionType, action, number string, amount decimal.Decimal) *op {
	n := utils.NormalizeCardNumber(number)
	return &op{
		id:       e.logs.NewOperationID(),
		kind:     kind,
		action:   action,
		actor:    audit.MaskCard(n),
		number:   n,
		resource: n,
		amount:   amount,
	}
}

func (o *op) mutates() bool {
	return o.kind.Financial() || o.kind == models.TxnPinChange
}

func (o *op) setBalance(before, after decimal.Decimal) {
	o.before, o.after, o.balanced = before, after, true
}

func (o *op) setPeerBalance(before, after decimal.Decimal) {
	o.peerBefore, o.peerAfter = before, after
}

func (e *Engine) limits(o *op) (config.Limits, Code) {
	l, err := e.config.Limits()
	if err != nil {
		return l, codeFor("read limits", err)
	}
	o.currency = l.Currency
	o.maxAttempts = l.MaxPinAttempts
	return l, CodeOK
}

// admit applies the maintenance gate, the corruption latch and the command's
// own constraints, then resolves the initiating card with verify.
func (e *Engine) admit(o *op, l config.Limits, cmd any, verify func() Code) Code {
	if o.kind.Financial() && l.MaintenanceMode {
		return CodeMaintenance
	}
	if o.virtual && !l.VirtualEnabled {
		return CodeFeatureDisabled
	}
	if o.mutates() && e.corrupted.Load() {
		return CodeStorageCorrupted
	}
	if err := cqrs.Validate(cmd); err != nil {
		return commandCode(err)
	}
	if o.kind.Financial() && !o.amount.Equal(o.amount.Round(models.MoneyPlaces)) {
		return CodeInvalidAmount
	}
	return verify()
}

// physical resolves the card for a card-present or session operation.
func (e *Engine) physical(ctx context.Context, o *op) func() Code {
	return func() Code {
		number, res := e.validator.Normalize(o.number)
		if res != validation.Valid {
			return CodeInvalidFormat
		}
		o.number, o.resource = number, number
		card, res, err := e.validator.Card(ctx, number)
		if err != nil {
			return codeFor("load card", err)
		}
		o.card = card
		return verdictCode(res)
	}
}

// virtual resolves the card from the (number, CVV, expiry) triple.
func (e *Engine) virtualCard(ctx context.Context, o *op, cvv, expiry string) func() Code {
	return func() Code {
		number, res := e.validator.Normalize(o.number)
		if res != validation.Valid {
			return CodeInvalidFormat
		}
		o.number, o.resource = number, number
		card, res, err := e.validator.Triple(ctx, number, cvv, expiry)
		if err != nil {
			return codeFor("verify virtual card", err)
		}
		o.card = card
		return verdictCode(res)
	}
}

// receiver resolves a transfer's receiving card. It must exist and be
// active, and it must not draw on the sender's account.
func (e *Engine) receiver(ctx context.Context, o *op, number string) Code {
	to, res := e.validator.Normalize(number)
	if res != validation.Valid {
		return CodeInvalidFormat
	}
	if to == o.number {
		return CodeInvalidOperation
	}
	card, res, err := e.validator.Card(ctx, to)
	if err != nil {
		return codeFor("load receiver card", err)
	}
	switch res {
	case validation.NotFound:
		o.resource = to
		return CodeCardNotFound
	case validation.Blocked:
		o.resource = to
		return CodeCardBlocked
	}
	if card.AccountID == o.card.AccountID {
		return CodeInvalidOperation
	}
	o.peer, o.peerNumber = card, to
	o.remarks = "Transfer to " + audit.MaskCard(to)
	o.peerRemarks = "Transfer from " + audit.MaskCard(o.number)
	return CodeOK
}

// withinLimits applies the per-operation cap, the aggregate daily cap and,
// when the card carries one, the card's own daily cap.
func (e *Engine) withinLimits(ctx context.Context, o *op, perOp, daily, cardDaily decimal.Decimal) Code {
	if o.amount.GreaterThan(perOp) {
		return CodeLimitExceeded
	}
	ok, total, err := e.validator.WithinDailyLimit(ctx, o.number, o.amount, daily)
	if err != nil {
		return codeFor("read daily withdrawals", err)
	}
	if !ok {
		return CodeLimitExceeded
	}
	if cardDaily.IsPositive() && total.Add(o.amount).GreaterThan(cardDaily) {
		return CodeLimitExceeded
	}
	return CodeOK
}

// debit is the apply step shared by withdrawals and bill payments.
func (e *Engine) debit(ctx context.Context, o *op) func(tx repository.Tx) error {
	return func(tx repository.Tx) error {
		bal, err := tx.FetchBalance(ctx, o.number)
		if err != nil {
			return err
		}
		if bal.LessThan(o.amount) {
			o.setBalance(bal, bal)
			return errInsufficientFunds
		}
		o.setBalance(bal, bal.Sub(o.amount))
		return tx.UpdateBalance(ctx, o.number, o.after)
	}
}

// transfer is the apply step for both transfer flavours: one envelope, two
// balance writes.
func (e *Engine) transfer(ctx context.Context, o *op) func(tx repository.Tx) error {
	return func(tx repository.Tx) error {
		sb, err := tx.FetchBalance(ctx, o.number)
		if err != nil {
			return err
		}
		rb, err := tx.FetchBalance(ctx, o.peerNumber)
		if err != nil {
			return err
		}
		o.setBalance(sb, sb)
		o.setPeerBalance(rb, rb)
		if sb.LessThan(o.amount) {
			return errInsufficientFunds
		}
		if err := tx.UpdateBalance(ctx, o.number, sb.Sub(o.amount)); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, o.peerNumber, rb.Add(o.amount)); err != nil {
			return err
		}
		o.setBalance(sb, sb.Sub(o.amount))
		o.setPeerBalance(rb, rb.Add(o.amount))
		return nil
	}
}

// run executes an admitted operation under the mutation lock. check runs
// first and may reject; apply runs inside a store envelope when envelope is
// set and directly against the store otherwise. Records are written before
// the lock is released.
func (e *Engine) run(ctx context.Context, o *op, envelope bool, check func() Code, apply func(tx repository.Tx) error) *Result {
	var res *Result
	err := e.lock.With(func() error {
		if check != nil {
			if code := check(); code != CodeOK {
				res = e.fail(ctx, o, code)
				return nil
			}
		}

		var err error
		if envelope {
			err = e.store.Atomic(ctx, apply)
		} else {
			err = apply(e.store)
		}
		if err != nil {
			code := codeFor(fmt.Sprintf("apply %s %s", o.action, o.id), err)
			if code == CodeStorageCorrupted {
				e.corrupted.Store(true)
				log.Printf("ERROR: storage corrupted during %s; refusing further mutations", o.id)
			}
			res = e.fail(ctx, o, code)
			return nil
		}
		res = e.settle(ctx, o)
		return nil
	})
	if err != nil {
		code := codeFor("acquire mutation lock", err)
		e.stream(o, models.StatusFailed, code.Message())
		return e.result(o, code)
	}
	return res
}

// reject finishes an operation that failed admission. The failed record is
// written only when the initiating card resolved.
func (e *Engine) reject(ctx context.Context, o *op, code Code) *Result {
	if o.card == nil {
		e.security(o, code)
		e.stream(o, models.StatusFailed, code.Message())
		return e.result(o, code)
	}
	var res *Result
	if err := e.lock.With(func() error {
		res = e.fail(ctx, o, code)
		return nil
	}); err != nil {
		codeFor("acquire mutation lock", err)
		e.security(o, code)
		e.stream(o, models.StatusFailed, code.Message())
		return e.result(o, code)
	}
	return res
}

// fail writes the failed records for a resolved card. The lock is held.
func (e *Engine) fail(ctx context.Context, o *op, code Code) *Result {
	e.security(o, code)
	if o.card != nil && !o.balanced {
		if bal, err := e.store.FetchBalance(ctx, o.number); err == nil {
			o.setBalance(bal, bal)
		}
	}
	o.after = o.before
	o.peerAfter = o.peerBefore

	if o.card != nil {
		for _, txn := range e.records(o, models.StatusFailed, code.Message()) {
			if err := e.store.LogTransaction(ctx, txn); err != nil {
				log.Printf("Failed to record failed %s %s: %v", o.action, o.id, err)
			}
			if err := e.logs.Transaction(o.id, o.actor, txn); err != nil {
				log.Printf("Failed to write transaction stream for %s: %v", o.id, err)
			}
		}
	}
	return e.result(o, code)
}

// stream writes a transaction-stream line for an operation with no store
// record.
func (e *Engine) stream(o *op, status models.TransactionStatus, remarks string) {
	txn := &models.Transaction{
		ID:         utils.GenerateTransactionID(e.now()),
		CardNumber: o.number,
		Type:       o.kind,
		Amount:     o.amount,
		Timestamp:  e.now(),
		Status:     status,
		Remarks:    remarks,
	}
	if err := e.logs.Transaction(o.id, o.actor, txn); err != nil {
		log.Printf("Failed to write transaction stream for %s: %v", o.id, err)
	}
}

func (e *Engine) records(o *op, status models.TransactionStatus, failure string) []*models.Transaction {
	now := e.now()
	remarks, peerRemarks := o.remarks, o.peerRemarks
	if status == models.StatusFailed {
		remarks, peerRemarks = failure, failure
	}
	first := &models.Transaction{
		ID:            utils.GenerateTransactionID(now),
		CardNumber:    o.number,
		AccountID:     o.card.AccountID,
		Type:          o.kind,
		Amount:        o.amount,
		BalanceBefore: o.before,
		BalanceAfter:  o.after,
		Timestamp:     now,
		Status:        status,
		Remarks:       remarks,
	}
	if o.peer == nil {
		return []*models.Transaction{first}
	}
	return []*models.Transaction{first, {
		ID:            utils.GenerateTransactionID(now),
		CardNumber:    o.peerNumber,
		AccountID:     o.peer.AccountID,
		Type:          o.kind,
		Amount:        o.amount,
		BalanceBefore: o.peerBefore,
		BalanceAfter:  o.peerAfter,
		Timestamp:     now,
		Status:        status,
		Remarks:       peerRemarks,
	}}
}

// settle writes the records of a committed operation. A write failure here
// does not undo the mutation; the result is flagged as a partial log.
func (e *Engine) settle(ctx context.Context, o *op) *Result {
	var errs []error
	txns := e.records(o, models.StatusSuccess, "")
	for _, txn := range txns {
		if err := e.store.LogTransaction(ctx, txn); err != nil {
			errs = append(errs, err)
		}
		if err := e.logs.Transaction(o.id, o.actor, txn); err != nil {
			errs = append(errs, err)
		}
	}
	if o.debit {
		if err := e.store.LogWithdrawal(ctx, o.number, o.amount); err != nil {
			errs = append(errs, err)
		}
	}
	if o.mutates() {
		if err := e.auditOp(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}

	res := e.result(o, CodeOK)
	res.Success = true
	res.TransactionID = txns[0].ID
	res.Statement = o.statement
	if o.kind != models.TxnMiniStatement && o.kind != models.TxnPinChange {
		res.Receipt = e.receipt(o, txns[0])
	}
	if len(errs) > 0 {
		res.PartialLog = true
		log.Printf("ERROR: %s %s committed but logging failed: %v", o.action, o.id, errors.Join(errs...))
	}
	return res
}

func (e *Engine) auditOp(ctx context.Context, o *op) error {
	rec := models.AuditRecord{
		OperationID: o.id,
		Actor:       o.actor,
		Action:      o.action,
		EntityType:  "account",
		EntityID:    o.card.AccountID,
		Before:      balanceState(o.before, o.peer != nil, o.peerBefore),
		After:       balanceState(o.after, o.peer != nil, o.peerAfter),
		Detail:      o.remarks,
	}
	if o.entityType != "" {
		rec.EntityType, rec.EntityID = o.entityType, o.entityID
		rec.Before, rec.After = o.beforeState, o.afterState
	}
	_, err := e.logs.Audit(ctx, rec)
	return err
}

func balanceState(bal decimal.Decimal, withPeer bool, peer decimal.Decimal) string {
	if withPeer {
		return fmt.Sprintf(`{"balance":%s,"receiverBalance":%s}`,
			bal.StringFixed(models.MoneyPlaces), peer.StringFixed(models.MoneyPlaces))
	}
	return fmt.Sprintf(`{"balance":%s}`, bal.StringFixed(models.MoneyPlaces))
}

func (e *Engine) result(o *op, code Code) *Result {
	return &Result{
		Code:       code,
		Message:    code.Message(),
		OldBalance: o.before,
		NewBalance: o.after,
	}
}

var receiptTitles = map[models.TransactionType]string{
	models.TxnBalance:     "BALANCE ENQUIRY",
	models.TxnDeposit:     "CASH DEPOSIT",
	models.TxnWithdrawal:  "CASH WITHDRAWAL",
	models.TxnTransfer:    "FUNDS TRANSFER",
	models.TxnBillPayment: "BILL PAYMENT",
}

func (e *Engine) receipt(o *op, txn *models.Transaction) *ReceiptDraft {
	r := &ReceiptDraft{
		Title:         receiptTitles[o.kind],
		TransactionID: txn.ID,
		MaskedCard:    audit.MaskCard(o.number),
		Amount:        o.amount,
		Balance:       o.after,
		Currency:      o.currency,
		Timestamp:     txn.Timestamp,
	}
	if o.virtual {
		r.Title = "VIRTUAL " + r.Title
	}
	if o.peer != nil {
		r.Counterparty = audit.MaskCard(o.peerNumber)
	}
	return r
}

var securityEvents = map[Code]struct {
	event    string
	severity audit.Severity
}{
	CodeInvalidFormat:   {"INVALID_CARD_FORMAT", audit.SeverityLow},
	CodeCardNotFound:    {"CARD_NOT_FOUND", audit.SeverityMedium},
	CodeCardExpired:     {"EXPIRED_CARD_USE", audit.SeverityMedium},
	CodeCardBlocked:     {"BLOCKED_CARD_USE", audit.SeverityHigh},
	CodeFeatureDisabled: {"FEATURE_DISABLED", audit.SeverityMedium},
	CodeMaintenance:     {"MAINTENANCE_REJECT", audit.SeverityLow},
}

// security writes the security-stream line for a rejection, if the code
// calls for one. PIN and CVV failures count towards the card's attempts.
func (e *Engine) security(o *op, code Code) {
	var err error
	switch code {
	case CodePINMismatch:
		_, err = e.logs.AuthFailure(o.actor, "PIN_FAILED", o.number, o.action+" rejected: incorrect PIN", o.maxAttempts)
	case CodeCVVMismatch:
		_, err = e.logs.AuthFailure(o.actor, "CVV_FAILED", o.number, o.action+" rejected: card verification failed", o.maxAttempts)
	default:
		ev, ok := securityEvents[code]
		if !ok {
			return
		}
		err = e.logs.Security(audit.SecurityEvent{
			Actor:    o.actor,
			Event:    ev.event,
			Severity: ev.severity,
			Outcome:  "denied",
			Resource: o.resource,
			Reason:   o.action + " rejected: " + code.Message(),
		})
	}
	if err != nil {
		log.Printf("Failed to write security stream for %s: %v", o.id, err)
	}
}
