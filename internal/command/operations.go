package command

import (
	"context"
	"fmt"

	"github.com/eaglebank/core-banking/internal/audit"
	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/shared/cqrs"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/eaglebank/core-banking/shared/utils"
	"github.com/shopspring/decimal"
)

// Balance reads the balance of the card's account and records the enquiry.
func (e *Engine) Balance(ctx context.Context, q cqrs.BalanceQuery) *Result {
	o := e.begin(models.TxnBalance, "BALANCE", q.CardNumber, decimal.Zero)
	l, code := e.limits(o)
	if code == CodeOK {
		code = e.admit(o, l, q, e.physical(ctx, o))
	}
	if code != CodeOK {
		return e.reject(ctx, o, code)
	}
	return e.run(ctx, o, false, nil, func(tx repository.Tx) error {
		bal, err := tx.FetchBalance(ctx, o.number)
		if err != nil {
			return err
		}
		o.setBalance(bal, bal)
		return nil
	})
}

func (e *Engine) Deposit(ctx context.Context, cmd cqrs.DepositCommand) *Result {
	o := e.begin(models.TxnDeposit, "DEPOSIT", cmd.CardNumber, cmd.Amount)
	o.remarks = "Cash deposit"
	l, code := e.limits(o)
	if code == CodeOK {
		code = e.admit(o, l, cmd, e.physical(ctx, o))
	}
	if code != CodeOK {
		return e.reject(ctx, o, code)
	}
	return e.run(ctx, o, true, nil, func(tx repository.Tx) error {
		bal, err := tx.FetchBalance(ctx, o.number)
		if err != nil {
			return err
		}
		o.setBalance(bal, bal.Add(o.amount))
		return tx.UpdateBalance(ctx, o.number, o.after)
	})
}

func (e *Engine) Withdraw(ctx context.Context, cmd cqrs.WithdrawCommand) *Result {
	o := e.begin(models.TxnWithdrawal, "WITHDRAWAL", cmd.CardNumber, cmd.Amount)
	o.remarks = "Cash withdrawal"
	o.debit = true
	l, code := e.limits(o)
	if code == CodeOK {
		code = e.admit(o, l, cmd, e.physical(ctx, o))
	}
	if code != CodeOK {
		return e.reject(ctx, o, code)
	}
	check := func() Code {
		return e.withinLimits(ctx, o, l.ATMWithdrawalLimit, l.DailyTransactionLimit, o.card.Limits.ATM)
	}
	return e.run(ctx, o, true, check, e.debit(ctx, o))
}

// Transfer moves funds between the accounts of two distinct cards.
func (e *Engine) Transfer(ctx context.Context, cmd cqrs.TransferCommand) *Result {
	o := e.begin(models.TxnTransfer, "TRANSFER", cmd.CardNumber, cmd.Amount)
	o.debit = true
	l, code := e.limits(o)
	if code == CodeOK {
		code = e.admit(o, l, cmd, e.physical(ctx, o))
	}
	if code == CodeOK {
		code = e.receiver(ctx, o, cmd.ToCardNumber)
	}
	if code != CodeOK {
		return e.reject(ctx, o, code)
	}
	check := func() Code {
		return e.withinLimits(ctx, o, l.DailyTransactionLimit, l.DailyTransactionLimit, decimal.Zero)
	}
	return e.run(ctx, o, true, check, e.transfer(ctx, o))
}

// PayBill debits the card's account in favour of a named biller.
func (e *Engine) PayBill(ctx context.Context, cmd cqrs.BillPaymentCommand) *Result {
	o := e.begin(models.TxnBillPayment, "BILL_PAYMENT", cmd.CardNumber, cmd.Amount)
	o.remarks = "Bill payment: " + cmd.Biller
	if cmd.Reference != "" {
		o.remarks += " ref " + cmd.Reference
	}
	o.debit = true
	l, code := e.limits(o)
	if code == CodeOK {
		code = e.admit(o, l, cmd, e.physical(ctx, o))
	}
	if code != CodeOK {
		return e.reject(ctx, o, code)
	}
	check := func() Code {
		return e.withinLimits(ctx, o, l.DailyTransactionLimit, l.DailyTransactionLimit, decimal.Zero)
	}
	return e.run(ctx, o, true, check, e.debit(ctx, o))
}

// ChangePIN replaces the card's PIN verifier after checking the old PIN.
// Neither PIN reaches a record or a log line.
func (e *Engine) ChangePIN(ctx context.Context, cmd cqrs.PinChangeCommand) *Result {
	o := e.begin(models.TxnPinChange, "PIN_CHANGE", cmd.CardNumber, decimal.Zero)
	o.remarks = "PIN changed"
	l, code := e.limits(o)
	if code == CodeOK {
		code = e.admit(o, l, cmd, e.physical(ctx, o))
	}
	if code == CodeOK {
		res, err := e.validator.PIN(ctx, o.number, cmd.OldPIN)
		if err != nil {
			code = codeFor("verify PIN", err)
		} else {
			code = verdictCode(res)
		}
	}
	if code != CodeOK {
		return e.reject(ctx, o, code)
	}
	e.logs.AuthSuccess(o.number)

	verifier, err := utils.HashSecret(cmd.NewPIN)
	if err != nil {
		return e.reject(ctx, o, codeFor("hash PIN", err))
	}
	redacted := fmt.Sprintf(`{"pinVerifier":"%s"}`, audit.MaskSecret(""))
	o.entityType, o.entityID = "card", o.card.ID
	o.beforeState, o.afterState = redacted, redacted

	return e.run(ctx, o, true, nil, func(tx repository.Tx) error {
		bal, err := tx.FetchBalance(ctx, o.number)
		if err != nil {
			return err
		}
		o.setBalance(bal, bal)
		return tx.UpdatePIN(ctx, o.number, verifier)
	})
}

// MiniStatement returns up to q.Max of the card's most recent records,
// newest first. Zero Max uses the configured size.
func (e *Engine) MiniStatement(ctx context.Context, q cqrs.MiniStatementQuery) *Result {
	o := e.begin(models.TxnMiniStatement, "MINI_STATEMENT", q.CardNumber, decimal.Zero)
	o.remarks = "Mini statement"
	l, code := e.limits(o)
	if code == CodeOK {
		code = e.admit(o, l, q, e.physical(ctx, o))
	}
	if code != CodeOK {
		return e.reject(ctx, o, code)
	}
	n := q.Max
	if n == 0 {
		n = l.MiniStatementSize
	}
	return e.run(ctx, o, false, nil, func(tx repository.Tx) error {
		txns, err := tx.MiniStatement(ctx, o.number, n)
		if err != nil {
			return err
		}
		bal, err := tx.FetchBalance(ctx, o.number)
		if err != nil {
			return err
		}
		o.setBalance(bal, bal)
		o.statement = make([]models.StatementLine, 0, len(txns))
		for _, t := range txns {
			o.statement = append(o.statement, models.TransactionToStatementLine(t))
		}
		return nil
	})
}

// VirtualWithdraw is a withdrawal authenticated by the card triple and
// capped by the virtual limits.
func (e *Engine) VirtualWithdraw(ctx context.Context, cmd cqrs.VirtualWithdrawCommand) *Result {
	o := e.begin(models.TxnWithdrawal, "VIRTUAL_WITHDRAWAL", cmd.CardNumber, cmd.Amount)
	o.remarks = "Virtual withdrawal"
	o.virtual = true
	o.debit = true
	l, code := e.limits(o)
	if code == CodeOK {
		code = e.admit(o, l, cmd, e.virtualCard(ctx, o, cmd.CVV, cmd.Expiry))
	}
	if code != CodeOK {
		return e.reject(ctx, o, code)
	}
	check := func() Code {
		return e.withinLimits(ctx, o, l.VirtualWithdrawalLimit, l.DailyTransactionLimit, o.card.Limits.Online)
	}
	return e.run(ctx, o, true, check, e.debit(ctx, o))
}

// VirtualTransfer is a transfer authenticated by the card triple.
func (e *Engine) VirtualTransfer(ctx context.Context, cmd cqrs.VirtualTransferCommand) *Result {
	o := e.begin(models.TxnTransfer, "VIRTUAL_TRANSFER", cmd.CardNumber, cmd.Amount)
	o.virtual = true
	o.debit = true
	l, code := e.limits(o)
	if code == CodeOK {
		code = e.admit(o, l, cmd, e.virtualCard(ctx, o, cmd.CVV, cmd.Expiry))
	}
	if code == CodeOK {
		code = e.receiver(ctx, o, cmd.ToCardNumber)
	}
	if code != CodeOK {
		return e.reject(ctx, o, code)
	}
	check := func() Code {
		return e.withinLimits(ctx, o, l.VirtualWithdrawalLimit, l.DailyTransactionLimit, o.card.Limits.Online)
	}
	return e.run(ctx, o, true, check, e.transfer(ctx, o))
}
