// Package postgres binds the data access contract to PostgreSQL through
// database/sql and lib/pq. Every call borrows a dedicated connection from the
// backend's own pool; mutations run inside a database transaction on it.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/eaglebank/core-banking/shared/utils"
	"github.com/shopspring/decimal"
)

// CardScheme is the card number format stored in cbs_cards.
var CardScheme = repository.CardScheme{Length: 16, Luhn: true}

// execer is satisfied by both *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Backend struct {
	db           *sql.DB
	pool         *Pool
	now          func() time.Time
	drainTimeout time.Duration
}

// New builds the connection pool over db. The backend owns db from here on.
func New(ctx context.Context, db *sql.DB, cfg PoolConfig) (*Backend, error) {
	pool, err := NewPool(ctx, db, cfg)
	if err != nil {
		return nil, err
	}
	return &Backend{
		db:           db,
		pool:         pool,
		now:          time.Now,
		drainTimeout: 10 * time.Second,
	}, nil
}

func (b *Backend) Name() string { return "postgres" }

func (b *Backend) Scheme() repository.CardScheme { return CardScheme }

func (b *Backend) Pool() *Pool { return b.pool }

func (b *Backend) Acquire(ctx context.Context) (repository.Conn, error) {
	conn, err := b.pool.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close drains the pool and closes the database handle.
func (b *Backend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.drainTimeout)
	defer cancel()
	drainErr := b.pool.Shutdown(ctx)
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return drainErr
}

// storageErr keeps contract errors as they are and classifies anything the
// driver returned as transient.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		repository.ErrNotFound,
		repository.ErrInvalidBalance,
		repository.ErrStorageUnavailable,
		repository.ErrStorageCorrupted,
		repository.ErrPoolExhausted,
		repository.ErrInvalidCredentials,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("failed to %s: %w: %v", op, repository.ErrStorageUnavailable, err)
}

func (b *Backend) withConn(ctx context.Context, op string, fn func(q execer) error) error {
	return repository.RetryExec(ctx, op, func() error {
		conn, err := b.pool.Borrow(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()
		return storageErr(op, fn(conn.SQL()))
	})
}

func (b *Backend) inTx(ctx context.Context, op string, fn func(q execer) error) error {
	conn, err := b.pool.Borrow(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.SQL().BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin "+op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("Failed to roll back %s: %v", op, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit "+op, err)
	}
	return nil
}

// withTx runs a single mutation in its own transaction, retried once.
func (b *Backend) withTx(ctx context.Context, op string, fn func(q execer) error) error {
	return repository.RetryExec(ctx, op, func() error {
		return b.inTx(ctx, op, func(q execer) error {
			return storageErr(op, fn(q))
		})
	})
}

// Atomic runs fn inside one database transaction and returns fn's error
// unchanged. It is not retried.
func (b *Backend) Atomic(ctx context.Context, fn func(tx repository.Tx) error) error {
	return b.inTx(ctx, "atomic envelope", func(q execer) error {
		return fn(&pgTx{q: q, now: b.now})
	})
}

// ---- statements ----

func getCard(ctx context.Context, q execer, cardNumber string) (*models.Card, error) {
	var (
		card             models.Card
		cardType, status string
		expiry           time.Time
		cvv              sql.NullString
		atm, pos, online decimal.NullDecimal
	)
	err := q.QueryRowContext(ctx, cardQuery, cardNumber).Scan(
		&card.ID, &card.AccountID, &card.Number, &cardType, &expiry, &status,
		&card.PinVerifier, &cvv, &atm, &pos, &online,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	card.Type = models.CardType(cardType)
	card.Status = models.CardBlocked
	if strings.EqualFold(status, string(models.CardActive)) {
		card.Status = models.CardActive
	}
	card.Expiry = models.Expiry{Month: int(expiry.Month()), Year: expiry.Year()}
	card.CvvVerifier = cvv.String
	card.Limits = models.DailyLimits{ATM: atm.Decimal, POS: pos.Decimal, Online: online.Decimal}
	return &card, nil
}

func fetchBalance(ctx context.Context, q execer, cardNumber string, forUpdate bool) (decimal.Decimal, error) {
	query := balanceQuery
	if forUpdate {
		query = balanceForUpdateQuery
	}
	var balance decimal.Decimal
	err := q.QueryRowContext(ctx, query, cardNumber).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, repository.ErrNotFound
	}
	return balance, err
}

func updateBalance(ctx context.Context, q execer, cardNumber string, newBalance decimal.Decimal, now time.Time) error {
	if newBalance.IsNegative() {
		return repository.ErrInvalidBalance
	}
	result, err := q.ExecContext(ctx, updateBalanceQuery, newBalance.StringFixed(models.MoneyPlaces), now, cardNumber)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func dailyWithdrawals(ctx context.Context, q execer, cardNumber string, now time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRowContext(ctx, dailyWithdrawalsQuery, cardNumber, now.Format(repository.DateLayout)).Scan(&total)
	return total, err
}

func logWithdrawal(ctx context.Context, q execer, cardNumber string, amount decimal.Decimal, now time.Time) error {
	_, err := q.ExecContext(ctx, logWithdrawalQuery, cardNumber, amount.StringFixed(models.MoneyPlaces), now.Format(repository.DateLayout))
	return err
}

func logTransaction(ctx context.Context, q execer, txn *models.Transaction, now time.Time) error {
	ts := txn.Timestamp
	if ts.IsZero() {
		ts = now
	}
	remarks := txn.Remarks
	if len(remarks) > models.MaxRemarksLength {
		remarks = remarks[:models.MaxRemarksLength]
	}
	_, err := q.ExecContext(ctx, logTransactionQuery,
		txn.ID, txn.CardNumber, txn.AccountID, string(txn.Type),
		txn.Amount.StringFixed(models.MoneyPlaces), ts, string(txn.Status), remarks,
	)
	return err
}

func miniStatement(ctx context.Context, q execer, cardNumber string, max int) ([]models.Transaction, error) {
	if max <= 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, miniStatementQuery, cardNumber, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var (
			txn             models.Transaction
			account, notes  sql.NullString
			txnType, status string
		)
		if err := rows.Scan(&txn.ID, &txn.CardNumber, &account, &txnType, &txn.Amount, &txn.Timestamp, &status, &notes); err != nil {
			return nil, err
		}
		txn.AccountID = account.String
		txn.Type = models.TransactionType(txnType)
		txn.Status = models.TransactionStatus(status)
		txn.Remarks = notes.String
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func setCardStatus(ctx context.Context, q execer, cardNumber string, status models.CardStatus) (bool, error) {
	result, err := q.ExecContext(ctx, setCardStatusQuery, string(status), cardNumber)
	if err != nil {
		return false, err
	}
	if err := expectRow(result); err == nil {
		return true, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}
	var one int
	err = q.QueryRowContext(ctx, cardExistsQuery, cardNumber).Scan(&one)
	if err == sql.ErrNoRows {
		return false, repository.ErrNotFound
	}
	return false, err
}

func updatePIN(ctx context.Context, q execer, cardNumber, verifier string) error {
	result, err := q.ExecContext(ctx, updatePINQuery, verifier, cardNumber)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// ---- DataAccess ----

func (b *Backend) GetCard(ctx context.Context, cardNumber string) (*models.Card, error) {
	var card *models.Card
	err := b.withConn(ctx, "get card", func(q execer) error {
		c, err := getCard(ctx, q, cardNumber)
		card = c
		return err
	})
	return card, err
}

func (b *Backend) CardExists(ctx context.Context, cardNumber string) (bool, error) {
	_, err := b.GetCard(ctx, cardNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) CardActive(ctx context.Context, cardNumber string) (bool, error) {
	card, err := b.GetCard(ctx, cardNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return card.Status == models.CardActive, nil
}

func (b *Backend) ValidatePIN(ctx context.Context, cardNumber, pin string) (bool, error) {
	card, err := b.GetCard(ctx, cardNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return utils.CheckSecret(pin, card.PinVerifier), nil
}

func (b *Backend) ValidateCVV(ctx context.Context, cardNumber, cvv string) (bool, error) {
	card, err := b.GetCard(ctx, cardNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return utils.CheckSecret(cvv, card.CvvVerifier), nil
}

func (b *Backend) holder(ctx context.Context, cardNumber string) (string, string, error) {
	var name string
	var phone sql.NullString
	err := b.withConn(ctx, "get holder", func(q execer) error {
		err := q.QueryRowContext(ctx, holderQuery, cardNumber).Scan(&name, &phone)
		if err == sql.ErrNoRows {
			return repository.ErrNotFound
		}
		return err
	})
	return name, phone.String, err
}

func (b *Backend) HolderName(ctx context.Context, cardNumber string) (string, error) {
	name, _, err := b.holder(ctx, cardNumber)
	return name, err
}

func (b *Backend) HolderPhone(ctx context.Context, cardNumber string) (string, error) {
	_, phone, err := b.holder(ctx, cardNumber)
	return phone, err
}

func (b *Backend) FetchBalance(ctx context.Context, cardNumber string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := b.withConn(ctx, "fetch balance", func(q execer) error {
		v, err := fetchBalance(ctx, q, cardNumber, false)
		balance = v
		return err
	})
	return balance, err
}

func (b *Backend) UpdateBalance(ctx context.Context, cardNumber string, newBalance decimal.Decimal) error {
	return b.withTx(ctx, "update balance", func(q execer) error {
		return updateBalance(ctx, q, cardNumber, newBalance, b.now())
	})
}

func (b *Backend) DailyWithdrawals(ctx context.Context, cardNumber string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := b.withConn(ctx, "sum daily withdrawals", func(q execer) error {
		v, err := dailyWithdrawals(ctx, q, cardNumber, b.now())
		total = v
		return err
	})
	return total, err
}

func (b *Backend) LogWithdrawal(ctx context.Context, cardNumber string, amount decimal.Decimal) error {
	return b.withTx(ctx, "log withdrawal", func(q execer) error {
		return logWithdrawal(ctx, q, cardNumber, amount, b.now())
	})
}

func (b *Backend) LogTransaction(ctx context.Context, txn *models.Transaction) error {
	return b.withTx(ctx, "log transaction", func(q execer) error {
		return logTransaction(ctx, q, txn, b.now())
	})
}

func (b *Backend) MiniStatement(ctx context.Context, cardNumber string, max int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := b.withConn(ctx, "mini statement", func(q execer) error {
		v, err := miniStatement(ctx, q, cardNumber, max)
		txns = v
		return err
	})
	return txns, err
}

func (b *Backend) BlockCard(ctx context.Context, cardNumber string) (bool, error) {
	var changed bool
	err := b.withTx(ctx, "block card", func(q execer) error {
		v, err := setCardStatus(ctx, q, cardNumber, models.CardBlocked)
		changed = v
		return err
	})
	return changed, err
}

func (b *Backend) UnblockCard(ctx context.Context, cardNumber string) (bool, error) {
	var changed bool
	err := b.withTx(ctx, "unblock card", func(q execer) error {
		v, err := setCardStatus(ctx, q, cardNumber, models.CardActive)
		changed = v
		return err
	})
	return changed, err
}

func (b *Backend) UpdatePIN(ctx context.Context, cardNumber, newPinVerifier string) error {
	return b.withTx(ctx, "update pin", func(q execer) error {
		return updatePIN(ctx, q, cardNumber, newPinVerifier)
	})
}

func (b *Backend) VerifyAdmin(ctx context.Context, username, password string) (*models.Admin, error) {
	var (
		admin         models.Admin
		roles, status string
	)
	err := b.withConn(ctx, "verify admin", func(q execer) error {
		err := q.QueryRowContext(ctx, adminQuery, username).Scan(&admin.Username, &admin.PasswordVerifier, &roles, &status)
		if err == sql.ErrNoRows {
			return repository.ErrInvalidCredentials
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(status, string(models.CardActive)) || !utils.CheckSecret(password, admin.PasswordVerifier) {
		return nil, repository.ErrInvalidCredentials
	}
	admin.Active = true
	for _, role := range strings.Split(roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			admin.Roles = append(admin.Roles, role)
		}
	}
	return &admin, nil
}

// RecordAudit mirrors an audit record into cbs_audit_logs.
func (b *Backend) RecordAudit(ctx context.Context, rec models.AuditRecord) error {
	description := fmt.Sprintf("%s %s seq=%d op=%s before=%s after=%s %s",
		rec.EntityType, rec.EntityID, rec.Sequence, rec.OperationID, rec.Before, rec.After, rec.Detail)
	return b.withConn(ctx, "record audit", func(q execer) error {
		_, err := q.ExecContext(ctx, auditQuery, rec.Actor, rec.Action, strings.TrimSpace(description), rec.Timestamp)
		return err
	})
}

// pgTx is the contract view of an open transaction. Balance reads lock the
// account row.
type pgTx struct {
	q   execer
	now func() time.Time
}

func (t *pgTx) GetCard(ctx context.Context, cardNumber string) (*models.Card, error) {
	c, err := getCard(ctx, t.q, cardNumber)
	return c, storageErr("get card", err)
}

func (t *pgTx) FetchBalance(ctx context.Context, cardNumber string) (decimal.Decimal, error) {
	v, err := fetchBalance(ctx, t.q, cardNumber, true)
	return v, storageErr("fetch balance", err)
}

func (t *pgTx) UpdateBalance(ctx context.Context, cardNumber string, newBalance decimal.Decimal) error {
	return storageErr("update balance", updateBalance(ctx, t.q, cardNumber, newBalance, t.now()))
}

func (t *pgTx) DailyWithdrawals(ctx context.Context, cardNumber string) (decimal.Decimal, error) {
	v, err := dailyWithdrawals(ctx, t.q, cardNumber, t.now())
	return v, storageErr("sum daily withdrawals", err)
}

func (t *pgTx) LogWithdrawal(ctx context.Context, cardNumber string, amount decimal.Decimal) error {
	return storageErr("log withdrawal", logWithdrawal(ctx, t.q, cardNumber, amount, t.now()))
}

func (t *pgTx) LogTransaction(ctx context.Context, txn *models.Transaction) error {
	return storageErr("log transaction", logTransaction(ctx, t.q, txn, t.now()))
}

func (t *pgTx) MiniStatement(ctx context.Context, cardNumber string, max int) ([]models.Transaction, error) {
	v, err := miniStatement(ctx, t.q, cardNumber, max)
	return v, storageErr("mini statement", err)
}

func (t *pgTx) BlockCard(ctx context.Context, cardNumber string) (bool, error) {
	v, err := setCardStatus(ctx, t.q, cardNumber, models.CardBlocked)
	return v, storageErr("block card", err)
}

func (t *pgTx) UnblockCard(ctx context.Context, cardNumber string) (bool, error) {
	v, err := setCardStatus(ctx, t.q, cardNumber, models.CardActive)
	return v, storageErr("unblock card", err)
}

func (t *pgTx) UpdatePIN(ctx context.Context, cardNumber, newPinVerifier string) error {
	return storageErr("update pin", updatePIN(ctx, t.q, cardNumber, newPinVerifier))
}
