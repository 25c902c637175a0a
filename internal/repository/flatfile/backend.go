// Package flatfile binds the data access contract to pipe-delimited text
// tables under a data directory. Mutations rewrite a table through a sibling
// temporary file; atomic envelopes snapshot the touched tables into the temp
// directory and restore them once on failure.
package flatfile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/eaglebank/core-banking/shared/utils"
	"github.com/shopspring/decimal"
)

// Card table columns.
const (
	cardColID = iota
	cardColAccount
	cardColNumber
	cardColType
	cardColExpiry
	cardColStatus
	cardColPin
	cardColCvv
)

const cardMinFields = cardColPin + 1

// CardScheme is the card number format stored in the file tables.
var CardScheme = repository.CardScheme{Length: 6, Luhn: false}

type Backend struct {
	dataDir string
	tempDir string

	cards     *table
	customers *table
	accounts  *table
	admins    *table
	daily     *table
	txns      *table

	// Guards readers against a rewrite's unlink/rename window.
	mu        sync.RWMutex
	corrupted atomic.Bool
	now       func() time.Time
}

// New opens the tables under dataDir, creating any missing table with its
// header. tempDir holds the envelope backups.
func New(dataDir, tempDir string) (*Backend, error) {
	b := &Backend{
		dataDir:   dataDir,
		tempDir:   tempDir,
		cards:     newTable(dataDir, repository.FileCards, "|"),
		customers: newTable(dataDir, repository.FileCustomers, "|"),
		accounts:  newTable(dataDir, repository.FileAccounting, "|"),
		admins:    newTable(dataDir, repository.FileAdmins, "|"),
		daily:     newTable(dataDir, repository.FileDailyWithdrawals, ","),
		txns:      newTable(dataDir, repository.FileTransactions, "|"),
		now:       time.Now,
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w: %v", repository.ErrStorageUnavailable, err)
	}
	for _, t := range []*table{b.cards, b.customers, b.accounts, b.admins, b.daily, b.txns} {
		if err := t.ensure(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) Name() string { return "file" }

func (b *Backend) Scheme() repository.CardScheme { return CardScheme }

func (b *Backend) Close() error { return nil }

func (b *Backend) Acquire(context.Context) (repository.Conn, error) { return nopConn{}, nil }

// nopConn keeps acquire/release symmetric with the relational backend.
type nopConn struct{}

func (nopConn) Release() {}

// guard refuses mutations once a rewrite or restore left the tables in an
// unknown state, and latches that state when err reports it.
func (b *Backend) guard(err error) error {
	if errors.Is(err, repository.ErrStorageCorrupted) {
		b.corrupted.Store(true)
	}
	return err
}

func (b *Backend) refuseIfCorrupted() error {
	if b.corrupted.Load() {
		return fmt.Errorf("file backend refuses mutations: %w", repository.ErrStorageCorrupted)
	}
	return nil
}

// ---- reads ----

func (b *Backend) findCard(ctx context.Context, cardNumber string) ([]string, error) {
	return repository.Retry(ctx, "card lookup", func() ([]string, error) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.cards.find(func(f []string) bool {
			return len(f) >= cardMinFields && f[cardColNumber] == cardNumber
		})
	})
}

func parseCard(f []string) (*models.Card, error) {
	expiry, err := time.Parse(repository.ExpiryLayout, f[cardColExpiry])
	if err != nil {
		return nil, fmt.Errorf("malformed expiry for card %s: %w", f[cardColID], repository.ErrStorageCorrupted)
	}
	card := &models.Card{
		ID:          f[cardColID],
		AccountID:   f[cardColAccount],
		Number:      f[cardColNumber],
		Type:        models.CardType(f[cardColType]),
		Expiry:      models.Expiry{Month: int(expiry.Month()), Year: expiry.Year()},
		Status:      models.CardBlocked,
		PinVerifier: f[cardColPin],
	}
	if strings.EqualFold(f[cardColStatus], string(models.CardActive)) {
		card.Status = models.CardActive
	}
	if len(f) > cardColCvv {
		card.CvvVerifier = f[cardColCvv]
	}
	return card, nil
}

func (b *Backend) GetCard(ctx context.Context, cardNumber string) (*models.Card, error) {
	f, err := b.findCard(ctx, cardNumber)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, repository.ErrNotFound
	}
	return parseCard(f)
}

func (b *Backend) CardExists(ctx context.Context, cardNumber string) (bool, error) {
	f, err := b.findCard(ctx, cardNumber)
	return f != nil, err
}

func (b *Backend) CardActive(ctx context.Context, cardNumber string) (bool, error) {
	f, err := b.findCard(ctx, cardNumber)
	if err != nil || f == nil {
		return false, err
	}
	return strings.EqualFold(f[cardColStatus], string(models.CardActive)), nil
}

func (b *Backend) ValidatePIN(ctx context.Context, cardNumber, pin string) (bool, error) {
	f, err := b.findCard(ctx, cardNumber)
	if err != nil || f == nil {
		return false, err
	}
	return utils.CheckSecret(pin, f[cardColPin]), nil
}

func (b *Backend) ValidateCVV(ctx context.Context, cardNumber, cvv string) (bool, error) {
	f, err := b.findCard(ctx, cardNumber)
	if err != nil || f == nil || len(f) <= cardColCvv {
		return false, err
	}
	return utils.CheckSecret(cvv, f[cardColCvv]), nil
}

func (b *Backend) holder(ctx context.Context, cardNumber string) ([]string, error) {
	f, err := repository.Retry(ctx, "holder lookup", func() ([]string, error) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.customers.find(func(f []string) bool {
			return len(f) >= 6 && f[2] == cardNumber
		})
	})
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, repository.ErrNotFound
	}
	return f, nil
}

func (b *Backend) HolderName(ctx context.Context, cardNumber string) (string, error) {
	f, err := b.holder(ctx, cardNumber)
	if err != nil {
		return "", err
	}
	return f[1], nil
}

func (b *Backend) HolderPhone(ctx context.Context, cardNumber string) (string, error) {
	f, err := b.holder(ctx, cardNumber)
	if err != nil {
		return "", err
	}
	return f[4], nil
}

func (b *Backend) accountID(ctx context.Context, cardNumber string) (string, error) {
	f, err := b.findCard(ctx, cardNumber)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", repository.ErrNotFound
	}
	return f[cardColAccount], nil
}

func (b *Backend) FetchBalance(ctx context.Context, cardNumber string) (decimal.Decimal, error) {
	acct, err := b.accountID(ctx, cardNumber)
	if err != nil {
		return decimal.Zero, err
	}
	f, err := repository.Retry(ctx, "balance lookup", func() ([]string, error) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.accounts.find(func(f []string) bool {
			return len(f) >= 5 && f[0] == acct
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	if f == nil {
		return decimal.Zero, repository.ErrNotFound
	}
	balance, err := decimal.NewFromString(f[2])
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed balance for account %s: %w", acct, repository.ErrStorageCorrupted)
	}
	return balance, nil
}

func (b *Backend) DailyWithdrawals(ctx context.Context, cardNumber string) (decimal.Decimal, error) {
	today := b.now().Format(repository.DateLayout)
	return repository.Retry(ctx, "daily withdrawals", func() (decimal.Decimal, error) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		total := decimal.Zero
		err := b.daily.scan(func(f []string) bool {
			if len(f) < 3 || f[0] != cardNumber || f[1] != today {
				return true
			}
			if amount, err := decimal.NewFromString(f[2]); err == nil {
				total = total.Add(amount)
			} else {
				log.Printf("Skipping malformed daily withdrawal amount %q", f[2])
			}
			return true
		})
		return total, err
	})
}

func (b *Backend) MiniStatement(ctx context.Context, cardNumber string, max int) ([]models.Transaction, error) {
	if max <= 0 {
		return nil, nil
	}
	acct, err := b.accountID(ctx, cardNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	txns, err := repository.Retry(ctx, "mini statement", func() ([]models.Transaction, error) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		var out []models.Transaction
		err := b.txns.scan(func(f []string) bool {
			if len(f) < 6 || f[1] != acct {
				return true
			}
			// The table records the account, not the card.
			if txn, ok := parseTransaction(f); ok {
				out = append(out, txn)
			}
			return true
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	// Newest first; among equal timestamps the later line wins.
	for i, j := 0, len(txns)-1; i < j; i, j = i+1, j-1 {
		txns[i], txns[j] = txns[j], txns[i]
	}
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Timestamp.After(txns[j].Timestamp)
	})
	if len(txns) > max {
		txns = txns[:max]
	}
	return txns, nil
}

func parseTransaction(f []string) (models.Transaction, bool) {
	amount, err := decimal.NewFromString(f[3])
	if err != nil {
		return models.Transaction{}, false
	}
	ts, err := time.ParseInLocation(repository.TxnTimestampLayout, f[4], time.Local)
	if err != nil {
		if ts, err = time.ParseInLocation(repository.TimestampLayout, f[4], time.Local); err != nil {
			return models.Transaction{}, false
		}
	}
	txn := models.Transaction{
		ID:        f[0],
		AccountID: f[1],
		Type:      models.TransactionType(f[2]),
		Amount:    amount,
		Timestamp: ts,
		Status:    models.TransactionStatus(f[5]),
	}
	if len(f) > 6 {
		txn.Remarks = strings.Join(f[6:], "/")
	}
	return txn, true
}

func (b *Backend) VerifyAdmin(ctx context.Context, username, password string) (*models.Admin, error) {
	f, err := repository.Retry(ctx, "admin lookup", func() ([]string, error) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.admins.find(func(f []string) bool {
			return len(f) >= 4 && f[0] == username
		})
	})
	if err != nil {
		return nil, err
	}
	if f == nil || !utils.CheckSecret(password, f[1]) || !strings.EqualFold(f[3], string(models.CardActive)) {
		return nil, repository.ErrInvalidCredentials
	}
	admin := &models.Admin{Username: f[0], Active: true}
	for _, role := range strings.Split(f[2], ",") {
		if role = strings.TrimSpace(role); role != "" {
			admin.Roles = append(admin.Roles, role)
		}
	}
	return admin, nil
}

// ---- writes ----

func (b *Backend) rewrite(t *table, edit func(f []string) []string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return t.rewrite(edit)
}

func (b *Backend) updateBalance(ctx context.Context, cardNumber string, newBalance decimal.Decimal) error {
	if newBalance.IsNegative() {
		return repository.ErrInvalidBalance
	}
	acct, err := b.accountID(ctx, cardNumber)
	if err != nil {
		return err
	}
	return repository.RetryExec(ctx, "balance update", func() error {
		matched, err := b.rewrite(b.accounts, func(f []string) []string {
			if len(f) < 5 || f[0] != acct {
				return nil
			}
			f[2] = newBalance.StringFixed(models.MoneyPlaces)
			return f
		})
		if err != nil {
			return err
		}
		if !matched {
			return repository.ErrNotFound
		}
		return nil
	})
}

func (b *Backend) setCardStatus(ctx context.Context, cardNumber string, status models.CardStatus) (bool, error) {
	f, err := b.findCard(ctx, cardNumber)
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, repository.ErrNotFound
	}
	if strings.EqualFold(f[cardColStatus], string(status)) {
		return false, nil
	}
	return repository.Retry(ctx, "card status", func() (bool, error) {
		return b.rewrite(b.cards, func(f []string) []string {
			if len(f) < cardMinFields || f[cardColNumber] != cardNumber {
				return nil
			}
			f[cardColStatus] = string(status)
			return f
		})
	})
}

func (b *Backend) updatePIN(ctx context.Context, cardNumber, verifier string) error {
	return repository.RetryExec(ctx, "pin update", func() error {
		matched, err := b.rewrite(b.cards, func(f []string) []string {
			if len(f) < cardMinFields || f[cardColNumber] != cardNumber {
				return nil
			}
			f[cardColPin] = verifier
			return f
		})
		if err != nil {
			return err
		}
		if !matched {
			return repository.ErrNotFound
		}
		return nil
	})
}

func (b *Backend) logWithdrawal(ctx context.Context, cardNumber string, amount decimal.Decimal) error {
	now := b.now()
	record := []string{
		cardNumber,
		now.Format(repository.DateLayout),
		amount.StringFixed(models.MoneyPlaces),
		now.Format(repository.TimestampLayout),
	}
	return repository.RetryExec(ctx, "withdrawal log", func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.daily.appendRecord(record)
	})
}

func (b *Backend) logTransaction(ctx context.Context, txn *models.Transaction) error {
	acct := txn.AccountID
	if acct == "" {
		id, err := b.accountID(ctx, txn.CardNumber)
		if err != nil {
			return err
		}
		acct = id
	}
	ts := txn.Timestamp
	if ts.IsZero() {
		ts = b.now()
	}
	record := []string{
		txn.ID,
		acct,
		string(txn.Type),
		txn.Amount.StringFixed(models.MoneyPlaces),
		ts.Format(repository.TxnTimestampLayout),
		string(txn.Status),
		sanitizeRemarks(txn.Remarks),
	}
	return repository.RetryExec(ctx, "transaction log", func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.txns.appendRecord(record)
	})
}

func sanitizeRemarks(s string) string {
	s = strings.NewReplacer("|", "/", "\n", " ", "\r", " ").Replace(s)
	if len(s) > models.MaxRemarksLength {
		s = s[:models.MaxRemarksLength]
	}
	return strings.TrimSpace(s)
}

func (b *Backend) UpdateBalance(ctx context.Context, cardNumber string, newBalance decimal.Decimal) error {
	if err := b.refuseIfCorrupted(); err != nil {
		return err
	}
	return b.guard(b.updateBalance(ctx, cardNumber, newBalance))
}

func (b *Backend) BlockCard(ctx context.Context, cardNumber string) (bool, error) {
	if err := b.refuseIfCorrupted(); err != nil {
		return false, err
	}
	changed, err := b.setCardStatus(ctx, cardNumber, models.CardBlocked)
	return changed, b.guard(err)
}

func (b *Backend) UnblockCard(ctx context.Context, cardNumber string) (bool, error) {
	if err := b.refuseIfCorrupted(); err != nil {
		return false, err
	}
	changed, err := b.setCardStatus(ctx, cardNumber, models.CardActive)
	return changed, b.guard(err)
}

func (b *Backend) UpdatePIN(ctx context.Context, cardNumber, newPinVerifier string) error {
	if err := b.refuseIfCorrupted(); err != nil {
		return err
	}
	return b.guard(b.updatePIN(ctx, cardNumber, newPinVerifier))
}

func (b *Backend) LogWithdrawal(ctx context.Context, cardNumber string, amount decimal.Decimal) error {
	return b.logWithdrawal(ctx, cardNumber, amount)
}

func (b *Backend) LogTransaction(ctx context.Context, txn *models.Transaction) error {
	return b.logTransaction(ctx, txn)
}

// Atomic snapshots the card, accounting and daily withdrawal tables, runs fn
// and restores the snapshot if fn fails. A failed restore latches the backend
// into the corrupted state.
func (b *Backend) Atomic(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := b.refuseIfCorrupted(); err != nil {
		return err
	}
	bk, err := b.snapshot(b.cards, b.accounts, b.daily)
	if err != nil {
		return err
	}
	defer bk.discard()

	if err := fn(fileTx{b}); err != nil {
		b.mu.Lock()
		rerr := bk.restore()
		b.mu.Unlock()
		if rerr != nil {
			b.corrupted.Store(true)
			log.Printf("Failed to restore file tables after %v: %v", err, rerr)
			return fmt.Errorf("failed to restore after aborted envelope: %w", repository.ErrStorageCorrupted)
		}
		return err
	}
	return nil
}

// fileTx is the backend as seen from inside an envelope: corruption is left
// for the envelope's restore to settle.
type fileTx struct{ b *Backend }

func (t fileTx) GetCard(ctx context.Context, cardNumber string) (*models.Card, error) {
	return t.b.GetCard(ctx, cardNumber)
}

func (t fileTx) FetchBalance(ctx context.Context, cardNumber string) (decimal.Decimal, error) {
	return t.b.FetchBalance(ctx, cardNumber)
}

func (t fileTx) UpdateBalance(ctx context.Context, cardNumber string, newBalance decimal.Decimal) error {
	return t.b.updateBalance(ctx, cardNumber, newBalance)
}

func (t fileTx) DailyWithdrawals(ctx context.Context, cardNumber string) (decimal.Decimal, error) {
	return t.b.DailyWithdrawals(ctx, cardNumber)
}

func (t fileTx) LogWithdrawal(ctx context.Context, cardNumber string, amount decimal.Decimal) error {
	return t.b.logWithdrawal(ctx, cardNumber, amount)
}

func (t fileTx) LogTransaction(ctx context.Context, txn *models.Transaction) error {
	return t.b.logTransaction(ctx, txn)
}

func (t fileTx) MiniStatement(ctx context.Context, cardNumber string, max int) ([]models.Transaction, error) {
	return t.b.MiniStatement(ctx, cardNumber, max)
}

func (t fileTx) BlockCard(ctx context.Context, cardNumber string) (bool, error) {
	return t.b.setCardStatus(ctx, cardNumber, models.CardBlocked)
}

func (t fileTx) UnblockCard(ctx context.Context, cardNumber string) (bool, error) {
	return t.b.setCardStatus(ctx, cardNumber, models.CardActive)
}

func (t fileTx) UpdatePIN(ctx context.Context, cardNumber, newPinVerifier string) error {
	return t.b.updatePIN(ctx, cardNumber, newPinVerifier)
}
