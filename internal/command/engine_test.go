package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/eaglebank/core-banking/internal/audit"
	"github.com/eaglebank/core-banking/internal/config"
	"github.com/eaglebank/core-banking/internal/lock"
	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/internal/repository/flatfile"
	"github.com/eaglebank/core-banking/shared/cqrs"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	engine *Engine
	store  repository.DataAccess
	config *config.Provider
	logDir string
}

func hash(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	return string(h)
}

func seedTable(t *testing.T, dir, name, sep string, rows ...[]string) {
	t.Helper()
	header := repository.FileHeaders[name]
	lines := []string{header[0], header[1]}
	for _, r := range rows {
		if sep == "," {
			lines = append(lines, strings.Join(r, ","))
		} else {
			lines = append(lines, strings.Join(r, " | "))
		}
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("failed to seed %s: %v", name, err)
	}
}

// Cards: 123456 (1000.00, PIN 1234, CVV 321), 222222 (0.00), 333333
// (blocked), 444444 (expired), 555555 (second card on account A1).
func newTestEnv(t *testing.T, wrap func(repository.DataAccess) repository.DataAccess) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("failed to create data dir: %v", err)
	}

	pin, cvv := hash(t, "1234"), hash(t, "321")
	seedTable(t, dataDir, repository.FileCards, "|",
		[]string{"C1", "A1", "123456", "Debit", "12/99", "Active", pin, cvv},
		[]string{"C2", "A2", "222222", "Debit", "12/99", "Active", pin, cvv},
		[]string{"C3", "A3", "333333", "Debit", "12/99", "Blocked", pin},
		[]string{"C4", "A4", "444444", "Debit", "01/20", "Active", pin},
		[]string{"C5", "A1", "555555", "Credit", "12/99", "Active", pin},
	)
	seedTable(t, dataDir, repository.FileCustomers, "|",
		[]string{"U1", "Asha Rao", "123456", "12 MG Road", "9876543210", "asha@example.com"},
	)
	seedTable(t, dataDir, repository.FileAccounting, "|",
		[]string{"A1", "123456", "1000.00", "INR", "Active"},
		[]string{"A2", "222222", "0.00", "INR", "Active"},
		[]string{"A3", "333333", "50.00", "INR", "Active"},
		[]string{"A4", "444444", "75.00", "INR", "Active"},
	)
	seedTable(t, dataDir, repository.FileAdmins, "|",
		[]string{"root", hash(t, "s3cret"), "admin", "Active"},
	)

	backend, err := flatfile.New(dataDir, filepath.Join(dir, "temp"))
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	var store repository.DataAccess = backend
	if wrap != nil {
		store = wrap(backend)
	}

	cfg, err := config.New("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	logDir := filepath.Join(dir, "logs")
	logs, err := audit.New(audit.Config{Dir: logDir, MaxSizeMB: 1, RetentionDays: 7, AuditRetentionDays: 2555})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	t.Cleanup(func() { logs.Close() })

	return &testEnv{
		engine: NewEngine(store, cfg, lock.New(filepath.Join(dir, "lock")), logs),
		store:  store,
		config: cfg,
		logDir: logDir,
	}
}

func (env *testEnv) lines(t *testing.T, stream string) []string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(env.logDir, stream))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read %s: %v", stream, err)
	}
	return strings.Split(strings.TrimSpace(string(raw)), "\n")
}

func (env *testEnv) balance(t *testing.T, card string) decimal.Decimal {
	t.Helper()
	bal, err := env.store.FetchBalance(context.Background(), card)
	if err != nil {
		t.Fatalf("failed to fetch balance of %s: %v", card, err)
	}
	return bal
}

func (env *testEnv) statement(t *testing.T, card string) []models.Transaction {
	t.Helper()
	txns, err := env.store.MiniStatement(context.Background(), card, 50)
	if err != nil {
		t.Fatalf("failed to read records of %s: %v", card, err)
	}
	return txns
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// faultyStore fails UpdateBalance for one card inside an envelope.
type faultyStore struct {
	repository.DataAccess
	failCard string
}

func (f *faultyStore) Atomic(ctx context.Context, fn func(tx repository.Tx) error) error {
	return f.DataAccess.Atomic(ctx, func(tx repository.Tx) error {
		return fn(faultyTx{Tx: tx, failCard: f.failCard})
	})
}

type faultyTx struct {
	repository.Tx
	failCard string
}

func (t faultyTx) UpdateBalance(ctx context.Context, cardNumber string, newBalance decimal.Decimal) error {
	if cardNumber == t.failCard {
		return fmt.Errorf("write accounting table: %w", repository.ErrStorageUnavailable)
	}
	return t.Tx.UpdateBalance(ctx, cardNumber, newBalance)
}

func TestDepositCommitsAndAudits(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.engine.Deposit(context.Background(), cqrs.DepositCommand{CardNumber: "123456", Amount: amount("250.50")})
	if !res.Success || res.Code != CodeOK {
		t.Fatalf("expected success got %s (%s)", res.Code, res.Message)
	}
	if !res.OldBalance.Equal(amount("1000")) || !res.NewBalance.Equal(amount("1250.50")) {
		t.Errorf("expected 1000.00 -> 1250.50 got %s -> %s", res.OldBalance, res.NewBalance)
	}
	if got := env.balance(t, "123456"); !got.Equal(amount("1250.50")) {
		t.Errorf("expected stored balance 1250.50 got %s", got)
	}
	if res.Receipt == nil || res.Receipt.Title != "CASH DEPOSIT" || res.Receipt.MaskedCard != "XX3456" {
		t.Errorf("unexpected receipt %+v", res.Receipt)
	}

	txns := env.statement(t, "123456")
	if len(txns) != 1 || txns[0].Status != models.StatusSuccess || txns[0].Type != models.TxnDeposit {
		t.Fatalf("expected one successful deposit record got %+v", txns)
	}
	if txns[0].ID != res.TransactionID {
		t.Errorf("expected record %s got %s", res.TransactionID, txns[0].ID)
	}

	auditLines := env.lines(t, audit.AuditStream)
	if len(auditLines) != 1 {
		t.Fatalf("expected 1 audit line got %d", len(auditLines))
	}
	for _, want := range []string{"| DEPOSIT |", `{"balance":1000.00}`, `{"balance":1250.50}`} {
		if !strings.Contains(auditLines[0], want) {
			t.Errorf("expected audit line to contain %q: %s", want, auditLines[0])
		}
	}
	if txnLines := env.lines(t, audit.TransactionStream); len(txnLines) != 1 {
		t.Errorf("expected 1 transaction line got %d", len(txnLines))
	}
}

func TestWithdrawLimits(t *testing.T) {
	tests := []struct {
		name         string
		atmLimit     string
		dailyLimit   string
		prior        string
		amount       string
		expectedCode Code
		records      int
	}{
		{"exactly the per-op limit", "500", "50000", "", "500.00", CodeOK, 1},
		{"one paisa over the per-op limit", "500", "50000", "", "500.01", CodeLimitExceeded, 1},
		{"over the per-op limit", "500", "50000", "", "501", CodeLimitExceeded, 1},
		{"daily total reaches the cap", "25000", "600", "400", "200", CodeOK, 1},
		{"daily total passes the cap", "25000", "600", "400", "200.01", CodeLimitExceeded, 1},
		{"more than the balance", "25000", "50000", "", "1000.01", CodeInsufficientFunds, 1},
		{"three decimal places", "25000", "50000", "", "10.005", CodeInvalidAmount, 0},
		{"zero amount", "25000", "50000", "", "0", CodeInvalidAmount, 0},
	}
	for _, tc := range tests {
		env := newTestEnv(t, nil)
		ctx := context.Background()
		env.config.Set(config.KeyATMWithdrawalLimit, tc.atmLimit)
		env.config.Set(config.KeyDailyTransactionLimit, tc.dailyLimit)
		start := decimal.Zero
		if tc.prior != "" {
			if err := env.store.LogWithdrawal(ctx, "123456", amount(tc.prior)); err != nil {
				t.Fatalf("[%s] failed to seed withdrawal: %v", tc.name, err)
			}
			start = amount(tc.prior)
		}

		res := env.engine.Withdraw(ctx, cqrs.WithdrawCommand{CardNumber: "123456", Amount: amount(tc.amount)})
		if res.Code != tc.expectedCode {
			t.Errorf("[%s] expected %s got %s", tc.name, tc.expectedCode, res.Code)
			continue
		}

		daily, err := env.store.DailyWithdrawals(ctx, "123456")
		if err != nil {
			t.Fatalf("[%s] unexpected error: %v", tc.name, err)
		}
		txns := env.statement(t, "123456")
		if tc.expectedCode == CodeOK {
			if !daily.Equal(start.Add(amount(tc.amount))) {
				t.Errorf("[%s] expected daily total %s got %s", tc.name, start.Add(amount(tc.amount)), daily)
			}
			if want := amount("1000").Sub(amount(tc.amount)); !env.balance(t, "123456").Equal(want) {
				t.Errorf("[%s] expected balance %s", tc.name, want)
			}
			continue
		}
		if !daily.Equal(start) {
			t.Errorf("[%s] expected daily total to stay %s got %s", tc.name, start, daily)
		}
		if !env.balance(t, "123456").Equal(amount("1000")) {
			t.Errorf("[%s] expected balance to stay 1000.00", tc.name)
		}
		if len(txns) != tc.records {
			t.Errorf("[%s] expected %d records got %d", tc.name, tc.records, len(txns))
			continue
		}
		if tc.records > 0 && (txns[0].Status != models.StatusFailed || txns[0].Remarks != tc.expectedCode.Message()) {
			t.Errorf("[%s] expected a failed record got %+v", tc.name, txns[0])
		}
	}
}

func TestCardATMLimitCapsWithdrawals(t *testing.T) {
	env := newTestEnv(t, func(da repository.DataAccess) repository.DataAccess {
		return &limitedCards{DataAccess: da, atm: amount("300")}
	})
	ctx := context.Background()

	if res := env.engine.Withdraw(ctx, cqrs.WithdrawCommand{CardNumber: "123456", Amount: amount("200")}); !res.Success {
		t.Fatalf("expected first withdrawal to pass got %s", res.Code)
	}
	if res := env.engine.Withdraw(ctx, cqrs.WithdrawCommand{CardNumber: "123456", Amount: amount("100.01")}); res.Code != CodeLimitExceeded {
		t.Errorf("expected %s got %s", CodeLimitExceeded, res.Code)
	}
}

// limitedCards reports a daily ATM limit on every card it returns.
type limitedCards struct {
	repository.DataAccess
	atm decimal.Decimal
}

func (l *limitedCards) GetCard(ctx context.Context, cardNumber string) (*models.Card, error) {
	card, err := l.DataAccess.GetCard(ctx, cardNumber)
	if card != nil {
		card.Limits.ATM = l.atm
	}
	return card, err
}

func TestTransfer(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.engine.Transfer(ctx, cqrs.TransferCommand{CardNumber: "123456", ToCardNumber: "222222", Amount: amount("300")})
	if !res.Success {
		t.Fatalf("expected success got %s (%s)", res.Code, res.Message)
	}
	if !env.balance(t, "123456").Equal(amount("700")) || !env.balance(t, "222222").Equal(amount("300")) {
		t.Errorf("expected balances 700.00/300.00 got %s/%s", env.balance(t, "123456"), env.balance(t, "222222"))
	}
	sent, received := env.statement(t, "123456"), env.statement(t, "222222")
	if len(sent) != 1 || sent[0].Remarks != "Transfer to XX2222" {
		t.Errorf("unexpected sender records %+v", sent)
	}
	if len(received) != 1 || received[0].Remarks != "Transfer from XX3456" {
		t.Errorf("unexpected receiver records %+v", received)
	}
	if res.Receipt == nil || res.Receipt.Counterparty != "XX2222" {
		t.Errorf("expected receipt to name the receiver, got %+v", res.Receipt)
	}
	daily, _ := env.store.DailyWithdrawals(ctx, "123456")
	if !daily.Equal(amount("300")) {
		t.Errorf("expected transfer to count towards the daily total, got %s", daily)
	}
	auditLines := env.lines(t, audit.AuditStream)
	if len(auditLines) != 1 || !strings.Contains(auditLines[0], `{"balance":700.00,"receiverBalance":300.00}`) {
		t.Errorf("unexpected audit lines %q", auditLines)
	}
}

func TestTransferRollsBackWhenReceiverWriteFails(t *testing.T) {
	env := newTestEnv(t, func(da repository.DataAccess) repository.DataAccess {
		return &faultyStore{DataAccess: da, failCard: "222222"}
	})
	ctx := context.Background()

	res := env.engine.Transfer(ctx, cqrs.TransferCommand{CardNumber: "123456", ToCardNumber: "222222", Amount: amount("300")})
	if res.Success || res.Code != CodeStorageUnavailable {
		t.Fatalf("expected %s got %s", CodeStorageUnavailable, res.Code)
	}
	if !res.OldBalance.Equal(res.NewBalance) {
		t.Errorf("expected unchanged balance in result, got %s -> %s", res.OldBalance, res.NewBalance)
	}
	if !env.balance(t, "123456").Equal(amount("1000")) || !env.balance(t, "222222").IsZero() {
		t.Errorf("expected balances restored, got %s/%s", env.balance(t, "123456"), env.balance(t, "222222"))
	}
	for _, card := range []string{"123456", "222222"} {
		txns := env.statement(t, card)
		if len(txns) != 1 || txns[0].Status != models.StatusFailed {
			t.Errorf("expected one failed record for %s got %+v", card, txns)
		}
	}
	if daily, _ := env.store.DailyWithdrawals(ctx, "123456"); !daily.IsZero() {
		t.Errorf("expected no daily withdrawal, got %s", daily)
	}
	if lines := env.lines(t, audit.AuditStream); len(lines) != 0 {
		t.Errorf("expected no audit line for a failed transfer, got %q", lines)
	}
}

func TestTransferRejections(t *testing.T) {
	tests := []struct {
		name         string
		to           string
		amount       string
		expectedCode Code
		records      int
	}{
		{"same card", "123456", "10", CodeInvalidOperation, 1},
		{"same account", "555555", "10", CodeInvalidOperation, 1},
		{"unknown receiver", "999999", "10", CodeCardNotFound, 1},
		{"blocked receiver", "333333", "10", CodeCardBlocked, 1},
		{"malformed receiver", "22-22", "10", CodeInvalidFormat, 1},
		{"insufficient funds", "222222", "1500", CodeInsufficientFunds, 1},
	}
	for _, tc := range tests {
		env := newTestEnv(t, nil)
		res := env.engine.Transfer(context.Background(), cqrs.TransferCommand{
			CardNumber: "123456", ToCardNumber: tc.to, Amount: amount(tc.amount),
		})
		if res.Code != tc.expectedCode {
			t.Errorf("[%s] expected %s got %s", tc.name, tc.expectedCode, res.Code)
			continue
		}
		if txns := env.statement(t, "123456"); len(txns) != tc.records {
			t.Errorf("[%s] expected %d sender records got %d", tc.name, tc.records, len(txns))
		}
		if !env.balance(t, "123456").Equal(amount("1000")) {
			t.Errorf("[%s] expected sender balance unchanged", tc.name)
		}
	}
}

func TestTransferToExpiredCardIsAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.engine.Transfer(context.Background(), cqrs.TransferCommand{CardNumber: "123456", ToCardNumber: "444444", Amount: amount("25")})
	if !res.Success {
		t.Fatalf("expected success got %s", res.Code)
	}
	if !env.balance(t, "444444").Equal(amount("100")) {
		t.Errorf("expected 100.00 got %s", env.balance(t, "444444"))
	}
}

func TestMiniStatementNewestFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for _, a := range []string{"1", "2", "3"} {
		if res := env.engine.Deposit(ctx, cqrs.DepositCommand{CardNumber: "123456", Amount: amount(a)}); !res.Success {
			t.Fatalf("deposit %s failed: %s", a, res.Code)
		}
	}

	res := env.engine.MiniStatement(ctx, cqrs.MiniStatementQuery{CardNumber: "123456", Max: 2})
	if !res.Success {
		t.Fatalf("expected success got %s", res.Code)
	}
	if len(res.Statement) != 2 {
		t.Fatalf("expected 2 lines got %d", len(res.Statement))
	}
	if !res.Statement[0].Amount.Equal(amount("3")) || !res.Statement[1].Amount.Equal(amount("2")) {
		t.Errorf("expected 3.00 then 2.00 got %s then %s", res.Statement[0].Amount, res.Statement[1].Amount)
	}
	if res.Receipt != nil {
		t.Errorf("expected no receipt for a mini statement")
	}
	if !res.NewBalance.Equal(amount("1006")) {
		t.Errorf("expected balance 1006.00 got %s", res.NewBalance)
	}

	all := env.engine.MiniStatement(ctx, cqrs.MiniStatementQuery{CardNumber: "123456"})
	if len(all.Statement) != 4 || all.Statement[0].Type != models.TxnMiniStatement {
		t.Errorf("expected default size to include the first enquiry, got %+v", all.Statement)
	}
}

func TestBalanceEnquiry(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.engine.Balance(context.Background(), cqrs.BalanceQuery{CardNumber: "1234 56"})
	if !res.Success || !res.NewBalance.Equal(amount("1000")) {
		t.Fatalf("expected balance 1000.00 got %s (%s)", res.NewBalance, res.Code)
	}
	if lines := env.lines(t, audit.AuditStream); len(lines) != 0 {
		t.Errorf("expected enquiries not to be audited, got %q", lines)
	}
	if txns := env.statement(t, "123456"); len(txns) != 1 || txns[0].Type != models.TxnBalance {
		t.Errorf("expected one balance record got %+v", txns)
	}
}

func TestCardVerdicts(t *testing.T) {
	tests := []struct {
		name         string
		card         string
		expectedCode Code
		severity     string
		records      int
	}{
		{"malformed", "12ab56", CodeInvalidFormat, "low", 0},
		{"wrong length", "1234567", CodeInvalidFormat, "low", 0},
		{"unknown", "999999", CodeCardNotFound, "medium", 0},
		{"blocked", "333333", CodeCardBlocked, "high", 1},
		{"expired", "444444", CodeCardExpired, "medium", 1},
	}
	for _, tc := range tests {
		env := newTestEnv(t, nil)
		res := env.engine.Deposit(context.Background(), cqrs.DepositCommand{CardNumber: tc.card, Amount: amount("10")})
		if res.Code != tc.expectedCode {
			t.Errorf("[%s] expected %s got %s", tc.name, tc.expectedCode, res.Code)
			continue
		}
		security := env.lines(t, audit.SecurityStream)
		if len(security) != 1 || !strings.Contains(security[0], "| "+tc.severity+" |") {
			t.Errorf("[%s] expected one %s security line got %q", tc.name, tc.severity, security)
		}
		if tc.records > 0 {
			if txns := env.statement(t, tc.card); len(txns) != tc.records || txns[0].Status != models.StatusFailed {
				t.Errorf("[%s] expected %d failed records got %+v", tc.name, tc.records, txns)
			}
		}
		if lines := env.lines(t, audit.TransactionStream); len(lines) != 1 || !strings.Contains(lines[0], "| Failed |") {
			t.Errorf("[%s] expected one failed transaction line got %q", tc.name, lines)
		}
	}
}

func TestVirtualOperations(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		res := env.engine.VirtualWithdraw(context.Background(), cqrs.VirtualWithdrawCommand{
			CardNumber: "123456", CVV: "321", Expiry: "12/99", Amount: amount("100"),
		})
		if res.Code != CodeFeatureDisabled {
			t.Fatalf("expected %s got %s", CodeFeatureDisabled, res.Code)
		}
		security := env.lines(t, audit.SecurityStream)
		if len(security) != 1 || !strings.Contains(security[0], "| FEATURE_DISABLED | medium |") {
			t.Errorf("expected one medium feature-disabled line got %q", security)
		}
		if !env.balance(t, "123456").Equal(amount("1000")) {
			t.Errorf("expected balance unchanged")
		}
	})

	t.Run("enabled", func(t *testing.T) {
		tests := []struct {
			name         string
			cvv          string
			expiry       string
			amount       string
			expectedCode Code
		}{
			{"valid triple", "321", "12/99", "100", CodeOK},
			{"wrong CVV", "999", "12/99", "100", CodeCVVMismatch},
			{"wrong expiry", "321", "11/99", "100", CodeCVVMismatch},
			{"malformed expiry", "321", "1299", "100", CodeInvalidFormat},
			{"over the virtual limit", "321", "12/99", "400.01", CodeLimitExceeded},
		}
		for _, tc := range tests {
			env := newTestEnv(t, nil)
			env.config.Set(config.KeyVirtualEnabled, true)
			env.config.Set(config.KeyVirtualWithdrawalLimit, "400")
			res := env.engine.VirtualWithdraw(context.Background(), cqrs.VirtualWithdrawCommand{
				CardNumber: "123456", CVV: tc.cvv, Expiry: tc.expiry, Amount: amount(tc.amount),
			})
			if res.Code != tc.expectedCode {
				t.Errorf("[%s] expected %s got %s", tc.name, tc.expectedCode, res.Code)
				continue
			}
			if tc.expectedCode == CodeOK && (res.Receipt == nil || res.Receipt.Title != "VIRTUAL CASH WITHDRAWAL") {
				t.Errorf("[%s] unexpected receipt %+v", tc.name, res.Receipt)
			}
		}
	})

	t.Run("transfer", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.config.Set(config.KeyVirtualEnabled, true)
		res := env.engine.VirtualTransfer(context.Background(), cqrs.VirtualTransferCommand{
			CardNumber: "123456", CVV: "321", Expiry: "12/99", ToCardNumber: "222222", Amount: amount("50"),
		})
		if !res.Success {
			t.Fatalf("expected success got %s", res.Code)
		}
		if !env.balance(t, "222222").Equal(amount("50")) {
			t.Errorf("expected 50.00 got %s", env.balance(t, "222222"))
		}
	})
}

var generatedField = regexp.MustCompile(`^(TXN|OP-|AUD|SES)|^\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}|^\d{1,3}$`)

// containsPIN reports whether any of pins appears inside a line field other
// than generated ids, timestamps and sequence numbers. Occurrences of
// cardNumber are removed first.
func containsPIN(line, cardNumber string, pins ...string) bool {
	for _, f := range strings.Split(line, " | ") {
		f = strings.TrimSpace(f)
		if generatedField.MatchString(f) {
			continue
		}
		f = strings.ReplaceAll(f, cardNumber, "")
		for _, pin := range pins {
			if strings.Contains(f, pin) {
				return true
			}
		}
	}
	return false
}

func TestChangePIN(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.engine.ChangePIN(ctx, cqrs.PinChangeCommand{CardNumber: "123456", OldPIN: "1234", NewPIN: "5678"})
	if !res.Success {
		t.Fatalf("expected success got %s (%s)", res.Code, res.Message)
	}
	if res.Receipt != nil {
		t.Errorf("expected no receipt for a PIN change")
	}
	if ok, _ := env.store.ValidatePIN(ctx, "123456", "5678"); !ok {
		t.Errorf("expected new PIN to verify")
	}
	if ok, _ := env.store.ValidatePIN(ctx, "123456", "1234"); ok {
		t.Errorf("expected old PIN to be rejected")
	}

	for _, stream := range []string{audit.TransactionStream, audit.AuditStream, audit.SecurityStream} {
		for _, line := range env.lines(t, stream) {
			if containsPIN(line, "123456", "1234", "5678") {
				t.Errorf("expected no PIN in %s: %s", stream, line)
			}
		}
	}
	auditLines := env.lines(t, audit.AuditStream)
	if len(auditLines) != 1 || !strings.Contains(auditLines[0], `| card | C1 |`) || !strings.Contains(auditLines[0], `{"pinVerifier":"****"}`) {
		t.Errorf("unexpected audit lines %q", auditLines)
	}
}

func TestChangePINRejections(t *testing.T) {
	tests := []struct {
		name         string
		oldPIN       string
		newPIN       string
		expectedCode Code
	}{
		{"wrong old PIN", "4321", "5678", CodePINMismatch},
		{"same PIN", "1234", "1234", CodeInvalidOperation},
		{"short new PIN", "1234", "567", CodeInvalidFormat},
	}
	for _, tc := range tests {
		env := newTestEnv(t, nil)
		res := env.engine.ChangePIN(context.Background(), cqrs.PinChangeCommand{CardNumber: "123456", OldPIN: tc.oldPIN, NewPIN: tc.newPIN})
		if res.Code != tc.expectedCode {
			t.Errorf("[%s] expected %s got %s", tc.name, tc.expectedCode, res.Code)
		}
		if ok, _ := env.store.ValidatePIN(context.Background(), "123456", "1234"); !ok {
			t.Errorf("[%s] expected PIN unchanged", tc.name)
		}
	}
}

func TestMaintenanceGatesFinancialOperations(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if res := env.engine.SetMaintenance(ctx, cqrs.MaintenanceCommand{Actor: "root", Enabled: true}); !res.Success {
		t.Fatalf("expected maintenance switch to succeed got %s", res.Code)
	}
	if res := env.engine.Deposit(ctx, cqrs.DepositCommand{CardNumber: "123456", Amount: amount("10")}); res.Code != CodeMaintenance {
		t.Errorf("expected %s got %s", CodeMaintenance, res.Code)
	}
	if res := env.engine.Balance(ctx, cqrs.BalanceQuery{CardNumber: "123456"}); !res.Success {
		t.Errorf("expected enquiries to pass during maintenance, got %s", res.Code)
	}

	env.engine.SetMaintenance(ctx, cqrs.MaintenanceCommand{Actor: "root", Enabled: false})
	if res := env.engine.Deposit(ctx, cqrs.DepositCommand{CardNumber: "123456", Amount: amount("10")}); !res.Success {
		t.Errorf("expected deposit after maintenance got %s", res.Code)
	}
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	cmd := cqrs.CardStatusCommand{Actor: "root", CardNumber: "123456"}

	if res := env.engine.BlockCard(ctx, cmd); !res.Success {
		t.Fatalf("expected block to succeed got %s", res.Code)
	}
	if res := env.engine.BlockCard(ctx, cmd); res.Code != CodeInvalidOperation || res.Message != "Card is already Blocked" {
		t.Errorf("expected second block to be refused, got %s (%s)", res.Code, res.Message)
	}
	if res := env.engine.Withdraw(ctx, cqrs.WithdrawCommand{CardNumber: "123456", Amount: amount("10")}); res.Code != CodeCardBlocked {
		t.Errorf("expected %s got %s", CodeCardBlocked, res.Code)
	}
	if res := env.engine.UnblockCard(ctx, cmd); !res.Success {
		t.Fatalf("expected unblock to succeed got %s", res.Code)
	}
	if res := env.engine.UnblockCard(ctx, cqrs.CardStatusCommand{Actor: "root", CardNumber: "999999"}); res.Code != CodeCardNotFound {
		t.Errorf("expected %s got %s", CodeCardNotFound, res.Code)
	}

	var actions []string
	for _, line := range env.lines(t, audit.AuditStream) {
		fields := strings.Split(line, " | ")
		actions = append(actions, fields[4])
	}
	if strings.Join(actions, ",") != "BLOCK_CARD,UNBLOCK_CARD" {
		t.Errorf("expected block then unblock audited, got %v", actions)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.config.Set(config.KeyMaxPinAttempts, 2)

	res, card := env.engine.Authenticate(ctx, cqrs.AuthenticateCommand{CardNumber: "123456", PIN: "1234"})
	if !res.Success || card == nil || card.ID != "C1" {
		t.Fatalf("expected login to succeed got %s", res.Code)
	}
	if res.Holder != "Asha Rao" {
		t.Errorf("expected holder Asha Rao got %q", res.Holder)
	}

	for _, want := range []string{"medium", "high"} {
		res, card = env.engine.Authenticate(ctx, cqrs.AuthenticateCommand{CardNumber: "123456", PIN: "0000"})
		if res.Code != CodePINMismatch || card != nil {
			t.Fatalf("expected %s got %s", CodePINMismatch, res.Code)
		}
		security := env.lines(t, audit.SecurityStream)
		if last := security[len(security)-1]; !strings.Contains(last, "| PIN_FAILED | "+want+" |") {
			t.Errorf("expected %s severity got %s", want, last)
		}
	}

	if res, _ := env.engine.Authenticate(ctx, cqrs.AuthenticateCommand{CardNumber: "123456", PIN: "12a4"}); res.Code != CodeInvalidFormat {
		t.Errorf("expected %s got %s", CodeInvalidFormat, res.Code)
	}
}

func TestAdminLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, admin := env.engine.AdminLogin(ctx, cqrs.AdminLoginCommand{Username: "root", Password: "s3cret"})
	if !res.Success || admin == nil || admin.Username != "root" {
		t.Fatalf("expected admin login to succeed got %s", res.Code)
	}
	res, admin = env.engine.AdminLogin(ctx, cqrs.AdminLoginCommand{Username: "root", Password: "wrong"})
	if res.Code != CodeUnauthorized || admin != nil {
		t.Errorf("expected %s got %s", CodeUnauthorized, res.Code)
	}
	for _, line := range env.lines(t, audit.SecurityStream) {
		if strings.Contains(line, "wrong") || strings.Contains(line, "s3cret") {
			t.Errorf("expected no password in security stream: %s", line)
		}
	}
}

func TestCorruptionLatchRefusesMutations(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.corrupted.Store(true)
	ctx := context.Background()

	if res := env.engine.Deposit(ctx, cqrs.DepositCommand{CardNumber: "123456", Amount: amount("10")}); res.Code != CodeStorageCorrupted {
		t.Errorf("expected %s got %s", CodeStorageCorrupted, res.Code)
	}
	if res := env.engine.ChangePIN(ctx, cqrs.PinChangeCommand{CardNumber: "123456", OldPIN: "1234", NewPIN: "5678"}); res.Code != CodeStorageCorrupted {
		t.Errorf("expected %s got %s", CodeStorageCorrupted, res.Code)
	}
	if res := env.engine.Balance(ctx, cqrs.BalanceQuery{CardNumber: "123456"}); !res.Success {
		t.Errorf("expected reads to continue, got %s", res.Code)
	}
}

func TestLockHeldRejects(t *testing.T) {
	env := newTestEnv(t, nil)
	sentinel := env.engine.lock.Path()
	if err := os.MkdirAll(filepath.Dir(sentinel), 0755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(sentinel, []byte("stale\n"), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := env.engine.Deposit(context.Background(), cqrs.DepositCommand{CardNumber: "123456", Amount: amount("10")})
	if res.Code != CodeLockHeld {
		t.Fatalf("expected %s got %s", CodeLockHeld, res.Code)
	}
	if !env.balance(t, "123456").Equal(amount("1000")) {
		t.Errorf("expected balance unchanged")
	}
}

func TestReceiptRender(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.engine.Withdraw(context.Background(), cqrs.WithdrawCommand{CardNumber: "123456", Amount: amount("40")})
	if !res.Success {
		t.Fatalf("expected success got %s", res.Code)
	}
	out := res.Receipt.Render()
	for _, want := range []string{"CASH WITHDRAWAL", "XX3456", "INR 40.00", "INR 960.00", res.TransactionID} {
		if !strings.Contains(out, want) {
			t.Errorf("expected receipt to contain %q:\n%s", want, out)
		}
	}
}
