package postgres

import (
	"context"
	"database/sql"
	"fmt"

	r "github.com/eaglebank/core-banking/internal/repository"
)

// schema creates the cbs_* tables when they are missing.
var schema = []string{
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(32) PRIMARY KEY,
		%s VARCHAR(100) NOT NULL,
		%s TEXT,
		%s VARCHAR(20),
		%s VARCHAR(100),
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`, r.TableCustomers, r.ColCustomerID, r.ColName, r.ColAddress, r.ColPhone, r.ColEmail),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(32) PRIMARY KEY,
		%s VARCHAR(32) NOT NULL REFERENCES %s(%s),
		%s NUMERIC(15,2) NOT NULL DEFAULT 0 CHECK (%s >= 0),
		%s CHAR(3) NOT NULL DEFAULT 'INR',
		%s VARCHAR(16) NOT NULL DEFAULT 'Active',
		%s TIMESTAMPTZ
	)`, r.TableAccounts, r.ColAccountNumber,
		r.ColCustomerID, r.TableCustomers, r.ColCustomerID,
		r.ColBalance, r.ColBalance, r.ColCurrency, r.ColStatus, r.ColLastTransaction),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(19) PRIMARY KEY,
		%s VARCHAR(32) NOT NULL UNIQUE,
		%s VARCHAR(32) NOT NULL REFERENCES %s(%s),
		%s VARCHAR(16) NOT NULL DEFAULT 'Debit',
		%s VARCHAR(100) NOT NULL,
		%s VARCHAR(100),
		%s VARCHAR(16) NOT NULL DEFAULT 'Active',
		%s DATE NOT NULL,
		%s NUMERIC(15,2) NOT NULL DEFAULT 0,
		%s NUMERIC(15,2) NOT NULL DEFAULT 0,
		%s NUMERIC(15,2) NOT NULL DEFAULT 0
	)`, r.TableCards, r.ColCardNumber, r.ColCardID,
		r.ColAccountID, r.TableAccounts, r.ColAccountNumber,
		r.ColCardType, r.ColPinHash, r.ColCvvHash, r.ColStatus, r.ColExpiryDate,
		r.ColDailyATMLimit, r.ColDailyPOSLimit, r.ColDailyOnlineLimit),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(48) PRIMARY KEY,
		%s VARCHAR(19) NOT NULL,
		%s VARCHAR(32),
		%s VARCHAR(20) NOT NULL,
		%s NUMERIC(15,2) NOT NULL,
		%s TIMESTAMPTZ NOT NULL,
		%s VARCHAR(10) NOT NULL,
		%s VARCHAR(100)
	)`, r.TableTransactions, r.ColTransactionID, r.ColCardNumber, r.ColAccountNumber,
		r.ColType, r.ColAmount, r.ColTimestamp, r.ColStatus, r.ColRemarks),

	fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_card_ts ON %s (%s, %s DESC)`,
		r.TableTransactions, r.TableTransactions, r.ColCardNumber, r.ColTimestamp),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(19) NOT NULL,
		%s NUMERIC(15,2) NOT NULL,
		%s DATE NOT NULL
	)`, r.TableDailyWithdrawals, r.ColCardNumber, r.ColAmount, r.ColWithdrawalDate),

	fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_card_date ON %s (%s, %s)`,
		r.TableDailyWithdrawals, r.TableDailyWithdrawals, r.ColCardNumber, r.ColWithdrawalDate),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s BIGSERIAL PRIMARY KEY,
		%s VARCHAR(64) NOT NULL,
		%s VARCHAR(64) NOT NULL,
		%s TEXT,
		%s TIMESTAMPTZ NOT NULL
	)`, r.TableAuditLogs, r.ColAuditID, r.ColUser, r.ColAction, r.ColDescription, r.ColTimestamp),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(64) PRIMARY KEY,
		%s VARCHAR(100) NOT NULL,
		%s TEXT NOT NULL DEFAULT 'admin',
		%s VARCHAR(16) NOT NULL DEFAULT 'Active'
	)`, r.TableAdminUsers, r.ColUsername, r.ColPasswordHash, r.ColRoles, r.ColStatus),
}

// Migrate applies the schema on db.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
