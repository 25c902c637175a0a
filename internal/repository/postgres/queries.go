package postgres

import (
	"fmt"

	r "github.com/eaglebank/core-banking/internal/repository"
)

var (
	cardQuery = fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
	`, r.ColCardID, r.ColAccountID, r.ColCardNumber, r.ColCardType, r.ColExpiryDate, r.ColStatus,
		r.ColPinHash, r.ColCvvHash, r.ColDailyATMLimit, r.ColDailyPOSLimit, r.ColDailyOnlineLimit,
		r.TableCards, r.ColCardNumber)

	holderQuery = fmt.Sprintf(`
		SELECT cu.%s, cu.%s
		FROM %s c
		JOIN %s a ON a.%s = c.%s
		JOIN %s cu ON cu.%s = a.%s
		WHERE c.%s = $1
	`, r.ColName, r.ColPhone,
		r.TableCards,
		r.TableAccounts, r.ColAccountNumber, r.ColAccountID,
		r.TableCustomers, r.ColCustomerID, r.ColCustomerID,
		r.ColCardNumber)

	balanceQuery = fmt.Sprintf(`
		SELECT a.%s
		FROM %s a
		JOIN %s c ON c.%s = a.%s
		WHERE c.%s = $1
	`, r.ColBalance, r.TableAccounts, r.TableCards, r.ColAccountID, r.ColAccountNumber, r.ColCardNumber)

	// Row-locks the account for the rest of the transaction.
	balanceForUpdateQuery = balanceQuery + " FOR UPDATE OF a"

	updateBalanceQuery = fmt.Sprintf(`
		UPDATE %s
		SET %s = $1, %s = $2
		WHERE %s = (SELECT %s FROM %s WHERE %s = $3)
	`, r.TableAccounts, r.ColBalance, r.ColLastTransaction,
		r.ColAccountNumber, r.ColAccountID, r.TableCards, r.ColCardNumber)

	dailyWithdrawalsQuery = fmt.Sprintf(`
		SELECT COALESCE(SUM(%s), 0)
		FROM %s
		WHERE %s = $1 AND %s = $2
	`, r.ColAmount, r.TableDailyWithdrawals, r.ColCardNumber, r.ColWithdrawalDate)

	logWithdrawalQuery = fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s)
		VALUES ($1, $2, $3)
	`, r.TableDailyWithdrawals, r.ColCardNumber, r.ColAmount, r.ColWithdrawalDate)

	logTransactionQuery = fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
	`, r.TableTransactions, r.ColTransactionID, r.ColCardNumber, r.ColAccountNumber, r.ColType,
		r.ColAmount, r.ColTimestamp, r.ColStatus, r.ColRemarks)

	miniStatementQuery = fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
		ORDER BY %s DESC, %s DESC
		LIMIT $2
	`, r.ColTransactionID, r.ColCardNumber, r.ColAccountNumber, r.ColType, r.ColAmount,
		r.ColTimestamp, r.ColStatus, r.ColRemarks,
		r.TableTransactions, r.ColCardNumber, r.ColTimestamp, r.ColTransactionID)

	setCardStatusQuery = fmt.Sprintf(`
		UPDATE %s
		SET %s = $1
		WHERE %s = $2 AND LOWER(%s) <> LOWER($1)
	`, r.TableCards, r.ColStatus, r.ColCardNumber, r.ColStatus)

	cardExistsQuery = fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = $1`, r.TableCards, r.ColCardNumber)

	updatePINQuery = fmt.Sprintf(`
		UPDATE %s
		SET %s = $1
		WHERE %s = $2
	`, r.TableCards, r.ColPinHash, r.ColCardNumber)

	adminQuery = fmt.Sprintf(`
		SELECT %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
	`, r.ColUsername, r.ColPasswordHash, r.ColRoles, r.ColStatus, r.TableAdminUsers, r.ColUsername)

	auditQuery = fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s)
		VALUES ($1, $2, $3, $4)
	`, r.TableAuditLogs, r.ColUser, r.ColAction, r.ColDescription, r.ColTimestamp)
)
