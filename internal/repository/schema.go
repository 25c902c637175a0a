package repository

// Relational schema. Table and column names are shared by the postgres
// backend's queries and its migration.
const (
	TableCards            = "cbs_cards"
	TableAccounts         = "cbs_accounts"
	TableCustomers        = "cbs_customers"
	TableTransactions     = "cbs_transactions"
	TableDailyWithdrawals = "cbs_daily_withdrawals"
	TableAuditLogs        = "cbs_audit_logs"
	TableAdminUsers       = "cbs_admin_users"

	ColCardNumber       = "card_number"
	ColCardID           = "card_id"
	ColAccountID        = "account_id"
	ColCardType         = "card_type"
	ColPinHash          = "pin_hash"
	ColCvvHash          = "cvv_hash"
	ColStatus           = "status"
	ColExpiryDate       = "expiry_date"
	ColDailyATMLimit    = "daily_atm_limit"
	ColDailyPOSLimit    = "daily_pos_limit"
	ColDailyOnlineLimit = "daily_online_limit"

	ColAccountNumber   = "account_number"
	ColCustomerID      = "customer_id"
	ColBalance         = "balance"
	ColCurrency        = "currency"
	ColLastTransaction = "last_transaction"

	ColName    = "name"
	ColPhone   = "phone"
	ColEmail   = "email"
	ColAddress = "address"

	ColTransactionID = "transaction_id"
	ColType          = "type"
	ColAmount        = "amount"
	ColBalanceBefore = "balance_before"
	ColBalanceAfter  = "balance_after"
	ColTimestamp     = "timestamp"
	ColRemarks       = "remarks"

	ColWithdrawalDate = "withdrawal_date"

	ColUsername     = "username"
	ColPasswordHash = "password_hash"
	ColRoles        = "roles"

	ColAuditID     = "id"
	ColUser        = `"user"`
	ColAction      = "action"
	ColDescription = "description"
)

// File backend tables, relative to the data directory.
const (
	FileCards            = "card.txt"
	FileCustomers        = "customer.txt"
	FileAccounting       = "accounting.txt"
	FileAdmins           = "admin_credentials.txt"
	FileDailyWithdrawals = "daily_withdrawals.txt"
	FileTransactions     = "transactions.txt"
)

// File table headers: two human-readable lines each, skipped on read.
var FileHeaders = map[string][2]string{
	FileCards: {
		"CardId | AccountId | CardNumber | Type | Expiry | Status | PinVerifier | CvvVerifier",
		"-------------------------------------------------------------------------------------",
	},
	FileCustomers: {
		"CustomerId | Name | CardNumber | Address | Phone | Email",
		"--------------------------------------------------------",
	},
	FileAccounting: {
		"AccountId | CardNumber | Balance | Currency | Status",
		"-----------------------------------------------------",
	},
	FileAdmins: {
		"Username | PasswordVerifier | Roles | Status",
		"---------------------------------------------",
	},
	FileDailyWithdrawals: {
		"CardNumber,Date,Amount,Timestamp",
		"--------------------------------",
	},
	FileTransactions: {
		"TxnId | AccountId | Type | Amount | Timestamp | Status | Remarks",
		"-----------------------------------------------------------------",
	},
}

// Layouts used in the file tables.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"
	ExpiryLayout    = "01/06"

	// Transaction records carry millisecond precision.
	TxnTimestampLayout = "2006-01-02 15:04:05.000"
)
