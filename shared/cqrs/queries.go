package cqrs

// BalanceQuery reads the balance of the card's account.
type BalanceQuery struct {
	CardNumber string `validate:"required"`
}

// MiniStatementQuery fetches the most recent records for a card. Zero Max
// means the configured statement size.
type MiniStatementQuery struct {
	CardNumber string `validate:"required"`
	Max        int    `validate:"gte=0,lte=50"`
}
