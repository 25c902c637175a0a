package command

import (
	"errors"
	"log"

	"github.com/eaglebank/core-banking/internal/lock"
	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/internal/validation"
	"github.com/eaglebank/core-banking/shared/cqrs"
)

// Code is the engine's closed result set. Callers map it to their own
// surfaces; backend error text never reaches it.
type Code string

const (
	CodeOK                 Code = "ok"
	CodeInvalidFormat      Code = "invalid-format"
	CodeInvalidAmount      Code = "invalid-amount"
	CodePINMismatch        Code = "pin-mismatch"
	CodeCVVMismatch        Code = "cvv-mismatch"
	CodeCardNotFound       Code = "card-not-found"
	CodeCardBlocked        Code = "card-blocked"
	CodeCardExpired        Code = "card-expired"
	CodeFeatureDisabled    Code = "feature-disabled"
	CodeMaintenance        Code = "maintenance-mode"
	CodeInsufficientFunds  Code = "insufficient-funds"
	CodeLimitExceeded      Code = "limit-exceeded"
	CodeInvalidOperation   Code = "invalid-operation"
	CodeStorageUnavailable Code = "storage-unavailable"
	CodeStorageCorrupted   Code = "storage-corrupted"
	CodePoolExhausted      Code = "pool-exhausted"
	CodeLockHeld           Code = "lock-held"
	CodeUnauthorized       Code = "unauthorized"
	CodeInternal           Code = "internal"
)

var messages = map[Code]string{
	CodeOK:                 "Success",
	CodeInvalidFormat:      "Invalid input format",
	CodeInvalidAmount:      "Invalid amount",
	CodePINMismatch:        "Incorrect PIN",
	CodeCVVMismatch:        "Card verification failed",
	CodeCardNotFound:       "Card not found",
	CodeCardBlocked:        "Card is blocked",
	CodeCardExpired:        "Card has expired",
	CodeFeatureDisabled:    "Virtual transactions are disabled",
	CodeMaintenance:        "Service unavailable: system under maintenance",
	CodeInsufficientFunds:  "Insufficient funds",
	CodeLimitExceeded:      "Transaction limit exceeded",
	CodeInvalidOperation:   "Operation not permitted",
	CodeStorageUnavailable: "Service temporarily unavailable, please retry",
	CodeStorageCorrupted:   "Storage integrity failure, operator intervention required",
	CodePoolExhausted:      "Service busy, please retry",
	CodeLockHeld:           "Another operation is in progress",
	CodeUnauthorized:       "Invalid credentials",
	CodeInternal:           "Internal error",
}

// Message returns the user-facing text for c.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CodeInternal]
}

var errInsufficientFunds = errors.New("insufficient funds")

// codeFor classifies an error from the store, the lock or the config
// provider. The error itself goes to the operational log only.
func codeFor(op string, err error) Code {
	var code Code
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, errInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, repository.ErrStorageCorrupted):
		code = CodeStorageCorrupted
	case errors.Is(err, repository.ErrPoolExhausted):
		code = CodePoolExhausted
	case errors.Is(err, lock.ErrLockHeld):
		code = CodeLockHeld
	case errors.Is(err, repository.ErrStorageUnavailable):
		code = CodeStorageUnavailable
	case errors.Is(err, repository.ErrNotFound):
		code = CodeCardNotFound
	case errors.Is(err, repository.ErrInvalidBalance):
		code = CodeInvalidAmount
	case errors.Is(err, repository.ErrInvalidCredentials):
		return CodeUnauthorized
	default:
		code = CodeInternal
	}
	log.Printf("Failed to %s: %v", op, err)
	return code
}

func verdictCode(res validation.Result) Code {
	switch res {
	case validation.Valid:
		return CodeOK
	case validation.InvalidFormat:
		return CodeInvalidFormat
	case validation.NotFound:
		return CodeCardNotFound
	case validation.Expired:
		return CodeCardExpired
	case validation.CVVInvalid:
		return CodeCVVMismatch
	case validation.Blocked:
		return CodeCardBlocked
	case validation.PINInvalid:
		return CodePINMismatch
	default:
		return CodeStorageUnavailable
	}
}

func commandCode(err error) Code {
	var fe *cqrs.FieldError
	if !errors.As(err, &fe) {
		return CodeInvalidFormat
	}
	switch {
	case fe.Field == "Amount":
		return CodeInvalidAmount
	case fe.Tag == "nefield":
		return CodeInvalidOperation
	default:
		return CodeInvalidFormat
	}
}
