package utils

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// GenerateID generates a unique ID with the given prefix
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:13])
}

// GenerateTransactionID returns a globally unique, time-prefixed transaction id.
// The UUIDv7 suffix keeps ids generated within the same millisecond ordered.
func GenerateTransactionID(now time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("TXN%s%03d-%s", now.Format("20060102150405"), now.Nanosecond()/int(time.Millisecond), id.String()[24:])
}

// GenerateOperationID returns a per-process operation id used to correlate log lines.
func GenerateOperationID() string {
	return "OP-" + strings.ToUpper(uuid.New().String()[:8])
}

// HashSecret hashes a PIN, CVV or password using bcrypt. bcrypt embeds its own salt.
func HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckSecret checks a presented secret against a bcrypt verifier in constant time.
func CheckSecret(secret, verifier string) bool {
	if verifier == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(verifier), []byte(secret)) == nil
}

// NormalizeCardNumber strips spaces and dashes from a card number.
func NormalizeCardNumber(number string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, number)
}

// IsDigits reports whether s is non-empty and made only of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// LuhnValid validates a digit string with the Luhn checksum.
func LuhnValid(number string) bool {
	if !IsDigits(number) {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ValidatePIN validates the PIN format: exactly four digits.
func ValidatePIN(pin string) bool {
	return len(pin) == 4 && IsDigits(pin)
}

// ValidateCVV validates the CVV format: exactly three digits.
func ValidateCVV(cvv string) bool {
	return len(cvv) == 3 && IsDigits(cvv)
}
