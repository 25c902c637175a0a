package audit

import (
	"strings"
	"unicode"
)

const maskChar = "X"

// MaskCard shows the first six and last four digits of numbers of ten or
// more digits and only the last four of shorter ones.
func MaskCard(number string) string {
	n := len(number)
	switch {
	case n == 0:
		return ""
	case n >= 10:
		return number[:6] + strings.Repeat(maskChar, n-10) + number[n-4:]
	case n > 4:
		return strings.Repeat(maskChar, n-4) + number[n-4:]
	default:
		// nothing precedes the last four
		return number
	}
}

// MaskSecret hides a PIN, CVV or password completely, length included.
func MaskSecret(string) string {
	return "****"
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return MaskSecret(email)
	}
	return local[:1] + strings.Repeat("x", len(local)-1) + "@" + domain
}

// scrubDigits masks every run of ten or more digits in free text as a card
// number.
func scrubDigits(s string) string {
	var (
		b   strings.Builder
		run strings.Builder
	)
	flush := func() {
		if run.Len() >= 10 {
			b.WriteString(MaskCard(run.String()))
		} else {
			b.WriteString(run.String())
		}
		run.Reset()
	}
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			run.WriteRune(r)
			continue
		}
		flush()
		b.WriteRune(r)
	}
	flush()
	return b.String()
}

var delimiters = strings.NewReplacer("|", "/", "\n", " ", "\r", " ")

// plain neutralises delimiters in generated ids, which carry long timestamps.
func plain(s string) string {
	return strings.TrimSpace(delimiters.Replace(s))
}

// field prepares a free-text value for a pipe-delimited line.
func field(s string) string {
	return scrubDigits(plain(s))
}
