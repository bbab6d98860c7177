// Package phone derives stable identifiers from the loosely formatted phone
// numbers and free text that chat platforms deliver.
package phone

import (
	"regexp"
	"strings"
)

const (
	// TailLength is the number of trailing digits used as the fuzzy phone key.
	TailLength = 10
	// MinDigits is the minimum number of digits for a usable phone number.
	MinDigits = 6
	// DefaultCountryCode is prepended to 10-digit national numbers.
	DefaultCountryCode = "39"
)

var (
	nonDigitRegex = regexp.MustCompile(`\D`)
	emailRegex    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// Digits strips every non-digit character.
func Digits(raw string) string {
	return nonDigitRegex.ReplaceAllString(raw, "")
}

// Tail returns the last TailLength digits of raw. Numbers that differ only in
// international prefix formatting ("+39", "0039", none) share the same tail.
// ok is false when fewer than MinDigits digits are present.
func Tail(raw string) (tail string, ok bool) {
	d := Digits(raw)
	if len(d) < MinDigits {
		return "", false
	}
	if len(d) > TailLength {
		d = d[len(d)-TailLength:]
	}
	return d, true
}

// International normalizes raw into "+<country><national>" form. A leading
// international "00" prefix is dropped and bare 10-digit national numbers get
// countryCode (DefaultCountryCode when empty). Returns "" when raw has too few digits.
func International(raw, countryCode string) string {
	d := Digits(raw)
	if len(d) < MinDigits {
		return ""
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	d = strings.TrimPrefix(d, "00")
	if len(d) == TailLength {
		d = countryCode + d
	}
	return "+" + d
}

// ExtractEmail returns the first email-like token in text, lower-cased, or "".
func ExtractEmail(text string) string {
	m := emailRegex.FindString(text)
	return strings.ToLower(strings.Trim(m, "."))
}
