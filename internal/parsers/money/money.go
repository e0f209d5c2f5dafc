// Package money parses localized amount strings into signed floats.
// Bank exports mix German (1.234,56) and US (1,234.56) decimal
// conventions, sometimes within one account's history, so the decimal
// separator has to be inferred per value.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAmount parses a localized amount string into a signed float.
//
// The separator cascade, in order:
//  1. Both "." and "," present: the later one is the decimal point.
//  2. A single separator occurring once with at most two trailing
//     digits is the decimal point.
//  3. Otherwise the separator is a thousands separator.
//
// Currency symbols, currency codes, and whitespace are ignored. A
// leading or trailing minus, or accounting parentheses, negate the
// value.
func ParseAmount(s string) (float64, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		neg = true
		raw = raw[1 : len(raw)-1]
	}

	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-':
			neg = true
		case r == '+':
			// explicit positive, ignore
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, fmt.Errorf("no digits in amount %q", s)
	}

	dot := strings.LastIndex(cleaned, ".")
	comma := strings.LastIndex(cleaned, ",")

	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			// US convention: comma groups thousands.
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			// German convention: dot groups thousands.
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case comma >= 0:
		cleaned = resolveSingleSeparator(cleaned, ",")
	case dot >= 0:
		cleaned = resolveSingleSeparator(cleaned, ".")
	}

	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if neg {
		val = -val
	}
	return val, nil
}

// resolveSingleSeparator decides whether the only separator present is
// a decimal point or a thousands separator.
func resolveSingleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		// Repeated separator can only group thousands.
		return strings.ReplaceAll(s, sep, "")
	}
	idx := strings.LastIndex(s, sep)
	if len(s)-idx-1 <= 2 {
		return strings.Replace(s, sep, ".", 1)
	}
	return strings.ReplaceAll(s, sep, "")
}

// SplitCurrency separates a trailing or leading currency token from an
// amount string, e.g. "-12,34 €" or "EUR 12.34". Returns the amount
// part and the ISO code when recognisable, otherwise an empty code.
func SplitCurrency(s string) (amount, currency string) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return "", ""
	}
	code := func(tok string) string {
		switch strings.ToUpper(tok) {
		case "€", "EUR":
			return "EUR"
		case "$", "USD":
			return "USD"
		case "£", "GBP":
			return "GBP"
		case "CHF":
			return "CHF"
		}
		return ""
	}
	if c := code(fields[len(fields)-1]); c != "" && len(fields) > 1 {
		return strings.Join(fields[:len(fields)-1], ""), c
	}
	if c := code(fields[0]); c != "" && len(fields) > 1 {
		return strings.Join(fields[1:], ""), c
	}
	// Symbol glued to the number, e.g. "-12,34€".
	joined := strings.Join(fields, "")
	for sym, c := range map[string]string{"€": "EUR", "$": "USD", "£": "GBP"} {
		if strings.Contains(joined, sym) {
			return strings.ReplaceAll(joined, sym, ""), c
		}
	}
	return joined, ""
}
