// Package core provides the budget domain model and value parsing.
//
// This file contains the parsers for the two kinds of numeric cells found in
// government exports: monetary amounts and category identifiers.
package core

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a monetary cell into a decimal.
//
// Quote characters, currency symbols, whitespace and thousands separators are
// stripped first. The decimal separator is inferred from the text: when both
// '.' and ',' occur the last one is the decimal mark; a single ',' followed by
// anything other than three digits is a decimal comma; repeated marks are
// thousands separators.
//
// Examples:
//
//	ParseAmount("1,000,000.00")  -> 1000000
//	ParseAmount("\"$ 500,000\"") -> 500000
//	ParseAmount("1.234,56")      -> 1234.56
//	ParseAmount("12,5")          -> 12.5
//	ParseAmount("N/D")           -> ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\'' || r == '$' || r == '€':
			return -1
		case unicode.IsSpace(r):
			return -1
		}
		return r
	}, s)

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	if cleaned == "" {
		return decimal.Zero, ErrInvalidAmount
	}

	cleaned = normalizeSeparators(cleaned)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			return strings.ReplaceAll(s, ",", "")
		}
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// ParseCategoryID extracts the integer id from a possibly decorated cell such
// as "07*" or " 11 ". Every non-digit character is dropped.
func ParseCategoryID(s string) (int, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if digits == "" {
		return 0, ErrInvalidCategoryID
	}
	id, err := strconv.Atoi(digits)
	if err != nil {
		return 0, ErrInvalidCategoryID
	}
	return id, nil
}
