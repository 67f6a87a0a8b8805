// Package ingest turns decoded budget exports into the normalized model:
// header resolution, row aggregation, cross-year reconciliation and the
// engine that walks candidate sources with caching and fallback.
package ingest

import (
	"fmt"
	"strings"
	"unicode"

	"go.trai.ch/zerr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"presupuesto/internal/core"
)

// Normalize folds a header or spelling into the form used for matching:
// trimmed, lower case, accents removed, leading marks dropped, spaces and
// hyphens turned into underscores. "\ufeff*AÑO Fiscal" becomes "ano_fiscal".
func Normalize(s string) string {
	// transform.Chain is stateful, so each call builds its own.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}

	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	s = strings.TrimRightFunc(s, unicode.IsSpace)

	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return '_'
		}
		return r
	}, s)
}

// Resolve maps the header row onto logical fields. For each field of the
// table, headers are scanned left to right and the first one containing any
// of the field's spellings wins. required defaults to core.MandatoryFields;
// when one of them does not resolve the error wraps core.ErrSchemaUnresolved.
func Resolve(header core.RawRow, table core.SchemaTable, required ...core.Field) (core.SchemaMap, error) {
	if len(required) == 0 {
		required = core.MandatoryFields
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = Normalize(h)
	}

	m := make(core.SchemaMap, len(table))
	for _, fs := range table {
		spellings := make([]string, 0, len(fs.Spellings))
		for _, sp := range fs.Spellings {
			if n := Normalize(sp); n != "" {
				spellings = append(spellings, n)
			}
		}
		if idx := firstMatch(headers, spellings); idx >= 0 {
			m[fs.Field] = idx
		}
	}

	var missing []string
	for _, f := range required {
		if _, ok := m.Index(f); !ok {
			missing = append(missing, f.String())
		}
	}
	if len(missing) > 0 {
		err := fmt.Errorf("%w: missing %s", core.ErrSchemaUnresolved, strings.Join(missing, ", "))
		return m, zerr.With(err, "missing", missing)
	}
	return m, nil
}

func firstMatch(headers, spellings []string) int {
	for i, h := range headers {
		if h == "" {
			continue
		}
		for _, sp := range spellings {
			if strings.Contains(h, sp) {
				return i
			}
		}
	}
	return -1
}
