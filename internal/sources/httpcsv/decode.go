package httpcsv

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"presupuesto/internal/core"
)

// Encoding names the character set a dataset is decoded with.
type Encoding string

const (
	// Windows1252 is the default. Government exports are single-byte Latin
	// even when served as plain text without a charset.
	Windows1252 Encoding = "windows-1252"
	ISO88591    Encoding = "iso-8859-1"
	UTF8        Encoding = "utf-8"
	// Auto picks UTF-8 when the body is valid UTF-8 and Windows-1252 otherwise.
	Auto Encoding = "auto"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseEncoding maps a catalog value onto an Encoding. Empty means the default.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "windows-1252", "cp1252", "latin":
		return Windows1252, nil
	case "iso-8859-1", "latin1", "latin-1":
		return ISO88591, nil
	case "utf-8", "utf8":
		return UTF8, nil
	case "auto":
		return Auto, nil
	}
	return "", fmt.Errorf("unsupported encoding %q", s)
}

// Decode turns a delimited-text body into rows.
//
// A UTF-8 byte order mark always wins over enc and is stripped. The comma is
// the delimiter. A double quote anywhere in a field toggles quoted mode and is
// dropped, so commas inside a quoted span do not split it and an escaped ""
// pair vanishes. Quoted mode ends with the line. Blank lines are skipped and
// rows keep whatever width they have; short rows are filtered later.
func Decode(body []byte, enc Encoding) ([]core.RawRow, error) {
	if bytes.HasPrefix(body, utf8BOM) {
		body = body[len(utf8BOM):]
		enc = UTF8
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty document")
	}

	text, err := toUTF8(body, enc)
	if err != nil {
		return nil, err
	}

	var rows []core.RawRow
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		rows = append(rows, splitLine(line))
	}
	if len(rows) == 0 {
		return nil, errors.New("no rows")
	}
	return rows, nil
}

func splitLine(line string) core.RawRow {
	var (
		row      core.RawRow
		field    strings.Builder
		inQuotes bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			row = append(row, field.String())
			field.Reset()
		default:
			field.WriteRune(r)
		}
	}
	return append(row, field.String())
}

func toUTF8(body []byte, enc Encoding) (string, error) {
	switch enc {
	case UTF8:
		if !utf8.Valid(body) {
			return "", errors.New("invalid utf-8 byte sequence")
		}
		return string(body), nil
	case Auto:
		if utf8.Valid(body) {
			return string(body), nil
		}
		return toUTF8(body, Windows1252)
	case ISO88591:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
		if err != nil {
			return "", fmt.Errorf("iso-8859-1: %w", err)
		}
		return string(out), nil
	case Windows1252, "":
		out, err := charmap.Windows1252.NewDecoder().Bytes(body)
		if err != nil {
			return "", fmt.Errorf("windows-1252: %w", err)
		}
		return string(out), nil
	}
	return "", fmt.Errorf("unsupported encoding %q", enc)
}
