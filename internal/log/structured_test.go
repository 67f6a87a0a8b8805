package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"presupuesto/internal/core"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not a JSON log line: %v\n%s", err, buf.String())
	}
	buf.Reset()
	return entry
}

func TestStructuredLogger_LogRunEnd(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Level: slog.LevelDebug, JSON: true, Output: &buf, Component: ComponentIngest}))

	sl.LogRunEnd(context.Background(), "Budget model computed", "pef-2025", 32, core.ParseStats{RowsRead: 100, RowsAggregated: 100})
	entry := decodeLine(t, &buf)
	if entry["level"] != "INFO" {
		t.Errorf("clean run level = %v, want INFO", entry["level"])
	}
	if entry[FieldComponent] != ComponentIngest || entry[FieldSource] != "pef-2025" {
		t.Errorf("unexpected fields: %v", entry)
	}
	if entry[FieldCategories] != float64(32) {
		t.Errorf("categories = %v, want 32", entry[FieldCategories])
	}

	sl.LogRunEnd(context.Background(), "Budget model computed", "pef-2025", 32, core.ParseStats{RowsRead: 100, RowsAggregated: 98, ShortRows: 2})
	entry = decodeLine(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("degraded run level = %v, want WARN", entry["level"])
	}
	if entry[FieldShortRows] != float64(2) {
		t.Errorf("short_rows = %v, want 2", entry[FieldShortRows])
	}
}

func TestStructuredLogger_LogCandidateFailure(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{JSON: true, Output: &buf, Component: ComponentIngest}))

	err := core.Failure(core.ErrSchemaUnresolved, "pef-2024", errors.New("missing approved_amount"))
	sl.LogCandidateFailure(context.Background(), "pef-2024", "https://example.gob.mx/2024.csv", err)

	entry := decodeLine(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry[FieldErrorType] != "schema_unresolved" {
		t.Errorf("error_type = %v, want schema_unresolved", entry[FieldErrorType])
	}
	if entry[FieldLocation] != "https://example.gob.mx/2024.csv" {
		t.Errorf("location = %v", entry[FieldLocation])
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()).Component(); got != "unknown" {
		t.Errorf("component without logger = %q, want unknown", got)
	}

	l := Discard().WithComponent(ComponentHTTP)
	if got := FromContext(NewContext(context.Background(), l)); got != l {
		t.Error("FromContext did not return the stored logger")
	}
}
