package ingest

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"presupuesto/internal/core"
)

// Aggregation is the per-category rollup of one dataset.
type Aggregation struct {
	Categories     []core.BudgetCategory
	TotalApproved  decimal.Decimal
	TotalExercised decimal.Decimal
	Stats          core.ParseStats
}

// Aggregate sums rows (header excluded) into categories ordered by approved
// amount, highest first.
//
// Rows narrower than the widest resolved column are skipped, as are rows whose
// id has no digits. Amounts that do not parse count as zero. Each of these is
// counted in Stats. A zero approved total is rejected with
// core.ErrDegenerateResult; the aggregation is still returned for reporting.
func Aggregate(rows []core.RawRow, schema core.SchemaMap) (Aggregation, error) {
	for _, f := range core.MandatoryFields {
		if _, ok := schema.Index(f); !ok {
			return Aggregation{}, fmt.Errorf("%w: missing %s", core.ErrSchemaUnresolved, f)
		}
	}
	p := newRowParser(schema)

	var (
		stats = core.ParseStats{RowsRead: len(rows)}
		byID  = make(map[int]*core.BudgetCategory)
		order []int
	)
	for _, row := range rows {
		id, ok := p.id(row, &stats)
		if !ok {
			continue
		}

		approved := p.amount(row, core.FieldApprovedAmount, &stats)
		exercised := p.amount(row, core.FieldExercisedAmount, &stats)
		name := p.text(row, core.FieldCategoryName)

		cat, seen := byID[id]
		if !seen {
			cat = &core.BudgetCategory{ID: id, Name: name, Approved: decimal.Zero, Exercised: decimal.Zero}
			byID[id] = cat
			order = append(order, id)
		} else if cat.Name == "" {
			cat.Name = name
		}
		cat.Approved = cat.Approved.Add(approved)
		cat.Exercised = cat.Exercised.Add(exercised)
		stats.RowsAggregated++
	}

	cats := make([]core.BudgetCategory, 0, len(order))
	for _, id := range order {
		cats = append(cats, *byID[id])
	}
	cats = core.FinalizeCategories(cats)
	approved, exercised := core.TotalsOf(cats)

	agg := Aggregation{
		Categories:     cats,
		TotalApproved:  approved,
		TotalExercised: exercised,
		Stats:          stats,
	}
	if approved.IsZero() {
		return agg, fmt.Errorf("%w: approved total is zero over %d rows", core.ErrDegenerateResult, len(rows))
	}
	return agg, nil
}

// rowParser reads typed cells out of rows laid out by one schema.
type rowParser struct {
	schema   core.SchemaMap
	minWidth int
}

func newRowParser(schema core.SchemaMap) rowParser {
	return rowParser{schema: schema, minWidth: schema.MaxIndex() + 1}
}

// id returns the category id of row, or false when the row must be skipped.
func (p rowParser) id(row core.RawRow, stats *core.ParseStats) (int, bool) {
	if len(row) < p.minWidth {
		if stats != nil {
			stats.ShortRows++
		}
		return 0, false
	}
	id, err := core.ParseCategoryID(p.text(row, core.FieldCategoryID))
	if err != nil {
		if stats != nil {
			stats.InvalidIDs++
		}
		return 0, false
	}
	return id, true
}

// amount parses f, zero when the field is unresolved, blank or malformed.
// Only malformed non-blank cells are counted.
func (p rowParser) amount(row core.RawRow, f core.Field, stats *core.ParseStats) decimal.Decimal {
	cell := p.text(row, f)
	if cell == "" {
		return decimal.Zero
	}
	d, err := core.ParseAmount(cell)
	if err != nil {
		if stats != nil {
			stats.ZeroedAmounts++
		}
		return decimal.Zero
	}
	return d
}

func (p rowParser) text(row core.RawRow, f core.Field) string {
	idx, ok := p.schema.Index(f)
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
