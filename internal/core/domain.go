package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Logical fields a dataset header is resolved onto.
const (
	FieldCategoryID      Field = "category_id"
	FieldCategoryName    Field = "category_name"
	FieldApprovedAmount  Field = "approved_amount"
	FieldExercisedAmount Field = "exercised_amount"
	FieldConceptCode     Field = "concept_code"
	FieldLineItemCode    Field = "line_item_code"
)

// MandatoryFields must all resolve for a dataset to be usable.
var MandatoryFields = []Field{FieldCategoryID, FieldCategoryName, FieldApprovedAmount}

type (
	// RawRow is one decoded spreadsheet row, no meaning until resolved.
	RawRow []string

	// Field names a logical column.
	Field string

	// SchemaMap maps a logical field to its column index.
	SchemaMap map[Field]int

	// FieldSpellings lists the acceptable header substrings for one field,
	// in priority order.
	FieldSpellings struct {
		Field     Field
		Spellings []string
	}

	// SchemaTable is the declarative header-mapping table.
	SchemaTable []FieldSpellings

	BudgetCategory struct {
		ID             int             `json:"id"`
		Name           string          `json:"name"`
		Approved       decimal.Decimal `json:"approved"`
		Exercised      decimal.Decimal `json:"exercised"`
		ExecutionRatio float64         `json:"execution_ratio"`
	}

	MobilityProfile struct {
		CategoryID                 int             `json:"category_id"`
		CategoryName               string          `json:"category_name"`
		CurrentMobilityTotal       decimal.Decimal `json:"current_mobility_total"`
		CurrentCategoryTotalBudget decimal.Decimal `json:"current_category_total_budget"`
		MobilityShare              float64         `json:"mobility_share"`
		FlightsTotal               decimal.Decimal `json:"flights_total"`
		LodgingMealsTotal          decimal.Decimal `json:"lodging_meals_total"`
		FuelTotal                  decimal.Decimal `json:"fuel_total"`
		PriorYearMobilityTotal     decimal.Decimal `json:"prior_year_mobility_total"`
		// PriorSynthesized is set when the prior total is the 0.95 baseline
		// rather than a measured figure.
		PriorSynthesized        bool    `json:"prior_synthesized"`
		YearOverYearVariancePct float64 `json:"year_over_year_variance_pct"`
	}

	// ParseStats counts rows that were skipped or degraded during a run.
	ParseStats struct {
		RowsRead       int `json:"rows_read"`
		RowsAggregated int `json:"rows_aggregated"`
		ShortRows      int `json:"short_rows"`
		InvalidIDs     int `json:"invalid_ids"`
		ZeroedAmounts  int `json:"zeroed_amounts"`
	}

	// SourceFailure records why a candidate source was abandoned.
	SourceFailure struct {
		Source string `json:"source"`
		Kind   string `json:"kind"`
		Reason string `json:"reason"`
	}

	BudgetModel struct {
		RunID           string           `json:"run_id"`
		FiscalYear      int              `json:"fiscal_year"`
		Source          string           `json:"source"`
		Categories      []BudgetCategory `json:"categories"`
		TotalApproved   decimal.Decimal  `json:"total_approved"`
		TotalExercised  decimal.Decimal  `json:"total_exercised"`
		Stats           ParseStats       `json:"stats"`
		Fallback        bool             `json:"fallback"`
		SnapshotVersion string           `json:"snapshot_version,omitempty"`
		Failures        []SourceFailure  `json:"failures,omitempty"`
		GeneratedAt     time.Time        `json:"generated_at"`
	}

	MobilityView struct {
		RunID           string            `json:"run_id"`
		FiscalYear      int               `json:"fiscal_year"`
		PriorFiscalYear int               `json:"prior_fiscal_year"`
		Source          string            `json:"source"`
		PriorSource     string            `json:"prior_source,omitempty"`
		Profiles        []MobilityProfile `json:"profiles"`
		// TotalBudget is the nation-wide approved total of the current year.
		TotalBudget     decimal.Decimal `json:"total_budget"`
		Stats           ParseStats      `json:"stats"`
		Fallback        bool            `json:"fallback"`
		SnapshotVersion string          `json:"snapshot_version,omitempty"`
		Failures        []SourceFailure `json:"failures,omitempty"`
		GeneratedAt     time.Time       `json:"generated_at"`
	}
)

// PriorBaselineRatio is applied to the current mobility total when a category
// has no prior-year figure.
var PriorBaselineRatio = decimal.RequireFromString("0.95")

func (f Field) String() string {
	return string(f)
}

// MaxIndex returns the highest resolved column index, or -1 when empty.
func (m SchemaMap) MaxIndex() int {
	max := -1
	for _, idx := range m {
		if idx > max {
			max = idx
		}
	}
	return max
}

// Index returns the column for f and whether it resolved.
func (m SchemaMap) Index(f Field) (int, bool) {
	idx, ok := m[f]
	return idx, ok && idx >= 0
}

// Fields returns the fields declared by the table, in table order.
func (t SchemaTable) Fields() []Field {
	out := make([]Field, 0, len(t))
	for _, fs := range t {
		out = append(out, fs.Field)
	}
	return out
}

// Add merges other into s.
func (s *ParseStats) Add(other ParseStats) {
	s.RowsRead += other.RowsRead
	s.RowsAggregated += other.RowsAggregated
	s.ShortRows += other.ShortRows
	s.InvalidIDs += other.InvalidIDs
	s.ZeroedAmounts += other.ZeroedAmounts
}

// Clean reports whether the run parsed without any skipped or zeroed field.
func (s ParseStats) Clean() bool {
	return s.ShortRows == 0 && s.InvalidIDs == 0 && s.ZeroedAmounts == 0
}

// Ratio returns num/den as a float, or 0 when den is not positive.
func Ratio(num, den decimal.Decimal) float64 {
	if !den.IsPositive() {
		return 0
	}
	return num.Div(den).InexactFloat64()
}

// FinalizeCategories computes execution ratios and orders categories by
// approved amount, highest first. Ties keep ascending id order.
func FinalizeCategories(cats []BudgetCategory) []BudgetCategory {
	for i := range cats {
		cats[i].ExecutionRatio = Ratio(cats[i].Exercised, cats[i].Approved)
	}
	sort.SliceStable(cats, func(i, j int) bool {
		if c := cats[i].Approved.Cmp(cats[j].Approved); c != 0 {
			return c > 0
		}
		return cats[i].ID < cats[j].ID
	})
	return cats
}

// TotalsOf sums approved and exercised amounts across categories.
func TotalsOf(cats []BudgetCategory) (approved, exercised decimal.Decimal) {
	approved, exercised = decimal.Zero, decimal.Zero
	for _, c := range cats {
		approved = approved.Add(c.Approved)
		exercised = exercised.Add(c.Exercised)
	}
	return approved, exercised
}

// FinalizeProfile derives the mobility total, share, prior baseline and
// variance from the bucket sums already set on p.
func FinalizeProfile(p MobilityProfile, prior decimal.Decimal, havePrior bool) MobilityProfile {
	p.CurrentMobilityTotal = p.FlightsTotal.Add(p.LodgingMealsTotal).Add(p.FuelTotal)
	p.MobilityShare = Ratio(p.CurrentMobilityTotal, p.CurrentCategoryTotalBudget)

	if !havePrior || prior.IsZero() {
		prior = p.CurrentMobilityTotal.Mul(PriorBaselineRatio)
		p.PriorSynthesized = true
	}
	p.PriorYearMobilityTotal = prior

	if prior.IsZero() {
		p.YearOverYearVariancePct = 0
	} else {
		p.YearOverYearVariancePct = p.CurrentMobilityTotal.Sub(prior).
			Div(prior).
			Mul(decimal.NewFromInt(100)).
			InexactFloat64()
	}
	return p
}

// SortProfiles orders profiles by current mobility total, highest first.
func SortProfiles(profiles []MobilityProfile) []MobilityProfile {
	sort.SliceStable(profiles, func(i, j int) bool {
		if c := profiles[i].CurrentMobilityTotal.Cmp(profiles[j].CurrentMobilityTotal); c != 0 {
			return c > 0
		}
		return profiles[i].CategoryID < profiles[j].CategoryID
	})
	return profiles
}
