package ingest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presupuesto/internal/core"
)

var lineItemColumns = core.SchemaMap{
	core.FieldCategoryID:     0,
	core.FieldCategoryName:   1,
	core.FieldConceptCode:    2,
	core.FieldLineItemCode:   3,
	core.FieldApprovedAmount: 4,
}

func dataset(t *testing.T, name string, rows []core.RawRow) Dataset {
	t.Helper()
	agg, err := Aggregate(rows, lineItemColumns)
	require.NoError(t, err)
	return Dataset{Source: name, Rows: rows, Schema: lineItemColumns, Aggregation: agg}
}

func TestClassifier_Classify(t *testing.T) {
	cl := DefaultClassifier()
	tests := []struct {
		concept, lineItem string
		want              Bucket
	}{
		{"3700", "37101", Flights},
		{"3700", "37201", Flights},
		{"3700", "37501", LodgingMeals},
		{"3700", "", LodgingMeals},
		{" 3700 ", " 37104", Flights},
		{"2600", "26102", Fuel},
		{"2600", "37101", Fuel},
		{"2100", "21101", NotMobility},
		{"", "37101", NotMobility},
	}
	for _, tt := range tests {
		t.Run(tt.concept+"/"+tt.lineItem, func(t *testing.T) {
			assert.Equal(t, tt.want, cl.Classify(tt.concept, tt.lineItem))
		})
	}
}

func TestClassifier_PrefixesAreConfiguration(t *testing.T) {
	cl := NewClassifier("38", "27", "381")
	assert.Equal(t, Flights, cl.Classify("3800", "38101"))
	assert.Equal(t, Fuel, cl.Classify("2700", ""))
	assert.Equal(t, NotMobility, cl.Classify("3700", "37101"))
	assert.False(t, cl.IsZero())
	assert.True(t, Classifier{}.IsZero())
}

func TestReconcile_SplitsPerRowAndSharesAgainstWholeBudget(t *testing.T) {
	current := dataset(t, "cur", []core.RawRow{
		{"7", "Defensa Nacional", "3700", "37101", "100.00"},
		{"7", "Defensa Nacional", "3700", "37201", "50.00"},
		{"7", "Defensa Nacional", "3700", "37501", "30.00"},
		{"7", "Defensa Nacional", "2600", "26102", "20.00"},
		{"7", "Defensa Nacional", "1100", "11301", "800.00"},
		{"11", "Educación Pública", "1100", "11301", "5000.00"},
		{"11", "Educación Pública", "3700", "37504", "10.00"},
	})
	prior := dataset(t, "prior", []core.RawRow{
		{"7", "Defensa Nacional", "3700", "37101", "80.00"},
		{"7", "Defensa Nacional", "2600", "26102", "80.00"},
		{"11", "Educación Pública", "1100", "11301", "4000.00"},
	})

	profiles := Reconcile(current, &prior, DefaultClassifier())
	require.Len(t, profiles, 2)

	def := profiles[0]
	assert.Equal(t, 7, def.CategoryID)
	assert.True(t, def.FlightsTotal.Equal(d("150")))
	assert.True(t, def.LodgingMealsTotal.Equal(d("30")))
	assert.True(t, def.FuelTotal.Equal(d("20")))
	assert.True(t, def.CurrentMobilityTotal.Equal(d("200")))
	assert.True(t, def.CurrentCategoryTotalBudget.Equal(d("1000")))
	assert.InDelta(t, 0.2, def.MobilityShare, 1e-9)
	assert.False(t, def.PriorSynthesized)
	assert.True(t, def.PriorYearMobilityTotal.Equal(d("160")))
	assert.InDelta(t, 25.0, def.YearOverYearVariancePct, 1e-9)

	edu := profiles[1]
	assert.Equal(t, 11, edu.CategoryID)
	assert.True(t, edu.PriorSynthesized, "prior year had no mobility rows for this category")
	assert.True(t, edu.PriorYearMobilityTotal.Equal(d("9.5")))
	assert.InDelta(t, 10.0/5010.0, edu.MobilityShare, 1e-9)

	for _, p := range profiles {
		sum := p.FlightsTotal.Add(p.LodgingMealsTotal).Add(p.FuelTotal)
		assert.True(t, sum.Equal(p.CurrentMobilityTotal), "category %d", p.CategoryID)
	}
}

func TestReconcile_WithoutPriorSynthesizesEveryBaseline(t *testing.T) {
	current := dataset(t, "cur", []core.RawRow{
		{"12", "Salud", "2600", "26102", "100.00"},
		{"13", "Marina", "1100", "11301", "100.00"},
	})

	profiles := Reconcile(current, nil, DefaultClassifier())
	require.Len(t, profiles, 2)

	for _, p := range profiles {
		assert.True(t, p.PriorSynthesized)
		assert.True(t, p.PriorYearMobilityTotal.Equal(p.CurrentMobilityTotal.Mul(core.PriorBaselineRatio)))
	}
	assert.Equal(t, 12, profiles[0].CategoryID)
	assert.InDelta(t, 5.0/95.0*100, profiles[0].YearOverYearVariancePct, 1e-9)

	marina := profiles[1]
	assert.True(t, marina.CurrentMobilityTotal.IsZero())
	assert.Zero(t, marina.YearOverYearVariancePct, "zero baseline gives zero variance")
}

func TestReconcile_MissingLineItemColumnMeansLodging(t *testing.T) {
	schema := core.SchemaMap{
		core.FieldCategoryID:     0,
		core.FieldCategoryName:   1,
		core.FieldConceptCode:    2,
		core.FieldApprovedAmount: 3,
	}
	rows := []core.RawRow{{"5", "Relaciones Exteriores", "3700", "40.00"}}
	agg, err := Aggregate(rows, schema)
	require.NoError(t, err)

	profiles := Reconcile(Dataset{Rows: rows, Schema: schema, Aggregation: agg}, nil, DefaultClassifier())
	require.Len(t, profiles, 1)
	assert.True(t, profiles[0].LodgingMealsTotal.Equal(decimal.NewFromInt(40)))
	assert.True(t, profiles[0].FlightsTotal.IsZero())
}
