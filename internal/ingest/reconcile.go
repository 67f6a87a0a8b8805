package ingest

import (
	"strings"

	"github.com/shopspring/decimal"

	"presupuesto/internal/core"
)

// Bucket is the mobility cost class of a row.
type Bucket int

const (
	NotMobility Bucket = iota
	Flights
	LodgingMeals
	Fuel
)

func (b Bucket) String() string {
	switch b {
	case Flights:
		return "flights"
	case LodgingMeals:
		return "lodging_meals"
	case Fuel:
		return "fuel"
	default:
		return "not_mobility"
	}
}

// Classifier assigns rows to mobility buckets by code prefix.
type Classifier struct {
	travelConcept   string
	fuelConcept     string
	flightLineItems []string
}

// NewClassifier returns a classifier for the given prefixes. Rows whose
// concept starts with travel are flights when their line item starts with one
// of flights and lodging/meals otherwise; rows whose concept starts with fuel
// are fuel.
func NewClassifier(travel, fuel string, flights ...string) Classifier {
	return Classifier{
		travelConcept:   strings.TrimSpace(travel),
		fuelConcept:     strings.TrimSpace(fuel),
		flightLineItems: append([]string(nil), flights...),
	}
}

// DefaultClassifier uses the federal object-of-expenditure codes: concept 37xx
// travel and per diem, 26xx fuel, line items 371 and 372 air and land fares.
func DefaultClassifier() Classifier {
	return NewClassifier("37", "26", "371", "372")
}

// IsZero reports whether no prefix is configured.
func (c Classifier) IsZero() bool {
	return c.travelConcept == "" && c.fuelConcept == ""
}

func (c Classifier) Classify(concept, lineItem string) Bucket {
	concept = strings.TrimSpace(concept)
	lineItem = strings.TrimSpace(lineItem)

	switch {
	case c.travelConcept != "" && strings.HasPrefix(concept, c.travelConcept):
		for _, p := range c.flightLineItems {
			if p != "" && strings.HasPrefix(lineItem, p) {
				return Flights
			}
		}
		return LodgingMeals
	case c.fuelConcept != "" && strings.HasPrefix(concept, c.fuelConcept):
		return Fuel
	}
	return NotMobility
}

// Dataset is one fiscal year resolved and aggregated, with its rows kept for
// line-item classification.
type Dataset struct {
	Source      string
	Rows        []core.RawRow
	Schema      core.SchemaMap
	Aggregation Aggregation
}

type buckets struct {
	flights, lodging, fuel decimal.Decimal
}

func (b buckets) total() decimal.Decimal {
	return b.flights.Add(b.lodging).Add(b.fuel)
}

// Reconcile produces one profile per current-year category. Each row is
// classified on its own before summation. Category budget shares use the
// category's whole approved amount. prior may be nil, in which case every
// baseline is synthesized.
func Reconcile(current Dataset, prior *Dataset, cl Classifier) []core.MobilityProfile {
	cur := mobilityByCategory(current, cl)

	var prev map[int]buckets
	if prior != nil {
		prev = mobilityByCategory(*prior, cl)
	}

	profiles := make([]core.MobilityProfile, 0, len(current.Aggregation.Categories))
	for _, cat := range current.Aggregation.Categories {
		b := cur[cat.ID]
		p := core.MobilityProfile{
			CategoryID:                 cat.ID,
			CategoryName:               cat.Name,
			CurrentCategoryTotalBudget: cat.Approved,
			FlightsTotal:               b.flights,
			LodgingMealsTotal:          b.lodging,
			FuelTotal:                  b.fuel,
		}
		pb, havePrior := prev[cat.ID]
		profiles = append(profiles, core.FinalizeProfile(p, pb.total(), havePrior))
	}
	return core.SortProfiles(profiles)
}

func mobilityByCategory(ds Dataset, cl Classifier) map[int]buckets {
	p := newRowParser(ds.Schema)
	out := make(map[int]buckets)

	for _, row := range ds.Rows {
		id, ok := p.id(row, nil)
		if !ok {
			continue
		}
		bucket := cl.Classify(p.text(row, core.FieldConceptCode), p.text(row, core.FieldLineItemCode))
		if bucket == NotMobility {
			continue
		}

		amt := p.amount(row, core.FieldApprovedAmount, nil)
		b, seen := out[id]
		if !seen {
			b = buckets{flights: decimal.Zero, lodging: decimal.Zero, fuel: decimal.Zero}
		}
		switch bucket {
		case Flights:
			b.flights = b.flights.Add(amt)
		case LodgingMeals:
			b.lodging = b.lodging.Add(amt)
		case Fuel:
			b.fuel = b.fuel.Add(amt)
		}
		out[id] = b
	}
	return out
}
