// Package snapshot serves the bundled budget figures used when no live
// source can be read.
package snapshot

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"presupuesto/internal/core"
)

//go:embed snapshot.json
var bundled []byte

// Name is reported as the source of fallback results.
const Name = "snapshot"

type document struct {
	Version         string          `json:"version"`
	PublishedAt     time.Time       `json:"published_at"`
	FiscalYear      int             `json:"fiscal_year"`
	PriorFiscalYear int             `json:"prior_fiscal_year"`
	Categories      []categoryEntry `json:"categories"`
	Mobility        []mobilityEntry `json:"mobility"`
}

type categoryEntry struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Approved  decimal.Decimal `json:"approved"`
	Exercised decimal.Decimal `json:"exercised"`
}

type mobilityEntry struct {
	CategoryID   int              `json:"category_id"`
	Flights      decimal.Decimal  `json:"flights"`
	LodgingMeals decimal.Decimal  `json:"lodging_meals"`
	Fuel         decimal.Decimal  `json:"fuel"`
	PriorTotal   *decimal.Decimal `json:"prior_total,omitempty"`
}

// Snapshot holds the parsed, fully derived fallback results. It is immutable
// after New and safe for concurrent use.
type Snapshot struct {
	version     string
	publishedAt time.Time
	budget      core.BudgetModel
	mobility    core.MobilityView
}

// New parses the bundled snapshot.
func New() (*Snapshot, error) {
	return Parse(bundled)
}

// Parse builds a snapshot from a JSON document. Ratios, totals, shares,
// variances and ordering are derived here with the same rules as live data.
func Parse(data []byte) (*Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("snapshot has no version")
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("snapshot %s has no categories", doc.Version)
	}

	cats := make([]core.BudgetCategory, 0, len(doc.Categories))
	byID := make(map[int]core.BudgetCategory, len(doc.Categories))
	for _, c := range doc.Categories {
		if _, dup := byID[c.ID]; dup {
			return nil, fmt.Errorf("snapshot %s lists category %d twice", doc.Version, c.ID)
		}
		bc := core.BudgetCategory{ID: c.ID, Name: c.Name, Approved: c.Approved, Exercised: c.Exercised}
		byID[c.ID] = bc
		cats = append(cats, bc)
	}
	cats = core.FinalizeCategories(cats)
	approved, exercised := core.TotalsOf(cats)
	if approved.IsZero() {
		return nil, fmt.Errorf("snapshot %s has a zero approved total", doc.Version)
	}

	profiles := make([]core.MobilityProfile, 0, len(doc.Mobility))
	for _, m := range doc.Mobility {
		cat, ok := byID[m.CategoryID]
		if !ok {
			return nil, fmt.Errorf("snapshot %s has mobility for unknown category %d", doc.Version, m.CategoryID)
		}
		p := core.MobilityProfile{
			CategoryID:                 cat.ID,
			CategoryName:               cat.Name,
			CurrentCategoryTotalBudget: cat.Approved,
			FlightsTotal:               m.Flights,
			LodgingMealsTotal:          m.LodgingMeals,
			FuelTotal:                  m.Fuel,
		}
		prior, havePrior := decimal.Zero, m.PriorTotal != nil
		if havePrior {
			prior = *m.PriorTotal
		}
		profiles = append(profiles, core.FinalizeProfile(p, prior, havePrior))
	}
	profiles = core.SortProfiles(profiles)

	return &Snapshot{
		version:     doc.Version,
		publishedAt: doc.PublishedAt,
		budget: core.BudgetModel{
			FiscalYear:      doc.FiscalYear,
			Source:          Name,
			Categories:      cats,
			TotalApproved:   approved,
			TotalExercised:  exercised,
			Fallback:        true,
			SnapshotVersion: doc.Version,
			GeneratedAt:     doc.PublishedAt,
		},
		mobility: core.MobilityView{
			FiscalYear:      doc.FiscalYear,
			PriorFiscalYear: doc.PriorFiscalYear,
			Source:          Name,
			PriorSource:     Name,
			Profiles:        profiles,
			TotalBudget:     approved,
			Fallback:        true,
			SnapshotVersion: doc.Version,
			GeneratedAt:     doc.PublishedAt,
		},
	}, nil
}

func (s *Snapshot) Version() string        { return s.version }
func (s *Snapshot) PublishedAt() time.Time { return s.publishedAt }

// Budget returns a copy of the bundled budget model.
func (s *Snapshot) Budget() core.BudgetModel {
	m := s.budget
	m.Categories = append([]core.BudgetCategory(nil), s.budget.Categories...)
	return m
}

// Mobility returns a copy of the bundled mobility view.
func (s *Snapshot) Mobility() core.MobilityView {
	v := s.mobility
	v.Profiles = append([]core.MobilityProfile(nil), s.mobility.Profiles...)
	return v
}

// BudgetProvider adapts the snapshot to the engine's last-candidate slot.
type BudgetProvider struct{ S *Snapshot }

func (p BudgetProvider) Name() string { return Name }

func (p BudgetProvider) Load(context.Context) (core.BudgetModel, error) {
	return p.S.Budget(), nil
}

// MobilityProvider adapts the snapshot to the engine's last-candidate slot.
type MobilityProvider struct{ S *Snapshot }

func (p MobilityProvider) Name() string { return Name }

func (p MobilityProvider) Load(context.Context) (core.MobilityView, error) {
	return p.S.Mobility(), nil
}
