package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"presupuesto/internal/core"
	"presupuesto/internal/sources"
	"presupuesto/internal/sources/mocks"
	"presupuesto/internal/sources/snapshot"
)

var (
	budgetHeader   = core.RawRow{"ID_RAMO", "DESC_RAMO", "MONTO_PEF_2025", "MONTO_EJERCIDO"}
	lineItemHeader = core.RawRow{"CICLO", "ID_RAMO", "DESC_RAMO", "ID_CONCEPTO", "ID_PARTIDA_ESPECIFICA", "MONTO_APROBADO", "MONTO_EJERCIDO"}
)

func budgetRows() []core.RawRow {
	return []core.RawRow{
		budgetHeader,
		{"07", "Defensa", "1,000,000.00", "900000.00"},
		{"07", "Defensa", "500,000.00", "100000.00"},
		{"11", "Educación", "2,000,000.00", "1999999.99"},
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMockSource(ctrl *gomock.Controller, name string) *mocks.MockSource {
	m := mocks.NewMockSource(ctrl)
	m.EXPECT().Name().Return(name).AnyTimes()
	m.EXPECT().Location().Return("https://datos.example.gob.mx/" + name + ".csv").AnyTimes()
	return m
}

type engineFixture struct {
	engine *Engine
	clock  *fakeClock
	snap   *snapshot.Snapshot
}

func newEngine(t *testing.T, p Pipelines) engineFixture {
	t.Helper()
	snap, err := snapshot.New()
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	var seq atomic.Int64
	e, err := NewEngine(p, Fallbacks{
		Budget:   snapshot.BudgetProvider{S: snap},
		Mobility: snapshot.MobilityProvider{S: snap},
	}, Options{
		FiscalYear: 2025,
		Schema:     testTable(),
		CacheTTL:   time.Hour,
		Clock:      clock.Now,
		RunID: func() string {
			return fmt.Sprintf("run-%d", seq.Add(1))
		},
	})
	require.NoError(t, err)
	return engineFixture{engine: e, clock: clock, snap: snap}
}

func TestEngine_BudgetFromFirstHealthySource(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")
	src.EXPECT().Fetch(gomock.Any()).Return(budgetRows(), nil)

	f := newEngine(t, Pipelines{Budget: []sources.Source{src}})
	m := f.engine.Budget(context.Background())

	assert.False(t, m.Fallback)
	assert.Equal(t, "pef", m.Source)
	assert.Equal(t, 2025, m.FiscalYear)
	assert.Equal(t, "run-1", m.RunID)
	require.Len(t, m.Categories, 2)
	assert.Equal(t, 11, m.Categories[0].ID)
	assert.True(t, m.TotalApproved.Equal(d("3500000")))
	assert.Empty(t, m.Failures)
	assert.Equal(t, f.clock.Now(), m.GeneratedAt)
}

func TestEngine_WalksCandidatesInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	down := newMockSource(ctrl, "down")
	noAmount := newMockSource(ctrl, "no-amount")
	zero := newMockSource(ctrl, "zero")
	good := newMockSource(ctrl, "good")

	gomock.InOrder(
		down.EXPECT().Fetch(gomock.Any()).Return(nil, core.Failure(core.ErrTransport, "down", errors.New("connection refused"))),
		noAmount.EXPECT().Fetch(gomock.Any()).Return([]core.RawRow{
			{"ID_RAMO", "DESC_RAMO", "MONTO_EJERCIDO"},
			{"7", "Defensa", "10"},
		}, nil),
		zero.EXPECT().Fetch(gomock.Any()).Return([]core.RawRow{budgetHeader, {"7", "Defensa", "0", "0"}}, nil),
		good.EXPECT().Fetch(gomock.Any()).Return(budgetRows(), nil),
	)

	f := newEngine(t, Pipelines{Budget: []sources.Source{down, noAmount, zero, good}})
	m := f.engine.Budget(context.Background())

	assert.False(t, m.Fallback)
	assert.Equal(t, "good", m.Source)
	require.Len(t, m.Failures, 3)
	assert.Equal(t, core.SourceFailure{Source: "down", Kind: "transport", Reason: m.Failures[0].Reason}, m.Failures[0])
	assert.Equal(t, "schema_unresolved", m.Failures[1].Kind)
	assert.Equal(t, "degenerate_result", m.Failures[2].Kind)
}

func TestEngine_MissingApprovedFallsBackToSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")
	src.EXPECT().Fetch(gomock.Any()).Return([]core.RawRow{
		{"ID_RAMO", "DESC_RAMO", "MONTO_EJERCIDO"},
		{"7", "Defensa", "10"},
	}, nil)

	f := newEngine(t, Pipelines{Budget: []sources.Source{src}})
	m := f.engine.Budget(context.Background())

	assert.True(t, m.Fallback)
	assert.Equal(t, snapshot.Name, m.Source)
	assert.Equal(t, f.snap.Version(), m.SnapshotVersion)
	assert.NotEmpty(t, m.Categories)
	require.Len(t, m.Failures, 1)
	assert.Equal(t, "schema_unresolved", m.Failures[0].Kind)
	assert.Equal(t, "pef", m.Failures[0].Source)
}

func TestEngine_ZeroTotalFallsBackToSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")
	src.EXPECT().Fetch(gomock.Any()).Return([]core.RawRow{
		budgetHeader,
		{"7", "Defensa", "N/D", "0"},
		{"11", "Educación", "", ""},
	}, nil)

	f := newEngine(t, Pipelines{Budget: []sources.Source{src}})
	m := f.engine.Budget(context.Background())

	assert.True(t, m.Fallback)
	assert.True(t, m.TotalApproved.IsPositive(), "fallback is never empty")
	assert.Equal(t, "degenerate_result", m.Failures[0].Kind)
}

func TestEngine_NoCandidatesServesSnapshot(t *testing.T) {
	f := newEngine(t, Pipelines{})
	m := f.engine.Budget(context.Background())

	assert.True(t, m.Fallback)
	require.Len(t, m.Failures, 1)
	assert.Equal(t, "no_candidates", m.Failures[0].Kind)
}

func TestEngine_CachesWithinTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")
	src.EXPECT().Fetch(gomock.Any()).Return(budgetRows(), nil).Times(2)

	f := newEngine(t, Pipelines{Budget: []sources.Source{src}})
	first := f.engine.Budget(context.Background())

	f.clock.Advance(59 * time.Minute)
	second := f.engine.Budget(context.Background())
	assert.Equal(t, first.RunID, second.RunID, "served from cache")

	f.clock.Advance(time.Minute)
	third := f.engine.Budget(context.Background())
	assert.NotEqual(t, first.RunID, third.RunID, "recomputed after expiry")
}

func TestEngine_FallbackIsNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")
	gomock.InOrder(
		src.EXPECT().Fetch(gomock.Any()).Return(nil, core.Failure(core.ErrTransport, "pef", errors.New("timeout"))),
		src.EXPECT().Fetch(gomock.Any()).Return(budgetRows(), nil),
	)

	f := newEngine(t, Pipelines{Budget: []sources.Source{src}})
	assert.True(t, f.engine.Budget(context.Background()).Fallback)
	assert.False(t, f.engine.Budget(context.Background()).Fallback, "next call retries live sources")
}

func TestEngine_InvalidateForcesRefetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")
	src.EXPECT().Fetch(gomock.Any()).Return(budgetRows(), nil).Times(2)

	f := newEngine(t, Pipelines{Budget: []sources.Source{src}})
	f.engine.Budget(context.Background())
	f.engine.Invalidate()
	f.engine.Budget(context.Background())
}

func TestEngine_InvalidateDuringRunDropsItsResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")

	started := make(chan struct{})
	release := make(chan struct{})
	newEdition := []core.RawRow{
		budgetHeader,
		{"20", "Bienestar", "9,000,000.00", "0"},
		{"11", "Educación", "2,000,000.00", "0"},
	}
	gomock.InOrder(
		src.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(context.Context) ([]core.RawRow, error) {
			close(started)
			<-release
			return budgetRows(), nil
		}),
		src.EXPECT().Fetch(gomock.Any()).Return(newEdition, nil),
	)

	f := newEngine(t, Pipelines{Budget: []sources.Source{src}})

	done := make(chan core.BudgetModel)
	go func() { done <- f.engine.Budget(context.Background()) }()

	<-started
	f.engine.Invalidate()
	close(release)
	stale := <-done
	assert.Equal(t, 11, stale.Categories[0].ID, "the in-flight caller still gets its answer")

	fresh := f.engine.Budget(context.Background())
	require.False(t, fresh.Fallback)
	assert.Equal(t, 20, fresh.Categories[0].ID)

	assert.Equal(t, 20, f.engine.Budget(context.Background()).Categories[0].ID, "fresh result is cached")
}

func TestEngine_ConcurrentCallsShareOneFetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")
	release := make(chan struct{})
	src.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(context.Context) ([]core.RawRow, error) {
		<-release
		return budgetRows(), nil
	}).Times(1)

	f := newEngine(t, Pipelines{Budget: []sources.Source{src}})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]core.BudgetModel, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.engine.Budget(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.False(t, r.Fallback)
		assert.Equal(t, "pef", r.Source)
	}
}

func TestEngine_CallerCancellationDoesNotAbortSharedRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")
	src.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]core.RawRow, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return budgetRows(), nil
	})

	f := newEngine(t, Pipelines{Budget: []sources.Source{src}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, f.engine.Budget(ctx).Fallback)
}

func lineItemRows(rows ...core.RawRow) []core.RawRow {
	return append([]core.RawRow{lineItemHeader}, rows...)
}

func TestEngine_MobilityAcrossYears(t *testing.T) {
	ctrl := gomock.NewController(t)
	cur := newMockSource(ctrl, "cuenta-2025")
	prior := newMockSource(ctrl, "cuenta-2024")

	cur.EXPECT().Fetch(gomock.Any()).Return(lineItemRows(
		core.RawRow{"2025", "07", "Defensa Nacional", "3700", "37101", "100.00", "0"},
		core.RawRow{"2025", "07", "Defensa Nacional", "3700", "37502", "50.00", "0"},
		core.RawRow{"2025", "07", "Defensa Nacional", "2600", "26102", "50.00", "0"},
		core.RawRow{"2025", "07", "Defensa Nacional", "1100", "11301", "800.00", "0"},
		core.RawRow{"2025", "12", "Salud", "1100", "11301", "400.00", "0"},
	), nil)
	prior.EXPECT().Fetch(gomock.Any()).Return(lineItemRows(
		core.RawRow{"2024", "07", "Defensa Nacional", "3700", "37101", "160.00", "0"},
		core.RawRow{"2024", "12", "Salud", "1100", "11301", "380.00", "0"},
	), nil)

	f := newEngine(t, Pipelines{
		MobilityCurrent: []sources.Source{cur},
		MobilityPrior:   []sources.Source{prior},
	})
	v := f.engine.Mobility(context.Background())

	assert.False(t, v.Fallback)
	assert.Equal(t, "cuenta-2025", v.Source)
	assert.Equal(t, "cuenta-2024", v.PriorSource)
	assert.Equal(t, 2024, v.PriorFiscalYear)
	assert.True(t, v.TotalBudget.Equal(d("1400")))
	require.Len(t, v.Profiles, 2)

	def := v.Profiles[0]
	assert.Equal(t, 7, def.CategoryID)
	assert.True(t, def.CurrentMobilityTotal.Equal(d("200")))
	assert.InDelta(t, 0.2, def.MobilityShare, 1e-9)
	assert.InDelta(t, 25.0, def.YearOverYearVariancePct, 1e-9)
	assert.False(t, def.PriorSynthesized)
	assert.True(t, v.Profiles[1].PriorSynthesized)
}

func TestEngine_MobilityFetchesBothYearsConcurrently(t *testing.T) {
	ctrl := gomock.NewController(t)
	cur := newMockSource(ctrl, "cuenta-2025")
	prior := newMockSource(ctrl, "cuenta-2024")

	// Each fetch waits until the other one has started.
	var arrived sync.WaitGroup
	arrived.Add(2)
	bothIn := make(chan struct{})
	go func() {
		arrived.Wait()
		close(bothIn)
	}()
	barrier := func(rows []core.RawRow) func(context.Context) ([]core.RawRow, error) {
		return func(context.Context) ([]core.RawRow, error) {
			arrived.Done()
			select {
			case <-bothIn:
				return rows, nil
			case <-time.After(5 * time.Second):
				return nil, errors.New("the other fiscal year was never fetched concurrently")
			}
		}
	}

	cur.EXPECT().Fetch(gomock.Any()).DoAndReturn(barrier(lineItemRows(
		core.RawRow{"2025", "07", "Defensa Nacional", "3700", "37101", "100.00", "0"},
	)))
	prior.EXPECT().Fetch(gomock.Any()).DoAndReturn(barrier(lineItemRows(
		core.RawRow{"2024", "07", "Defensa Nacional", "3700", "37101", "80.00", "0"},
	)))

	f := newEngine(t, Pipelines{
		MobilityCurrent: []sources.Source{cur},
		MobilityPrior:   []sources.Source{prior},
	})
	v := f.engine.Mobility(context.Background())

	require.False(t, v.Fallback, "failures: %v", v.Failures)
	assert.Equal(t, "cuenta-2024", v.PriorSource)
	require.Len(t, v.Profiles, 1)
	assert.InDelta(t, 25.0, v.Profiles[0].YearOverYearVariancePct, 1e-9)
}

func TestEngine_MobilityWithoutPriorYear(t *testing.T) {
	ctrl := gomock.NewController(t)
	cur := newMockSource(ctrl, "cuenta-2025")
	prior := newMockSource(ctrl, "cuenta-2024")

	cur.EXPECT().Fetch(gomock.Any()).Return(lineItemRows(
		core.RawRow{"2025", "07", "Defensa Nacional", "2600", "26102", "100.00", "0"},
	), nil)
	prior.EXPECT().Fetch(gomock.Any()).Return(nil, core.Failure(core.ErrTransport, "cuenta-2024", errors.New("503")))

	f := newEngine(t, Pipelines{
		MobilityCurrent: []sources.Source{cur},
		MobilityPrior:   []sources.Source{prior},
	})
	v := f.engine.Mobility(context.Background())

	assert.False(t, v.Fallback)
	assert.Empty(t, v.PriorSource)
	require.Len(t, v.Profiles, 1)
	assert.True(t, v.Profiles[0].PriorSynthesized)
	assert.True(t, v.Profiles[0].PriorYearMobilityTotal.Equal(d("95")))
	require.Len(t, v.Failures, 1)
	assert.Equal(t, "cuenta-2024", v.Failures[0].Source)
}

func TestEngine_MobilityRequiresConceptCode(t *testing.T) {
	ctrl := gomock.NewController(t)
	cur := newMockSource(ctrl, "pef-2025")
	cur.EXPECT().Fetch(gomock.Any()).Return(budgetRows(), nil)

	f := newEngine(t, Pipelines{MobilityCurrent: []sources.Source{cur}})
	v := f.engine.Mobility(context.Background())

	assert.True(t, v.Fallback)
	assert.Equal(t, f.snap.Version(), v.SnapshotVersion)
	require.NotEmpty(t, v.Failures)
	assert.Equal(t, "schema_unresolved", v.Failures[0].Kind)
}

func TestEngine_Sources(t *testing.T) {
	ctrl := gomock.NewController(t)
	a, b, c := newMockSource(ctrl, "a"), newMockSource(ctrl, "b"), newMockSource(ctrl, "c")

	f := newEngine(t, Pipelines{
		Budget:          []sources.Source{a, b},
		MobilityCurrent: []sources.Source{a},
		MobilityPrior:   []sources.Source{c},
	})
	infos := f.engine.Sources()
	require.Len(t, infos, 4)
	assert.Equal(t, SourceInfo{Pipeline: PipelineBudget, Position: 2, Name: "b", Location: "https://datos.example.gob.mx/b.csv"}, infos[1])
	assert.Equal(t, PipelineMobilityPrior, infos[3].Pipeline)
}

func TestEngine_Probe(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := newMockSource(ctrl, "pef")
	src.EXPECT().Fetch(gomock.Any()).Return(budgetRows(), nil)
	bad := newMockSource(ctrl, "bad")
	bad.EXPECT().Fetch(gomock.Any()).Return([]core.RawRow{{"RAMO", "MONTO"}}, nil)

	f := newEngine(t, Pipelines{Budget: []sources.Source{src, bad}})

	report, err := f.engine.Probe(context.Background(), "pef")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Rows)
	assert.Equal(t, 2, report.Categories)
	assert.Equal(t, "3500000.00", report.TotalApproved)
	assert.ElementsMatch(t, []core.Field{core.FieldConceptCode, core.FieldLineItemCode}, report.Missing)

	report, err = f.engine.Probe(context.Background(), "bad")
	assert.True(t, errors.Is(err, core.ErrSchemaUnresolved))
	assert.Equal(t, core.RawRow{"RAMO", "MONTO"}, report.Header)

	_, err = f.engine.Probe(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestExhaustedError(t *testing.T) {
	err := &ExhaustedError{Pipeline: PipelineBudget, Failures: []core.SourceFailure{{Source: "a", Kind: "transport"}}}
	assert.True(t, strings.Contains(err.Error(), "a (transport)"))
	assert.False(t, errors.Is(err, core.ErrNoCandidates))
	assert.True(t, errors.Is(&ExhaustedError{Pipeline: PipelineBudget}, core.ErrNoCandidates))
}

func TestNewEngine_RequiresFallbacks(t *testing.T) {
	_, err := NewEngine(Pipelines{}, Fallbacks{}, Options{Schema: testTable()})
	assert.Error(t, err)
}
