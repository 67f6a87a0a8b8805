package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"presupuesto/internal/cache"
	"presupuesto/internal/core"
	"presupuesto/internal/log"
	"presupuesto/internal/sources"
)

// Pipeline names, used in logs, cache keys and source listings.
const (
	PipelineBudget        = "budget"
	PipelineMobility      = "mobility"
	PipelineMobilityPrior = "mobility_prior"
)

// Provider yields a complete result. The snapshot is the provider of last
// resort for each public operation.
type Provider[T any] interface {
	Name() string
	Load(ctx context.Context) (T, error)
}

// Pipelines holds the ordered candidate sources of each operation.
type Pipelines struct {
	Budget          []sources.Source
	MobilityCurrent []sources.Source
	MobilityPrior   []sources.Source
}

// Fallbacks are consulted once every live candidate has failed.
type Fallbacks struct {
	Budget   Provider[core.BudgetModel]
	Mobility Provider[core.MobilityView]
}

type Options struct {
	FiscalYear      int
	PriorFiscalYear int
	Schema          core.SchemaTable
	Classifier      Classifier

	CacheTTL        time.Duration
	CacheMaxEntries int
	// Clock drives cache expiry and result timestamps. Defaults to time.Now.
	Clock cache.Clock

	Logger *log.Logger
	// RunID generates the id stamped on each computed result. Defaults to
	// random UUIDs.
	RunID func() string
}

// ExhaustedError reports that no candidate of a pipeline produced a usable
// dataset.
type ExhaustedError struct {
	Pipeline string
	Failures []core.SourceFailure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%s: no candidate sources configured", e.Pipeline)
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Source + " (" + f.Kind + ")"
	}
	return fmt.Sprintf("%s: all %d candidates failed: %s", e.Pipeline, len(e.Failures), strings.Join(parts, ", "))
}

func (e *ExhaustedError) Unwrap() error {
	if len(e.Failures) == 0 {
		return core.ErrNoCandidates
	}
	return nil
}

// ErrUnknownSource is returned by Probe for names not in any pipeline.
var ErrUnknownSource = errors.New("unknown source")

// Engine runs the ingestion pipelines. Budget and Mobility always return a
// usable result: live data when a candidate succeeds, the fallback otherwise.
// It is safe for concurrent use.
type Engine struct {
	pipelines Pipelines
	fallbacks Fallbacks
	schema    core.SchemaTable
	cl        Classifier

	fiscalYear      int
	priorFiscalYear int

	budgetCache   *cache.LRUCache[core.BudgetModel]
	mobilityCache *cache.LRUCache[core.MobilityView]
	budgetKey     string
	mobilityKey   string
	group         singleflight.Group

	now    cache.Clock
	runID  func() string
	logger *log.Logger
}

func NewEngine(p Pipelines, fb Fallbacks, opts Options) (*Engine, error) {
	if fb.Budget == nil || fb.Mobility == nil {
		return nil, errors.New("engine needs a budget and a mobility fallback")
	}
	if len(opts.Schema) == 0 {
		return nil, errors.New("engine needs a schema table")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.RunID == nil {
		opts.RunID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.CacheMaxEntries <= 0 {
		opts.CacheMaxEntries = 16
	}
	if opts.Classifier.IsZero() {
		opts.Classifier = DefaultClassifier()
	}
	if opts.PriorFiscalYear == 0 && opts.FiscalYear != 0 {
		opts.PriorFiscalYear = opts.FiscalYear - 1
	}

	year := strconv.Itoa(opts.FiscalYear)
	budgetKey := cache.Key(append([]string{PipelineBudget, year}, locations(p.Budget)...)...)
	mobilityParts := append([]string{PipelineMobility, year, strconv.Itoa(opts.PriorFiscalYear)}, locations(p.MobilityCurrent)...)
	mobilityParts = append(mobilityParts, "|")
	mobilityParts = append(mobilityParts, locations(p.MobilityPrior)...)

	return &Engine{
		pipelines:       p,
		fallbacks:       fb,
		schema:          opts.Schema,
		cl:              opts.Classifier,
		fiscalYear:      opts.FiscalYear,
		priorFiscalYear: opts.PriorFiscalYear,
		budgetCache:     cache.NewLRUCache[core.BudgetModel](opts.CacheMaxEntries, opts.CacheTTL, cache.WithClock(opts.Clock)),
		mobilityCache:   cache.NewLRUCache[core.MobilityView](opts.CacheMaxEntries, opts.CacheTTL, cache.WithClock(opts.Clock)),
		budgetKey:       budgetKey,
		mobilityKey:     cache.Key(mobilityParts...),
		now:             opts.Clock,
		runID:           opts.RunID,
		logger:          opts.Logger.WithComponent(log.ComponentIngest),
	}, nil
}

func locations(srcs []sources.Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = s.Location()
	}
	return out
}

// RegisterCaches hands the engine caches to a sweeper.
func (e *Engine) RegisterCaches(m *cache.Manager) {
	m.Register(e.budgetCache)
	m.Register(e.mobilityCache)
}

// Budget returns the per-category budget model of the current fiscal year.
//
// Concurrent calls share one computation. The computation is detached from
// the caller's cancellation so that one caller going away does not fail the
// others; each fetch is still bounded by its source timeout.
func (e *Engine) Budget(ctx context.Context) core.BudgetModel {
	runID := e.runID()
	logger := e.logger.With(log.FieldRunID, runID, log.FieldPipeline, PipelineBudget)

	v, err, _ := e.group.Do(e.budgetKey, func() (any, error) {
		m, hit, err := e.budgetCache.GetOrCompute(e.budgetKey, e.budgetCache.TTL(), func() (core.BudgetModel, error) {
			return e.liveBudget(context.WithoutCancel(ctx), runID, logger)
		})
		if hit {
			logger.DebugContext(ctx, "Serving cached budget model", log.FieldCacheHit, true)
		}
		return m, err
	})
	if err == nil {
		return v.(core.BudgetModel)
	}

	m, ferr := e.fallbacks.Budget.Load(ctx)
	if ferr != nil {
		logger.ErrorContext(ctx, "Fallback provider failed", log.FieldError, ferr)
		m = core.BudgetModel{FiscalYear: e.fiscalYear, Source: e.fallbacks.Budget.Name(), Fallback: true}
	}
	m.RunID = runID
	m.Failures = failuresOf(err)
	m.GeneratedAt = e.now()

	logger.WarnContext(ctx, "All live sources failed, serving fallback",
		log.FieldSource, m.Source,
		log.FieldSnapshotVersion, m.SnapshotVersion,
		log.FieldError, err)
	return m
}

func (e *Engine) liveBudget(ctx context.Context, runID string, logger *log.Logger) (core.BudgetModel, error) {
	ds, failures, err := e.firstDataset(ctx, PipelineBudget, e.pipelines.Budget, core.MandatoryFields, logger)
	if err != nil {
		return core.BudgetModel{}, err
	}

	m := core.BudgetModel{
		RunID:          runID,
		FiscalYear:     e.fiscalYear,
		Source:         ds.Source,
		Categories:     ds.Aggregation.Categories,
		TotalApproved:  ds.Aggregation.TotalApproved,
		TotalExercised: ds.Aggregation.TotalExercised,
		Stats:          ds.Aggregation.Stats,
		Failures:       failures,
		GeneratedAt:    e.now(),
	}

	log.NewStructuredLogger(logger).LogRunEnd(ctx, "Budget model computed", ds.Source, len(m.Categories), m.Stats)
	return m, nil
}

// Mobility returns per-category mobility spend of the current year against
// the prior year. Both years are fetched concurrently. Without a usable prior
// year every baseline is synthesized; without a usable current year the
// fallback is served.
func (e *Engine) Mobility(ctx context.Context) core.MobilityView {
	runID := e.runID()
	logger := e.logger.With(log.FieldRunID, runID, log.FieldPipeline, PipelineMobility)

	v, err, _ := e.group.Do(e.mobilityKey, func() (any, error) {
		view, hit, err := e.mobilityCache.GetOrCompute(e.mobilityKey, e.mobilityCache.TTL(), func() (core.MobilityView, error) {
			return e.liveMobility(context.WithoutCancel(ctx), runID, logger)
		})
		if hit {
			logger.DebugContext(ctx, "Serving cached mobility view", log.FieldCacheHit, true)
		}
		return view, err
	})
	if err == nil {
		return v.(core.MobilityView)
	}

	view, ferr := e.fallbacks.Mobility.Load(ctx)
	if ferr != nil {
		logger.ErrorContext(ctx, "Fallback provider failed", log.FieldError, ferr)
		view = core.MobilityView{
			FiscalYear:      e.fiscalYear,
			PriorFiscalYear: e.priorFiscalYear,
			Source:          e.fallbacks.Mobility.Name(),
			Fallback:        true,
		}
	}
	view.RunID = runID
	view.Failures = failuresOf(err)
	view.GeneratedAt = e.now()

	logger.WarnContext(ctx, "All live sources failed, serving fallback",
		log.FieldSource, view.Source,
		log.FieldSnapshotVersion, view.SnapshotVersion,
		log.FieldError, err)
	return view
}

func (e *Engine) liveMobility(ctx context.Context, runID string, logger *log.Logger) (core.MobilityView, error) {
	required := append(append([]core.Field(nil), core.MandatoryFields...), core.FieldConceptCode)

	var cur, prior Dataset
	var curFailures, priorFailures []core.SourceFailure
	var priorErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cur, curFailures, err = e.firstDataset(gctx, PipelineMobility, e.pipelines.MobilityCurrent, required, logger)
		return err
	})
	g.Go(func() error {
		prior, priorFailures, priorErr = e.firstDataset(gctx, PipelineMobilityPrior, e.pipelines.MobilityPrior, required, logger)
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.MobilityView{}, err
	}

	stats := cur.Aggregation.Stats
	var priorDS *Dataset
	priorSource := ""
	if priorErr == nil {
		priorDS = &prior
		priorSource = prior.Source
		stats.Add(prior.Aggregation.Stats)
	} else {
		logger.WarnContext(ctx, "Prior fiscal year unavailable, synthesizing baselines",
			log.FieldFiscalYear, e.priorFiscalYear,
			log.FieldError, priorErr)
	}

	view := core.MobilityView{
		RunID:           runID,
		FiscalYear:      e.fiscalYear,
		PriorFiscalYear: e.priorFiscalYear,
		Source:          cur.Source,
		PriorSource:     priorSource,
		Profiles:        Reconcile(cur, priorDS, e.cl),
		TotalBudget:     cur.Aggregation.TotalApproved,
		Stats:           stats,
		Failures:        append(curFailures, priorFailures...),
		GeneratedAt:     e.now(),
	}

	log.NewStructuredLogger(logger).LogRunEnd(ctx, "Mobility view computed", cur.Source, len(view.Profiles), stats)
	return view, nil
}

// firstDataset walks srcs in order and returns the first one that fetches,
// resolves and aggregates to a non-zero total. Every failure is recorded and
// the walk continues with the next candidate.
func (e *Engine) firstDataset(ctx context.Context, pipeline string, srcs []sources.Source, required []core.Field, logger *log.Logger) (Dataset, []core.SourceFailure, error) {
	var failures []core.SourceFailure
	for _, src := range srcs {
		ds, err := e.loadDataset(ctx, src, required)
		if err == nil {
			return ds, failures, nil
		}

		failures = append(failures, core.SourceFailure{
			Source: src.Name(),
			Kind:   core.FailureKind(err),
			Reason: err.Error(),
		})
		log.NewStructuredLogger(logger.With(log.FieldPipeline, pipeline)).
			LogCandidateFailure(ctx, src.Name(), src.Location(), err)

		if ctx.Err() != nil {
			break
		}
	}
	return Dataset{}, failures, &ExhaustedError{Pipeline: pipeline, Failures: failures}
}

func (e *Engine) loadDataset(ctx context.Context, src sources.Source, required []core.Field) (Dataset, error) {
	rows, err := src.Fetch(ctx)
	if err != nil {
		return Dataset{}, tagSource(err, src.Name())
	}
	if len(rows) == 0 {
		return Dataset{}, core.Failure(core.ErrDecode, src.Name(), errors.New("no rows"))
	}

	schema, err := Resolve(rows[0], e.schema, required...)
	if err != nil {
		return Dataset{}, tagSource(err, src.Name())
	}

	body := rows[1:]
	agg, err := Aggregate(body, schema)
	if err != nil {
		return Dataset{}, tagSource(err, src.Name())
	}

	return Dataset{Source: src.Name(), Rows: body, Schema: schema, Aggregation: agg}, nil
}

// tagSource attaches the source name to a step error. Errors that carry no
// step kind are treated as transport failures.
func tagSource(err error, source string) error {
	if core.FailureKind(err) == "unknown" {
		return core.Failure(core.ErrTransport, source, err)
	}
	var z *zerr.Error
	if errors.As(err, &z) {
		if _, ok := z.Metadata()["source"]; ok {
			return err
		}
	}
	return zerr.With(err, "source", source)
}

func failuresOf(err error) []core.SourceFailure {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		if len(ex.Failures) == 0 {
			return []core.SourceFailure{{Source: ex.Pipeline, Kind: core.FailureKind(ex), Reason: ex.Error()}}
		}
		return ex.Failures
	}
	return []core.SourceFailure{{Kind: core.FailureKind(err), Reason: err.Error()}}
}

// Invalidate drops cached results so the next call reads the live sources.
// Runs already in flight still answer their callers but are not cached.
func (e *Engine) Invalidate() {
	e.group.Forget(e.budgetKey)
	e.group.Forget(e.mobilityKey)
	n := e.budgetCache.Purge() + e.mobilityCache.Purge()
	e.logger.Info("Cached results invalidated", log.FieldOperation, log.OpInvalidate, "entries", n)
}

// SourceInfo describes one configured candidate.
type SourceInfo struct {
	Pipeline string `json:"pipeline"`
	Position int    `json:"position"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Sources lists every configured candidate in pipeline order.
func (e *Engine) Sources() []SourceInfo {
	var out []SourceInfo
	add := func(pipeline string, srcs []sources.Source) {
		for i, s := range srcs {
			out = append(out, SourceInfo{Pipeline: pipeline, Position: i + 1, Name: s.Name(), Location: s.Location()})
		}
	}
	add(PipelineBudget, e.pipelines.Budget)
	add(PipelineMobility, e.pipelines.MobilityCurrent)
	add(PipelineMobilityPrior, e.pipelines.MobilityPrior)
	return out
}

// ProbeReport is the diagnostic view of a single source.
type ProbeReport struct {
	Source   string          `json:"source"`
	Location string          `json:"location"`
	Header   core.RawRow     `json:"header"`
	Schema   core.SchemaMap  `json:"schema"`
	Missing  []core.Field    `json:"missing,omitempty"`
	Rows     int             `json:"rows"`
	Stats    core.ParseStats `json:"stats"`
	// TotalApproved is empty when the dataset did not aggregate.
	TotalApproved string `json:"total_approved,omitempty"`
	Categories    int    `json:"categories"`
}

// Probe fetches one source by name, bypassing cache and fallback, and reports
// how its header resolves. The report is filled as far as the pipeline got;
// the error names the step that stopped it.
func (e *Engine) Probe(ctx context.Context, name string) (ProbeReport, error) {
	src := e.find(name)
	if src == nil {
		return ProbeReport{Source: name}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	report := ProbeReport{Source: src.Name(), Location: src.Location()}

	rows, err := src.Fetch(ctx)
	if err != nil {
		return report, tagSource(err, src.Name())
	}
	if len(rows) == 0 {
		return report, core.Failure(core.ErrDecode, src.Name(), errors.New("no rows"))
	}
	report.Header = rows[0]
	report.Rows = len(rows) - 1

	schema, resolveErr := Resolve(rows[0], e.schema)
	report.Schema = schema
	for _, f := range e.schema.Fields() {
		if _, ok := schema.Index(f); !ok {
			report.Missing = append(report.Missing, f)
		}
	}
	if resolveErr != nil {
		return report, tagSource(resolveErr, src.Name())
	}

	agg, err := Aggregate(rows[1:], schema)
	report.Stats = agg.Stats
	report.Categories = len(agg.Categories)
	if err != nil {
		return report, tagSource(err, src.Name())
	}
	report.TotalApproved = agg.TotalApproved.StringFixed(2)
	return report, nil
}

func (e *Engine) find(name string) sources.Source {
	for _, group := range [][]sources.Source{e.pipelines.Budget, e.pipelines.MobilityCurrent, e.pipelines.MobilityPrior} {
		for _, s := range group {
			if s.Name() == name {
				return s
			}
		}
	}
	return nil
}
