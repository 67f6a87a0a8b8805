package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	gsheet "google.golang.org/api/sheets/v4"

	"presupuesto/internal/config"
	"presupuesto/internal/ingest"
	"presupuesto/internal/log"
	"presupuesto/internal/sources"
	"presupuesto/internal/sources/google"
	"presupuesto/internal/sources/httpcsv"
)

// DefaultFactory implements the Factory interface. HTTP sources share one
// pooled client; sheets sources share one lazily created service.
type DefaultFactory struct {
	config Config
	logger *log.Logger
	client *http.Client

	mu     sync.Mutex
	sheets *gsheet.Service
}

// NewFactory creates a new source factory
func NewFactory(cfg Config, logger *log.Logger) *DefaultFactory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		config: cfg,
		logger: logger.WithComponent(log.ComponentSources),
		client: httpcsv.NewHTTPClient(),
	}
}

// WithHTTPClient replaces the shared HTTP client.
func (f *DefaultFactory) WithHTTPClient(c *http.Client) *DefaultFactory {
	f.client = c
	return f
}

// WithSheetsService injects a ready Sheets service.
func (f *DefaultFactory) WithSheetsService(svc *gsheet.Service) *DefaultFactory {
	f.mu.Lock()
	f.sheets = svc
	f.mu.Unlock()
	return f
}

// CreateSource implements Factory.CreateSource
func (f *DefaultFactory) CreateSource(ctx context.Context, d config.SourceDescriptor) (sources.Source, error) {
	kind := BackendType(d.Kind)
	if !kind.IsValid() {
		return nil, fmt.Errorf("invalid source kind %q for %s (expected one of %v)", d.Kind, d.Name, GetBackendTypes())
	}

	switch kind {
	case HTTPBackend:
		return f.createHTTPSource(d)
	case SheetsBackend:
		return f.createSheetsSource(ctx, d)
	default:
		return nil, fmt.Errorf("unsupported source kind: %s", d.Kind)
	}
}

func (f *DefaultFactory) createHTTPSource(d config.SourceDescriptor) (sources.Source, error) {
	src, err := httpcsv.New(d.Name, d.URL, d.Encoding,
		httpcsv.WithClient(f.client),
		httpcsv.WithTimeout(f.config.FetchTimeout))
	if err != nil {
		return nil, err
	}
	f.logger.Debug("Initialized HTTP source", log.FieldSource, d.Name, log.FieldLocation, d.URL, "encoding", string(src.Encoding()))
	return src, nil
}

func (f *DefaultFactory) createSheetsSource(ctx context.Context, d config.SourceDescriptor) (sources.Source, error) {
	svc, err := f.sheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets for %s: %w", d.Name, err)
	}
	f.logger.Debug("Initialized Google Sheets source", log.FieldSource, d.Name, "range", d.Range)
	return google.New(svc, d.Name, d.SpreadsheetID, d.Range, f.config.FetchTimeout), nil
}

func (f *DefaultFactory) sheetsService(ctx context.Context) (*gsheet.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sheets != nil {
		return f.sheets, nil
	}
	svc, err := google.NewService(ctx, google.Credentials{
		ServiceAccountJSON: f.config.GoogleServiceAccountJSON,
		ServiceAccountFile: f.config.GoogleServiceAccountFile,
		APIKey:             f.config.GoogleAPIKey,
	})
	if err != nil {
		return nil, err
	}
	f.sheets = svc
	return svc, nil
}

// BuildPipelines creates every source named in the catalog, preserving
// candidate order within each group.
func BuildPipelines(ctx context.Context, f Factory, cat *config.Catalog) (ingest.Pipelines, error) {
	build := func(ds []config.SourceDescriptor) ([]sources.Source, error) {
		out := make([]sources.Source, 0, len(ds))
		for _, d := range ds {
			src, err := f.CreateSource(ctx, d)
			if err != nil {
				return nil, err
			}
			out = append(out, src)
		}
		return out, nil
	}

	var p ingest.Pipelines
	var err error
	if p.Budget, err = build(cat.Budget); err != nil {
		return p, err
	}
	if p.MobilityCurrent, err = build(cat.Mobility.Current); err != nil {
		return p, err
	}
	if p.MobilityPrior, err = build(cat.Mobility.Prior); err != nil {
		return p, err
	}
	return p, nil
}
