package log

import "presupuesto/internal/core"

// Common field names for structured logging
const (
	FieldComponent       = "component"
	FieldRequestID       = "request_id"
	FieldClientIP        = "client_ip"
	FieldMethod          = "method"
	FieldPath            = "path"
	FieldQuery           = "query"
	FieldStatusCode      = "status_code"
	FieldDuration        = "duration_ms"
	FieldUserAgent       = "user_agent"
	FieldSuccess         = "success"
	FieldError           = "error"
	FieldErrorType       = "error_type"
	FieldOperation       = "operation"
	FieldRunID           = "run_id"
	FieldPipeline        = "pipeline"
	FieldSource          = "source"
	FieldLocation        = "location"
	FieldFiscalYear      = "fiscal_year"
	FieldRowsRead        = "rows_read"
	FieldRowsAggregated  = "rows_aggregated"
	FieldShortRows       = "short_rows"
	FieldInvalidIDs      = "invalid_ids"
	FieldZeroedAmounts   = "zeroed_amounts"
	FieldCategories      = "categories"
	FieldFallback        = "fallback"
	FieldSnapshotVersion = "snapshot_version"
	FieldCacheHit        = "cache_hit"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentIngest    = "ingest"
	ComponentSources   = "sources"
	ComponentSnapshot  = "snapshot"
	ComponentCache     = "cache"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentRateLimit = "rate_limit"
	ComponentCLI       = "cli"
)

// Operations defines standard operation names
const (
	OpFetch      = "fetch"
	OpDecode     = "decode"
	OpResolve    = "resolve"
	OpAggregate  = "aggregate"
	OpReconcile  = "reconcile"
	OpFallback   = "fallback"
	OpRefresh    = "refresh"
	OpInvalidate = "invalidate"
	OpPublish    = "publish"
	OpConsume    = "consume"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error message and, for pipeline step errors, its kind.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		if kind := core.FailureKind(err); kind != "unknown" {
			f[FieldErrorType] = kind
		}
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRun adds the run id and pipeline name.
func (f LogFields) WithRun(runID, pipeline string) LogFields {
	f[FieldRunID] = runID
	f[FieldPipeline] = pipeline
	return f
}

// WithSource adds the candidate source name and location.
func (f LogFields) WithSource(name, location string) LogFields {
	f[FieldSource] = name
	if location != "" {
		f[FieldLocation] = location
	}
	return f
}

// WithStats adds the row counters of a parse.
func (f LogFields) WithStats(s core.ParseStats) LogFields {
	f[FieldRowsRead] = s.RowsRead
	f[FieldRowsAggregated] = s.RowsAggregated
	f[FieldShortRows] = s.ShortRows
	f[FieldInvalidIDs] = s.InvalidIDs
	f[FieldZeroedAmounts] = s.ZeroedAmounts
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
