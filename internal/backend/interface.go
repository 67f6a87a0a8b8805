// Package backend builds the candidate sources named in the catalog.
package backend

import (
	"context"
	"time"

	"presupuesto/internal/config"
	"presupuesto/internal/sources"
)

// Factory creates sources from catalog descriptors
type Factory interface {
	CreateSource(ctx context.Context, d config.SourceDescriptor) (sources.Source, error)
}

// Config holds the settings shared by every source a factory creates.
type Config struct {
	FetchTimeout time.Duration

	// Google Sheets. Only needed when the catalog has a sheets source.
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleAPIKey             string
}

// BackendType is the kind of a source descriptor.
type BackendType string

const (
	HTTPBackend   BackendType = config.KindHTTP
	SheetsBackend BackendType = config.KindSheets
)

// IsValid checks if the backend type is supported
func (bt BackendType) IsValid() bool {
	switch bt {
	case HTTPBackend, SheetsBackend:
		return true
	default:
		return false
	}
}

// String returns the string representation of the backend type
func (bt BackendType) String() string {
	return string(bt)
}
