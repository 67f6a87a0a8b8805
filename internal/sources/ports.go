// Package sources declares the ports the ingestion engine reads datasets
// through. Adapters live in the subpackages.
package sources

import (
	"context"

	"presupuesto/internal/core"
)

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

// Ports for outbound adapters.
type (
	// Source fetches one candidate dataset.
	Source interface {
		// Name identifies the source in logs, failures and the CLI.
		Name() string
		// Location is the dataset identity used to derive cache keys.
		Location() string
		// Fetch returns every decoded row, header first. Failures wrap
		// core.ErrTransport or core.ErrDecode.
		Fetch(ctx context.Context) ([]core.RawRow, error)
	}
)
