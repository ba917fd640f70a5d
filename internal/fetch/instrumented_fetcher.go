package fetch

import (
	"context"

	"github.com/Novice000/crypto_export_fetcher/internal/telemetry"
)

// InstrumentedFetcher wraps a Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
	}
}

// Fetch performs the transfer with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, url string, dest string, offset int64) (int64, error) {
	return f.telemetry.InstrumentFetch(ctx, func(ctx context.Context) (int64, error) {
		return f.fetcher.Fetch(ctx, url, dest, offset)
	})
}
