package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SummaryCache caches sales-summary totals keyed by store id ("" for the
// cross-store total). Implementations must treat a miss as (zero, false, nil).
type SummaryCache interface {
	Get(ctx context.Context, storeID string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, storeID string, total decimal.Decimal, ttl time.Duration) error
	// Invalidate drops the entries for the given store and for the
	// cross-store total. Called after every sale mutation.
	Invalidate(ctx context.Context, storeID string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ decimal.Decimal, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
