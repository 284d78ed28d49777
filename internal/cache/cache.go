package cache

import (
	"context"
	"time"

	"lotledger/backend/internal/domain"
)

type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.FinanceSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.FinanceSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.FinanceSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.FinanceSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
