package billing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/domain/billing"
)

// CatalogService caches the payment processor's product catalog. Snapshots
// are immutable; the service refetches once the cached one outlives the TTL.
// When a refresh fails a stale snapshot keeps being served, because selling
// from an old price list beats selling nothing.
type CatalogService struct {
	provider billing.CatalogProvider
	ttl      time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	snapshot *billing.CatalogSnapshot
}

// NewCatalogService creates a new catalog service
func NewCatalogService(provider billing.CatalogProvider, ttl time.Duration, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		provider: provider,
		ttl:      ttl,
		logger:   logger,
	}
}

// Snapshot returns the current catalog snapshot, refreshing it when stale
func (s *CatalogService) Snapshot(ctx context.Context) (*billing.CatalogSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil && s.snapshot.Age(time.Now().UTC()) < s.ttl {
		return s.snapshot, nil
	}

	fresh, err := s.provider.Fetch(ctx)
	if err != nil {
		if s.snapshot != nil {
			s.logger.Warn("Catalog refresh failed, serving stale snapshot",
				zap.Duration("age", s.snapshot.Age(time.Now().UTC())),
				zap.Error(err))
			return s.snapshot, nil
		}
		return nil, err
	}

	s.snapshot = fresh
	s.logger.Info("Catalog snapshot refreshed", zap.Int("products", fresh.Len()))
	return s.snapshot, nil
}

// Refresh discards the cached snapshot and fetches a fresh one
func (s *CatalogService) Refresh(ctx context.Context) (*billing.CatalogSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh, err := s.provider.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.snapshot = fresh
	s.logger.Info("Catalog snapshot refreshed", zap.Int("products", fresh.Len()))
	return s.snapshot, nil
}
