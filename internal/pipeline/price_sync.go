package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// syncLockKey guards the price sync so only one instance pulls from the
// feed at a time.
const syncLockKey = "price_sync"

// PriceFetcher retrieves mandi price records from an external feed.
type PriceFetcher interface {
	GetPrices(ctx context.Context, limit, offset int) ([]domain.MarketPriceRecord, error)
}

// PriceSync pulls mandi prices from the feed and upserts them into the
// store. When a lock manager is provided, runs are single-flighted across
// instances.
type PriceSync struct {
	fetcher PriceFetcher
	store   domain.MarketPriceStore
	locks   domain.LockManager
	logger  *slog.Logger
}

// NewPriceSync creates a new PriceSync. locks may be nil, in which case runs
// are not coordinated across instances.
func NewPriceSync(fetcher PriceFetcher, store domain.MarketPriceStore, locks domain.LockManager, logger *slog.Logger) *PriceSync {
	return &PriceSync{
		fetcher: fetcher,
		store:   store,
		locks:   locks,
		logger:  logger,
	}
}

// Run executes a single sync run that paginates through the feed and upserts
// each batch. A run that finds the lock held by another instance returns nil
// without doing any work.
func (s *PriceSync) Run(ctx context.Context) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, syncLockKey, 10*time.Minute)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.Info("price sync skipped, another instance holds the lock")
				return nil
			}
			return fmt.Errorf("acquiring sync lock: %w", err)
		}
		defer unlock()
	}

	const pageSize = 100
	offset := 0
	totalSynced := 0

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("price sync context cancelled: %w", err)
		}

		records, err := s.fetcher.GetPrices(ctx, pageSize, offset)
		if err != nil {
			return fmt.Errorf("fetching prices at offset %d: %w", offset, err)
		}

		if len(records) == 0 {
			break
		}

		if err := s.store.UpsertBatch(ctx, records); err != nil {
			return fmt.Errorf("upserting %d prices at offset %d: %w", len(records), offset, err)
		}

		totalSynced += len(records)
		s.logger.Info("synced price batch",
			slog.Int("batch_size", len(records)),
			slog.Int("total_synced", totalSynced),
			slog.Int("offset", offset),
		)

		if len(records) < pageSize {
			break
		}

		offset += pageSize
	}

	s.logger.Info("price sync complete", slog.Int("total_synced", totalSynced))
	return nil
}

// RunLoop runs the price sync on a repeating interval until the context is
// cancelled.
func (s *PriceSync) RunLoop(ctx context.Context, interval time.Duration) error {
	// Run immediately on start.
	if err := s.Run(ctx); err != nil {
		s.logger.Error("price sync failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("price sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.Error("price sync failed", slog.String("error", err.Error()))
			}
		}
	}
}
