package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// RecordSearch appends one row to the search_analytics table. The table is
// append-only; nothing in the serving path reads it back.
func (s *Store) RecordSearch(ctx context.Context, rec *types.AnalyticsRecord) error {
	if rec == nil || rec.Fingerprint == "" {
		return fmt.Errorf("%w: analytics record with fingerprint is required", storage.ErrInvalidInput)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	cacheHit := 0
	if rec.CacheHit {
		cacheHit = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_analytics (fingerprint, result_count, latency_ms, cache_hit, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Fingerprint, rec.ResultCount, rec.Latency.Milliseconds(), cacheHit, createdAt)
	if err != nil {
		return fmt.Errorf("failed to record search analytics: %w", err)
	}

	return nil
}
