package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// Search answers a natural-language query with ranked, duplicate-collapsed
// interactions. The flow: fingerprint the query, consult the cache, embed
// the query text, over-fetch nearest neighbors, fold near-duplicates into
// clusters, truncate to the limit, cache, and record analytics without
// blocking the response.
//
// An empty corpus yields an empty result list, not an error. When the
// embedding collaborator is unavailable a cache hit is served as usual;
// a miss degrades to an empty result list rather than failing the call.
// Degraded responses are never cached, so the next search retries the
// collaborator.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]types.RankedResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query text is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}

	start := time.Now()
	fingerprint := Fingerprint(query, limit)

	if cached, ok := e.cache.Get(fingerprint); ok {
		e.recordAnalytics(fingerprint, len(cached), time.Since(start), true)
		return cached, nil
	}

	results, err := e.searchUncached(ctx, fingerprint, query, limit)
	if errors.Is(err, storage.ErrUnavailable) {
		log.Printf("WARNING: search degraded to empty results: %v", err)
		return []types.RankedResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	e.cache.Put(fingerprint, results)
	e.recordAnalytics(fingerprint, len(results), time.Since(start), false)
	return results, nil
}

func (e *Engine) searchUncached(ctx context.Context, fingerprint, query string, limit int) ([]types.RankedResult, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", storage.ErrUnavailable)
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding failed: %v", storage.ErrUnavailable, err)
	}

	// Over-fetch so clustering has duplicates to collapse and still fills
	// the requested limit.
	neighbors, err := e.embeddings.NearestNeighbors(ctx, queryVec, limit*e.config.OverfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor query failed: %w", err)
	}
	if len(neighbors) == 0 {
		return []types.RankedResult{}, nil
	}

	vectors := make(map[string][]float64, len(neighbors))
	for _, n := range neighbors {
		vec, err := e.embeddings.GetEmbedding(ctx, n.InteractionID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load embedding for %s: %w", n.InteractionID, err)
		}
		vectors[n.InteractionID] = vec
	}

	results := clusterNeighbors(neighbors, vectors, e.config.ClusterThreshold)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// recordAnalytics appends one search log entry in the background. The
// serving path never waits on, and never fails because of, analytics.
func (e *Engine) recordAnalytics(fingerprint string, resultCount int, latency time.Duration, cacheHit bool) {
	if e.analytics == nil {
		return
	}
	rec := &types.AnalyticsRecord{
		Fingerprint: fingerprint,
		ResultCount: resultCount,
		Latency:     latency,
		CacheHit:    cacheHit,
		CreatedAt:   time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.analytics.RecordSearch(ctx, rec); err != nil {
			log.Printf("WARNING: failed to record search analytics: %v", err)
		}
	}()
}
