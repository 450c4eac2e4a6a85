package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mosswell/kith/internal/storage"
)

// nearestNeighborsMaxCandidates caps the number of embeddings loaded into
// memory during a nearest-neighbor scan. Candidates are selected in
// recency order (newest interaction first), so the most recent records are
// always considered. A personal contact corpus stays far below this; for
// larger datasets the Postgres/pgvector backend provides indexed ANN.
const nearestNeighborsMaxCandidates = 10_000

// StoreEmbedding stores or replaces the vector for an interaction.
// The vector is serialized as a little-endian float64 BLOB. The occurredAt
// parameter is unused here: nearest-neighbor queries join the interactions
// table in the same database, so the date is never denormalized.
func (s *Store) StoreEmbedding(ctx context.Context, interactionID string, embedding []float64, dimension int, model string, _ time.Time) error {
	if interactionID == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}
	if model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}
	if len(embedding) != dimension {
		return fmt.Errorf("%w: embedding length (%d) does not match dimension (%d)",
			storage.ErrInvalidInput, len(embedding), dimension)
	}

	query := `
		INSERT INTO embeddings (interaction_id, embedding, dimension, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(interaction_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query, interactionID, serializeEmbedding(embedding), dimension, model)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	return nil
}

// GetEmbedding retrieves the stored vector for an interaction.
// Returns storage.ErrNotFound if no embedding is stored.
func (s *Store) GetEmbedding(ctx context.Context, interactionID string) ([]float64, error) {
	if interactionID == "" {
		return nil, fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}

	var blob []byte
	var dimension int
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, dimension FROM embeddings WHERE interaction_id = ?`, interactionID).
		Scan(&blob, &dimension)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	embedding, err := deserializeEmbedding(blob, dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize embedding: %w", err)
	}

	return embedding, nil
}

// DeleteEmbedding removes the vector for an interaction.
// Returns storage.ErrNotFound if no embedding is stored.
func (s *Store) DeleteEmbedding(ctx context.Context, interactionID string) error {
	if interactionID == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE interaction_id = ?`, interactionID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// NearestNeighbors returns the k interactions with highest cosine
// similarity to the query vector. Embeddings are loaded into Go memory and
// ranked; ties are broken by most-recent interaction date descending so
// the ordering is deterministic.
func (s *Store) NearestNeighbors(ctx context.Context, query []float64, k int) ([]storage.Neighbor, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}
	if k <= 0 {
		return []storage.Neighbor{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.interaction_id, e.embedding, e.dimension, i.occurred_at
		FROM embeddings e
		JOIN interactions i ON i.id = e.interaction_id
		ORDER BY i.occurred_at DESC
		LIMIT ?`, nearestNeighborsMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []storage.Neighbor
	for rows.Next() {
		var n storage.Neighbor
		var blob []byte
		var dim int
		if err := rows.Scan(&n.InteractionID, &blob, &dim, &n.OccurredAt); err != nil {
			continue
		}
		embedding, err := deserializeEmbedding(blob, dim)
		if err != nil {
			continue
		}
		n.Similarity = CosineSimilarity(query, embedding)
		candidates = append(candidates, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].OccurredAt.After(candidates[j].OccurredAt)
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	return candidates, nil
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude or lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeEmbedding converts a float64 slice to its little-endian binary
// representation, 8 bytes per element.
func serializeEmbedding(embedding []float64) []byte {
	buf := make([]byte, len(embedding)*8)
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// deserializeEmbedding converts the binary representation back to a
// float64 slice. dimension validates the buffer size.
func deserializeEmbedding(buf []byte, dimension int) ([]float64, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*8 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dimension*8, len(buf))
	}

	embedding := make([]float64, dimension)
	for i := 0; i < dimension; i++ {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return embedding, nil
}
