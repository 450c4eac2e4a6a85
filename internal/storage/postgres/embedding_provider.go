package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mosswell/kith/internal/storage"
)

// EmbeddingProvider implements storage.EmbeddingProvider using PostgreSQL.
type EmbeddingProvider struct {
	db                *sql.DB
	pgvectorAvailable bool // true when the pgvector extension is present
}

var _ storage.EmbeddingProvider = (*EmbeddingProvider)(nil)

// NewEmbeddingProvider creates a PostgreSQL embedding provider on an
// existing database handle. It creates the base schema, probes for the
// pgvector extension, and when available adds the vector column sized to
// dimension.
func NewEmbeddingProvider(db *sql.DB, dimension int) (*EmbeddingProvider, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database handle is required", storage.ErrInvalidInput)
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	p := &EmbeddingProvider{db: db}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension unavailable, falling back to in-memory scan: %v", err)
		return p, nil
	}
	if _, err := db.Exec(fmt.Sprintf(VectorColumn, dimension)); err != nil {
		log.Printf("postgres: failed to add vector column, falling back to in-memory scan: %v", err)
		return p, nil
	}
	p.pgvectorAvailable = true

	return p, nil
}

// StoreEmbedding stores or replaces the vector for an interaction. The
// BYTEA column is always written; when pgvector is available the vector
// column is written too for indexed cosine-distance queries. occurredAt is
// the interaction's date, denormalized because the interactions table
// lives in the relational store, not here; the NearestNeighbors recency
// tie-break reads it.
func (p *EmbeddingProvider) StoreEmbedding(ctx context.Context, interactionID string, embedding []float64, dimension int, model string, occurredAt time.Time) error {
	if interactionID == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if len(embedding) != dimension {
		return fmt.Errorf("%w: embedding length (%d) does not match dimension (%d)",
			storage.ErrInvalidInput, len(embedding), dimension)
	}
	if model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}

	blob := serializeEmbedding(embedding)

	if p.pgvectorAvailable {
		// pgvector stores float32.
		f32 := make([]float32, len(embedding))
		for i, v := range embedding {
			f32[i] = float32(v)
		}
		vec := pgvector.NewVector(f32)

		_, err := p.db.ExecContext(ctx, `
			INSERT INTO embeddings (interaction_id, embedding, dimension, model, embedding_vec, occurred_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(interaction_id) DO UPDATE SET
				embedding = excluded.embedding,
				dimension = excluded.dimension,
				model = excluded.model,
				embedding_vec = excluded.embedding_vec,
				occurred_at = excluded.occurred_at,
				updated_at = CURRENT_TIMESTAMP`,
			interactionID, blob, dimension, model, vec, occurredAt.UTC())
		if err == nil {
			return nil
		}
		log.Printf("postgres: failed to store embedding_vec (falling back to BYTEA only): %v", err)
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO embeddings (interaction_id, embedding, dimension, model, occurred_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(interaction_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			occurred_at = excluded.occurred_at,
			updated_at = CURRENT_TIMESTAMP`,
		interactionID, blob, dimension, model, occurredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	return nil
}

// GetEmbedding retrieves the vector for an interaction.
func (p *EmbeddingProvider) GetEmbedding(ctx context.Context, interactionID string) ([]float64, error) {
	if interactionID == "" {
		return nil, fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}

	var blob []byte
	var dimension int
	err := p.db.QueryRowContext(ctx,
		`SELECT embedding, dimension FROM embeddings WHERE interaction_id = $1`, interactionID).
		Scan(&blob, &dimension)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	return deserializeEmbedding(blob, dimension)
}

// DeleteEmbedding removes the vector for an interaction.
func (p *EmbeddingProvider) DeleteEmbedding(ctx context.Context, interactionID string) error {
	if interactionID == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}

	result, err := p.db.ExecContext(ctx, `DELETE FROM embeddings WHERE interaction_id = $1`, interactionID)
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

// NearestNeighbors ranks stored embeddings by cosine similarity to the
// query. With pgvector the ordering is pushed into the database
// (<=> is cosine distance); without it the vectors are scanned in memory
// like the SQLite backend.
func (p *EmbeddingProvider) NearestNeighbors(ctx context.Context, query []float64, k int) ([]storage.Neighbor, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}
	if k <= 0 {
		return []storage.Neighbor{}, nil
	}

	if p.pgvectorAvailable {
		f32 := make([]float32, len(query))
		for i, v := range query {
			f32[i] = float32(v)
		}
		vec := pgvector.NewVector(f32)

		rows, err := p.db.QueryContext(ctx, `
			SELECT interaction_id, 1 - (embedding_vec <=> $1) AS similarity, occurred_at
			FROM embeddings
			WHERE embedding_vec IS NOT NULL
			ORDER BY embedding_vec <=> $1, occurred_at DESC
			LIMIT $2`, vec, k)
		if err != nil {
			return nil, fmt.Errorf("pgvector query failed: %w", err)
		}
		defer func() { _ = rows.Close() }()

		var neighbors []storage.Neighbor
		for rows.Next() {
			var n storage.Neighbor
			if err := rows.Scan(&n.InteractionID, &n.Similarity, &n.OccurredAt); err != nil {
				return nil, fmt.Errorf("failed to scan neighbor: %w", err)
			}
			neighbors = append(neighbors, n)
		}
		return neighbors, rows.Err()
	}

	return p.scanNeighbors(ctx, query, k)
}

// scanNeighbors is the extension-less fallback: load all vectors and rank
// in memory.
func (p *EmbeddingProvider) scanNeighbors(ctx context.Context, query []float64, k int) ([]storage.Neighbor, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT interaction_id, embedding, dimension, occurred_at FROM embeddings ORDER BY occurred_at DESC`)
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
		n.Similarity = cosineSimilarity(query, embedding)
		candidates = append(candidates, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	// Highest similarity first; recency breaks ties.
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

func cosineSimilarity(a, b []float64) float64 {
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

func serializeEmbedding(embedding []float64) []byte {
	buf := make([]byte, len(embedding)*8)
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func deserializeEmbedding(buf []byte, dimension int) ([]float64, error) {
	if dimension <= 0 || len(buf) != dimension*8 {
		return nil, fmt.Errorf("buffer size mismatch: dimension %d, %d bytes", dimension, len(buf))
	}
	embedding := make([]float64, dimension)
	for i := 0; i < dimension; i++ {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return embedding, nil
}
