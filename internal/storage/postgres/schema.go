// Package postgres provides a PostgreSQL implementation of the embedding
// provider, using pgvector for indexed approximate-nearest-neighbor search
// on corpora too large for the SQLite in-memory scan.
package postgres

// Schema contains the SQL statements that create the embedding tables.
// The embedding_vec column requires the pgvector extension; the BYTEA
// column is always written so the data survives without the extension.
const Schema = `
CREATE TABLE IF NOT EXISTS embeddings (
    interaction_id TEXT PRIMARY KEY,
    embedding BYTEA NOT NULL,
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_embeddings_occurred ON embeddings(occurred_at);
`

// VectorColumn adds the pgvector column and index. Applied only when the
// extension is available. The dimension placeholder is substituted by the
// caller because pgvector requires a fixed dimension per column.
const VectorColumn = `
ALTER TABLE embeddings ADD COLUMN IF NOT EXISTS embedding_vec vector(%d);
CREATE INDEX IF NOT EXISTS idx_embeddings_vec ON embeddings
    USING ivfflat (embedding_vec vector_cosine_ops);
`
