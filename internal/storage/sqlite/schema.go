// Package sqlite provides the SQLite implementations of the storage
// interfaces. It is the default backend: a single-file database suitable
// for a personal relationship tracker.
package sqlite

// Schema contains the SQL statements that create the database schema.
// Foreign keys are declared without ON DELETE CASCADE for interactions and
// roles on purpose: merges must reassign-then-delete inside one
// transaction, and the user-initiated cascade in DeletePerson is explicit
// code so the policy is visible rather than implied by the schema.
const Schema = `
-- Persons: canonical identity records
CREATE TABLE IF NOT EXISTS persons (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,

    -- Structured name parts (derivable from display_name, independently correctable)
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    middle_names TEXT,  -- JSON array, original order
    nicknames TEXT,     -- JSON array

    bio TEXT,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Organizations
CREATE TABLE IF NOT EXISTS organizations (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    notes TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Roles: person <-> organization with an open or closed interval.
-- A current role has ended_at NULL; a closed one must not end before it starts.
CREATE TABLE IF NOT EXISTS roles (
    id TEXT PRIMARY KEY,
    person_id TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    title TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP,

    FOREIGN KEY (person_id) REFERENCES persons(id),
    FOREIGN KEY (organization_id) REFERENCES organizations(id),
    CHECK (ended_at IS NULL OR ended_at >= started_at)
);

CREATE INDEX IF NOT EXISTS idx_roles_person ON roles(person_id);
CREATE INDEX IF NOT EXISTS idx_roles_org ON roles(organization_id);

-- Social handles: weighted matching evidence, deliberately not unique on
-- (platform, handle) because handles are shared and reused.
CREATE TABLE IF NOT EXISTS social_handles (
    id TEXT PRIMARY KEY,
    person_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    handle TEXT NOT NULL,

    FOREIGN KEY (person_id) REFERENCES persons(id)
);

CREATE INDEX IF NOT EXISTS idx_handles_person ON social_handles(person_id);
CREATE INDEX IF NOT EXISTS idx_handles_pair ON social_handles(platform, handle);

-- Interactions: free-text contact records, owned by exactly one person
CREATE TABLE IF NOT EXISTS interactions (
    id TEXT PRIMARY KEY,
    person_id TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    summary TEXT NOT NULL,
    detail TEXT,
    location TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (person_id) REFERENCES persons(id)
);

CREATE INDEX IF NOT EXISTS idx_interactions_person ON interactions(person_id);
CREATE INDEX IF NOT EXISTS idx_interactions_occurred ON interactions(occurred_at);

-- Embeddings: one vector per interaction, stored as a little-endian
-- float64 BLOB. Deleted with the interaction.
CREATE TABLE IF NOT EXISTS embeddings (
    interaction_id TEXT PRIMARY KEY,
    embedding BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (interaction_id) REFERENCES interactions(id)
);

-- Search analytics: append-only, never read by the serving path
CREATE TABLE IF NOT EXISTS search_analytics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fingerprint TEXT NOT NULL,
    result_count INTEGER NOT NULL,
    latency_ms INTEGER NOT NULL,
    cache_hit INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_analytics_fingerprint ON search_analytics(fingerprint);
`
