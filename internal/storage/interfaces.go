// Package storage provides composable storage interfaces for the kith core.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Backends receive their
// database handle explicitly at construction; there is no process-wide
// client state.
package storage

import (
	"context"
	"time"

	"github.com/mosswell/kith/pkg/types"
)

// PersonStore provides lifecycle operations for persons and the entities
// that hang off them (organizations, roles, social handles).
type PersonStore interface {
	// CreatePerson inserts a new person record.
	CreatePerson(ctx context.Context, person *types.Person) error

	// GetPerson retrieves a person by ID.
	// Returns ErrNotFound if the person doesn't exist.
	GetPerson(ctx context.Context, id string) (*types.Person, error)

	// UpdatePerson replaces a person's mutable fields.
	// Returns ErrNotFound if the person doesn't exist.
	UpdatePerson(ctx context.Context, person *types.Person) error

	// DeletePerson removes a person and cascade-deletes their roles, social
	// handles, interactions, and interaction embeddings. This is the
	// user-initiated deletion path; merges never call it.
	// Returns ErrNotFound if the person doesn't exist.
	DeletePerson(ctx context.Context, id string) error

	// ListPersons returns all persons. The identity matcher scores mentions
	// against this snapshot; it is expected to fit in memory for a personal
	// contact set.
	ListPersons(ctx context.Context) ([]*types.Person, error)

	// CreateOrganization inserts a new organization.
	CreateOrganization(ctx context.Context, org *types.Organization) error

	// GetOrganizationByName retrieves an organization by exact name.
	// Returns ErrNotFound if no organization has that name.
	GetOrganizationByName(ctx context.Context, name string) (*types.Organization, error)

	// AddRole attaches a role to a person.
	AddRole(ctx context.Context, role *types.Role) error

	// RolesForPerson returns all roles held by a person, current first.
	RolesForPerson(ctx context.Context, personID string) ([]*types.Role, error)

	// AddHandle attaches a social handle to a person.
	AddHandle(ctx context.Context, handle *types.SocialHandle) error

	// HandlesForPerson returns all social handles for a person.
	HandlesForPerson(ctx context.Context, personID string) ([]*types.SocialHandle, error)

	// MergePersons atomically reassigns every role, handle, and interaction
	// owned by the absorbed persons to the survivor, unions name parts
	// (nicknames; last name backfill when the survivor's is empty), and
	// deletes the absorbed person rows. All-or-nothing: on failure no partial
	// state is committed and the returned error wraps ErrIntegrity with the
	// failed step. Re-merging an already-absorbed id is a no-op, reported in
	// the MergeReport, so retries after a crash are safe.
	MergePersons(ctx context.Context, survivorID string, absorbedIDs []string) (*MergeReport, error)

	// Close releases any resources held by the store.
	Close() error
}

// InteractionStore provides lifecycle operations for interaction records.
type InteractionStore interface {
	// CreateInteraction inserts a new interaction.
	CreateInteraction(ctx context.Context, interaction *types.Interaction) error

	// GetInteraction retrieves an interaction by ID.
	// Returns ErrNotFound if the interaction doesn't exist.
	GetInteraction(ctx context.Context, id string) (*types.Interaction, error)

	// UpdateInteraction applies a partial update. Only fields with non-nil
	// pointers in the update struct are changed, so explicitly empty values
	// (e.g. a cleared location) are honored.
	// Returns ErrNotFound if the interaction doesn't exist.
	UpdateInteraction(ctx context.Context, id string, update types.InteractionUpdate) error

	// DeleteInteraction removes an interaction and its embedding.
	// Returns ErrNotFound if the interaction doesn't exist.
	DeleteInteraction(ctx context.Context, id string) error

	// ListInteractions retrieves interactions with pagination and filtering.
	ListInteractions(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Interaction], error)
}

// EmbeddingProvider stores one vector per interaction and answers
// nearest-neighbor queries over the stored vectors. Embedding generation
// (text to vector) is an external collaborator; this interface only stores
// and retrieves.
type EmbeddingProvider interface {
	// StoreEmbedding stores or replaces the embedding for an interaction.
	// occurredAt is the interaction's own date, denormalized for backends
	// that cannot join the interactions table; NearestNeighbors tie-breaks
	// depend on it.
	StoreEmbedding(ctx context.Context, interactionID string, embedding []float64, dimension int, model string, occurredAt time.Time) error

	// GetEmbedding retrieves the embedding for an interaction.
	// Returns ErrNotFound if no embedding is stored.
	GetEmbedding(ctx context.Context, interactionID string) ([]float64, error)

	// DeleteEmbedding removes an embedding.
	// Returns ErrNotFound if no embedding is stored.
	DeleteEmbedding(ctx context.Context, interactionID string) error

	// NearestNeighbors returns the k interactions whose embeddings have the
	// highest cosine similarity to the query vector. Ties are broken by
	// most-recent interaction date descending, so results are deterministic.
	NearestNeighbors(ctx context.Context, query []float64, k int) ([]Neighbor, error)
}

// AnalyticsRecorder appends search analytics records. The serving path
// only writes; records are read offline for tuning.
type AnalyticsRecorder interface {
	// RecordSearch appends one analytics record. Failures must be tolerable:
	// callers treat them as fire-and-forget.
	RecordSearch(ctx context.Context, rec *types.AnalyticsRecord) error
}
