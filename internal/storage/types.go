package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the referenced person or interaction is absent.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a concurrent modification collided on the same
	// record. Callers should re-read and retry.
	ErrConflict = errors.New("conflicting concurrent modification")

	// ErrIntegrity indicates a multi-entity operation could not be applied
	// atomically. No partial state was committed; the wrapped message names
	// the step that failed so the caller can retry safely.
	ErrIntegrity = errors.New("integrity violation")

	// ErrUnavailable indicates an external collaborator (e.g. the embedding
	// service) timed out or failed. Callers degrade rather than abort.
	ErrUnavailable = errors.New("dependency unavailable")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T `json:"items"`

	// Total is the total number of items across all pages.
	Total int `json:"total"`

	// Page is the current page number (1-indexed).
	Page int `json:"page"`

	// PageSize is the number of items per page.
	PageSize int `json:"page_size"`

	// HasMore indicates whether there are more pages available.
	HasMore bool `json:"has_more"`
}

// ListOptions provides pagination and sorting options for list operations.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 200).
	Limit int

	// SortBy specifies the field to sort by (e.g. "created_at", "occurred_at").
	SortBy string

	// SortOrder specifies the sort direction ("asc" or "desc", default: "desc").
	SortOrder string

	// PersonID restricts results to records owned by this person.
	// Empty string means no owner filter.
	PersonID string

	// OccurredAfter filters to interactions that occurred strictly after this time.
	// Zero value means no lower bound.
	OccurredAfter time.Time

	// OccurredBefore filters to interactions that occurred strictly before this time.
	// Zero value means no upper bound.
	OccurredBefore time.Time
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	// Whitelist validation for SortBy so it can be interpolated into ORDER BY.
	allowedSortFields := map[string]bool{
		"created_at":  true,
		"updated_at":  true,
		"occurred_at": true,
		"id":          true,
	}

	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at"
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}

	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 20
	}

	if o.Limit > 200 {
		o.Limit = 200
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// MergeReport describes what a completed merge changed. Counts cover all
// absorbed persons combined; AlreadyAbsorbed lists ids that were no-ops
// because a previous attempt had already removed them (idempotent retry).
type MergeReport struct {
	SurvivorID         string   `json:"survivor_id"`
	AbsorbedIDs        []string `json:"absorbed_ids"`
	AlreadyAbsorbed    []string `json:"already_absorbed,omitempty"`
	RolesReassigned    int      `json:"roles_reassigned"`
	HandlesReassigned  int      `json:"handles_reassigned"`
	InteractionsMoved  []string `json:"interactions_moved,omitempty"` // interaction IDs that changed owner
	NicknamesAdded     []string `json:"nicknames_added,omitempty"`
	LastNameBackfilled bool     `json:"last_name_backfilled"`
}

// Neighbor is one hit from a nearest-neighbor scan over stored embeddings.
type Neighbor struct {
	InteractionID string
	Similarity    float64   // cosine similarity to the query vector
	OccurredAt    time.Time // interaction date, used for deterministic tie-breaks
}
