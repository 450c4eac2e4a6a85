package types

import "time"

// Interaction is a timestamped free-text record of contact with a person.
// An interaction is owned by exactly one Person at a time; ownership
// transfers to the survivor during merges.
type Interaction struct {
	ID         string    `json:"id"` // Unique identifier (format: int:uuid)
	PersonID   string    `json:"person_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Summary    string    `json:"summary"`
	Detail     string    `json:"detail,omitempty"`   // optional full text
	Location   string    `json:"location,omitempty"` // optional
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Text returns the text an embedding should be derived from: the full
// detail when present, the summary otherwise.
func (i Interaction) Text() string {
	if i.Detail != "" {
		return i.Detail
	}
	return i.Summary
}

// InteractionUpdate enumerates which interaction fields a partial update
// carries. A nil pointer means "leave unchanged"; a pointer to the zero
// value means "set to empty", so an intentionally cleared location is not
// silently skipped.
type InteractionUpdate struct {
	OccurredAt *time.Time
	Summary    *string
	Detail     *string
	Location   *string
}

// IsEmpty reports whether the update carries no field changes.
func (u InteractionUpdate) IsEmpty() bool {
	return u.OccurredAt == nil && u.Summary == nil && u.Detail == nil && u.Location == nil
}

// TouchesText reports whether the update changes text an embedding is
// derived from, requiring the embedding to be recomputed.
func (u InteractionUpdate) TouchesText() bool {
	return u.Summary != nil || u.Detail != nil
}
