package types

import "time"

// NameParts holds the structured decomposition of a person's display name.
// Parts are derivable from the canonical name but may be independently
// corrected (e.g. a fixed last name after a merge).
type NameParts struct {
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name,omitempty"`
	MiddleNames []string `json:"middle_names,omitempty"` // interior tokens, original order
	Nicknames   []string `json:"nicknames,omitempty"`    // quoted/parenthesized extractions, deduplicated
}

// Person is a canonical identity record. Exactly one Person exists per
// real-world individual at any time; duplicates are folded in via merge.
type Person struct {
	ID          string    `json:"id"`             // Unique identifier (format: per:uuid)
	DisplayName string    `json:"display_name"`   // Canonical display name as entered
	Name        NameParts `json:"name"`           // Structured name parts
	Biography   string    `json:"bio,omitempty"`  // Free-text biography
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Organization is a named entity persons associate with via roles.
type Organization struct {
	ID        string    `json:"id"`   // Unique identifier (format: org:uuid)
	Name      string    `json:"name"` // Display name
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role relates a Person to an Organization with a title and a time interval.
// A current role has no end date; a previous role always has EndedAt >= StartedAt.
type Role struct {
	ID             string     `json:"id"`
	PersonID       string     `json:"person_id"`
	OrganizationID string     `json:"organization_id"`
	Title          string     `json:"title"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"` // nil = current
}

// IsCurrent reports whether the role is still held.
func (r Role) IsCurrent() bool {
	return r.EndedAt == nil
}

// SocialHandle relates a Person to a platform identifier. The
// (platform, handle) pair is weighted matching evidence, not proof of
// identity: handles can be shared or reused, so no uniqueness constraint
// is enforced.
type SocialHandle struct {
	ID       string `json:"id"`
	PersonID string `json:"person_id"`
	Platform string `json:"platform"` // e.g. "twitter", "linkedin"
	Handle   string `json:"handle"`
}
