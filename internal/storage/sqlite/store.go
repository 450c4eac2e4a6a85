package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// Store implements storage.PersonStore, storage.InteractionStore,
// storage.EmbeddingProvider, and storage.AnalyticsRecorder on SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ storage.PersonStore       = (*Store)(nil)
	_ storage.InteractionStore  = (*Store)(nil)
	_ storage.EmbeddingProvider = (*Store)(nil)
	_ storage.AnalyticsRecorder = (*Store)(nil)
)

// Open opens a SQLite database, configures WAL mode, and creates the schema.
// Pass ":memory:" for an ephemeral store (used heavily in tests).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing immediately when the connection is held by
	// another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetDB exposes the underlying database handle for callers that need to
// compose additional providers on the same connection.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreatePerson inserts a new person record.
func (s *Store) CreatePerson(ctx context.Context, person *types.Person) error {
	if person == nil {
		return storage.ErrInvalidInput
	}
	if person.ID == "" {
		return fmt.Errorf("%w: person ID is required", storage.ErrInvalidInput)
	}
	if person.DisplayName == "" {
		return fmt.Errorf("%w: display name is required", storage.ErrInvalidInput)
	}

	middleJSON, nicksJSON, err := marshalNameParts(person.Name)
	if err != nil {
		return err
	}

	if person.CreatedAt.IsZero() {
		person.CreatedAt = time.Now()
	}
	if person.UpdatedAt.IsZero() {
		person.UpdatedAt = person.CreatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO persons (id, display_name, first_name, last_name, middle_names, nicknames, bio, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		person.ID, person.DisplayName,
		person.Name.FirstName, person.Name.LastName, middleJSON, nicksJSON,
		person.Biography, person.CreatedAt, person.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create person: %w", err)
	}

	return nil
}

// GetPerson retrieves a person by ID.
func (s *Store) GetPerson(ctx context.Context, id string) (*types.Person, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: person ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, first_name, last_name, middle_names, nicknames, bio, created_at, updated_at
		FROM persons WHERE id = ?`, id)

	person, err := scanPerson(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get person: %w", err)
	}

	return person, nil
}

// UpdatePerson replaces a person's mutable fields.
func (s *Store) UpdatePerson(ctx context.Context, person *types.Person) error {
	if person == nil || person.ID == "" {
		return fmt.Errorf("%w: person with ID is required", storage.ErrInvalidInput)
	}

	middleJSON, nicksJSON, err := marshalNameParts(person.Name)
	if err != nil {
		return err
	}

	person.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE persons
		SET display_name = ?, first_name = ?, last_name = ?, middle_names = ?, nicknames = ?, bio = ?, updated_at = ?
		WHERE id = ?`,
		person.DisplayName, person.Name.FirstName, person.Name.LastName,
		middleJSON, nicksJSON, person.Biography, person.UpdatedAt, person.ID)
	if err != nil {
		return fmt.Errorf("failed to update person: %w", err)
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

// DeletePerson removes a person and cascade-deletes all dependents
// (roles, social handles, interactions, and interaction embeddings).
// The cascade is explicit code rather than schema-level ON DELETE so the
// deletion policy is documented and deterministic.
func (s *Store) DeletePerson(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: person ID is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embeddings WHERE interaction_id IN
		(SELECT id FROM interactions WHERE person_id = ?)`, id); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE person_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete interactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE person_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete roles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM social_handles WHERE person_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete handles: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM persons WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit person deletion: %w", err)
	}

	return nil
}

// ListPersons returns all persons ordered by creation time ascending.
func (s *Store) ListPersons(ctx context.Context) ([]*types.Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, first_name, last_name, middle_names, nicknames, bio, created_at, updated_at
		FROM persons ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var persons []*types.Person
	for rows.Next() {
		person, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		persons = append(persons, person)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return persons, nil
}

// CreateOrganization inserts a new organization.
func (s *Store) CreateOrganization(ctx context.Context, org *types.Organization) error {
	if org == nil || org.ID == "" || org.Name == "" {
		return fmt.Errorf("%w: organization with ID and name is required", storage.ErrInvalidInput)
	}

	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	if org.UpdatedAt.IsZero() {
		org.UpdatedAt = org.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Notes, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	return nil
}

// GetOrganizationByName retrieves an organization by exact name.
func (s *Store) GetOrganizationByName(ctx context.Context, name string) (*types.Organization, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", storage.ErrInvalidInput)
	}

	var org types.Organization
	var notes sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, notes, created_at, updated_at
		FROM organizations WHERE name = ?`, name).
		Scan(&org.ID, &org.Name, &notes, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	if notes.Valid {
		org.Notes = notes.String
	}

	return &org, nil
}

// AddRole attaches a role to a person. A closed role must not end before
// it starts; a current role carries no end date.
func (s *Store) AddRole(ctx context.Context, role *types.Role) error {
	if role == nil || role.ID == "" || role.PersonID == "" || role.OrganizationID == "" {
		return fmt.Errorf("%w: role with ID, person, and organization is required", storage.ErrInvalidInput)
	}
	if role.EndedAt != nil && role.EndedAt.Before(role.StartedAt) {
		return fmt.Errorf("%w: role cannot end before it starts", storage.ErrInvalidInput)
	}

	var endedAt interface{}
	if role.EndedAt != nil {
		endedAt = *role.EndedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, person_id, organization_id, title, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		role.ID, role.PersonID, role.OrganizationID, role.Title, role.StartedAt, endedAt)
	if err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}

	return nil
}

// RolesForPerson returns all roles held by a person, current roles first,
// then by start date descending.
func (s *Store) RolesForPerson(ctx context.Context, personID string) ([]*types.Role, error) {
	if personID == "" {
		return nil, fmt.Errorf("%w: person ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, organization_id, title, started_at, ended_at
		FROM roles WHERE person_id = ?
		ORDER BY (ended_at IS NULL) DESC, started_at DESC`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var roles []*types.Role
	for rows.Next() {
		var role types.Role
		var endedAt sql.NullTime
		if err := rows.Scan(&role.ID, &role.PersonID, &role.OrganizationID, &role.Title, &role.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			role.EndedAt = &t
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return roles, nil
}

// AddHandle attaches a social handle to a person.
func (s *Store) AddHandle(ctx context.Context, handle *types.SocialHandle) error {
	if handle == nil || handle.ID == "" || handle.PersonID == "" || handle.Platform == "" || handle.Handle == "" {
		return fmt.Errorf("%w: handle with ID, person, platform, and handle string is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO social_handles (id, person_id, platform, handle)
		VALUES (?, ?, ?, ?)`,
		handle.ID, handle.PersonID, handle.Platform, handle.Handle)
	if err != nil {
		return fmt.Errorf("failed to add handle: %w", err)
	}

	return nil
}

// HandlesForPerson returns all social handles for a person.
func (s *Store) HandlesForPerson(ctx context.Context, personID string) ([]*types.SocialHandle, error) {
	if personID == "" {
		return nil, fmt.Errorf("%w: person ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, platform, handle
		FROM social_handles WHERE person_id = ?
		ORDER BY platform, handle`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list handles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var handles []*types.SocialHandle
	for rows.Next() {
		var h types.SocialHandle
		if err := rows.Scan(&h.ID, &h.PersonID, &h.Platform, &h.Handle); err != nil {
			return nil, fmt.Errorf("failed to scan handle: %w", err)
		}
		handles = append(handles, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return handles, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPerson reads one person row. Column order must match the SELECT
// lists in GetPerson and ListPersons.
func scanPerson(row scanner) (*types.Person, error) {
	var person types.Person
	var middleJSON, nicksJSON, bio sql.NullString

	err := row.Scan(
		&person.ID,
		&person.DisplayName,
		&person.Name.FirstName,
		&person.Name.LastName,
		&middleJSON,
		&nicksJSON,
		&bio,
		&person.CreatedAt,
		&person.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if middleJSON.Valid && middleJSON.String != "" {
		if err := json.Unmarshal([]byte(middleJSON.String), &person.Name.MiddleNames); err != nil {
			return nil, fmt.Errorf("unmarshal middle_names: %w", err)
		}
	}
	if nicksJSON.Valid && nicksJSON.String != "" {
		if err := json.Unmarshal([]byte(nicksJSON.String), &person.Name.Nicknames); err != nil {
			return nil, fmt.Errorf("unmarshal nicknames: %w", err)
		}
	}
	if bio.Valid {
		person.Biography = bio.String
	}

	return &person, nil
}

// marshalNameParts serializes the JSON-backed name part columns.
func marshalNameParts(name types.NameParts) (middleJSON, nicksJSON []byte, err error) {
	if len(name.MiddleNames) > 0 {
		middleJSON, err = json.Marshal(name.MiddleNames)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal middle names: %w", err)
		}
	}
	if len(name.Nicknames) > 0 {
		nicksJSON, err = json.Marshal(name.Nicknames)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal nicknames: %w", err)
		}
	}
	return middleJSON, nicksJSON, nil
}
