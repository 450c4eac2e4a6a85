package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// CreateInteraction inserts a new interaction record.
func (s *Store) CreateInteraction(ctx context.Context, interaction *types.Interaction) error {
	if interaction == nil {
		return storage.ErrInvalidInput
	}
	if interaction.ID == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}
	if interaction.PersonID == "" {
		return fmt.Errorf("%w: person ID is required", storage.ErrInvalidInput)
	}
	if interaction.Summary == "" {
		return fmt.Errorf("%w: summary is required", storage.ErrInvalidInput)
	}

	if interaction.OccurredAt.IsZero() {
		interaction.OccurredAt = time.Now()
	}
	if interaction.CreatedAt.IsZero() {
		interaction.CreatedAt = time.Now()
	}
	if interaction.UpdatedAt.IsZero() {
		interaction.UpdatedAt = interaction.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, person_id, occurred_at, summary, detail, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		interaction.ID, interaction.PersonID, interaction.OccurredAt,
		interaction.Summary, interaction.Detail, interaction.Location,
		interaction.CreatedAt, interaction.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create interaction: %w", err)
	}

	return nil
}

// GetInteraction retrieves an interaction by ID.
func (s *Store) GetInteraction(ctx context.Context, id string) (*types.Interaction, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}

	var interaction types.Interaction
	var detail, location sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, person_id, occurred_at, summary, detail, location, created_at, updated_at
		FROM interactions WHERE id = ?`, id).
		Scan(&interaction.ID, &interaction.PersonID, &interaction.OccurredAt,
			&interaction.Summary, &detail, &location,
			&interaction.CreatedAt, &interaction.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}

	if detail.Valid {
		interaction.Detail = detail.String
	}
	if location.Valid {
		interaction.Location = location.String
	}

	return &interaction, nil
}

// UpdateInteraction applies a partial update. Only fields carried by the
// update struct change; a pointer to an empty string clears the field
// rather than being skipped.
func (s *Store) UpdateInteraction(ctx context.Context, id string, update types.InteractionUpdate) error {
	if id == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}
	if update.IsEmpty() {
		return fmt.Errorf("%w: update carries no fields", storage.ErrInvalidInput)
	}
	if update.Summary != nil && *update.Summary == "" {
		return fmt.Errorf("%w: summary cannot be cleared", storage.ErrInvalidInput)
	}

	var sets []string
	var args []interface{}

	if update.OccurredAt != nil {
		sets = append(sets, "occurred_at = ?")
		args = append(args, *update.OccurredAt)
	}
	if update.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *update.Summary)
	}
	if update.Detail != nil {
		sets = append(sets, "detail = ?")
		args = append(args, *update.Detail)
	}
	if update.Location != nil {
		sets = append(sets, "location = ?")
		args = append(args, *update.Location)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now())
	args = append(args, id)

	query := "UPDATE interactions SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update interaction: %w", err)
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

// DeleteInteraction removes an interaction and its embedding together, so
// a vector can never outlive its source text.
func (s *Store) DeleteInteraction(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE interaction_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete interaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interaction deletion: %w", err)
	}

	return nil
}

// ListInteractions retrieves interactions with pagination and filtering.
func (s *Store) ListInteractions(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Interaction], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}

	if opts.PersonID != "" {
		conditions = append(conditions, "person_id = ?")
		args = append(args, opts.PersonID)
	}
	if !opts.OccurredAfter.IsZero() {
		conditions = append(conditions, "occurred_at > ?")
		args = append(args, opts.OccurredAfter)
	}
	if !opts.OccurredBefore.IsZero() {
		conditions = append(conditions, "occurred_at < ?")
		args = append(args, opts.OccurredBefore)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM interactions"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}

	// SortBy and SortOrder are whitelist-validated by Normalize, so the
	// interpolation below cannot carry untrusted input.
	query := fmt.Sprintf(`
		SELECT id, person_id, occurred_at, summary, detail, location, created_at, updated_at
		FROM interactions%s ORDER BY %s %s LIMIT ? OFFSET ?`,
		where, opts.SortBy, strings.ToUpper(opts.SortOrder))
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []types.Interaction
	for rows.Next() {
		var interaction types.Interaction
		var detail, location sql.NullString
		if err := rows.Scan(&interaction.ID, &interaction.PersonID, &interaction.OccurredAt,
			&interaction.Summary, &detail, &location,
			&interaction.CreatedAt, &interaction.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		if detail.Valid {
			interaction.Detail = detail.String
		}
		if location.Valid {
			interaction.Location = location.String
		}
		items = append(items, interaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &storage.PaginatedResult[types.Interaction]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}
