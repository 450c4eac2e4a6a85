package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mosswell/kith/internal/storage"
)

// MergePersons consolidates one or more absorbed persons into the survivor
// inside a single transaction. Steps, in order:
//
//  1. reassign roles, social handles, and interactions to the survivor
//  2. union name parts (nicknames added; last name backfilled if the
//     survivor's is empty)
//  3. delete the absorbed person rows
//
// All-or-nothing: any failure rolls back every step and the returned error
// wraps storage.ErrIntegrity naming the step that failed. Absorbed ids
// that no longer exist are treated as already merged and skipped, so a
// retry after a crash between commit and acknowledgment is a no-op rather
// than an error.
func (s *Store) MergePersons(ctx context.Context, survivorID string, absorbedIDs []string) (*storage.MergeReport, error) {
	if survivorID == "" {
		return nil, fmt.Errorf("%w: survivor ID is required", storage.ErrInvalidInput)
	}
	if len(absorbedIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one absorbed ID is required", storage.ErrInvalidInput)
	}
	for _, id := range absorbedIDs {
		if id == survivorID {
			return nil, fmt.Errorf("%w: survivor cannot absorb itself", storage.ErrInvalidInput)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	report := &storage.MergeReport{
		SurvivorID:  survivorID,
		AbsorbedIDs: absorbedIDs,
	}

	// The survivor must exist; merging into a deleted person would orphan
	// every reassigned record.
	survivor, err := scanPersonTx(ctx, tx, survivorID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: survivor %s", storage.ErrNotFound, survivorID)
		}
		return nil, fmt.Errorf("%w: load survivor: %v", storage.ErrIntegrity, err)
	}

	nickSet := make(map[string]bool, len(survivor.Name.Nicknames))
	for _, n := range survivor.Name.Nicknames {
		nickSet[n] = true
	}

	for _, absorbedID := range absorbedIDs {
		absorbed, err := scanPersonTx(ctx, tx, absorbedID)
		if err != nil {
			if err == sql.ErrNoRows {
				// Already absorbed by a previous attempt. Idempotent no-op.
				report.AlreadyAbsorbed = append(report.AlreadyAbsorbed, absorbedID)
				continue
			}
			return nil, fmt.Errorf("%w: load absorbed person %s: %v", storage.ErrIntegrity, absorbedID, err)
		}

		res, err := tx.ExecContext(ctx, `UPDATE roles SET person_id = ? WHERE person_id = ?`, survivorID, absorbedID)
		if err != nil {
			return nil, fmt.Errorf("%w: reassign roles of %s: %v", storage.ErrIntegrity, absorbedID, err)
		}
		n, _ := res.RowsAffected()
		report.RolesReassigned += int(n)

		res, err = tx.ExecContext(ctx, `UPDATE social_handles SET person_id = ? WHERE person_id = ?`, survivorID, absorbedID)
		if err != nil {
			return nil, fmt.Errorf("%w: reassign handles of %s: %v", storage.ErrIntegrity, absorbedID, err)
		}
		n, _ = res.RowsAffected()
		report.HandlesReassigned += int(n)

		// Collect the interaction ids before reassigning so the caller can
		// invalidate cache entries that reference them.
		moved, err := interactionIDsTx(ctx, tx, absorbedID)
		if err != nil {
			return nil, fmt.Errorf("%w: list interactions of %s: %v", storage.ErrIntegrity, absorbedID, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE interactions SET person_id = ? WHERE person_id = ?`, survivorID, absorbedID); err != nil {
			return nil, fmt.Errorf("%w: reassign interactions of %s: %v", storage.ErrIntegrity, absorbedID, err)
		}
		report.InteractionsMoved = append(report.InteractionsMoved, moved...)

		// Union name parts.
		for _, nick := range absorbed.Name.Nicknames {
			if !nickSet[nick] {
				nickSet[nick] = true
				survivor.Name.Nicknames = append(survivor.Name.Nicknames, nick)
				report.NicknamesAdded = append(report.NicknamesAdded, nick)
			}
		}
		if survivor.Name.LastName == "" && absorbed.Name.LastName != "" {
			survivor.Name.LastName = absorbed.Name.LastName
			report.LastNameBackfilled = true
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM persons WHERE id = ?`, absorbedID); err != nil {
			return nil, fmt.Errorf("%w: delete absorbed person %s: %v", storage.ErrIntegrity, absorbedID, err)
		}
	}

	if len(report.NicknamesAdded) > 0 || report.LastNameBackfilled {
		var nicksJSON []byte
		if len(survivor.Name.Nicknames) > 0 {
			nicksJSON, err = json.Marshal(survivor.Name.Nicknames)
			if err != nil {
				return nil, fmt.Errorf("%w: marshal survivor nicknames: %v", storage.ErrIntegrity, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE persons SET last_name = ?, nicknames = ?, updated_at = ? WHERE id = ?`,
			survivor.Name.LastName, nicksJSON, time.Now(), survivorID); err != nil {
			return nil, fmt.Errorf("%w: update survivor name parts: %v", storage.ErrIntegrity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit merge: %v", storage.ErrIntegrity, err)
	}

	return report, nil
}

// scanPersonTx loads a person inside the merge transaction.
// Returns sql.ErrNoRows unwrapped so callers can distinguish absence.
func scanPersonTx(ctx context.Context, tx *sql.Tx, id string) (personRow, error) {
	var p personRow
	var middleJSON, nicksJSON sql.NullString

	err := tx.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, middle_names, nicknames FROM persons WHERE id = ?`, id).
		Scan(&p.ID, &p.Name.FirstName, &p.Name.LastName, &middleJSON, &nicksJSON)
	if err != nil {
		return p, err
	}

	if middleJSON.Valid && middleJSON.String != "" {
		if err := json.Unmarshal([]byte(middleJSON.String), &p.Name.MiddleNames); err != nil {
			return p, fmt.Errorf("unmarshal middle_names: %w", err)
		}
	}
	if nicksJSON.Valid && nicksJSON.String != "" {
		if err := json.Unmarshal([]byte(nicksJSON.String), &p.Name.Nicknames); err != nil {
			return p, fmt.Errorf("unmarshal nicknames: %w", err)
		}
	}

	return p, nil
}

// personRow is the subset of person columns the merge needs.
type personRow struct {
	ID   string
	Name struct {
		FirstName   string
		LastName    string
		MiddleNames []string
		Nicknames   []string
	}
}

// interactionIDsTx returns the ids of all interactions owned by personID.
func interactionIDsTx(ctx context.Context, tx *sql.Tx, personID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM interactions WHERE person_id = ?`, personID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
