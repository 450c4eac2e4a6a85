package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/mosswell/kith/internal/storage"
)

// MergePersons consolidates the absorbed persons into the survivor. The
// store performs the reassignment in one transaction; the engine's job is
// sequencing: merges are serialized against each other and exclude
// in-flight resolves (which hold the read side of the same lock), and the
// whole query cache is flushed on success because interaction ownership
// moved.
//
// Re-merging an already-absorbed id is a no-op recorded in the report, so
// retrying after a crash is safe.
func (e *Engine) MergePersons(ctx context.Context, survivorID string, absorbedIDs []string) (*storage.MergeReport, error) {
	if survivorID == "" {
		return nil, fmt.Errorf("%w: survivor id is required", storage.ErrInvalidInput)
	}
	if len(absorbedIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one absorbed id is required", storage.ErrInvalidInput)
	}
	for _, id := range absorbedIDs {
		if id == survivorID {
			return nil, fmt.Errorf("%w: survivor %s cannot absorb itself", storage.ErrInvalidInput, survivorID)
		}
	}

	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	report, err := e.persons.MergePersons(ctx, survivorID, absorbedIDs)
	if err != nil {
		return nil, err
	}

	// Ownership moved wholesale; every cached result set is suspect.
	e.cache.InvalidateAll()

	log.Printf("Merged %d person(s) into %s: %d interactions moved, %d roles, %d handles",
		len(absorbedIDs)-len(report.AlreadyAbsorbed), survivorID,
		len(report.InteractionsMoved), report.RolesReassigned, report.HandlesReassigned)

	if e.OnPersonsMerged != nil {
		e.OnPersonsMerged(report)
	}
	return report, nil
}
