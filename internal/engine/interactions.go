package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mosswell/kith/internal/embed"
	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// CreateInteraction records a new interaction for a person and queues its
// embedding. The write path never waits on the embedding collaborator.
func (e *Engine) CreateInteraction(ctx context.Context, interaction *types.Interaction) error {
	if interaction.PersonID == "" {
		return fmt.Errorf("%w: person id is required", storage.ErrInvalidInput)
	}
	if interaction.Summary == "" {
		return fmt.Errorf("%w: summary is required", storage.ErrInvalidInput)
	}
	if _, err := e.persons.GetPerson(ctx, interaction.PersonID); err != nil {
		return fmt.Errorf("failed to verify person %s: %w", interaction.PersonID, err)
	}

	now := time.Now().UTC()
	if interaction.ID == "" {
		interaction.ID = NewInteractionID()
	}
	if interaction.OccurredAt.IsZero() {
		interaction.OccurredAt = now
	}
	interaction.CreatedAt = now
	interaction.UpdatedAt = now

	if err := e.interactions.CreateInteraction(ctx, interaction); err != nil {
		return err
	}

	e.enqueueEmbed(embedJob{InteractionID: interaction.ID, Text: interaction.Text()})
	return nil
}

// UpdateInteraction applies a partial update. When the update touches the
// text an embedding derives from, the stale embedding's cache entries are
// invalidated and a re-embed is queued.
func (e *Engine) UpdateInteraction(ctx context.Context, id string, update types.InteractionUpdate) error {
	if err := e.interactions.UpdateInteraction(ctx, id, update); err != nil {
		return err
	}

	if update.TouchesText() {
		// Drop entries referencing the stale text now; the re-embed wipes
		// the rest when the fresh vector lands.
		e.cache.Invalidate(id)
		interaction, err := e.interactions.GetInteraction(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to reload interaction %s: %w", id, err)
		}
		e.enqueueEmbed(embedJob{InteractionID: id, Text: interaction.Text()})
	}
	return nil
}

// DeleteInteraction removes an interaction, its embedding, and any cached
// search results that included it.
func (e *Engine) DeleteInteraction(ctx context.Context, id string) error {
	if err := e.interactions.DeleteInteraction(ctx, id); err != nil {
		return err
	}
	e.cache.Invalidate(id)
	return nil
}

// RecordInteractionEmbedding embeds the text and stores the vector for the
// interaction, synchronously. Work is serialized per interaction id so a
// burst of edits cannot leave an older vector written after a newer one.
// The caller decides whether a failure queues a retry; embedding failures
// surface as storage.ErrUnavailable.
func (e *Engine) RecordInteractionEmbedding(ctx context.Context, interactionID, text string) error {
	if e.embedder == nil {
		return fmt.Errorf("%w: no embedder configured", storage.ErrUnavailable)
	}
	if text == "" {
		return fmt.Errorf("%w: cannot embed empty text", storage.ErrInvalidInput)
	}

	mu := e.lockInteraction(interactionID)
	mu.Lock()
	defer mu.Unlock()

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embed.ErrUnavailable) {
			return fmt.Errorf("%w: embedding collaborator: %v", storage.ErrUnavailable, err)
		}
		return fmt.Errorf("failed to embed interaction %s: %w", interactionID, err)
	}

	// The interaction's own date travels with the vector; backends that
	// cannot join the interactions table need it for recency tie-breaks.
	interaction, err := e.interactions.GetInteraction(ctx, interactionID)
	if err != nil {
		return fmt.Errorf("failed to load interaction %s: %w", interactionID, err)
	}

	if err := e.embeddings.StoreEmbedding(ctx, interactionID, vector, e.embedder.Dimension(), e.embedder.Model(), interaction.OccurredAt); err != nil {
		return fmt.Errorf("failed to store embedding for %s: %w", interactionID, err)
	}

	// A new or refreshed vector can enter result sets that never
	// referenced this interaction, including cached empty ones, so every
	// entry is suspect. Targeted invalidation stays correct only for
	// deletes.
	e.cache.InvalidateAll()
	if e.OnEmbeddingStored != nil {
		e.OnEmbeddingStored(interactionID)
	}
	return nil
}

// embedWorker drains the embed queue until it is closed. Unavailable
// collaborator errors requeue the job up to the retry budget; anything
// else is logged and dropped.
func (e *Engine) embedWorker(id int) {
	defer e.workerWG.Done()

	for job := range e.embedQueue {
		err := e.RecordInteractionEmbedding(context.Background(), job.InteractionID, job.Text)
		if err == nil {
			continue
		}

		if errors.Is(err, storage.ErrUnavailable) && job.Attempt < e.config.EmbedMaxRetries {
			job.Attempt++
			log.Printf("WARNING: embed worker %d: retrying interaction %s (attempt %d/%d): %v",
				id, job.InteractionID, job.Attempt, e.config.EmbedMaxRetries, err)
			time.Sleep(e.config.EmbedRetryDelay)
			e.enqueueEmbed(job)
			continue
		}

		log.Printf("ERROR: embed worker %d: giving up on interaction %s: %v", id, job.InteractionID, err)
	}
}
