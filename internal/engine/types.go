// Package engine contains the core orchestration logic for kith: mention
// resolution, person merging, interaction embedding, and semantic search.
// The engine composes the storage interfaces with the identity matcher and
// the embedding client; it owns the async embed workers and the query cache.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config tunes the engine. Zero values are replaced by defaults in New.
type Config struct {
	// EmbedWorkers is the number of goroutines draining the embed queue.
	EmbedWorkers int
	// EmbedQueueSize bounds the pending embed jobs before enqueue blocks.
	EmbedQueueSize int
	// EmbedMaxRetries is how many times a failed embed job is requeued.
	EmbedMaxRetries int
	// EmbedRetryDelay is the pause before a failed job re-enters the queue.
	EmbedRetryDelay time.Duration

	// CacheSize is the max number of cached search result sets.
	CacheSize int
	// OverfetchFactor multiplies the requested limit when querying the
	// vector store, so clustering has enough candidates to collapse.
	OverfetchFactor int
	// ClusterThreshold is the mutual cosine similarity above which two
	// results are folded into one near-duplicate cluster. It must sit
	// above the retrieval floor or everything collapses into one cluster.
	ClusterThreshold float64
	// DefaultLimit applies when a search request carries no limit.
	DefaultLimit int
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.EmbedWorkers <= 0 {
		c.EmbedWorkers = 2
	}
	if c.EmbedQueueSize <= 0 {
		c.EmbedQueueSize = 256
	}
	if c.EmbedMaxRetries <= 0 {
		c.EmbedMaxRetries = 3
	}
	if c.EmbedRetryDelay <= 0 {
		c.EmbedRetryDelay = 2 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 512
	}
	if c.OverfetchFactor <= 0 {
		c.OverfetchFactor = 3
	}
	if c.ClusterThreshold <= 0 {
		c.ClusterThreshold = 0.92
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	return c
}

// embedJob asks the workers to (re)compute the embedding for one interaction.
type embedJob struct {
	InteractionID string
	Text          string
	Attempt       int
}

// NewPersonID returns a fresh person identifier.
func NewPersonID() string {
	return fmt.Sprintf("per:%s", uuid.New().String())
}

// NewOrganizationID returns a fresh organization identifier.
func NewOrganizationID() string {
	return fmt.Sprintf("org:%s", uuid.New().String())
}

// NewInteractionID returns a fresh interaction identifier.
func NewInteractionID() string {
	return fmt.Sprintf("int:%s", uuid.New().String())
}

// NewRoleID returns a fresh role identifier.
func NewRoleID() string {
	return fmt.Sprintf("rol:%s", uuid.New().String())
}

// NewHandleID returns a fresh social handle identifier.
func NewHandleID() string {
	return fmt.Sprintf("soc:%s", uuid.New().String())
}
