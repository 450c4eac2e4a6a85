package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mosswell/kith/internal/embed"
	"github.com/mosswell/kith/internal/identity"
	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// Engine orchestrates identity resolution, merging, embedding, and search
// over the storage layer. A single Engine is shared by all server handlers;
// all exported methods are safe for concurrent use.
type Engine struct {
	persons      storage.PersonStore
	interactions storage.InteractionStore
	embeddings   storage.EmbeddingProvider
	analytics    storage.AnalyticsRecorder
	embedder     embed.Embedder
	matcher      *identity.Matcher
	cache        *QueryCache
	config       Config

	// resolveGroup serializes concurrent ResolveMention calls that share a
	// normalized name key, so a race never creates duplicate persons.
	resolveGroup singleflight.Group

	// interactionLocks serializes embedding work per interaction id, so a
	// rapid edit burst cannot interleave stale vectors with fresh text.
	interactionLocks sync.Map // interaction id -> *sync.Mutex

	// mergeMu serializes merges against each other and against in-flight
	// resolves: resolves hold the read side across their candidate
	// snapshot, so a matched person cannot be absorbed mid-resolution.
	mergeMu sync.RWMutex

	embedQueue chan embedJob
	workerWG   sync.WaitGroup

	mu           sync.RWMutex
	started      bool
	shuttingDown bool

	// Optional notification hooks, invoked outside any engine lock.
	OnPersonCreated   func(p *types.Person)
	OnPersonsMerged   func(report *storage.MergeReport)
	OnEmbeddingStored func(interactionID string)
}

// Deps bundles the collaborators an Engine needs.
type Deps struct {
	Persons      storage.PersonStore
	Interactions storage.InteractionStore
	Embeddings   storage.EmbeddingProvider
	Analytics    storage.AnalyticsRecorder
	Embedder     embed.Embedder
	Matcher      *identity.Matcher
}

// New creates an Engine. Call Start before use and Shutdown when done.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Persons == nil || deps.Interactions == nil || deps.Embeddings == nil {
		return nil, fmt.Errorf("engine: person, interaction, and embedding stores are required")
	}
	if deps.Matcher == nil {
		m, err := identity.NewMatcher(identity.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("engine: invalid default matcher config: %w", err)
		}
		deps.Matcher = m
	}
	cfg = cfg.withDefaults()

	cache, err := NewQueryCache(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create query cache: %w", err)
	}

	return &Engine{
		persons:      deps.Persons,
		interactions: deps.Interactions,
		embeddings:   deps.Embeddings,
		analytics:    deps.Analytics,
		embedder:     deps.Embedder,
		matcher:      deps.Matcher,
		cache:        cache,
		config:       cfg,
		embedQueue:   make(chan embedJob, cfg.EmbedQueueSize),
	}, nil
}

// Start launches the embed worker pool. Calling Start twice is an error.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine: already started")
	}
	e.started = true
	e.shuttingDown = false

	for i := 0; i < e.config.EmbedWorkers; i++ {
		e.workerWG.Add(1)
		go e.embedWorker(i)
	}

	log.Printf("Engine started with %d embed workers (queue size %d)",
		e.config.EmbedWorkers, e.config.EmbedQueueSize)
	return nil
}

// Shutdown stops accepting new embed jobs, drains the queue, and waits for
// the workers to exit or the context to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.shuttingDown {
		e.mu.Unlock()
		return nil
	}
	e.shuttingDown = true
	e.mu.Unlock()

	close(e.embedQueue)

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("Engine shut down cleanly")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: shutdown timed out: %w", ctx.Err())
	}
}

// enqueueEmbed submits an embed job unless the engine is shutting down.
// A full queue drops the job with a warning rather than blocking writes;
// the embedding can be recomputed on the next edit.
func (e *Engine) enqueueEmbed(job embedJob) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started || e.shuttingDown {
		return
	}
	select {
	case e.embedQueue <- job:
	default:
		log.Printf("WARNING: embed queue full, dropping job for interaction %s", job.InteractionID)
	}
}

// lockInteraction returns the per-interaction mutex, creating it on first use.
func (e *Engine) lockInteraction(id string) *sync.Mutex {
	v, _ := e.interactionLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}
