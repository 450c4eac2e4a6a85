package engine

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mosswell/kith/pkg/types"
)

// QueryCache memoizes search result sets keyed by query fingerprint. A
// reverse index from interaction id to the fingerprints mentioning it lets
// deletes invalidate exactly the entries they staled. Embedding writes and
// merges flush everything: a fresh vector can enter result sets that never
// referenced its interaction, and merges move ownership wholesale.
type QueryCache struct {
	mu      sync.Mutex
	results *lru.Cache[string, []types.RankedResult]
	// byInteraction maps interaction id -> fingerprints whose cached
	// results include that interaction.
	byInteraction map[string]map[string]struct{}
}

// NewQueryCache creates a cache holding at most size result sets.
func NewQueryCache(size int) (*QueryCache, error) {
	c := &QueryCache{byInteraction: make(map[string]map[string]struct{})}

	var err error
	c.results, err = lru.NewWithEvict[string, []types.RankedResult](size, c.onEvict)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// onEvict runs under c.mu (all cache mutations happen inside it).
func (c *QueryCache) onEvict(fingerprint string, results []types.RankedResult) {
	for _, r := range results {
		if set, ok := c.byInteraction[r.InteractionID]; ok {
			delete(set, fingerprint)
			if len(set) == 0 {
				delete(c.byInteraction, r.InteractionID)
			}
		}
	}
}

// Get returns the cached results for a fingerprint, if present.
func (c *QueryCache) Get(fingerprint string) ([]types.RankedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results.Get(fingerprint)
}

// Put stores a result set and indexes its member interactions.
func (c *QueryCache) Put(fingerprint string, results []types.RankedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results.Add(fingerprint, results)
	for _, r := range results {
		set, ok := c.byInteraction[r.InteractionID]
		if !ok {
			set = make(map[string]struct{})
			c.byInteraction[r.InteractionID] = set
		}
		set[fingerprint] = struct{}{}
	}
}

// Invalidate drops every cached result set that includes the interaction.
func (c *QueryCache) Invalidate(interactionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.byInteraction[interactionID]
	if !ok {
		return
	}
	for fingerprint := range set {
		c.results.Remove(fingerprint)
	}
	delete(c.byInteraction, interactionID)
}

// InvalidateAll empties the cache.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results.Purge()
	c.byInteraction = make(map[string]map[string]struct{})
}

// Len returns the number of cached result sets.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results.Len()
}

// Fingerprint derives the cache key for a query: text is lowercased and
// whitespace-collapsed before hashing, so trivially reworded queries share
// an entry. The limit participates because it changes the result set.
func Fingerprint(query string, limit int) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("q:%x:%d", h.Sum64(), limit)
}
