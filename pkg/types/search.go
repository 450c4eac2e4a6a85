package types

import "time"

// RankedResult is a single semantic search hit. Near-duplicate hits are
// collapsed into clusters; each cluster is represented by its
// highest-scoring member, and ClusterID identifies the cluster it leads.
type RankedResult struct {
	InteractionID string   `json:"interaction_id"`
	Score         float64  `json:"score"` // cosine similarity to the query (0.0-1.0)
	ClusterID     int      `json:"cluster_id"`
	Members       []string `json:"members,omitempty"` // other interaction IDs folded into this cluster
}

// AnalyticsRecord is an append-only log entry about one search call,
// written for offline tuning. The serving path never reads these back.
type AnalyticsRecord struct {
	Fingerprint string        `json:"fingerprint"`
	ResultCount int           `json:"result_count"`
	Latency     time.Duration `json:"latency"`
	CacheHit    bool          `json:"cache_hit"`
	CreatedAt   time.Time     `json:"created_at"`
}
