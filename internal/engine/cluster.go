package engine

import (
	"math"

	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// clusterNeighbors folds near-duplicate hits into clusters. Neighbors
// arrive ranked (similarity desc, recency desc) and that order is greedy:
// each hit either joins the first existing cluster whose leader it is
// mutually similar to, at or above the threshold, or leads a new cluster.
// The leader, being the earliest member, is always the cluster's
// best-scoring interaction.
//
// Hits whose embeddings are missing (deleted between retrieval and
// clustering) can never be compared, so each leads a singleton cluster.
func clusterNeighbors(neighbors []storage.Neighbor, vectors map[string][]float64, threshold float64) []types.RankedResult {
	clusters := make([]types.RankedResult, 0, len(neighbors))

	for _, n := range neighbors {
		vec := vectors[n.InteractionID]
		joined := false

		if vec != nil {
			for i := range clusters {
				leaderVec := vectors[clusters[i].InteractionID]
				if leaderVec == nil {
					continue
				}
				if cosineSimilarity(vec, leaderVec) >= threshold {
					clusters[i].Members = append(clusters[i].Members, n.InteractionID)
					joined = true
					break
				}
			}
		}

		if !joined {
			clusters = append(clusters, types.RankedResult{
				InteractionID: n.InteractionID,
				Score:         n.Similarity,
				ClusterID:     len(clusters),
			})
		}
	}

	return clusters
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or a zero vector yield 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
