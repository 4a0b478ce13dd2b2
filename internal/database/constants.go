package database

// HNSW index parameters for 128-dim SFace descriptors
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// than are finally re-ranked, to make up for approximate recall.
	HNSWSearchMultiplier = 3

	// HNSWMinCandidates is the smallest candidate set handed to the exact re-rank
	HNSWMinCandidates = 64
)
