package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/facelookup/internal/face"
)

// DescriptorIndexMetadata stores metadata for validating cached indexes.
type DescriptorIndexMetadata struct {
	Count     int       `json:"count"`
	MaxID     int64     `json:"max_id"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const descriptorIndexVersion = 1

// ErrIndexStale is returned by Load when the saved graph does not describe the given known set.
var ErrIndexStale = errors.New("descriptor index is stale")

// DescriptorIndex wraps an HNSW graph over student descriptors. It only
// narrows the candidate set; the final decision is always the exact linear
// match over the candidates it returns.
type DescriptorIndex struct {
	graph *hnsw.Graph[int64]
	known map[int64]face.Descriptor
	mu    sync.RWMutex
}

// NewDescriptorIndex creates a new empty index.
func NewDescriptorIndex() *DescriptorIndex {
	return &DescriptorIndex{
		known: make(map[int64]face.Descriptor),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index content with the given known set.
func (x *DescriptorIndex) Build(known face.KnownSet) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.known = make(map[int64]face.Descriptor, len(known))
	if len(known) == 0 {
		x.graph = nil
		return
	}

	g := newGraph()
	for _, k := range known {
		if len(k.Descriptor) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(k.ID, []float32(k.Descriptor)))
		x.known[k.ID] = k.Descriptor
	}
	x.graph = g
}

// Add inserts or replaces the descriptor for id.
func (x *DescriptorIndex) Add(id int64, desc face.Descriptor) {
	if len(desc) == 0 {
		x.Delete(id)
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		x.graph = newGraph()
	}
	x.graph.Add(hnsw.MakeNode(id, []float32(desc)))
	x.known[id] = desc
}

// Delete removes id from search results.
func (x *DescriptorIndex) Delete(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.known, id)
	// Graph nodes stay until the next Build; Candidates filters by known.
}

// Len returns the number of live descriptors.
func (x *DescriptorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.known)
}

// Candidates returns the IDs of up to k approximate neighbours of query in
// ascending order. Callers re-rank against their own known set, so the index
// never supplies a descriptor storage no longer holds.
func (x *DescriptorIndex) Candidates(query face.Descriptor, k int) ([]int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}

	neighbors := x.graph.Search([]float32(query), k*HNSWSearchMultiplier)
	ids := make([]int64, 0, len(neighbors))
	seen := make(map[int64]bool, len(neighbors))
	for _, n := range neighbors {
		if _, ok := x.known[n.Key]; !ok || seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		ids = append(ids, n.Key)
	}
	slices.Sort(ids)
	return ids, nil
}

// Metadata describes the current index content.
func (x *DescriptorIndex) Metadata() DescriptorIndexMetadata {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return metadataFor(x.known)
}

func metadataFor(known map[int64]face.Descriptor) DescriptorIndexMetadata {
	meta := DescriptorIndexMetadata{Count: len(known), Version: descriptorIndexVersion}
	for id := range known {
		if id > meta.MaxID {
			meta.MaxID = id
		}
	}
	return meta
}

// Save persists the graph to path and its metadata to path + ".meta".
func (x *DescriptorIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create descriptor index file: %w", err)
	}
	if err := x.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing descriptor index file: %w", err)
	}

	meta := metadataFor(x.known)
	meta.BuildTime = time.Now().UTC()
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadDescriptorIndexMetadata loads metadata from a separate .meta file.
func LoadDescriptorIndexMetadata(path string) (DescriptorIndexMetadata, error) {
	var meta DescriptorIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

// Load restores a saved graph for the given known set. It returns
// ErrIndexStale when the saved metadata does not match known, in which case
// the caller should Build and Save again.
func (x *DescriptorIndex) Load(path string, known face.KnownSet) error {
	meta, err := LoadDescriptorIndexMetadata(path)
	if err != nil {
		return err
	}

	byID := make(map[int64]face.Descriptor, len(known))
	for _, k := range known {
		byID[k.ID] = k.Descriptor
	}
	want := metadataFor(byID)
	if meta.Version != descriptorIndexVersion || meta.Count != want.Count || meta.MaxID != want.MaxID {
		return fmt.Errorf("%w: saved %d descriptors (max id %d), have %d (max id %d)",
			ErrIndexStale, meta.Count, meta.MaxID, want.Count, want.MaxID)
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("descriptor index file: %w", err)
	}
	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}
	if saved.Len() != want.Count {
		return fmt.Errorf("%w: graph holds %d nodes, want %d", ErrIndexStale, saved.Len(), want.Count)
	}
	g := saved.Graph
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance

	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = g
	x.known = byID
	return nil
}
