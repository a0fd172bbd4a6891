package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	IdentityCount int       `json:"identity_count"`
	Dim           int       `json:"dim"`
	BuildTime     time.Time `json:"build_time"`
	Version       int       `json:"version"` // For future compatibility
}

const hnswMetadataVersion = 1

// HNSWIndex wraps the HNSW graph for identity embedding search.
//
// Replacing an identity adds a node under a fresh key and drops the old key
// from the lookup maps; the orphaned node stays in the graph and is filtered
// from results until the next compaction. coder/hnsw deletion can leave
// layers without an entry point, so it is never used.
type HNSWIndex struct {
	graph   *hnsw.Graph[string]
	nodeOf  map[string]string // identity ID -> live node key
	ownerOf map[string]string // live node key -> identity ID
	stale   int               // nodes in the graph that no identity owns
	gen     uint64
	mu      sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	h := &HNSWIndex{}
	h.reset()
	return h
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

func (h *HNSWIndex) reset() {
	h.graph = newGraph()
	h.nodeOf = make(map[string]string)
	h.ownerOf = make(map[string]string)
	h.stale = 0
}

// addLocked inserts a node for id under key.
func (h *HNSWIndex) addLocked(id, key string, embedding []float32) {
	h.graph.Add(hnsw.MakeNode(key, embedding))
	h.nodeOf[id] = key
	h.ownerOf[key] = id
}

// Build replaces the index contents with the given identities.
func (h *HNSWIndex) Build(identities []StoredIdentity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reset()
	for i := range identities {
		if len(identities[i].Embedding) == 0 {
			continue
		}
		h.addLocked(identities[i].ID, identities[i].ID, identities[i].Embedding)
	}
}

// Add inserts or replaces the embedding stored under id.
func (h *HNSWIndex) Add(id string, embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	old, replacing := h.nodeOf[id]
	if !replacing {
		h.addLocked(id, id, embedding)
		return
	}

	h.gen++
	delete(h.ownerOf, old)
	h.stale++
	h.addLocked(id, id+"\x00"+strconv.FormatUint(h.gen, 10), embedding)

	if h.stale >= HNSWCompactMinStale && h.stale > len(h.nodeOf) {
		h.compactLocked()
	}
}

// compactLocked rebuilds the graph from the live nodes, keyed by identity ID.
func (h *HNSWIndex) compactLocked() {
	if h.stale == 0 {
		return
	}
	g := newGraph()
	nodeOf := make(map[string]string, len(h.nodeOf))
	ownerOf := make(map[string]string, len(h.nodeOf))
	for id, key := range h.nodeOf {
		vec, ok := h.graph.Lookup(key)
		if !ok {
			continue
		}
		g.Add(hnsw.MakeNode(id, vec))
		nodeOf[id] = id
		ownerOf[id] = id
	}
	h.graph, h.nodeOf, h.ownerOf, h.stale = g, nodeOf, ownerOf, 0
}

// Search finds the k nearest neighbors to the query embedding.
// Returns identity IDs and their exact cosine distances, closest first.
func (h *HNSWIndex) Search(query []float32, k int) ([]string, []float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.nodeOf) == 0 || k <= 0 {
		return nil, nil
	}

	// Orphaned nodes can take up to stale slots of the result.
	neighbors := h.graph.Search(query, min(k+h.stale, h.graph.Len()))

	ids := make([]string, 0, k)
	distances := make([]float64, 0, k)
	for _, n := range neighbors {
		id, ok := h.ownerOf[n.Key]
		if !ok {
			continue
		}
		ids = append(ids, id)
		distances = append(distances, CosineDistance(query, n.Value))
		if len(ids) == k {
			break
		}
	}
	return ids, distances
}

// Count returns the number of indexed identities.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodeOf)
}

// exportGraph exports the HNSW graph to the given file path.
func (h *HNSWIndex) exportGraph(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}
	return nil
}

// SaveSnapshot persists the graph, its metadata and the identity records to disk.
// Files: path (graph), path.meta (json), path.identities (gob).
func (h *HNSWIndex) SaveSnapshot(path string, identities []StoredIdentity, dim int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	// The exported graph must hold exactly one node per identity, keyed by ID.
	h.compactLocked()

	if len(h.nodeOf) == 0 {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".identities")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := h.exportGraph(path); err != nil {
		return err
	}

	metaData, err := json.Marshal(HNSWIndexMetadata{
		IdentityCount: len(identities),
		Dim:           dim,
		BuildTime:     time.Now().UTC(),
		Version:       hnswMetadataVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(identities); err != nil {
		return fmt.Errorf("failed to encode identities: %w", err)
	}
	if err := os.WriteFile(path+".identities", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write identities file: %w", err)
	}
	return nil
}

// ErrNoSnapshot is returned by LoadSnapshot when no snapshot exists at the path.
var ErrNoSnapshot = errors.New("no HNSW snapshot")

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// LoadSnapshot loads the graph and identity records written by SaveSnapshot.
// If the graph file is unreadable or stale the graph is rebuilt from the identities.
func (h *HNSWIndex) LoadSnapshot(path string, dim int) ([]StoredIdentity, error) {
	data, err := os.ReadFile(path + ".identities") //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identities file: %w", err)
	}

	var identities []StoredIdentity
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&identities); err != nil {
		return nil, fmt.Errorf("failed to decode identities: %w", err)
	}

	meta, metaErr := LoadHNSWMetadata(path)
	if metaErr != nil || meta.Version != hnswMetadataVersion || meta.Dim != dim || meta.IdentityCount != len(identities) {
		h.Build(identities)
		return identities, nil
	}

	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		h.Build(identities)
		return identities, nil //nolint:nilerr // graph is rebuilt from the identity records
	}
	defer f.Close()

	g := newGraph()
	if err := g.Import(f); err != nil || !graphHoldsIdentities(g, identities) {
		h.Build(identities)
		return identities, nil //nolint:nilerr // graph is rebuilt from the identity records
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.reset()
	h.graph = g
	for i := range identities {
		if len(identities[i].Embedding) == 0 {
			continue
		}
		id := identities[i].ID
		h.nodeOf[id] = id
		h.ownerOf[id] = id
	}
	return identities, nil
}

// graphHoldsIdentities reports whether g has exactly one node per embedded
// identity, keyed by its ID.
func graphHoldsIdentities(g *hnsw.Graph[string], identities []StoredIdentity) bool {
	embedded := 0
	for i := range identities {
		if len(identities[i].Embedding) == 0 {
			continue
		}
		if _, ok := g.Lookup(identities[i].ID); !ok {
			return false
		}
		embedded++
	}
	return g.Len() == embedded
}
