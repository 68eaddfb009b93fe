package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// vectorIndex wraps a coder/hnsw graph with string-ID mapping and lazy
// deletion. Not safe for concurrent use; the owning Store serializes
// access.
type vectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	idMap   map[string]uint64 // entry ID -> internal key
	keyMap  map[uint64]string // internal key -> entry ID
	nextKey uint64
}

// vectorIndexMeta stores the ID mappings for persistence.
type vectorIndexMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

const (
	defaultHNSWM        = 16
	defaultHNSWEfSearch = 64
)

func newVectorIndex(dims, m, efSearch int) *vectorIndex {
	if m <= 0 {
		m = defaultHNSWM
	}
	if efSearch <= 0 {
		efSearch = defaultHNSWEfSearch
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = m
	graph.EfSearch = efSearch
	graph.Ml = 0.25

	return &vectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts vectors under their entry IDs. Existing IDs are lazily
// replaced: the old graph node is orphaned rather than removed, which
// sidesteps coder/hnsw's last-node deletion bug.
func (v *vectorIndex) add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, vec := range vectors {
		if len(vec) != v.dims {
			return fmt.Errorf("vector has %d dimensions, index expects %d", len(vec), v.dims)
		}
	}

	for i, id := range ids {
		if existingKey, exists := v.idMap[id]; exists {
			delete(v.keyMap, existingKey)
			delete(v.idMap, id)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[id] = key
		v.keyMap[key] = id
	}

	v.maybeCompactLocked()
	return nil
}

// vectorHit is a raw ANN result before metadata resolution.
type vectorHit struct {
	ID         string
	Similarity float32
}

// search returns up to k nearest hits. Lazily deleted nodes are skipped,
// so fewer than k hits may come back even when the graph holds more nodes.
func (v *vectorIndex) search(query []float32, k int) ([]vectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(query) != v.dims {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d", len(query), v.dims)
	}
	if v.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := v.graph.Search(normalized, k)

	hits := make([]vectorHit, 0, len(nodes))
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue // lazily deleted
		}
		distance := v.graph.Distance(normalized, node.Value)
		hits = append(hits, vectorHit{
			ID:         id,
			Similarity: 1.0 - distance/2.0,
		})
	}
	return hits, nil
}

// remove lazily deletes IDs: mappings go away, graph nodes stay orphaned.
func (v *vectorIndex) remove(ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range ids {
		if key, exists := v.idMap[id]; exists {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}

	v.maybeCompactLocked()
}

// maybeCompactLocked rebuilds the graph without orphaned nodes once they
// outnumber live ones. coder/hnsw cannot shrink reliably, so compaction
// replaces the graph wholesale. Caller holds the write lock.
func (v *vectorIndex) maybeCompactLocked() {
	live := len(v.idMap)
	orphans := v.graph.Len() - live
	if orphans <= live {
		return
	}

	fresh := hnsw.NewGraph[uint64]()
	fresh.Distance = v.graph.Distance
	fresh.M = v.graph.M
	fresh.EfSearch = v.graph.EfSearch
	fresh.Ml = v.graph.Ml

	idMap := make(map[string]uint64, live)
	keyMap := make(map[uint64]string, live)
	var nextKey uint64
	for id, oldKey := range v.idMap {
		vec, ok := v.graph.Lookup(oldKey)
		if !ok {
			continue
		}
		fresh.Add(hnsw.MakeNode(nextKey, vec))
		idMap[id] = nextKey
		keyMap[nextKey] = id
		nextKey++
	}

	v.graph = fresh
	v.idMap = idMap
	v.keyMap = keyMap
	v.nextKey = nextKey

	slog.Debug("vector_index_compacted",
		slog.Int("live", live),
		slog.Int("orphans_dropped", orphans))
}

func (v *vectorIndex) count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// graphLen returns the total node count including lazily deleted orphans
// still occupying the graph. Search walks must size their fetch against
// this, not the live count, or orphans crowd live entries out of the
// candidate window.
func (v *vectorIndex) graphLen() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.graph.Len()
}

// save persists the graph and ID mappings atomically (temp file + rename).
func (v *vectorIndex) save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return v.saveMeta(path + ".meta")
}

func (v *vectorIndex) saveMeta(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := vectorIndexMeta{
		IDMap:      v.idMap,
		NextKey:    v.nextKey,
		Dimensions: v.dims,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode index metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// load restores the graph and ID mappings from disk.
func (v *vectorIndex) load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open index metadata: %w", err)
	}
	defer metaFile.Close()

	var meta vectorIndexMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode index metadata: %w", err)
	}
	if meta.Dimensions != v.dims {
		return fmt.Errorf("index on disk has %d dimensions, store expects %d", meta.Dimensions, v.dims)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		v.keyMap[key] = id
	}

	return nil
}

// normalizeInPlace normalizes a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
