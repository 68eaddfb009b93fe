package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	apperrors "github.com/jrmatherly/apollos/internal/errors"
)

const (
	dbFileName     = "entries.db"
	vectorFileName = "vectors.hnsw"
)

// Store combines SQLite metadata with an HNSW vector index. Writes go
// through per-file transactions; the vector index is updated after commit,
// and reads resolve vector hits through SQLite so a hit whose row is gone
// (or not yet committed) is silently skipped. Readers therefore observe
// either the pre- or post-update state of a file, never a half-written one.
type Store struct {
	config  Config
	meta    *metadataStore
	vectors *vectorIndex

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ EntryStore = (*Store)(nil)

// Open opens or creates a store in cfg.Dir. The vector index is loaded
// from its sidecar files when present, otherwise rebuilt from the
// embeddings persisted in SQLite.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("store requires positive dimensions, got %d", cfg.Dimensions)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreIO, fmt.Errorf("create data directory: %w", err))
	}

	meta, err := openMetadataStore(filepath.Join(cfg.Dir, dbFileName))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
	}

	vectors := newVectorIndex(cfg.Dimensions, cfg.M, cfg.EfSearch)
	vectorPath := filepath.Join(cfg.Dir, vectorFileName)

	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vectors.load(vectorPath); err != nil {
			slog.Warn("vector_index_load_failed_rebuilding",
				slog.String("path", vectorPath),
				slog.String("error", err.Error()))
			vectors = newVectorIndex(cfg.Dimensions, cfg.M, cfg.EfSearch)
			if err := rebuildVectors(ctx, meta, vectors); err != nil {
				meta.close()
				return nil, err
			}
		}
	} else if err := rebuildVectors(ctx, meta, vectors); err != nil {
		meta.close()
		return nil, err
	}

	slog.Debug("store_opened",
		slog.String("dir", cfg.Dir),
		slog.Int("dimensions", cfg.Dimensions),
		slog.Int("vectors", vectors.count()))

	return &Store{config: cfg, meta: meta, vectors: vectors}, nil
}

// rebuildVectors repopulates the HNSW graph from SQLite-persisted
// embeddings. SQLite is the source of truth; the graph is a derived index.
func rebuildVectors(ctx context.Context, meta *metadataStore, vectors *vectorIndex) error {
	ids, vecs, err := meta.allEmbeddings(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
	}

	// Vectors with a foreign dimension belong to corpora indexed under a
	// different model config; those corpora fail at query time, not here.
	kept := 0
	skipped := 0
	for i, vec := range vecs {
		if len(vec) != vectors.dims {
			skipped++
			continue
		}
		ids[kept] = ids[i]
		vecs[kept] = vec
		kept++
	}
	if kept == 0 {
		return nil
	}

	if err := vectors.add(ids[:kept], vecs[:kept]); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, fmt.Errorf("rebuild vector index: %w", err))
	}
	slog.Info("vector_index_rebuilt",
		slog.Int("vectors", kept),
		slog.Int("skipped", skipped))
	return nil
}

// ReplaceFileEntries atomically replaces all entries for a file. Passing
// an empty slice deletes the file's entries. Vectors are normalized here
// so cosine similarity can use the inner product downstream.
func (s *Store) ReplaceFileEntries(ctx context.Context, corpusID, filePath string, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.New(apperrors.ErrCodeStoreClosed, "store is closed", nil)
	}
	if corpusID == "" {
		return fmt.Errorf("corpus id is required")
	}

	for _, e := range entries {
		if e.CorpusID != corpusID {
			return apperrors.CorpusScope(corpusID, e.CorpusID)
		}
		if e.FilePath != filePath {
			return fmt.Errorf("entry %s has file path %q, write is scoped to %q", e.ID, e.FilePath, filePath)
		}
		if len(e.Embedding) != s.config.Dimensions {
			return apperrors.DimensionMismatch(s.config.Dimensions, len(e.Embedding))
		}
	}

	if err := s.ensureCorpusState(ctx, corpusID); err != nil {
		return err
	}

	normalized := make([]*Entry, len(entries))
	for i, e := range entries {
		copied := *e
		vec := make([]float32, len(e.Embedding))
		copy(vec, e.Embedding)
		normalizeInPlace(vec)
		copied.Embedding = vec
		normalized[i] = &copied
	}

	oldIDs, err := s.meta.replaceFileEntries(ctx, corpusID, filePath, normalized)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
	}

	s.vectors.remove(oldIDs)

	if len(normalized) > 0 {
		ids := make([]string, len(normalized))
		vecs := make([][]float32, len(normalized))
		for i, e := range normalized {
			ids[i] = e.ID
			vecs[i] = e.Embedding
		}
		if err := s.vectors.add(ids, vecs); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
		}
	}

	slog.Debug("file_entries_replaced",
		slog.String("corpus", corpusID),
		slog.String("file", filePath),
		slog.Int("removed", len(oldIDs)),
		slog.Int("written", len(normalized)))

	return nil
}

// DeleteFile removes all entries for a file in a corpus.
func (s *Store) DeleteFile(ctx context.Context, corpusID, filePath string) error {
	return s.ReplaceFileEntries(ctx, corpusID, filePath, nil)
}

// FileHashes returns path -> content hash for every file in a corpus.
func (s *Store) FileHashes(ctx context.Context, corpusID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.ErrCodeStoreClosed, "store is closed", nil)
	}
	hashes, err := s.meta.fileHashes(ctx, corpusID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
	}
	return hashes, nil
}

// EntriesByFile returns all entries for a file.
func (s *Store) EntriesByFile(ctx context.Context, corpusID, filePath string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.ErrCodeStoreClosed, "store is closed", nil)
	}
	entries, err := s.meta.entriesByFile(ctx, corpusID, filePath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
	}
	return entries, nil
}

// Count returns the number of entries in a corpus.
func (s *Store) Count(ctx context.Context, corpusID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, apperrors.New(apperrors.ErrCodeStoreClosed, "store is closed", nil)
	}
	n, err := s.meta.count(ctx, corpusID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
	}
	return n, nil
}

// Query returns up to opts.TopK entries nearest to vector, scoped by
// corpus and the optional path predicate. The ANN walk over-fetches and
// grows until enough in-scope hits survive resolution or the graph is
// exhausted, so out-of-scope entries never reach the caller.
func (s *Store) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]ScoredEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.ErrCodeStoreClosed, "store is closed", nil)
	}
	if len(opts.CorpusIDs) == 0 {
		return nil, nil
	}
	if len(vector) != s.config.Dimensions {
		return nil, apperrors.DimensionMismatch(s.config.Dimensions, len(vector))
	}
	if opts.TopK <= 0 {
		return nil, nil
	}

	for _, corpusID := range opts.CorpusIDs {
		if err := s.checkCorpusState(ctx, corpusID); err != nil {
			return nil, err
		}
	}

	corpusSet := make(map[string]bool, len(opts.CorpusIDs))
	for _, id := range opts.CorpusIDs {
		corpusSet[id] = true
	}

	// The growth cap must count orphaned graph nodes too: lazily deleted
	// vectors still occupy top-k slots of the ANN walk, so a fetch sized
	// by live entries alone can exhaust before reaching them.
	total := s.vectors.graphLen()
	fetch := opts.TopK

	var results []ScoredEntry
	for {
		if fetch > total {
			fetch = total
		}

		hits, err := s.vectors.search(vector, fetch)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
		}

		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		entries, err := s.meta.entriesByIDs(ctx, ids)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
		}

		results = results[:0]
		for _, h := range hits {
			e, ok := entries[h.ID]
			if !ok {
				continue // orphaned vector; row deleted or not yet visible
			}
			if !corpusSet[e.CorpusID] {
				continue
			}
			if opts.PathMatch != nil && !opts.PathMatch(e.FilePath) {
				continue
			}
			results = append(results, ScoredEntry{Entry: e, Similarity: h.Similarity})
		}

		if len(results) >= opts.TopK || fetch >= total {
			break
		}
		fetch *= 2
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})

	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// ensureCorpusState records the embedding dimension and model at a
// corpus's first write and validates them after. A recorded dimension
// that differs from the configured one means the model changed without a
// re-index; that is fatal, never coerced.
func (s *Store) ensureCorpusState(ctx context.Context, corpusID string) error {
	recorded, err := s.meta.getState(ctx, corpusID, StateKeyDimension)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
	}
	if recorded == "" {
		if err := s.meta.setState(ctx, corpusID, StateKeyDimension, strconv.Itoa(s.config.Dimensions)); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
		}
		if s.config.Model != "" {
			if err := s.meta.setState(ctx, corpusID, StateKeyModel, s.config.Model); err != nil {
				return apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
			}
		}
		return nil
	}

	dims, err := strconv.Atoi(recorded)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, fmt.Errorf("corrupt corpus dimension state %q: %w", recorded, err))
	}
	if dims != s.config.Dimensions {
		return apperrors.DimensionMismatch(dims, s.config.Dimensions)
	}
	return nil
}

// checkCorpusState validates a corpus's recorded dimension at query time.
// A corpus never written to passes; it simply has no entries.
func (s *Store) checkCorpusState(ctx context.Context, corpusID string) error {
	recorded, err := s.meta.getState(ctx, corpusID, StateKeyDimension)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
	}
	if recorded == "" {
		return nil
	}
	dims, err := strconv.Atoi(recorded)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, fmt.Errorf("corrupt corpus dimension state %q: %w", recorded, err))
	}
	if dims != s.config.Dimensions {
		return apperrors.DimensionMismatch(dims, s.config.Dimensions)
	}
	return nil
}

// Save persists the vector index sidecar files.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return apperrors.New(apperrors.ErrCodeStoreClosed, "store is closed", nil)
	}
	if err := s.vectors.save(filepath.Join(s.config.Dir, vectorFileName)); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, err)
	}
	return nil
}

// Close saves the vector index and releases resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	saveErr := s.vectors.save(filepath.Join(s.config.Dir, vectorFileName))
	closeErr := s.meta.close()
	s.closed = true

	if saveErr != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, saveErr)
	}
	if closeErr != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreIO, closeErr)
	}
	return nil
}
