// Package index converges the entry store to the current state of a
// corpus snapshot, minimizing redundant embedding work via content-hash
// diffing.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jrmatherly/apollos/internal/chunk"
	"github.com/jrmatherly/apollos/internal/embed"
	apperrors "github.com/jrmatherly/apollos/internal/errors"
	"github.com/jrmatherly/apollos/internal/store"
)

// ContentUnit is one pre-parsed piece of source content handed to the
// indexer by a content processor. Binary-format parsing and date
// extraction happen upstream.
type ContentUnit struct {
	FilePath   string
	Text       string
	SourceType store.SourceType
	Dates      []time.Time
}

// Result reports what an index run did, per file. Partial success is
// normal: a retry of the whole corpus is cheap because unchanged files
// are skipped by hash.
type Result struct {
	FilesCreated   int
	FilesUpdated   int
	FilesDeleted   int
	FilesSkipped   int
	FilesFailed    int
	EntriesWritten int
	Duration       time.Duration
}

// Config configures the indexer.
type Config struct {
	// LockDir holds the per-corpus lock files.
	LockDir string

	// Parallelism bounds concurrent file embeddings in flight.
	Parallelism int

	// BatchSize caps the number of chunk texts per embedding call.
	BatchSize int
}

// Indexer orchestrates chunking, embedding, and store writes.
type Indexer struct {
	chunker  chunk.Chunker
	embedder embed.Embedder
	entries  store.EntryStore
	config   Config
}

// New creates an indexer.
func New(chunker chunk.Chunker, embedder embed.Embedder, entries store.EntryStore, cfg Config) *Indexer {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		entries:  entries,
		config:   cfg,
	}
}

// Index converges the store to the given corpus snapshot. Unchanged files
// (by content hash) are skipped entirely; changed and new files are
// re-chunked and re-embedded; files absent from the snapshot lose their
// entries. Re-running on an unchanged snapshot produces zero writes.
//
// Committed files stay committed on failure or cancellation; the result
// reports per-file bookkeeping either way.
func (ix *Indexer) Index(ctx context.Context, corpusID string, units []ContentUnit) (*Result, error) {
	start := time.Now()

	if corpusID == "" {
		return nil, fmt.Errorf("corpus id is required")
	}

	lock, err := acquireCorpusLock(ix.config.LockDir, corpusID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			slog.Warn("corpus_lock_release_failed",
				slog.String("corpus", corpusID),
				slog.String("error", err.Error()))
		}
	}()

	existing, err := ix.entries.FileHashes(ctx, corpusID)
	if err != nil {
		return nil, err
	}

	var (
		result  Result
		mu      sync.Mutex
		changed []ContentUnit
		seen    = make(map[string]bool, len(units))
	)

	for _, unit := range units {
		if seen[unit.FilePath] {
			continue // duplicate path in snapshot; first occurrence wins
		}
		seen[unit.FilePath] = true

		hash := hashContent(unit.Text)
		if existing[unit.FilePath] == hash {
			result.FilesSkipped++
			continue
		}
		changed = append(changed, unit)
	}

	// Files absent from the snapshot are deleted first; their entries must
	// not survive regardless of how the embedding phase goes.
	for path := range existing {
		if seen[path] {
			continue
		}
		if err := ix.entries.DeleteFile(ctx, corpusID, path); err != nil {
			result.Duration = time.Since(start)
			return &result, apperrors.New(apperrors.ErrCodeIndexAborted,
				fmt.Sprintf("run aborted deleting %s", path), err)
		}
		result.FilesDeleted++
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(ix.config.Parallelism))

	for _, unit := range changed {
		unit := unit
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			written, err := ix.indexFile(gctx, corpusID, unit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FilesFailed++
				return fmt.Errorf("index %s: %w", unit.FilePath, err)
			}
			if written == 0 {
				result.FilesDeleted++
				return nil
			}
			if _, existed := existing[unit.FilePath]; existed {
				result.FilesUpdated++
			} else {
				result.FilesCreated++
			}
			result.EntriesWritten += written
			return nil
		})
	}

	runErr := g.Wait()
	result.Duration = time.Since(start)

	if runErr == nil {
		if err := ix.entries.Save(); err != nil {
			slog.Warn("vector_index_save_failed",
				slog.String("corpus", corpusID),
				slog.String("error", err.Error()))
		}
	}

	slog.Info("index_run_complete",
		slog.String("corpus", corpusID),
		slog.Int("created", result.FilesCreated),
		slog.Int("updated", result.FilesUpdated),
		slog.Int("deleted", result.FilesDeleted),
		slog.Int("skipped", result.FilesSkipped),
		slog.Int("failed", result.FilesFailed),
		slog.Int("entries", result.EntriesWritten),
		slog.Duration("duration", result.Duration))

	return &result, runErr
}

// indexFile chunks, embeds, and writes one file as a single atomic unit.
// Nothing is written unless every chunk embedded; an embed failure leaves
// the file's old entries intact.
func (ix *Indexer) indexFile(ctx context.Context, corpusID string, unit ContentUnit) (int, error) {
	pieces := ix.chunker.Chunk(unit.Text)

	// A file that shrinks to zero chunks is a deletion.
	if len(pieces) == 0 {
		if err := ix.entries.DeleteFile(ctx, corpusID, unit.FilePath); err != nil {
			return 0, err
		}
		return 0, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	vectors, err := ix.embedBatched(ctx, texts)
	if err != nil {
		return 0, err
	}

	hash := hashContent(unit.Text)
	now := time.Now().UTC()
	sourceType := unit.SourceType
	if sourceType == "" {
		sourceType = store.SourceTypeFile
	}

	entries := make([]*store.Entry, len(pieces))
	for i, p := range pieces {
		entries[i] = &store.Entry{
			ID:          uuid.NewString(),
			CorpusID:    corpusID,
			SourceType:  sourceType,
			FilePath:    unit.FilePath,
			ContentHash: hash,
			Text:        p.Text,
			Embedding:   vectors[i],
			Dates:       unit.Dates,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	if err := ix.entries.ReplaceFileEntries(ctx, corpusID, unit.FilePath, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// embedBatched embeds texts in slices of the configured batch size,
// preserving input order across calls.
func (ix *Indexer) embedBatched(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ix.config.BatchSize {
		end := start + ix.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := ix.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedded %d chunks, expected %d", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// hashContent fingerprints raw pre-chunk content.
func hashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
