package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrmatherly/apollos/internal/chunk"
	"github.com/jrmatherly/apollos/internal/embed"
	apperrors "github.com/jrmatherly/apollos/internal/errors"
	"github.com/jrmatherly/apollos/internal/store"
)

// countingEmbedder wraps the static embedder and records batch calls, so
// tests can prove unchanged content is never re-embedded and batch sizes
// honor the configured cap.
type countingEmbedder struct {
	embed.Embedder
	batchCalls atomic.Int64
	failAfter  atomic.Int64 // fail batches once calls exceed this; 0 disables

	mu         sync.Mutex
	batchSizes []int
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{Embedder: embed.NewStaticEmbedder()}
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	calls := c.batchCalls.Add(1)
	c.mu.Lock()
	c.batchSizes = append(c.batchSizes, len(texts))
	c.mu.Unlock()
	if limit := c.failAfter.Load(); limit > 0 && calls > limit {
		return nil, apperrors.ProviderUnavailable("provider down", nil)
	}
	return c.Embedder.EmbedBatch(ctx, texts)
}

type testHarness struct {
	indexer  *Indexer
	embedder *countingEmbedder
	store    *store.Store
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	embedder := newCountingEmbedder()
	s, err := store.Open(context.Background(), store.Config{
		Dir:        t.TempDir(),
		Dimensions: embedder.Dimensions(),
		Model:      embedder.ModelName(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	indexer := New(chunk.NewTextChunker(), embedder, s, Config{
		LockDir:     t.TempDir(),
		Parallelism: 2,
	})
	return &testHarness{indexer: indexer, embedder: embedder, store: s}
}

func unit(path, text string) ContentUnit {
	return ContentUnit{FilePath: path, Text: text, SourceType: store.SourceTypeFile}
}

func TestIndexer_CreatesEntries(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	result, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("notes.md", "Taxes are due on April 15th this year."),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesCreated)
	assert.Equal(t, 0, result.FilesUpdated)
	assert.Greater(t, result.EntriesWritten, 0)

	count, err := h.store.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, result.EntriesWritten, count)
}

func TestIndexer_Idempotent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	units := []ContentUnit{
		unit("a.md", "First document about taxes."),
		unit("b.md", "Second document about recipes."),
	}

	first, err := h.indexer.Index(ctx, "u1", units)
	require.NoError(t, err)
	require.Equal(t, 2, first.FilesCreated)
	callsAfterFirst := h.embedder.batchCalls.Load()

	second, err := h.indexer.Index(ctx, "u1", units)
	require.NoError(t, err)

	assert.Equal(t, 0, second.FilesCreated)
	assert.Equal(t, 0, second.FilesUpdated)
	assert.Equal(t, 0, second.FilesDeleted)
	assert.Equal(t, 2, second.FilesSkipped)
	assert.Equal(t, 0, second.EntriesWritten)
	assert.Equal(t, callsAfterFirst, h.embedder.batchCalls.Load(),
		"unchanged content must not be re-embedded")
}

func TestIndexer_ChangedContentReplacesEntries(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "Original content about deadlines."),
	})
	require.NoError(t, err)

	old, err := h.store.EntriesByFile(ctx, "u1", "a.md")
	require.NoError(t, err)
	require.NotEmpty(t, old)

	result, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "Revised content about extensions."),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesUpdated)

	current, err := h.store.EntriesByFile(ctx, "u1", "a.md")
	require.NoError(t, err)
	require.NotEmpty(t, current)

	for _, e := range current {
		assert.NotEqual(t, old[0].ContentHash, e.ContentHash)
		assert.Contains(t, e.Text, "Revised")
	}
}

func TestIndexer_DeletionPropagation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "Keep this file."),
		unit("b.md", "Delete this file."),
	})
	require.NoError(t, err)

	result, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "Keep this file."),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesDeleted)
	assert.Equal(t, 1, result.FilesSkipped)

	gone, err := h.store.EntriesByFile(ctx, "u1", "b.md")
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestIndexer_EmptyFileTreatedAsDeletion(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "Content that will vanish."),
	})
	require.NoError(t, err)

	result, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "   \n\n  "),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeleted)

	entries, err := h.store.EntriesByFile(ctx, "u1", "a.md")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIndexer_ProviderFailureLeavesOldEntriesIntact(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "Stable original content."),
	})
	require.NoError(t, err)

	// All further embedding calls fail.
	h.embedder.failAfter.Store(h.embedder.batchCalls.Load())

	result, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "New content that will fail to embed."),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	assert.Equal(t, 1, result.FilesFailed)

	// The failed file keeps its previous entries.
	entries, err := h.store.EntriesByFile(ctx, "u1", "a.md")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[0].Text, "Stable original")
}

func TestIndexer_DatesAttachedToEntries(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	deadline := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	u := unit("a.md", "Tax filing deadline details.")
	u.Dates = []time.Time{deadline}

	_, err := h.indexer.Index(ctx, "u1", []ContentUnit{u})
	require.NoError(t, err)

	entries, err := h.store.EntriesByFile(ctx, "u1", "a.md")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Len(t, entries[0].Dates, 1)
	assert.True(t, entries[0].Dates[0].Equal(deadline))
}

func TestIndexer_ConcurrentSameCorpusLocked(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	lock, err := acquireCorpusLock(h.indexer.config.LockDir, "u1")
	require.NoError(t, err)
	defer func() { _ = lock.release() }()

	_, err = h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "blocked"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexLocked)

	// A different corpus proceeds independently.
	_, err = h.indexer.Index(ctx, "u2", []ContentUnit{
		unit("a.md", "not blocked"),
	})
	assert.NoError(t, err)
}

// deleteFailingStore fails DeleteFile to exercise abort handling.
type deleteFailingStore struct {
	store.EntryStore
}

func (d deleteFailingStore) DeleteFile(ctx context.Context, corpusID, filePath string) error {
	return apperrors.New(apperrors.ErrCodeStoreIO, "disk full", nil)
}

func TestIndexer_DeletePhaseFailureAbortsRun(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.indexer.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "Keep this file."),
		unit("b.md", "Remove this file."),
	})
	require.NoError(t, err)

	failing := New(chunk.NewTextChunker(), h.embedder, deleteFailingStore{h.store}, Config{
		LockDir: t.TempDir(),
	})
	result, err := failing.Index(ctx, "u1", []ContentUnit{
		unit("a.md", "Keep this file."),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexAborted)
	assert.True(t, apperrors.IsRetryable(err))
	require.NotNil(t, result)
	assert.Equal(t, 0, result.FilesDeleted)

	// The entries behind the failed deletion survive; a retry converges.
	entries, err := h.store.EntriesByFile(ctx, "u1", "b.md")
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

// lineChunker yields one piece per non-empty line, giving tests precise
// control over piece counts.
type lineChunker struct{}

func (lineChunker) Chunk(rawText string) []chunk.Piece {
	var pieces []chunk.Piece
	for _, line := range strings.Split(rawText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pieces = append(pieces, chunk.Piece{Text: line, Index: len(pieces)})
	}
	return pieces
}

func TestIndexer_BatchSizeCapsEmbeddingCalls(t *testing.T) {
	embedder := newCountingEmbedder()
	s, err := store.Open(context.Background(), store.Config{
		Dir:        t.TempDir(),
		Dimensions: embedder.Dimensions(),
		Model:      embedder.ModelName(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	indexer := New(lineChunker{}, embedder, s, Config{
		LockDir:   t.TempDir(),
		BatchSize: 2,
	})

	result, err := indexer.Index(context.Background(), "u1", []ContentUnit{
		unit("a.md", "one\ntwo\nthree\nfour\nfive"),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, result.EntriesWritten)

	embedder.mu.Lock()
	sizes := append([]int(nil), embedder.batchSizes...)
	embedder.mu.Unlock()

	require.Len(t, sizes, 3, "5 chunks at batch size 2 need 3 calls")
	for _, size := range sizes {
		assert.LessOrEqual(t, size, 2)
	}

	// Every chunk is embedded and written despite the batching.
	entries, err := s.EntriesByFile(context.Background(), "u1", "a.md")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	texts := make(map[string]bool, len(entries))
	for _, e := range entries {
		texts[e.Text] = true
	}
	for _, want := range []string{"one", "two", "three", "four", "five"} {
		assert.True(t, texts[want], "missing chunk %q", want)
	}
}

func TestIndexer_RequiresCorpusID(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.indexer.Index(context.Background(), "", nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrIndexLocked))
}
