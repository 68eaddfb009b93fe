// Package store persists indexed entries: metadata and text in SQLite,
// vectors in an HNSW graph. This is the persistence layer for all
// indexed data.
package store

import (
	"context"
	"time"
)

// SourceType is the enumerated origin of an entry's content.
type SourceType string

const (
	SourceTypeFile  SourceType = "file"
	SourceTypeWeb   SourceType = "web"
	SourceTypeEmail SourceType = "email"
	SourceTypeNote  SourceType = "note"
)

// Corpus state keys. Dimension and model are recorded at first write and
// validated thereafter; a mismatch needs a full re-index.
const (
	StateKeyDimension = "embedding_dimension"
	StateKeyModel     = "embedding_model"
)

// Entry is the atomic indexed unit: one embedded chunk of source content.
type Entry struct {
	ID          string      // Assigned at creation, never reused
	CorpusID    string      // Owner scope; all queries are corpus-scoped
	SourceType  SourceType  // file, web, email, note
	FilePath    string      // Logical origin path, used for diffing and file filters
	ContentHash string      // Hash of the raw pre-chunk content
	Text        string      // The chunk's raw content
	Embedding   []float32   // Fixed-dimension vector, normalized at write time
	Dates       []time.Time // Dates extracted from content, for date filters
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScoredEntry pairs an entry with its cosine similarity to a query vector.
type ScoredEntry struct {
	Entry      *Entry
	Similarity float32
}

// QueryOptions narrows a vector query inside the store so the pipeline
// never sees out-of-scope entries.
type QueryOptions struct {
	// CorpusIDs scopes the query. Required; an empty list matches nothing.
	CorpusIDs []string

	// TopK is the number of results to return.
	TopK int

	// PathMatch, when non-nil, keeps only entries whose FilePath it
	// accepts. Applied while walking ANN results (pushdown).
	PathMatch func(path string) bool
}

// EntryStore is the persistent collection of indexed entries.
type EntryStore interface {
	// ReplaceFileEntries atomically replaces all entries for a file in a
	// corpus with the given entries. Passing no entries deletes the file.
	// Every entry must belong to corpusID and filePath.
	ReplaceFileEntries(ctx context.Context, corpusID, filePath string, entries []*Entry) error

	// DeleteFile removes all entries for a file in a corpus.
	DeleteFile(ctx context.Context, corpusID, filePath string) error

	// FileHashes returns path -> content hash for every file in a corpus,
	// for indexer diffing.
	FileHashes(ctx context.Context, corpusID string) (map[string]string, error)

	// Query returns the entries nearest to vector under opts, ranked by
	// cosine similarity descending.
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]ScoredEntry, error)

	// EntriesByFile returns all entries for a file, without vectors loaded.
	EntriesByFile(ctx context.Context, corpusID, filePath string) ([]*Entry, error)

	// Count returns the number of entries in a corpus.
	Count(ctx context.Context, corpusID string) (int, error)

	// Save persists the vector index to disk.
	Save() error

	// Close releases resources.
	Close() error
}

// Config configures the store.
type Config struct {
	// Dir is the data directory holding the SQLite database and the
	// vector index files.
	Dir string

	// Dimensions is the embedding dimension, fixed for the store.
	Dimensions int

	// Model is the embedding model identity, recorded per corpus.
	Model string

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}
