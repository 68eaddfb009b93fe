package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// metadataStore persists entry metadata, text, and raw embeddings in
// SQLite. Embeddings live here too so the HNSW graph can be rebuilt when
// its sidecar files are missing or stale.
type metadataStore struct {
	db *sql.DB
}

func openMetadataStore(path string) (*metadataStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc.org/sqlite serializes writes; one connection avoids
	// SQLITE_BUSY churn under concurrent access.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &metadataStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		corpus_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		file_path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		text TEXT NOT NULL,
		dates TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_corpus_file ON entries(corpus_id, file_path);

	CREATE TABLE IF NOT EXISTS embeddings (
		entry_id TEXT PRIMARY KEY,
		vector BLOB NOT NULL,
		dims INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS corpus_state (
		corpus_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (corpus_id, key)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// replaceFileEntries deletes a file's old rows and inserts the new ones in
// one transaction. It returns the IDs of the deleted rows so the caller can
// drop them from the vector index after commit.
func (m *metadataStore) replaceFileEntries(ctx context.Context, corpusID, filePath string, entries []*Entry) (oldIDs []string, err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM entries WHERE corpus_id = ? AND file_path = ?`, corpusID, filePath)
	if err != nil {
		return nil, fmt.Errorf("query old entries: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan old entry id: %w", err)
		}
		oldIDs = append(oldIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate old entries: %w", err)
	}
	rows.Close()

	if len(oldIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entries WHERE corpus_id = ? AND file_path = ?`, corpusID, filePath); err != nil {
			return nil, fmt.Errorf("delete old entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embeddings WHERE entry_id IN (`+placeholders(len(oldIDs))+`)`,
			toAnySlice(oldIDs)...); err != nil {
			return nil, fmt.Errorf("delete old embeddings: %w", err)
		}
	}

	entryStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (id, corpus_id, source_type, file_path, content_hash, text, dates, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare entry insert: %w", err)
	}
	defer entryStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (entry_id, vector, dims) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare embedding insert: %w", err)
	}
	defer vecStmt.Close()

	for _, e := range entries {
		dates, err := encodeDates(e.Dates)
		if err != nil {
			return nil, fmt.Errorf("encode dates for entry %s: %w", e.ID, err)
		}
		if _, err := entryStmt.ExecContext(ctx,
			e.ID, e.CorpusID, string(e.SourceType), e.FilePath, e.ContentHash,
			e.Text, dates, e.CreatedAt.UTC(), e.UpdatedAt.UTC()); err != nil {
			return nil, fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
		if _, err := vecStmt.ExecContext(ctx,
			e.ID, encodeVector(e.Embedding), len(e.Embedding)); err != nil {
			return nil, fmt.Errorf("insert embedding %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return oldIDs, nil
}

// fileHashes returns file_path -> content_hash for a corpus. Each file has
// one hash; any row for the path carries it.
func (m *metadataStore) fileHashes(ctx context.Context, corpusID string) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT file_path, content_hash FROM entries WHERE corpus_id = ? GROUP BY file_path`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("query file hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, fmt.Errorf("scan file hash: %w", err)
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

// entriesByIDs fetches entries for the given IDs, keyed by ID. Missing IDs
// are simply absent from the result (orphan-tolerant reads).
func (m *metadataStore) entriesByIDs(ctx context.Context, ids []string) (map[string]*Entry, error) {
	if len(ids) == 0 {
		return map[string]*Entry{}, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, corpus_id, source_type, file_path, content_hash, text, dates, created_at, updated_at
		FROM entries WHERE id IN (`+placeholders(len(ids))+`)`, toAnySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]*Entry, len(ids))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries[e.ID] = e
	}
	return entries, rows.Err()
}

func (m *metadataStore) entriesByFile(ctx context.Context, corpusID, filePath string) ([]*Entry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, corpus_id, source_type, file_path, content_hash, text, dates, created_at, updated_at
		FROM entries WHERE corpus_id = ? AND file_path = ? ORDER BY id`, corpusID, filePath)
	if err != nil {
		return nil, fmt.Errorf("query entries by file: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (m *metadataStore) count(ctx context.Context, corpusID string) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE corpus_id = ?`, corpusID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// allEmbeddings streams every persisted embedding, for graph rebuilds.
func (m *metadataStore) allEmbeddings(ctx context.Context) (ids []string, vectors [][]float32, err error) {
	rows, err := m.db.QueryContext(ctx, `SELECT entry_id, vector, dims FROM embeddings`)
	if err != nil {
		return nil, nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		var dims int
		if err := rows.Scan(&id, &blob, &dims); err != nil {
			return nil, nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := decodeVector(blob, dims)
		if err != nil {
			return nil, nil, fmt.Errorf("decode embedding %s: %w", id, err)
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	return ids, vectors, rows.Err()
}

func (m *metadataStore) getState(ctx context.Context, corpusID, key string) (string, error) {
	var value string
	err := m.db.QueryRowContext(ctx,
		`SELECT value FROM corpus_state WHERE corpus_id = ? AND key = ?`, corpusID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get corpus state: %w", err)
	}
	return value, nil
}

func (m *metadataStore) setState(ctx context.Context, corpusID, key, value string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO corpus_state (corpus_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(corpus_id, key) DO UPDATE SET value = excluded.value`,
		corpusID, key, value)
	if err != nil {
		return fmt.Errorf("set corpus state: %w", err)
	}
	return nil
}

func (m *metadataStore) close() error {
	return m.db.Close()
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var sourceType, dates string
	if err := rows.Scan(&e.ID, &e.CorpusID, &sourceType, &e.FilePath, &e.ContentHash,
		&e.Text, &dates, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	e.SourceType = SourceType(sourceType)

	parsed, err := decodeDates(dates)
	if err != nil {
		return nil, fmt.Errorf("decode dates for entry %s: %w", e.ID, err)
	}
	e.Dates = parsed
	return &e, nil
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, fmt.Errorf("vector blob has %d bytes, want %d", len(blob), 4*dims)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}

// encodeDates stores dates as a JSON array of RFC 3339 strings.
func encodeDates(dates []time.Time) (string, error) {
	strs := make([]string, len(dates))
	for i, d := range dates {
		strs[i] = d.UTC().Format(time.RFC3339)
	}
	out, err := json.Marshal(strs)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeDates(raw string) ([]time.Time, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var strs []string
	if err := json.Unmarshal([]byte(raw), &strs); err != nil {
		return nil, err
	}
	dates := make([]time.Time, len(strs))
	for i, s := range strs {
		d, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, err
		}
		dates[i] = d
	}
	return dates, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(strs []string) []any {
	out := make([]any, len(strs))
	for i, s := range strs {
		out[i] = s
	}
	return out
}
