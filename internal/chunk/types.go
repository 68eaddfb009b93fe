// Package chunk splits raw content units into overlapping text chunks sized
// for the embedding model's context window. Splitting prefers structural
// boundaries (headings, then paragraphs); units that still exceed the token
// budget fall back to fixed-size token windows with a small overlap so a
// concept spanning a boundary stays retrievable from at least one chunk.
package chunk

import "strings"

// Chunk size defaults.
const (
	DefaultMaxTokens     = 256 // Fits small embedding model context windows
	DefaultOverlapTokens = 32  // ~12.5% overlap between fallback windows
	tokensPerChar        = 4   // Rough approximation: 4 chars = 1 token
)

// Piece is one chunk of a content unit: its text plus local metadata such
// as the heading path it was extracted under and its ordinal position.
type Piece struct {
	// Text is the chunk content.
	Text string

	// HeadingPath is the " > "-joined heading trail above this chunk,
	// empty for content outside any heading.
	HeadingPath string

	// Index is the chunk's ordinal within its content unit, starting at 0.
	Index int
}

// Options configures a Chunker.
type Options struct {
	// MaxTokens is the token budget per chunk.
	MaxTokens int

	// OverlapTokens is the overlap between fixed-size fallback windows.
	OverlapTokens int
}

// Chunker splits a content unit's raw text into an ordered sequence of
// pieces. The sequence is finite, deterministic, and restartable: the same
// input always yields the same pieces in the same order.
type Chunker interface {
	Chunk(rawText string) []Piece
}

// estimateTokens approximates the token count of text.
func estimateTokens(text string) int {
	return (len(text) + tokensPerChar - 1) / tokensPerChar
}

// isBlank reports whether text is empty or whitespace-only.
func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
