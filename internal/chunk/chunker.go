package chunk

import (
	"regexp"
	"strings"
)

// headingPattern matches markdown-style headings: # Title through ###### Title.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// TextChunker implements heading/paragraph chunking with a token-window
// fallback for oversized units.
type TextChunker struct {
	options Options
}

// Verify interface implementation at compile time
var _ Chunker = (*TextChunker)(nil)

// NewTextChunker creates a chunker with default options.
func NewTextChunker() *TextChunker {
	return NewTextChunkerWithOptions(Options{})
}

// NewTextChunkerWithOptions creates a chunker with custom options.
func NewTextChunkerWithOptions(opts Options) *TextChunker {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.OverlapTokens <= 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	if opts.OverlapTokens >= opts.MaxTokens {
		opts.OverlapTokens = opts.MaxTokens / 4
	}
	return &TextChunker{options: opts}
}

// Chunk splits rawText into an ordered sequence of pieces.
func (c *TextChunker) Chunk(rawText string) []Piece {
	if isBlank(rawText) {
		return nil
	}

	var pieces []Piece
	for _, sec := range parseSections(rawText) {
		for _, text := range c.splitSection(sec.content) {
			pieces = append(pieces, Piece{
				Text:        text,
				HeadingPath: sec.headingPath,
				Index:       len(pieces),
			})
		}
	}
	return pieces
}

// section is a run of content under one heading trail.
type section struct {
	headingPath string
	content     string
}

// parseSections splits text into sections on headings, maintaining the
// heading hierarchy so each section carries its full heading path.
func parseSections(text string) []section {
	lines := strings.Split(text, "\n")
	headingStack := make([]string, 6)

	var sections []section
	var current strings.Builder
	currentPath := ""

	flush := func() {
		if !isBlank(current.String()) {
			sections = append(sections, section{
				headingPath: currentPath,
				content:     strings.TrimRight(current.String(), "\n"),
			})
		}
		current.Reset()
	}

	for _, line := range lines {
		if match := headingPattern.FindStringSubmatch(line); match != nil {
			flush()

			level := len(match[1])
			title := strings.TrimSpace(match[2])
			headingStack[level-1] = title
			for i := level; i < 6; i++ {
				headingStack[i] = ""
			}

			var parts []string
			for i := 0; i < level; i++ {
				if headingStack[i] != "" {
					parts = append(parts, headingStack[i])
				}
			}
			currentPath = strings.Join(parts, " > ")
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return sections
}

// splitSection breaks a section's content into chunk-sized texts. Sections
// within budget pass through whole; larger ones split on paragraph
// boundaries; a single paragraph over budget falls back to token windows.
func (c *TextChunker) splitSection(content string) []string {
	if isBlank(content) {
		return nil
	}
	if estimateTokens(content) <= c.options.MaxTokens {
		return []string{strings.TrimSpace(content)}
	}

	var out []string
	var current strings.Builder

	emit := func() {
		if !isBlank(current.String()) {
			out = append(out, strings.TrimSpace(current.String()))
		}
		current.Reset()
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		// A single paragraph over budget gets windowed on its own.
		if estimateTokens(para) > c.options.MaxTokens {
			emit()
			out = append(out, c.windowText(para)...)
			continue
		}

		if current.Len() > 0 && estimateTokens(current.String())+estimateTokens(para) > c.options.MaxTokens {
			emit()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	emit()

	return out
}

// windowText splits text into fixed-size token windows with overlap.
// Windows break on whitespace where possible so words stay intact.
func (c *TextChunker) windowText(text string) []string {
	maxChars := c.options.MaxTokens * tokensPerChar
	overlapChars := c.options.OverlapTokens * tokensPerChar

	var out []string
	for start := 0; start < len(text); {
		end := start + maxChars
		if end >= len(text) {
			end = len(text)
		} else {
			// Back off to the nearest whitespace to avoid splitting a word.
			if idx := strings.LastIndexFunc(text[start:end], isSpace); idx > maxChars/2 {
				end = start + idx
			}
		}

		window := strings.TrimSpace(text[start:end])
		if window != "" {
			out = append(out, window)
		}

		if end >= len(text) {
			break
		}
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t'
}
