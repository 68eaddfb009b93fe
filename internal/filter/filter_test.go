package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrmatherly/apollos/internal/store"
)

func entryWith(text string, dates ...time.Time) *store.Entry {
	return &store.Entry{Text: text, Dates: dates}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExtract_DateAfter(t *testing.T) {
	x := Extract(`tax deadline dt>"2024-01-01"`)

	assert.Equal(t, "tax deadline", x.Residual)
	require.Len(t, x.Predicates, 1)

	assert.True(t, x.Match(entryWith("due april", day(2024, 4, 15))))
	assert.False(t, x.Match(entryWith("old note", day(2023, 6, 1))))
	assert.False(t, x.Match(entryWith("undated note")))
}

func TestExtract_DateBefore(t *testing.T) {
	x := Extract(`dt<"2024-01-01" archived notes`)

	assert.Equal(t, "archived notes", x.Residual)
	assert.True(t, x.Match(entryWith("old", day(2023, 6, 1))))
	assert.False(t, x.Match(entryWith("new", day(2024, 6, 1))))
}

func TestExtract_DateExact(t *testing.T) {
	x := Extract(`dt:"2024-04-15" filing day`)

	assert.Equal(t, "filing day", x.Residual)
	assert.True(t, x.Match(entryWith("on the day", time.Date(2024, 4, 15, 18, 30, 0, 0, time.UTC))))
	assert.False(t, x.Match(entryWith("day before", day(2024, 4, 14))))
}

func TestExtract_DateIntersectsSet(t *testing.T) {
	x := Extract(`dt>"2024-01-01"`)

	// One qualifying date in the set is enough.
	assert.True(t, x.Match(entryWith("mixed dates", day(2023, 1, 1), day(2024, 6, 1))))
}

func TestExtract_FileGlob(t *testing.T) {
	x := Extract(`tax deadline file:"finance/*"`)

	assert.Equal(t, "tax deadline", x.Residual)
	assert.Equal(t, []string{"finance/*"}, x.PathGlobs)

	match := x.PathMatch()
	require.NotNil(t, match)
	assert.True(t, match("finance/taxes.md"))
	assert.False(t, match("recipes/cake.md"))
	assert.False(t, match("finance/2024/taxes.md"), "single * stays within one segment")
}

func TestExtract_Words(t *testing.T) {
	x := Extract(`meeting notes +"budget" -"draft"`)

	assert.Equal(t, "meeting notes", x.Residual)
	require.Len(t, x.Predicates, 2)

	assert.True(t, x.Match(entryWith("Q3 Budget review")))
	assert.False(t, x.Match(entryWith("budget DRAFT, do not share")))
	assert.False(t, x.Match(entryWith("agenda without the word")))
}

func TestExtract_MalformedSyntaxStaysLiteral(t *testing.T) {
	// An unparseable date is not filter syntax; it stays in the query.
	x := Extract(`notes dt>"not-a-date"`)
	assert.Equal(t, `notes dt>"not-a-date"`, x.Residual)
	assert.Empty(t, x.Predicates)

	// Same for an empty glob and an empty word.
	x = Extract(`notes file:"" +""`)
	assert.Equal(t, `notes file:"" +""`, x.Residual)
	assert.Empty(t, x.Predicates)
	assert.Empty(t, x.PathGlobs)
}

func TestExtract_CombinedQuery(t *testing.T) {
	x := Extract(`"tax deadline" dt>"2024-01-01" file:"finance/*"`)

	assert.Equal(t, `"tax deadline"`, x.Residual)
	assert.Len(t, x.Predicates, 1)
	assert.Equal(t, []string{"finance/*"}, x.PathGlobs)
	assert.NotContains(t, x.Residual, "dt>")
	assert.NotContains(t, x.Residual, "file:")
}

func TestExtract_NoFilters(t *testing.T) {
	x := Extract("plain semantic query")

	assert.Equal(t, "plain semantic query", x.Residual)
	assert.Empty(t, x.Predicates)
	assert.Empty(t, x.PathGlobs)
	assert.Nil(t, x.PathMatch())
	assert.True(t, x.Match(entryWith("anything")))
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"finance/*", "finance/taxes.md", true},
		{"finance/*", "finance/sub/taxes.md", false},
		{"finance/**", "finance/sub/taxes.md", true},
		{"finance/**", "finance/taxes.md", true},
		{"**/taxes.md", "finance/2024/taxes.md", true},
		{"**/*.md", "deep/path/to/note.md", true},
		{"*.md", "note.md", true},
		{"*.md", "dir/note.md", false},
		{"finance/*.md", "finance/taxes.txt", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchGlob(tt.pattern, tt.path),
			"pattern %q against %q", tt.pattern, tt.path)
	}
}
