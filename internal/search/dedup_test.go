package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jrmatherly/apollos/internal/store"
)

func resultWithText(id, text string) Result {
	return Result{Entry: &store.Entry{ID: id, Text: text}}
}

func TestDedupe_NormalizesWhitespaceAndCase(t *testing.T) {
	in := []Result{
		resultWithText("a", "Quarterly   Tax\nDeadline"),
		resultWithText("b", "quarterly tax deadline"),
		resultWithText("c", "unrelated"),
	}

	out := dedupe(in)
	assert.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Entry.ID, "first instance wins")
	assert.Equal(t, "c", out[1].Entry.ID)
}

func TestDedupe_PreservesOrder(t *testing.T) {
	in := []Result{
		resultWithText("1", "alpha"),
		resultWithText("2", "bravo"),
		resultWithText("3", "alpha"),
		resultWithText("4", "charlie"),
	}

	out := dedupe(in)
	ids := make([]string, len(out))
	for i, r := range out {
		ids[i] = r.Entry.ID
	}
	assert.Equal(t, []string{"1", "2", "4"}, ids)
}

func TestDedupe_Empty(t *testing.T) {
	assert.Empty(t, dedupe(nil))
}
