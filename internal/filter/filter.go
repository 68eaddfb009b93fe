// Package filter parses query-string filter syntax into predicates that
// narrow search candidates. Recognized syntax is stripped from the query
// before embedding; anything malformed stays in the query as literal text,
// never an error.
package filter

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/jrmatherly/apollos/internal/store"
)

// Predicate is a pure predicate over an entry.
type Predicate func(e *store.Entry) bool

// Extraction is the result of parsing filter syntax out of a raw query.
type Extraction struct {
	// Residual is the query with recognized filter syntax removed; this is
	// what gets embedded.
	Residual string

	// Predicates are the date and word predicates, applied to candidates
	// after vector search. They compose by AND.
	Predicates []Predicate

	// PathGlobs are file:"<glob>" patterns, pushed down into the vector
	// query rather than applied after it.
	PathGlobs []string
}

// Match reports whether an entry passes every predicate.
func (x *Extraction) Match(e *store.Entry) bool {
	for _, pred := range x.Predicates {
		if !pred(e) {
			return false
		}
	}
	return true
}

// PathMatch returns a path predicate for the extracted globs, or nil when
// no file filter is present.
func (x *Extraction) PathMatch() func(path string) bool {
	if len(x.PathGlobs) == 0 {
		return nil
	}
	globs := x.PathGlobs
	return func(path string) bool {
		for _, glob := range globs {
			if !MatchGlob(glob, path) {
				return false
			}
		}
		return true
	}
}

var (
	dateRe = regexp.MustCompile(`dt([<>:])"([^"]*)"`)
	fileRe = regexp.MustCompile(`file:"([^"]*)"`)
	wordRe = regexp.MustCompile(`([+-])"([^"]*)"`)
)

// Extract parses all recognized filter syntax out of rawQuery. Unparseable
// values (an invalid date, an empty glob) are left in the query untouched.
func Extract(rawQuery string) Extraction {
	var x Extraction
	query := rawQuery

	query = replaceMatches(query, dateRe, func(groups []string) bool {
		bound, err := parseDate(groups[2])
		if err != nil {
			return false
		}
		x.Predicates = append(x.Predicates, datePredicate(groups[1], bound))
		return true
	})

	query = replaceMatches(query, fileRe, func(groups []string) bool {
		if groups[1] == "" {
			return false
		}
		x.PathGlobs = append(x.PathGlobs, groups[1])
		return true
	})

	query = replaceMatches(query, wordRe, func(groups []string) bool {
		if groups[2] == "" {
			return false
		}
		x.Predicates = append(x.Predicates, wordPredicate(groups[1], groups[2]))
		return true
	})

	x.Residual = strings.Join(strings.Fields(query), " ")
	return x
}

// replaceMatches removes every match of re from query for which accept
// returns true. Rejected matches stay in place (lenient parsing).
func replaceMatches(query string, re *regexp.Regexp, accept func(groups []string) bool) string {
	var out strings.Builder
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(query, -1) {
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = query[loc[2*i]:loc[2*i+1]]
			}
		}
		if !accept(groups) {
			continue
		}
		out.WriteString(query[last:loc[0]])
		out.WriteString(" ")
		last = loc[1]
	}
	out.WriteString(query[last:])
	return out.String()
}

// dateLayouts are accepted date formats, most specific first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		d, err := time.Parse(layout, s)
		if err == nil {
			return d, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// datePredicate keeps entries whose dates set intersects the bound.
// Entries without dates never match a date filter.
func datePredicate(op string, bound time.Time) Predicate {
	return func(e *store.Entry) bool {
		for _, d := range e.Dates {
			switch op {
			case ">":
				if d.After(bound) {
					return true
				}
			case "<":
				if d.Before(bound) {
					return true
				}
			case ":":
				if sameDay(d, bound) {
					return true
				}
			}
		}
		return false
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// wordPredicate implements +"word" (must contain, case-insensitive) and
// -"word" (must not contain).
func wordPredicate(op, word string) Predicate {
	lowered := strings.ToLower(word)
	return func(e *store.Entry) bool {
		contains := strings.Contains(strings.ToLower(e.Text), lowered)
		if op == "+" {
			return contains
		}
		return !contains
	}
}

// MatchGlob matches a path against a glob pattern. A "*" segment element
// matches within one path segment; a "**" segment matches any number of
// segments, including none.
func MatchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// ** absorbs zero or more leading segments.
		for skip := 0; skip <= len(segs); skip++ {
			if matchSegments(pat[1:], segs[skip:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	matched, err := path.Match(pat[0], segs[0])
	if err != nil || !matched {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}
