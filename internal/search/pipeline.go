package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jrmatherly/apollos/internal/embed"
	apperrors "github.com/jrmatherly/apollos/internal/errors"
	"github.com/jrmatherly/apollos/internal/filter"
	"github.com/jrmatherly/apollos/internal/store"
)

// Pipeline orchestrates a search: extract filters, embed the residual
// query, over-fetch candidates, apply predicates, rerank, dedupe,
// truncate.
type Pipeline struct {
	embedder     embed.Embedder
	crossEncoder embed.CrossEncoder // nil disables reranking
	entries      store.EntryStore
	config       Config
}

// New creates a pipeline. crossEncoder may be nil, in which case every
// search returns vector-ordered results.
func New(embedder embed.Embedder, crossEncoder embed.CrossEncoder, entries store.EntryStore, cfg Config) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		embedder:     embedder,
		crossEncoder: crossEncoder,
		entries:      entries,
		config:       cfg,
	}
}

// Search runs the full pipeline. An empty candidate set is an empty
// result, not an error. A rerank failure or timeout degrades to cosine
// ordering; a query-embedding failure fails the request, because without
// a query vector no search is possible.
func (p *Pipeline) Search(ctx context.Context, rawQuery string, corpusIDs []string, opts Options) ([]Result, error) {
	start := time.Now()

	extraction := filter.Extraction{Residual: strings.TrimSpace(rawQuery)}
	if opts.FiltersEnabled {
		extraction = filter.Extract(rawQuery)
	}

	semanticQuery := extraction.Residual
	if semanticQuery == "" {
		return nil, apperrors.New(apperrors.ErrCodeEmptyQuery, "query is empty after filter extraction", nil)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = p.config.DefaultTopK
	}
	if topK > p.config.MaxTopK {
		topK = p.config.MaxTopK
	}

	queryVec, err := p.embedder.EmbedQuery(ctx, semanticQuery)
	if err != nil {
		return nil, err
	}

	candidateK := topK * p.config.OversampleFactor
	if candidateK < p.config.MinCandidates {
		candidateK = p.config.MinCandidates
	}

	scored, err := p.entries.Query(ctx, queryVec, store.QueryOptions{
		CorpusIDs: corpusIDs,
		TopK:      candidateK,
		PathMatch: extraction.PathMatch(),
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		if !extraction.Match(s.Entry) {
			continue
		}
		results = append(results, Result{
			Entry:      s.Entry,
			Score:      float64(s.Similarity),
			Similarity: s.Similarity,
		})
	}

	if len(results) == 0 {
		return []Result{}, nil
	}

	if opts.Rerank && p.crossEncoder != nil {
		results = p.rerank(ctx, semanticQuery, results)
	}

	results = dedupe(results)

	if len(results) > topK {
		results = results[:topK]
	}

	slog.Debug("search_complete",
		slog.String("query", semanticQuery),
		slog.Int("candidates", len(scored)),
		slog.Int("results", len(results)),
		slog.Bool("reranked", len(results) > 0 && results[0].Reranked),
		slog.Duration("duration", time.Since(start)))

	return results, nil
}

// rerank scores the candidates with the cross-encoder and re-sorts by
// score descending, breaking ties by cosine similarity descending, then
// entry ID ascending. Any failure, including the timeout, returns the
// input untouched so the caller still gets vector-ordered results.
func (p *Pipeline) rerank(ctx context.Context, query string, results []Result) []Result {
	rerankCtx, cancel := context.WithTimeout(ctx, p.config.RerankTimeout)
	defer cancel()

	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Entry.Text
	}

	scores, err := p.crossEncoder.ScorePairs(rerankCtx, query, passages)
	if err != nil || len(scores) != len(results) {
		if err != nil {
			slog.Warn("rerank_degraded_to_vector_order",
				slog.Int("candidates", len(results)),
				slog.String("error", err.Error()))
		}
		return results
	}

	for i := range results {
		results[i].Score = scores[i]
		results[i].Reranked = true
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})

	return results
}
