package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jrmatherly/apollos/internal/config"
	"github.com/jrmatherly/apollos/internal/embed"
	"github.com/jrmatherly/apollos/internal/output"
	"github.com/jrmatherly/apollos/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	corpusIDs []string
	limit     int
	format    string // "text", "json"
	noFilters bool
	noRerank  bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed corpora",
		Long: `Search runs a natural-language query against one or more corpora.

Query syntax filters are applied before the semantic match:
  dt>"2024-01-01"    entries dated after a bound (also dt< and dt:)
  file:"finance/*"   entries whose path matches a glob
  +"word" / -"word"  require or exclude an exact word

Examples:
  apollos search --corpus alice "tax deadline"
  apollos search --corpus alice 'tax deadline dt>"2024-01-01" file:"finance/*"'
  apollos search --corpus alice --format json "meeting notes"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.corpusIDs) == 0 {
				return fmt.Errorf("--corpus is required")
			}
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.corpusIDs, "corpus", "c", nil, "Corpus to search (repeatable)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 uses the configured default)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noFilters, "no-filters", false, "Treat filter syntax as literal query text")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip cross-encoder reranking")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	embedder, entries, err := openCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCore(embedder, entries)

	crossEncoder := openCrossEncoder(ctx, cfg)
	if crossEncoder != nil {
		defer func() { _ = crossEncoder.Close() }()
	}

	pipeline := search.New(embedder, crossEncoder, entries, search.Config{
		DefaultTopK:      cfg.Search.DefaultTopK,
		MaxTopK:          cfg.Search.MaxTopK,
		OversampleFactor: cfg.Search.OversampleFactor,
		MinCandidates:    cfg.Search.MinCandidates,
		RerankTimeout:    cfg.Reranker.Timeout,
	})

	results, err := pipeline.Search(ctx, query, opts.corpusIDs, search.Options{
		TopK:           opts.limit,
		FiltersEnabled: !opts.noFilters,
		Rerank:         !opts.noRerank && crossEncoder != nil,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return printJSON(cmd, results)
	}
	printText(out, query, results)
	return nil
}

// openCrossEncoder connects to the configured rerank service. An
// unreachable or disabled reranker returns nil, which degrades search to
// vector-similarity ordering.
func openCrossEncoder(ctx context.Context, cfg *config.Config) embed.CrossEncoder {
	if !cfg.Reranker.Enabled || cfg.Reranker.Endpoint == "" {
		return nil
	}
	ce, err := embed.NewHTTPCrossEncoder(ctx, embed.CrossEncoderConfig{
		Endpoint: cfg.Reranker.Endpoint,
		Model:    cfg.Reranker.Model,
		Timeout:  cfg.Reranker.Timeout,
	})
	if err != nil {
		slog.Warn("rerank_service_unreachable", slog.String("error", err.Error()))
		return nil
	}
	return ce
}

// searchResultJSON is the stable JSON shape for --format json.
type searchResultJSON struct {
	ID         string  `json:"id"`
	CorpusID   string  `json:"corpus_id"`
	FilePath   string  `json:"file_path"`
	Score      float64 `json:"score"`
	Similarity float32 `json:"similarity"`
	Reranked   bool    `json:"reranked"`
	Text       string  `json:"text"`
}

func printJSON(cmd *cobra.Command, results []search.Result) error {
	out := make([]searchResultJSON, len(results))
	for i, r := range results {
		out[i] = searchResultJSON{
			ID:         r.Entry.ID,
			CorpusID:   r.Entry.CorpusID,
			FilePath:   r.Entry.FilePath,
			Score:      r.Score,
			Similarity: r.Similarity,
			Reranked:   r.Reranked,
			Text:       r.Entry.Text,
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printText(out *output.Writer, query string, results []search.Result) {
	if len(results) == 0 {
		out.Printf("No results for %q\n", query)
		return
	}

	for i, r := range results {
		out.Printf("%d. %s %s\n", i+1, out.Bold(r.Entry.FilePath), out.Dim(fmt.Sprintf("(score %.3f)", r.Score)))
		out.Printf("   %s\n", snippet(r.Entry.Text, 160))
	}
	out.Printf("\n%d results\n", len(results))
}

// snippet flattens text to one line and truncates it on a rune boundary.
func snippet(text string, maxLen int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= maxLen {
		return flat
	}
	return string(runes[:maxLen]) + "…"
}
