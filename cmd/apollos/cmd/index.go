package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jrmatherly/apollos/internal/chunk"
	"github.com/jrmatherly/apollos/internal/index"
	"github.com/jrmatherly/apollos/internal/output"
	"github.com/jrmatherly/apollos/internal/store"
)

func newIndexCmd() *cobra.Command {
	var corpusID string

	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Index a directory of text files into a corpus",
		Long: `Index walks a directory of text files (.md, .txt) and indexes them
into the given corpus. Unchanged files are skipped by content hash, so
re-running after an edit only processes what changed.

Examples:
  apollos index --corpus alice ~/notes
  apollos index --corpus alice --data-dir /tmp/apollos ~/notes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if corpusID == "" {
				return fmt.Errorf("--corpus is required")
			}
			return runIndex(cmd.Context(), cmd, corpusID, args[0])
		},
	}

	cmd.Flags().StringVarP(&corpusID, "corpus", "c", "", "Corpus to index into (required)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, corpusID, dir string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	units, err := collectContentUnits(dir)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		out.Println("No indexable files found (.md, .txt)")
	}

	embedder, entries, err := openCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCore(embedder, entries)

	indexer := index.New(chunk.NewTextChunkerWithOptions(chunk.Options{
		MaxTokens:     cfg.Index.ChunkTokens,
		OverlapTokens: cfg.Index.ChunkOverlapTokens,
	}), embedder, entries, index.Config{
		LockDir:     filepath.Join(cfg.DataDir, "locks"),
		Parallelism: cfg.Index.Parallelism,
		BatchSize:   cfg.Index.BatchSize,
	})

	result, err := indexer.Index(ctx, corpusID, units)
	if err != nil {
		return err
	}

	out.Successf("Indexed %d files in %s", result.FilesCreated+result.FilesUpdated, result.Duration.Round(time.Millisecond))
	out.Printf("  created: %d  updated: %d  deleted: %d  skipped: %d  entries: %d\n",
		result.FilesCreated, result.FilesUpdated, result.FilesDeleted, result.FilesSkipped, result.EntriesWritten)
	if result.FilesFailed > 0 {
		out.Errorf("  failed: %d (re-run to retry; unchanged files are skipped)", result.FilesFailed)
	}
	return nil
}

// collectContentUnits walks dir for text files and reads them into content
// units keyed by their path relative to dir.
func collectContentUnits(dir string) ([]index.ContentUnit, error) {
	var units []index.ContentUnit

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexableFile(d.Name()) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		units = append(units, index.ContentUnit{
			FilePath:   filepath.ToSlash(rel),
			Text:       string(data),
			SourceType: store.SourceTypeFile,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return units, nil
}

func indexableFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".txt":
		return true
	default:
		return false
	}
}
