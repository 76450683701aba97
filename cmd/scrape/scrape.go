// Package scrape implements the scrape command, which runs the
// collection pipeline for all or selected sources.
package scrape

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lumen-medical/medcollect/internal/bootstrap"
	"github.com/lumen-medical/medcollect/internal/checkpoint"
	"github.com/lumen-medical/medcollect/internal/config"
	"github.com/lumen-medical/medcollect/internal/dedup"
	"github.com/lumen-medical/medcollect/internal/logger"
	"github.com/lumen-medical/medcollect/internal/scraper"
)

// Command returns the scrape command.
func Command() *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "scrape [source...]",
		Short: "Collect data from medical sources",
		Long: `Run the collection pipeline. With no arguments every enabled
source runs in order; naming sources restricts the run. Interrupted
runs resume from their checkpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args, fresh)
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false,
		"clear checkpoints and start the selected sources from scratch")

	return cmd
}

func run(ctx context.Context, sources []string, fresh bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	// Fresh restarts reset state before the writers scan for existing
	// batches, so batch numbering starts over at zero.
	if fresh {
		names, namesErr := bootstrap.Enabled(cfg, sources)
		if namesErr != nil {
			return namesErr
		}

		if err := freshStart(cfg, names); err != nil {
			return err
		}
	}

	app, err := bootstrap.Build(cfg, log, sources)
	if err != nil {
		return err
	}
	defer app.Close()

	if len(app.Sources) == 0 {
		log.Warn("no enabled sources selected, nothing to do")
		return nil
	}

	// SIGINT/SIGTERM stop the run after the current source persists its
	// checkpoint; the next run resumes.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting collection", "sources", app.Sources)

	summaries, runErr := app.Orchestrator.RunAll(ctx)

	renderSummary(summaries)

	// ErrRunFailed propagates so the process exits non-zero when any
	// source failed, per-source isolation notwithstanding.
	return runErr
}

// timeRounding keeps summary durations readable.
const timeRounding = time.Millisecond

// freshStart wipes per-source run state: checkpoint, dedup ledger rows,
// and previous batch/category files. Without the ledger reset a fresh
// run would re-fetch everything and suppress every record as a
// duplicate.
func freshStart(cfg *config.Config, sources []string) error {
	store := checkpoint.NewStore(cfg.Collector.OutputDir, nil)

	var ledger *dedup.Ledger
	if cfg.Collector.DedupDB != "" {
		opened, err := dedup.Open(cfg.Collector.DedupDB)
		if err != nil {
			return fmt.Errorf("open dedup ledger: %w", err)
		}
		defer opened.Close()

		ledger = opened
	}

	for _, name := range sources {
		if err := store.Clear(name); err != nil {
			return fmt.Errorf("clear checkpoint for %s: %w", name, err)
		}

		if ledger != nil {
			if err := ledger.Forget(name); err != nil {
				return err
			}
		}

		if err := removeOutputFiles(cfg.Collector.OutputDir, name); err != nil {
			return err
		}
	}

	return nil
}

// removeOutputFiles deletes a source's batch and category files. Only
// the <source>_*.json pattern is touched; anything else in the source
// directory (the DrugBank export, for one) stays.
func removeOutputFiles(outputDir, source string) error {
	matches, err := filepath.Glob(filepath.Join(outputDir, source, source+"_*.json"))
	if err != nil {
		return fmt.Errorf("scan output files for %s: %w", source, err)
	}

	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	return nil
}

// renderSummary prints the per-source outcome table.
func renderSummary(summaries []*scraper.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{
		"Source", "Records", "Duplicates", "Skipped", "Batches", "Duration", "Status",
	})

	for _, s := range summaries {
		status := "completed"
		if s.Err != nil {
			status = "failed: " + s.Err.Error()
		} else if !s.Completed {
			status = "interrupted"
		}

		t.AppendRow(table.Row{
			s.Source, s.Records, s.Duplicates, s.Skipped, s.Batches,
			s.Duration.Round(timeRounding), status,
		})
	}

	t.Render()
}
