package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumen-medical/medcollect/internal/checkpoint"
	"github.com/lumen-medical/medcollect/internal/dedup"
	"github.com/lumen-medical/medcollect/internal/fetch"
	"github.com/lumen-medical/medcollect/internal/logger"
	"github.com/lumen-medical/medcollect/internal/output"
)

// Runner drives one Source through the full collection lifecycle.
// Run is idempotent across process restarts given the same checkpoint
// state: completed segments are skipped, and the cursor resumes where
// the last durably-flushed batch left off.
type Runner struct {
	src         Source
	checkpoints *checkpoint.Store
	writer      *output.Writer
	ledger      *dedup.Ledger // nil disables cross-run dedup
	log         logger.Interface

	// bookkeeping for the current run
	appendedIDs []string // IDs appended to the writer, in order
	markedCount int      // prefix of appendedIDs already marked in the ledger
	categorized map[string][]output.Record
}

// NewRunner assembles a Runner.
func NewRunner(
	src Source,
	checkpoints *checkpoint.Store,
	writer *output.Writer,
	ledger *dedup.Ledger,
	log logger.Interface,
) *Runner {
	if log == nil {
		log = logger.NewNoop()
	}

	return &Runner{
		src:         src,
		checkpoints: checkpoints,
		writer:      writer,
		ledger:      ledger,
		log:         log.With("source", src.Name()),
		categorized: make(map[string][]output.Record),
	}
}

// Run executes the source to exhaustion or fatal error. A fatal error
// (pagination fetch exhausted retries, output/checkpoint unwritable) is
// returned in the Summary after persisting everything already fetched;
// it never panics and never leaves the checkpoint ahead of the data.
func (r *Runner) Run(ctx context.Context) *Summary {
	start := time.Now()
	name := r.src.Name()

	summary := &Summary{Source: name}

	cp, loadErr := r.checkpoints.Load(name)
	if loadErr != nil {
		summary.Err = loadErr
		summary.Duration = time.Since(start)
		return summary
	}

	if cp != nil && cp.Completed {
		r.log.Info("already completed, nothing to do")
		summary.Completed = true
		summary.Duration = time.Since(start)
		return summary
	}

	if cp == nil {
		cp = &checkpoint.Checkpoint{}
	} else {
		r.log.Info("resuming from checkpoint",
			"segment", cp.Segment, "cursor", cp.Cursor)
	}

	runErr := r.runSegments(ctx, cp, summary)

	// Persist whatever is buffered before reporting, success or not.
	if finishErr := r.finish(cp, runErr == nil); finishErr != nil && runErr == nil {
		runErr = finishErr
	}

	summary.Err = runErr
	summary.Completed = runErr == nil
	summary.Records = r.writer.RecordsWritten()
	summary.Batches = r.writer.BatchesWritten()
	summary.Duration = time.Since(start)

	return summary
}

// runSegments walks every segment of the source in order.
func (r *Runner) runSegments(ctx context.Context, cp *checkpoint.Checkpoint, summary *Summary) error {
	for _, segment := range r.src.Segments() {
		if cp.SegmentDone(segment) {
			r.log.Debug("segment already done", "segment", segment)
			continue
		}

		cursor := 0
		if cp.Segment == segment {
			cursor = cp.Cursor
		}

		if err := r.runSegment(ctx, cp, summary, segment, cursor); err != nil {
			return err
		}

		cp.SegmentsDone = append(cp.SegmentsDone, segment)
		cp.Segment = ""
		cp.Cursor = 0
	}

	return nil
}

// runSegment pages through one segment until the source reports
// exhaustion. The checkpoint advances only at page boundaries where all
// appended records have been durably flushed.
func (r *Runner) runSegment(
	ctx context.Context,
	cp *checkpoint.Checkpoint,
	summary *Summary,
	segment string,
	cursor int,
) error {
	r.log.Info("collecting segment", "segment", segment, "cursor", cursor)

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		page, fetchErr := r.src.FetchPage(ctx, segment, cursor)
		if fetchErr != nil {
			// A robots.txt disallow is a skip, not a failure: the segment
			// is counted and the run moves on.
			if errors.Is(fetchErr, fetch.ErrRobotsDisallowed) {
				r.log.Warn("segment disallowed by robots.txt", "segment", segment)
				summary.Skipped++
				return nil
			}

			return fmt.Errorf("segment %s cursor %d: %w", segment, cursor, fetchErr)
		}

		summary.Skipped += page.Skipped

		if appendErr := r.appendRecords(page.Records, summary); appendErr != nil {
			return appendErr
		}

		cursor = page.NextCursor
		cp.Segment = segment

		// Only advance the durable cursor when nothing is buffered:
		// everything up to this page boundary is on disk.
		if r.writer.Pending() == 0 && r.writer.RecordsWritten() > 0 {
			if saveErr := r.saveProgress(cp, cursor); saveErr != nil {
				return saveErr
			}
		}

		if page.Done {
			return nil
		}
	}
}

// appendRecords pushes a page of records through dedup and the batch
// writer.
func (r *Runner) appendRecords(records []output.Record, summary *Summary) error {
	for _, rec := range records {
		if r.ledger != nil && rec.ID != "" {
			seen, seenErr := r.ledger.Seen(r.src.Name(), rec.ID)
			if seenErr != nil {
				return seenErr
			}

			if seen {
				summary.Duplicates++
				continue
			}
		}

		if rec.Category != "" {
			r.categorized[rec.Category] = append(r.categorized[rec.Category], rec)
		}

		if appendErr := r.writer.Append(rec); appendErr != nil {
			return fmt.Errorf("append record: %w", appendErr)
		}

		r.appendedIDs = append(r.appendedIDs, rec.ID)
	}

	return r.markFlushed()
}

// markFlushed records durably-flushed IDs in the dedup ledger. Called
// whenever the writer may have flushed; marking lags flushing, never
// leads it.
func (r *Runner) markFlushed() error {
	if r.ledger == nil {
		return nil
	}

	flushed := r.writer.RecordsWritten()
	if flushed <= r.markedCount {
		return nil
	}

	newly := r.appendedIDs[r.markedCount:flushed]
	if err := r.ledger.MarkSeen(r.src.Name(), newly); err != nil {
		return err
	}

	r.markedCount = flushed

	return nil
}

// saveProgress persists the checkpoint at the given cursor.
func (r *Runner) saveProgress(cp *checkpoint.Checkpoint, cursor int) error {
	cp.Cursor = cursor

	if err := r.checkpoints.Save(r.src.Name(), cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	return nil
}

// finish flushes any buffered records, marks them in the ledger, writes
// categorized collections, and saves the final checkpoint. On a clean
// run the checkpoint is marked completed. Category files are written on
// failed runs too: the writer merges them with existing content, so an
// interrupted run's records are not lost when the resume skips them as
// duplicates.
func (r *Runner) finish(cp *checkpoint.Checkpoint, clean bool) error {
	if flushErr := r.writer.Flush(); flushErr != nil {
		return fmt.Errorf("final flush: %w", flushErr)
	}

	if markErr := r.markFlushed(); markErr != nil {
		return markErr
	}

	if catErr := r.writeCategories(); catErr != nil {
		return catErr
	}

	cp.Completed = clean

	if saveErr := r.checkpoints.Save(r.src.Name(), cp); saveErr != nil {
		return fmt.Errorf("save final checkpoint: %w", saveErr)
	}

	return nil
}

// writeCategories writes one categorized collection file per category
// observed during the run.
func (r *Runner) writeCategories() error {
	for category, recs := range r.categorized {
		extra := map[string]any{"category": category}

		if err := r.writer.WriteCategory(category, recs, extra); err != nil {
			return fmt.Errorf("write category %q: %w", category, err)
		}
	}

	return nil
}
