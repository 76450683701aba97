// Package output writes scraped records to the content-addressed raw
// data tree: data/raw/<source>/<source>_batch_<n>.json for sequential
// batches and data/raw/<source>/<source>_<category>.json for categorized
// collections. Every file is a complete JSON document written via
// temp-file-then-rename, so a crash mid-write never leaves a truncated
// file under the final name.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumen-medical/medcollect/internal/logger"
)

// maxCategoryFilenameLen bounds sanitized category names in filenames.
const maxCategoryFilenameLen = 50

var unsafeFilenameChars = regexp.MustCompile(`[^\w\-]`)

// Writer accumulates records for one source and flushes them as atomic
// batch files. A Writer is owned by a single scraper loop and is not
// safe for concurrent use.
type Writer struct {
	dir       string
	source    string
	runID     string
	batchSize int
	log       logger.Interface
	buf       []Record
	nextBatch int
	batches   int
	records   int
}

// NewWriter creates a Writer for source under baseDir. It scans for
// existing batch files so a resumed run continues numbering rather than
// overwriting earlier output.
func NewWriter(baseDir, source string, batchSize int, log logger.Interface) (*Writer, error) {
	if log == nil {
		log = logger.NewNoop()
	}

	dir := filepath.Join(baseDir, source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}

	next, scanErr := nextBatchIndex(dir, source)
	if scanErr != nil {
		return nil, scanErr
	}

	return &Writer{
		dir:       dir,
		source:    source,
		runID:     uuid.NewString(),
		batchSize: batchSize,
		log:       log,
		nextBatch: next,
	}, nil
}

// Dir returns the source's output directory.
func (w *Writer) Dir() string { return w.dir }

// Append buffers a record, flushing a batch file when the buffer reaches
// the batch size. Returns an error only if the flush fails.
func (w *Writer) Append(rec Record) error {
	w.buf = append(w.buf, rec)

	if len(w.buf) >= w.batchSize {
		return w.Flush()
	}

	return nil
}

// Pending returns the number of buffered, not-yet-flushed records.
func (w *Writer) Pending() int { return len(w.buf) }

// BatchesWritten returns the number of batch files written so far.
func (w *Writer) BatchesWritten() int { return w.batches }

// RecordsWritten returns the number of records durably flushed so far.
func (w *Writer) RecordsWritten() int { return w.records }

// Flush writes all buffered records as one batch file. A no-op when the
// buffer is empty.
func (w *Writer) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	name := fmt.Sprintf("%s_batch_%d.json", w.source, w.nextBatch)
	if err := w.writeFile(name, w.buf, nil); err != nil {
		return err
	}

	w.log.Debug("batch flushed",
		"source", w.source, "file", name, "records", len(w.buf))

	w.records += len(w.buf)
	w.batches++
	w.nextBatch++
	w.buf = w.buf[:0]

	return nil
}

// WriteCategory writes a categorized collection to
// <source>_<category>.json, independent of the sequential batches.
// Records already in the file are kept, so categorized output
// accumulates across resumed runs instead of being overwritten with
// only the latest run's records.
func (w *Writer) WriteCategory(category string, recs []Record, extra map[string]any) error {
	name := fmt.Sprintf("%s_%s.json", w.source, SanitizeCategory(category))

	merged, err := w.mergeExisting(name, recs)
	if err != nil {
		return err
	}

	return w.writeFile(name, merged, extra)
}

// mergeExisting prepends the records already in the category file,
// dropping incoming records whose ID is already present.
func (w *Writer) mergeExisting(name string, recs []Record) ([]Record, error) {
	data, readErr := os.ReadFile(filepath.Join(w.dir, name))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return recs, nil
		}

		return nil, fmt.Errorf("read category file %s: %w", name, readErr)
	}

	var existing envelope
	if unmarshalErr := json.Unmarshal(data, &existing); unmarshalErr != nil {
		// A corrupt category file is rebuilt from the current run.
		w.log.Warn("corrupt category file rewritten", "file", name)
		return recs, nil
	}

	present := make(map[string]bool, len(existing.Data))
	for _, rec := range existing.Data {
		present[rec.ID] = true
	}

	merged := existing.Data
	for _, rec := range recs {
		if rec.ID != "" && present[rec.ID] {
			continue
		}

		merged = append(merged, rec)
	}

	return merged, nil
}

// writeFile serializes the provenance envelope and writes it atomically.
func (w *Writer) writeFile(name string, recs []Record, extra map[string]any) error {
	env := envelope{
		Metadata: Metadata{
			Source:    w.source,
			RunID:     w.runID,
			Timestamp: time.Now().UTC(),
			Count:     len(recs),
			Extra:     extra,
		},
		Data: recs,
	}

	data, marshalErr := json.MarshalIndent(env, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("marshal %s: %w", name, marshalErr)
	}

	return atomicWrite(filepath.Join(w.dir, name), data)
}

// SanitizeCategory converts a category label into a safe filename
// fragment: lowercased, non-word characters collapsed to underscores,
// length-bounded.
func SanitizeCategory(category string) string {
	cleaned := strings.ToLower(strings.TrimSpace(category))
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	cleaned = strings.ReplaceAll(cleaned, "/", "_")
	cleaned = unsafeFilenameChars.ReplaceAllString(cleaned, "_")

	if len(cleaned) > maxCategoryFilenameLen {
		cleaned = cleaned[:maxCategoryFilenameLen]
	}

	return cleaned
}

// nextBatchIndex counts existing batch files for the source so resumed
// runs continue the sequence.
func nextBatchIndex(dir, source string) (int, error) {
	matches, globErr := filepath.Glob(filepath.Join(dir, source+"_batch_*.json"))
	if globErr != nil {
		return 0, fmt.Errorf("scan existing batches in %s: %w", dir, globErr)
	}

	return len(matches), nil
}

// atomicWrite writes data via temp file + rename in the target directory.
func atomicWrite(path string, data []byte) error {
	tmp, tmpErr := os.CreateTemp(filepath.Dir(path), ".batch-*")
	if tmpErr != nil {
		return fmt.Errorf("create temp output: %w", tmpErr)
	}

	tmpName := tmp.Name()

	if _, writeErr := tmp.Write(data); writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp output: %w", writeErr)
	}

	if syncErr := tmp.Sync(); syncErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp output: %w", syncErr)
	}

	if closeErr := tmp.Close(); closeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp output: %w", closeErr)
	}

	if renameErr := os.Rename(tmpName, path); renameErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename output: %w", renameErr)
	}

	return nil
}
