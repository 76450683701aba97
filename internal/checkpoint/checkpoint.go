// Package checkpoint persists per-source progress markers so an
// interrupted collection run can resume without repeating completed work.
//
// Ordering invariant: callers save a checkpoint only after the batch of
// records it covers has been durably flushed. A crash between flush and
// save therefore causes re-fetch and downstream dedup of already-written
// records, never data loss.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lumen-medical/medcollect/internal/logger"
)

// checkpointFile is the filename used inside each source's output dir.
const checkpointFile = "checkpoint.json"

// ErrCursorRegression is returned when a save would move the cursor
// backwards within the same segment.
var ErrCursorRegression = errors.New("checkpoint cursor regression")

// Checkpoint records how far a source's collection has progressed.
// Cursor is the last offset/page/index fully processed; Segment names the
// query, category, or sub-collection the cursor applies to.
type Checkpoint struct {
	Source       string    `json:"source"`
	Segment      string    `json:"segment,omitempty"`
	Cursor       int       `json:"cursor"`
	SegmentsDone []string  `json:"segments_done,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Completed    bool      `json:"completed"`
}

// SegmentDone reports whether the named segment has been fully processed.
func (c *Checkpoint) SegmentDone(segment string) bool {
	for _, done := range c.SegmentsDone {
		if done == segment {
			return true
		}
	}

	return false
}

// Store reads and writes checkpoint files under a base directory, one
// per source, colocated with that source's output.
type Store struct {
	baseDir string
	log     logger.Interface
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string, log logger.Interface) *Store {
	if log == nil {
		log = logger.NewNoop()
	}

	return &Store{baseDir: baseDir, log: log}
}

// Path returns the checkpoint file path for a source.
func (s *Store) Path(source string) string {
	return filepath.Join(s.baseDir, source, checkpointFile)
}

// Load returns the checkpoint for source, or nil if none exists. A
// corrupt checkpoint file is treated as absent: the run restarts from the
// beginning, which is acceptable because outputs are deduplicated.
func (s *Store) Load(source string) (*Checkpoint, error) {
	data, readErr := os.ReadFile(s.Path(source))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil
		}

		return nil, fmt.Errorf("read checkpoint for %s: %w", source, readErr)
	}

	var cp Checkpoint
	if unmarshalErr := json.Unmarshal(data, &cp); unmarshalErr != nil {
		s.log.Warn("corrupt checkpoint, restarting from scratch",
			"source", source, "error", unmarshalErr.Error())
		return nil, nil
	}

	return &cp, nil
}

// Save atomically persists the checkpoint for source. The cursor must
// not move backwards within the same segment.
func (s *Store) Save(source string, cp *Checkpoint) error {
	existing, loadErr := s.Load(source)
	if loadErr != nil {
		return loadErr
	}

	if existing != nil && existing.Segment == cp.Segment && cp.Cursor < existing.Cursor {
		return fmt.Errorf("%w: %s segment %q cursor %d < %d",
			ErrCursorRegression, source, cp.Segment, cp.Cursor, existing.Cursor)
	}

	cp.Source = source
	cp.Timestamp = time.Now().UTC()

	data, marshalErr := json.MarshalIndent(cp, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("marshal checkpoint for %s: %w", source, marshalErr)
	}

	path := s.Path(source)
	if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755); mkdirErr != nil {
		return fmt.Errorf("create checkpoint dir for %s: %w", source, mkdirErr)
	}

	return atomicWrite(path, data)
}

// Clear removes the checkpoint for source, if any.
func (s *Store) Clear(source string) error {
	err := os.Remove(s.Path(source))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint for %s: %w", source, err)
	}

	return nil
}

// atomicWrite writes data to path via a temp file and rename so a crash
// mid-write never leaves a partial file under the final name.
func atomicWrite(path string, data []byte) error {
	tmp, tmpErr := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if tmpErr != nil {
		return fmt.Errorf("create temp checkpoint: %w", tmpErr)
	}

	tmpName := tmp.Name()

	if _, writeErr := tmp.Write(data); writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp checkpoint: %w", writeErr)
	}

	if syncErr := tmp.Sync(); syncErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp checkpoint: %w", syncErr)
	}

	if closeErr := tmp.Close(); closeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", closeErr)
	}

	if renameErr := os.Rename(tmpName, path); renameErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", renameErr)
	}

	return nil
}
