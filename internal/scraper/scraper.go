// Package scraper implements the shared collection lifecycle every
// source follows: load checkpoint, fetch pages through the rate-limited
// retrying client, accumulate records, flush batches atomically, advance
// the checkpoint, and report a run summary. Sources plug in as small
// values implementing the Source interface; they carry no rate-limit,
// retry, or checkpoint logic of their own.
package scraper

import (
	"context"
	"time"

	"github.com/lumen-medical/medcollect/internal/output"
)

// Page is the result of fetching and parsing one unit of work from a
// source: the records extracted, how many items were skipped as
// malformed, and where the pagination stands.
type Page struct {
	Records    []output.Record
	Skipped    int
	NextCursor int
	Done       bool // segment exhausted
}

// Source is the capability set a scraper specializes: naming, the
// ordered segments of work (queries, endpoints, categories), and
// fetching one page of one segment. Pacing, retry, checkpointing,
// batching, and dedup all live in the Runner.
type Source interface {
	Name() string
	Segments() []string
	FetchPage(ctx context.Context, segment string, cursor int) (*Page, error)
}

// Summary reports the outcome of one source's run.
type Summary struct {
	Source     string
	Records    int
	Duplicates int
	Skipped    int
	Batches    int
	Completed  bool
	Duration   time.Duration
	Err        error
}
