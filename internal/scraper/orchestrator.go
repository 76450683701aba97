package scraper

import (
	"context"
	"errors"

	"github.com/lumen-medical/medcollect/internal/logger"
)

// ErrRunFailed is returned by the orchestrator when at least one source
// terminated with a fatal error.
var ErrRunFailed = errors.New("one or more sources failed")

// Orchestrator runs registered runners strictly sequentially, isolating
// failures: one source's fatal error never stops its siblings.
type Orchestrator struct {
	runners []*Runner
	log     logger.Interface
}

// NewOrchestrator creates an orchestrator over the given runners. Order
// is preserved; runners execute one at a time.
func NewOrchestrator(runners []*Runner, log logger.Interface) *Orchestrator {
	if log == nil {
		log = logger.NewNoop()
	}

	return &Orchestrator{runners: runners, log: log}
}

// RunAll executes every runner in sequence and returns all summaries
// plus ErrRunFailed if any source failed. Context cancellation stops the
// sequence after the current source has persisted its checkpoint.
func (o *Orchestrator) RunAll(ctx context.Context) ([]*Summary, error) {
	summaries := make([]*Summary, 0, len(o.runners))
	failed := false

	for _, runner := range o.runners {
		summary := runner.Run(ctx)
		summaries = append(summaries, summary)

		if summary.Err != nil {
			failed = true
			o.log.Error("source failed",
				"source", summary.Source, "error", summary.Err.Error())
		} else {
			o.log.Info("source completed",
				"source", summary.Source,
				"records", summary.Records,
				"batches", summary.Batches,
				"skipped", summary.Skipped,
				"duplicates", summary.Duplicates,
				"duration", summary.Duration.String())
		}

		if ctx.Err() != nil {
			break
		}
	}

	if failed {
		return summaries, ErrRunFailed
	}

	return summaries, nil
}
