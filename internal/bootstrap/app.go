// Package bootstrap assembles the collector from configuration: one
// rate-limited client, batch writer, and runner per enabled source,
// all sharing a checkpoint store and dedup ledger, sequenced by a
// single orchestrator.
package bootstrap

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/lumen-medical/medcollect/internal/checkpoint"
	"github.com/lumen-medical/medcollect/internal/config"
	"github.com/lumen-medical/medcollect/internal/dedup"
	"github.com/lumen-medical/medcollect/internal/fetch"
	"github.com/lumen-medical/medcollect/internal/logger"
	"github.com/lumen-medical/medcollect/internal/output"
	"github.com/lumen-medical/medcollect/internal/ratelimit"
	"github.com/lumen-medical/medcollect/internal/scraper"
	"github.com/lumen-medical/medcollect/internal/sources/clinicaltrials"
	"github.com/lumen-medical/medcollect/internal/sources/dailymed"
	"github.com/lumen-medical/medcollect/internal/sources/drugbank"
	"github.com/lumen-medical/medcollect/internal/sources/fdaguidance"
	"github.com/lumen-medical/medcollect/internal/sources/openfda"
	"github.com/lumen-medical/medcollect/internal/sources/pubmed"
	"github.com/lumen-medical/medcollect/internal/sources/rxnorm"
)

// SourceOrder is the fixed execution order; sources run one at a time.
var SourceOrder = []string{
	"pubmed", "openfda", "dailymed", "rxnorm", "clinicaltrials",
	"drugbank", "fda_guidance",
}

// App is the assembled collector.
type App struct {
	Orchestrator *scraper.Orchestrator
	Sources      []string // names of the sources that will run

	ledger   *dedup.Ledger
	drugbank *drugbank.Source
}

// Close releases the dedup ledger and any open source files.
func (a *App) Close() error {
	var firstErr error

	if a.drugbank != nil {
		if err := a.drugbank.Close(); err != nil {
			firstErr = err
		}
	}

	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Enabled resolves which sources a run covers: the enabled ones in
// SourceOrder, restricted to only when it is non-empty. Unknown names
// in only are an error.
func Enabled(cfg *config.Config, only []string) ([]string, error) {
	requested := make(map[string]bool, len(only))
	for _, name := range only {
		requested[name] = true
	}

	for name := range requested {
		if !contains(SourceOrder, name) {
			return nil, fmt.Errorf("unknown source %q (known: %v)", name, SourceOrder)
		}
	}

	var names []string

	for _, name := range SourceOrder {
		if !sourceConfig(cfg, name).Enabled {
			continue
		}

		if len(only) > 0 && !requested[name] {
			continue
		}

		names = append(names, name)
	}

	return names, nil
}

// Build wires runners for the enabled sources. When only is non-empty
// it restricts the run to those source names (still in SourceOrder).
func Build(cfg *config.Config, log logger.Interface, only []string) (*App, error) {
	if log == nil {
		log = logger.NewNoop()
	}

	names, err := Enabled(cfg, only)
	if err != nil {
		return nil, err
	}

	app := &App{}

	if cfg.Collector.DedupDB != "" {
		ledger, err := dedup.Open(cfg.Collector.DedupDB)
		if err != nil {
			return nil, fmt.Errorf("open dedup ledger: %w", err)
		}
		app.ledger = ledger
	}

	checkpoints := checkpoint.NewStore(cfg.Collector.OutputDir, log)

	// One robots cache for the whole run; per-host state is shared.
	var robots *fetch.RobotsChecker
	if cfg.Collector.RespectRobotsTxt {
		robots = fetch.NewRobotsChecker(
			&http.Client{Timeout: cfg.Collector.RequestTimeout},
			cfg.Collector.UserAgent)
	}

	var runners []*scraper.Runner

	for _, name := range names {
		srcCfg := sourceConfig(cfg, name)

		src, err := app.buildSource(cfg, name, srcCfg, robots, log)
		if err != nil {
			return nil, err
		}

		writer, err := output.NewWriter(
			cfg.Collector.OutputDir, src.Name(), cfg.Collector.BatchSize, log)
		if err != nil {
			return nil, fmt.Errorf("writer for %s: %w", name, err)
		}

		runners = append(runners, scraper.NewRunner(src, checkpoints, writer, app.ledger, log))
		app.Sources = append(app.Sources, name)
	}

	app.Orchestrator = scraper.NewOrchestrator(runners, log)

	return app, nil
}

// buildSource constructs one source with its own client and limiter so
// adaptive rate state never crosses sources.
func (a *App) buildSource(
	cfg *config.Config,
	name string,
	srcCfg config.Source,
	robots *fetch.RobotsChecker,
	log logger.Interface,
) (scraper.Source, error) {
	resolved := cfg.ForSource(srcCfg)

	// The configured rate is the limiter ceiling: adaptive feedback only
	// ever slows below it, so permit spacing never drops under 1/rps.
	newClient := func(defaultRPS float64) *fetch.Client {
		rps := defaultRPS
		if srcCfg.RequestsPerSecond > 0 {
			rps = srcCfg.RequestsPerSecond
		}

		return fetch.NewClient(fetch.Options{
			UserAgent:      resolved.UserAgent,
			RequestTimeout: resolved.RequestTimeout,
			MaxRetries:     resolved.MaxRetries,
			RetryBaseDelay: resolved.RetryBaseDelay,
			Limiter:        ratelimit.NewAdaptive(rps, rps/10, rps),
			Robots:         robots,
			Logger:         log,
		})
	}

	switch name {
	case "pubmed":
		return pubmed.New(pubmed.Options{
			APIKey:     srcCfg.APIKey,
			Email:      srcCfg.Email,
			Queries:    srcCfg.Queries,
			MaxResults: srcCfg.MaxResults,
			Client:     newClient(pubmed.RequestsPerSecond(srcCfg.APIKey)),
			Logger:     log,
		}), nil

	case "openfda":
		return openfda.New(openfda.Options{
			APIKey:     srcCfg.APIKey,
			Drugs:      srcCfg.Drugs,
			MaxResults: srcCfg.MaxResults,
			Client:     newClient(openfda.RequestsPerSecond(srcCfg.APIKey)),
			Logger:     log,
		}), nil

	case "dailymed":
		return dailymed.New(dailymed.Options{
			MaxResults: srcCfg.MaxResults,
			Client:     newClient(dailymed.DefaultRequestsPerSecond),
			Logger:     log,
		}), nil

	case "rxnorm":
		return rxnorm.New(rxnorm.Options{
			Drugs:  srcCfg.Drugs,
			Client: newClient(rxnorm.DefaultRequestsPerSecond),
			Logger: log,
		}), nil

	case "clinicaltrials":
		var areas []clinicaltrials.Area
		if len(srcCfg.Queries) > 0 {
			areas = clinicaltrials.AreasFromQueries(srcCfg.Queries)
		}

		return clinicaltrials.New(clinicaltrials.Options{
			Areas:      areas,
			MaxResults: srcCfg.MaxResults,
			Client:     newClient(clinicaltrials.DefaultRequestsPerSecond),
			Logger:     log,
		}), nil

	case "drugbank":
		xmlPath := srcCfg.XMLPath
		if xmlPath == "" {
			xmlPath = filepath.Join(cfg.Collector.OutputDir, "drugbank", "full_database.xml")
		}

		src := drugbank.New(drugbank.Options{XMLPath: xmlPath, Logger: log})
		a.drugbank = src

		return src, nil

	case "fda_guidance":
		return fdaguidance.New(fdaguidance.Options{
			Categories: srcCfg.Categories,
			Client:     newClient(fdaguidance.DefaultRequestsPerSecond),
			Logger:     log,
		}), nil
	}

	return nil, fmt.Errorf("unknown source %q", name)
}

func sourceConfig(cfg *config.Config, name string) config.Source {
	switch name {
	case "pubmed":
		return cfg.Sources.PubMed
	case "openfda":
		return cfg.Sources.OpenFDA
	case "dailymed":
		return cfg.Sources.DailyMed
	case "rxnorm":
		return cfg.Sources.RxNorm
	case "clinicaltrials":
		return cfg.Sources.ClinicalTrials
	case "drugbank":
		return cfg.Sources.DrugBank
	default:
		return cfg.Sources.FDAGuidance
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}

	return false
}
