// Package sources implements the sources command for inspecting the
// configured data sources.
package sources

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lumen-medical/medcollect/internal/bootstrap"
	"github.com/lumen-medical/medcollect/internal/checkpoint"
	"github.com/lumen-medical/medcollect/internal/config"
)

// Command returns the sources command with its subcommands.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage data sources",
	}

	cmd.AddCommand(listCommand())

	return cmd
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sources and their checkpoint state",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			return render(cfg)
		},
	}
}

// render prints one row per source: enabled flag, effective rate, and
// where the last run left off.
func render(cfg *config.Config) error {
	store := checkpoint.NewStore(cfg.Collector.OutputDir, nil)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "Enabled", "Rate (req/s)", "Max Retries", "Checkpoint"})

	for _, name := range bootstrap.SourceOrder {
		srcCfg := sourceConfig(cfg, name)
		resolved := cfg.ForSource(srcCfg)

		state := "none"
		if cp, err := store.Load(name); err == nil && cp != nil {
			if cp.Completed {
				state = "completed"
			} else {
				state = fmt.Sprintf("segment %q cursor %d", cp.Segment, cp.Cursor)
			}
		}

		t.AppendRow(table.Row{
			name,
			srcCfg.Enabled,
			resolved.RequestsPerSecond,
			resolved.MaxRetries,
			state,
		})
	}

	t.Render()

	return nil
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
