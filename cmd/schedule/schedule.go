// Package schedule implements the schedule command, which runs the
// collection pipeline on a cron expression.
package schedule

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/lumen-medical/medcollect/internal/bootstrap"
	"github.com/lumen-medical/medcollect/internal/config"
	"github.com/lumen-medical/medcollect/internal/logger"
)

// Command returns the schedule command.
func Command() *cobra.Command {
	var spec string

	cmd := &cobra.Command{
		Use:   "schedule [source...]",
		Short: "Run collections on a recurring schedule",
		Long: `Run the collection pipeline on a cron schedule until interrupted.
Each tick behaves like one scrape invocation: completed sources are
skipped via their checkpoints, so recurring runs only fetch new work
after checkpoints are cleared.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), spec, args)
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "0 2 * * *",
		"cron expression for collection runs")

	return cmd
}

func run(ctx context.Context, spec string, sources []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()

	_, err = scheduler.AddFunc(spec, func() {
		app, buildErr := bootstrap.Build(cfg, log, sources)
		if buildErr != nil {
			log.Error("build collector", "error", buildErr.Error())
			return
		}
		defer app.Close()

		if _, runErr := app.Orchestrator.RunAll(ctx); runErr != nil {
			log.Error("scheduled run finished with failures", "error", runErr.Error())
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	log.Info("scheduler started", "cron", spec, "sources", sources)
	scheduler.Start()

	<-ctx.Done()

	log.Info("scheduler stopping")
	<-scheduler.Stop().Done()

	return nil
}
