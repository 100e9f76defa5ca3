package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/pipeline"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/scheduler"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/utils"
	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs the pipeline on the configured cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, cfg, log, err := initializePipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			run := func(ctx context.Context, logicalDate time.Time) error {
				_, err := p.Run(ctx, logicalDate, pipeline.TriggerScheduled)
				return err
			}

			s := scheduler.NewScheduler(ctx, run, log, utils.RealTimeProvider{})
			if err := s.Register(cfg.Schedule.Cron); err != nil {
				return err
			}
			s.Start()

			if runNow {
				s.RunNow()
			}

			<-ctx.Done()
			log.Info("Shutdown signal received, waiting for the current run to finish")
			s.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "trigger one run immediately after starting")
	return cmd
}
