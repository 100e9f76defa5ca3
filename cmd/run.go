package cmd

import (
	"fmt"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/pipeline"
	"github.com/spf13/cobra"
)

// parseLogicalDate parses --date. An empty value means today.
func parseLogicalDate(value string, today time.Time) (time.Time, error) {
	if value == "" {
		return today, nil
	}
	date, err := time.Parse(model.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", value)
	}
	return date, nil
}

func newRunCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs extract, upload and load for one logical date",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, log, err := initializePipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			logicalDate, err := parseLogicalDate(date, p.Today())
			if err != nil {
				return err
			}

			result, err := p.Run(cmd.Context(), logicalDate, pipeline.TriggerManual)
			if err != nil {
				log.Error(fmt.Sprintf("Error running pipeline: %v", err))
				return err
			}
			log.Info(fmt.Sprintf("Batch job completed without errors. Loaded %d rows from %s", result.RowsLoaded, result.ObjectKey),
				"run_id", result.Run.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "logical date (YYYY-MM-DD), defaults to today")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Starts a run and stages the CSV file without uploading it",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, log, err := initializePipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			logicalDate, err := parseLogicalDate(date, p.Today())
			if err != nil {
				return err
			}

			run, err := p.StartRun(cmd.Context(), logicalDate, pipeline.TriggerManual)
			if err != nil {
				return err
			}

			fileName, err := p.Extract(cmd.Context(), run)
			if err != nil {
				return p.Finish(cmd.Context(), run, err)
			}
			log.Info(fmt.Sprintf("Staged %s. Continue with: wallstreet upload --run %s", fileName, run.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "logical date (YYYY-MM-DD), defaults to today")
	return cmd
}

func newUploadCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Uploads the file staged by an existing run to the object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, log, err := initializePipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			run, err := p.Runs.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}

			key, err := p.Upload(cmd.Context(), run)
			if err != nil {
				return p.Finish(cmd.Context(), run, err)
			}
			log.Info(fmt.Sprintf("Uploaded %s. Continue with: wallstreet load --run %s", key, run.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id printed by the extract command")
	cmd.MarkFlagRequired("run")
	return cmd
}

func newLoadCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Appends the uploaded file of an existing run to the warehouse table",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, log, err := initializePipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			run, err := p.Runs.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}

			rows, err := p.Load(cmd.Context(), run)
			if err := p.Finish(cmd.Context(), run, err); err != nil {
				return err
			}
			log.Info(fmt.Sprintf("Loaded %d rows into %s", rows, p.Table), "run_id", run.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id printed by the extract command")
	cmd.MarkFlagRequired("run")
	return cmd
}
