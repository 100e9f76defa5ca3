package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/extract"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/load"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/runstore"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/stage"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/utils"
	"github.com/cenkalti/backoff/v4"
)

const (
	TaskExtract = "extract_stock_data"
	TaskUpload  = "upload_to_object_store"
	TaskLoad    = "load_to_warehouse"

	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Extractor stages one CSV file for a logical date and returns its file name.
type Extractor interface {
	Extract(ctx context.Context, date time.Time) (string, error)
}

type Pipeline struct {
	Extractor  Extractor
	Store      stage.ObjectStore
	Warehouse  load.Warehouse
	Runs       *runstore.Store
	Logger     *slog.Logger
	LocalDir   string
	Bucket     string
	Prefix     string
	Table      load.TableID
	Retries    int
	RetryDelay time.Duration

	timeProvider utils.TimeProvider
}

// Result summarises a finished run.
type Result struct {
	Run        *runstore.Run
	FileName   string
	ObjectKey  string
	RowsLoaded int64
}

func NewPipeline(ctx context.Context, config *config.Config, logger *slog.Logger, timeProvider utils.TimeProvider) (*Pipeline, error) {
	table, err := load.NewTableID(config.Warehouse.Dataset, config.Warehouse.Table)
	if err != nil {
		return nil, fmt.Errorf("error parsing warehouse table: %w", err)
	}

	store, err := stage.NewObjectStore(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating object store: %w", err)
	}

	warehouse, err := load.NewWarehouse(config, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating warehouse: %w", err)
	}

	runs, err := runstore.Open(config.RunStore.Path, timeProvider, logger)
	if err != nil {
		warehouse.Close()
		return nil, fmt.Errorf("error opening run store: %w", err)
	}

	yahoo := extract.NewYahooClient(config, logger)

	return &Pipeline{
		Extractor:    extract.NewExtractor(config, yahoo, logger),
		Store:        store,
		Warehouse:    warehouse,
		Runs:         runs,
		Logger:       logger,
		LocalDir:     config.Staging.LocalDir,
		Bucket:       config.Storage.Bucket,
		Prefix:       config.Storage.Prefix,
		Table:        table,
		Retries:      config.Schedule.Retries,
		RetryDelay:   config.Schedule.RetryDelay,
		timeProvider: timeProvider,
	}, nil
}

func (p *Pipeline) Close() {
	p.Warehouse.Close()
	if err := p.Runs.Close(); err != nil {
		p.Logger.Error("error closing run store", "error", err)
	}
}

// Today is the logical date of a manual run without an explicit date.
func (p *Pipeline) Today() time.Time {
	return utils.Today(p.timeProvider)
}

// Run executes extract, upload and load for logicalDate as a new run.
// The first task that fails after its retries stops the run and marks it failed.
func (p *Pipeline) Run(ctx context.Context, logicalDate time.Time, trigger string) (*Result, error) {
	run, err := p.StartRun(ctx, logicalDate, trigger)
	if err != nil {
		return nil, err
	}
	result := &Result{Run: run}

	result.FileName, err = p.extract(ctx, run)
	if err != nil {
		return result, p.Finish(ctx, run, err)
	}

	result.ObjectKey, err = p.upload(ctx, run, result.FileName)
	if err != nil {
		return result, p.Finish(ctx, run, err)
	}

	result.RowsLoaded, err = p.load(ctx, run, result.ObjectKey)
	if err != nil {
		return result, p.Finish(ctx, run, err)
	}

	if err := p.Finish(ctx, run, nil); err != nil {
		return result, err
	}
	p.Logger.Info(fmt.Sprintf("Run %s finished, %d rows loaded into %s", run.ID, result.RowsLoaded, p.Table),
		"logical_date", run.LogicalDate.Format("2006-01-02"))
	return result, nil
}

// StartRun records a new run without executing any task.
func (p *Pipeline) StartRun(ctx context.Context, logicalDate time.Time, trigger string) (*runstore.Run, error) {
	run, err := p.Runs.CreateRun(ctx, logicalDate, trigger)
	if err != nil {
		return nil, err
	}
	p.Logger.Info(fmt.Sprintf("Starting run %s", run.ID),
		"logical_date", run.LogicalDate.Format("2006-01-02"), "trigger", trigger)
	return run, nil
}

// Finish marks run success when taskErr is nil, failed otherwise, and returns taskErr.
func (p *Pipeline) Finish(ctx context.Context, run *runstore.Run, taskErr error) error {
	state, msg := runstore.StateSuccess, ""
	if taskErr != nil {
		state, msg = runstore.StateFailed, taskErr.Error()
		p.Logger.Error(fmt.Sprintf("Run %s failed", run.ID), "error", taskErr)
	}

	// the run outcome is recorded even if ctx was cancelled
	if err := p.Runs.FinishRun(context.WithoutCancel(ctx), run.ID, state, msg); err != nil {
		return errors.Join(taskErr, err)
	}
	run.State = state
	run.Error = msg
	return taskErr
}

// Extract runs only the extraction task of an existing run.
func (p *Pipeline) Extract(ctx context.Context, run *runstore.Run) (string, error) {
	return p.extract(ctx, run)
}

// Upload runs only the upload task, taking the file name from the run's extract handoff.
func (p *Pipeline) Upload(ctx context.Context, run *runstore.Run) (string, error) {
	fileName, err := p.stagedFileName(ctx, run)
	if err != nil {
		return "", err
	}
	return p.upload(ctx, run, fileName)
}

// Load runs only the load task. The object key comes from the run's upload handoff,
// or is derived from the extract handoff when the run has no upload yet.
func (p *Pipeline) Load(ctx context.Context, run *runstore.Run) (int64, error) {
	key, err := p.uploadedKey(ctx, run)
	if err != nil {
		return 0, err
	}
	return p.load(ctx, run, key)
}

func (p *Pipeline) uploadedKey(ctx context.Context, run *runstore.Run) (string, error) {
	key, err := p.Runs.PullHandoff(ctx, run.ID, TaskUpload, runstore.ReturnValueKey)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, runstore.ErrHandoffNotFound) {
		return "", fmt.Errorf("error getting uploaded object key: %w", err)
	}

	fileName, err := p.stagedFileName(ctx, run)
	if err != nil {
		return "", err
	}
	return stage.ObjectKey(p.Prefix, fileName), nil
}

func (p *Pipeline) stagedFileName(ctx context.Context, run *runstore.Run) (string, error) {
	fileName, err := p.Runs.PullHandoff(ctx, run.ID, TaskExtract, runstore.ReturnValueKey)
	if err != nil {
		return "", fmt.Errorf("error getting staged file name: %w", err)
	}
	return fileName, nil
}

func (p *Pipeline) extract(ctx context.Context, run *runstore.Run) (string, error) {
	var fileName string
	err := p.runTask(ctx, run, TaskExtract, func(ctx context.Context) error {
		name, err := p.Extractor.Extract(ctx, run.LogicalDate)
		if err != nil {
			return err
		}
		fileName = name
		return p.Runs.PushHandoff(ctx, run.ID, TaskExtract, runstore.ReturnValueKey, name)
	})
	return fileName, err
}

func (p *Pipeline) upload(ctx context.Context, run *runstore.Run, fileName string) (string, error) {
	key := stage.ObjectKey(p.Prefix, fileName)
	err := p.runTask(ctx, run, TaskUpload, func(ctx context.Context) error {
		if err := p.Store.Upload(ctx, filepath.Join(p.LocalDir, fileName), p.Bucket, key); err != nil {
			return err
		}
		return p.Runs.PushHandoff(ctx, run.ID, TaskUpload, runstore.ReturnValueKey, key)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (p *Pipeline) load(ctx context.Context, run *runstore.Run, key string) (int64, error) {
	var rows int64
	err := p.runTask(ctx, run, TaskLoad, func(ctx context.Context) error {
		csv, err := p.Store.Download(ctx, p.Bucket, key)
		if err != nil {
			if errors.Is(err, stage.ErrObjectNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}

		n, err := p.Warehouse.AppendCSV(ctx, p.Table, load.PriceSchema, csv)
		if err != nil {
			return err
		}
		rows = n
		return p.Runs.PushHandoff(ctx, run.ID, TaskLoad, runstore.ReturnValueKey, strconv.FormatInt(n, 10))
	})
	return rows, err
}

// runTask runs fn with up to Retries retries spaced RetryDelay apart and
// records every attempt as a task instance. Attempt numbers continue from
// earlier invocations of the same task in the run.
func (p *Pipeline) runTask(ctx context.Context, run *runstore.Run, taskID string, fn func(ctx context.Context) error) error {
	next, err := p.Runs.NextTry(ctx, run.ID, taskID)
	if err != nil {
		return fmt.Errorf("error running task %s: %w", taskID, err)
	}
	try := next - 1
	operation := func() error {
		try++
		if err := p.Runs.StartTask(ctx, run.ID, taskID, try); err != nil {
			return backoff.Permanent(err)
		}

		p.Logger.Info(fmt.Sprintf("Running task %s", taskID), "run_id", run.ID, "try", try)
		err := fn(ctx)

		state, msg := runstore.StateSuccess, ""
		if err != nil {
			state, msg = runstore.StateFailed, err.Error()
		}
		if ferr := p.Runs.FinishTask(context.WithoutCancel(ctx), run.ID, taskID, try, state, msg); ferr != nil {
			p.Logger.Error("error recording task result", "task", taskID, "error", ferr)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.RetryDelay), uint64(max(p.Retries, 0))),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		p.Logger.Warn(fmt.Sprintf("Task %s failed, retrying in %s", taskID, wait), "run_id", run.ID, "try", try, "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("error running task %s: %w", taskID, err)
	}
	return nil
}
