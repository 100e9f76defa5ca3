package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/utils"
	"github.com/robfig/cron/v3"
)

// RunFunc executes one pipeline run for a logical date.
type RunFunc func(ctx context.Context, logicalDate time.Time) error

// Scheduler fires the pipeline on a cron schedule. Missed fire times are not
// caught up and a fire time that arrives while a run is in progress is skipped.
type Scheduler struct {
	Cron   *cron.Cron
	Run    RunFunc
	Logger *slog.Logger
	Ctx    context.Context

	job          cron.Job
	timeProvider utils.TimeProvider
}

// NewScheduler builds a scheduler whose runs get ctx's values but not its
// cancellation, so Stop waits for a run in progress to finish its tasks.
func NewScheduler(ctx context.Context, run RunFunc, logger *slog.Logger, timeProvider utils.TimeProvider) *Scheduler {
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		Cron:         cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		Run:          run,
		Logger:       logger,
		Ctx:          context.WithoutCancel(ctx),
		timeProvider: timeProvider,
	}
	// RunNow shares the skip guard with scheduled fires.
	s.job = cron.NewChain(cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.runOnce))
	return s
}

// Register adds the pipeline job under a standard cron spec or descriptor such as @daily.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddJob(spec, s.job); err != nil {
		return fmt.Errorf("register pipeline job %q: %w", spec, err)
	}
	s.Logger.Info(fmt.Sprintf("Registered pipeline with schedule %s", spec))
	return nil
}

func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("Scheduler started")
}

// Stop stops firing new runs and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.Logger.Info("Scheduler stopped")
}

// RunNow runs the pipeline immediately for today's logical date, unless a run is in progress.
func (s *Scheduler) RunNow() {
	s.job.Run()
}

func (s *Scheduler) runOnce() {
	logicalDate := utils.Today(s.timeProvider)
	s.Logger.Info("Scheduled run triggered", "logical_date", logicalDate.Format("2006-01-02"))

	if err := s.Run(s.Ctx, logicalDate); err != nil {
		s.Logger.Error("Scheduled run failed", "logical_date", logicalDate.Format("2006-01-02"), "error", err)
	}
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
