package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.uber.org/zap"
)

const (
	maxWorkers           = 10
	commitmentSweepEvery = 15 * time.Minute
)

// RiverScheduler is the durable Scheduler. Checks are rows in River's job
// table, inserted with a ScheduledAt in the future, so a restart picks up
// every pending reminder.
type RiverScheduler struct {
	client *river.Client[pgx.Tx]
	logger *zap.Logger
}

type RiverConfig struct {
	DatabaseURL  string
	Location     *time.Location
	InactivityAt string // "HH:MM" local, daily inactivity check
	GreetingsAt  string // "HH:MM" local, holiday greetings
}

func NewRiverScheduler(ctx context.Context, cfg RiverConfig, runner CheckRunner, batch PeriodicJobs, logger *zap.Logger) (*RiverScheduler, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &checkWorker{runner: runner, logger: logger})
	river.AddWorker(workers, &inactivityWorker{batch: batch, logger: logger})
	river.AddWorker(workers, &greetingsWorker{batch: batch, logger: logger})
	river.AddWorker(workers, &commitmentWorker{batch: batch, logger: logger})

	inactivity, err := dailyJob(cfg.InactivityAt, cfg.Location, func() river.JobArgs { return inactivityArgs{} })
	if err != nil {
		return nil, err
	}
	greetings, err := dailyJob(cfg.GreetingsAt, cfg.Location, func() river.JobArgs { return greetingsArgs{} })
	if err != nil {
		return nil, err
	}
	commitments := river.NewPeriodicJob(
		river.PeriodicInterval(commitmentSweepEvery),
		func() (river.JobArgs, *river.InsertOpts) { return commitmentArgs{}, nil },
		&river.PeriodicJobOpts{RunOnStart: true},
	)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{inactivity, greetings, commitments},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create river client: %w", err)
	}

	return &RiverScheduler{client: client, logger: logger}, nil
}

func (s *RiverScheduler) Start(ctx context.Context) error {
	return s.client.Start(ctx)
}

func (s *RiverScheduler) Stop(ctx context.Context) error {
	return s.client.Stop(ctx)
}

func (s *RiverScheduler) ScheduleCheck(ctx context.Context, args CheckArgs, runAt time.Time) error {
	_, err := s.client.Insert(ctx, args, &river.InsertOpts{ScheduledAt: runAt})
	if err != nil {
		return fmt.Errorf("failed to schedule check: %w", err)
	}
	return nil
}

// checkWorker invokes the escalation engine. Engine failures are logged and
// swallowed: a failing conversation must never block other checks, and the
// engine's own re-anchoring logic recovers missed work.
type checkWorker struct {
	river.WorkerDefaults[CheckArgs]
	runner CheckRunner
	logger *zap.Logger
}

func (w *checkWorker) Work(ctx context.Context, job *river.Job[CheckArgs]) error {
	if err := w.runner.RunCheck(ctx, job.Args); err != nil {
		w.logger.Error("Reply check failed",
			zap.Error(err),
			zap.String("message_id", job.Args.MessageID),
			zap.Int("attempt", job.Args.Attempt))
	}
	return nil
}

type inactivityArgs struct{}

func (inactivityArgs) Kind() string { return "inactivity_check" }

type inactivityWorker struct {
	river.WorkerDefaults[inactivityArgs]
	batch  PeriodicJobs
	logger *zap.Logger
}

func (w *inactivityWorker) Work(ctx context.Context, job *river.Job[inactivityArgs]) error {
	if err := w.batch.RunInactivityCheck(ctx); err != nil {
		w.logger.Error("Inactivity check failed", zap.Error(err))
	}
	return nil
}

type greetingsArgs struct{}

func (greetingsArgs) Kind() string { return "holiday_greetings" }

type greetingsWorker struct {
	river.WorkerDefaults[greetingsArgs]
	batch  PeriodicJobs
	logger *zap.Logger
}

func (w *greetingsWorker) Work(ctx context.Context, job *river.Job[greetingsArgs]) error {
	if err := w.batch.RunHolidayGreetings(ctx); err != nil {
		w.logger.Error("Holiday greetings failed", zap.Error(err))
	}
	return nil
}

type commitmentArgs struct{}

func (commitmentArgs) Kind() string { return "commitment_sweep" }

type commitmentWorker struct {
	river.WorkerDefaults[commitmentArgs]
	batch  PeriodicJobs
	logger *zap.Logger
}

func (w *commitmentWorker) Work(ctx context.Context, job *river.Job[commitmentArgs]) error {
	if err := w.batch.RunCommitmentSweep(ctx); err != nil {
		w.logger.Error("Commitment sweep failed", zap.Error(err))
	}
	return nil
}

func dailyJob(at string, loc *time.Location, construct func() river.JobArgs) (*river.PeriodicJob, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("invalid daily job time %q: %w", at, err)
	}

	schedule := &dailyAt{hour: t.Hour(), min: t.Minute(), loc: loc}
	return river.NewPeriodicJob(
		schedule,
		func() (river.JobArgs, *river.InsertOpts) { return construct(), nil },
		&river.PeriodicJobOpts{RunOnStart: false},
	), nil
}

// dailyAt fires once per day at a fixed local wall-clock time.
type dailyAt struct {
	hour int
	min  int
	loc  *time.Location
}

func (d *dailyAt) Next(t time.Time) time.Time {
	local := t.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.min, 0, 0, d.loc)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
