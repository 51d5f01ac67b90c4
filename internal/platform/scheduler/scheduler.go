// Package scheduler runs a job on a cron expression, on a fixed interval, or once.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	ModeCron     = "cron"
	ModeInterval = "interval"
	ModeOnce     = "once"
)

// Config selects the trigger. The default cron runs at 00:00 Monday to Friday.
type Config struct {
	Mode       string        `envconfig:"MODE" default:"cron" validate:"oneof=cron interval once"`
	Cron       string        `envconfig:"CRON" default:"0 0 * * 1-5"`
	Interval   time.Duration `envconfig:"INTERVAL" default:"24h"`
	RunAtStart bool          `envconfig:"RUN_AT_START" default:"true"`
	Location   string        `envconfig:"TZ" default:"UTC"`
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Trigger calls a job on its cadence until ctx is done.
type Trigger interface {
	Run(ctx context.Context) error
}

// New builds the trigger selected by cfg.Mode.
func New(cfg Config, job Job) (Trigger, error) {
	switch cfg.Mode {
	case "", ModeCron:
		return NewCronTrigger(cfg.Cron, cfg.Location, cfg.RunAtStart, job)
	case ModeInterval:
		return NewIntervalTrigger(cfg.Interval, cfg.RunAtStart, job)
	case ModeOnce:
		return &OnceTrigger{job: job}, nil
	default:
		return nil, fmt.Errorf("unknown schedule mode %q", cfg.Mode)
	}
}

func runJob(ctx context.Context, job Job) {
	start := time.Now()
	if err := job(ctx); err != nil {
		slog.Error("scheduled job failed", "error", err, "elapsed", time.Since(start))
		return
	}
	slog.Info("scheduled job done", "elapsed", time.Since(start))
}

// CronTrigger fires the job on a standard five-field cron expression.
// A run still in progress makes the next firing skip.
type CronTrigger struct {
	spec       string
	loc        *time.Location
	runAtStart bool
	job        Job
}

// NewCronTrigger validates spec and location.
func NewCronTrigger(spec, location string, runAtStart bool, job Job) (*CronTrigger, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	loc := time.UTC
	if location != "" {
		l, err := time.LoadLocation(location)
		if err != nil {
			return nil, fmt.Errorf("invalid location %q: %w", location, err)
		}
		loc = l
	}
	return &CronTrigger{spec: spec, loc: loc, runAtStart: runAtStart, job: job}, nil
}

func (t *CronTrigger) Run(ctx context.Context) error {
	logger := slogCronLogger{}
	c := cron.New(
		cron.WithLocation(t.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(t.spec, func() { runJob(ctx, t.job) }); err != nil {
		return fmt.Errorf("schedule %q: %w", t.spec, err)
	}

	if t.runAtStart {
		runJob(ctx, t.job)
	}
	if ctx.Err() != nil {
		return nil
	}

	c.Start()
	slog.Info("cron scheduler started", "cron", t.spec, "location", t.loc.String())
	<-ctx.Done()

	// 実行中のジョブの終了を待つ
	<-c.Stop().Done()
	slog.Info("cron scheduler stopped")
	return nil
}

// IntervalTrigger runs the job, waits interval after it ends, and repeats.
type IntervalTrigger struct {
	interval   time.Duration
	runAtStart bool
	job        Job
}

func NewIntervalTrigger(interval time.Duration, runAtStart bool, job Job) (*IntervalTrigger, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return &IntervalTrigger{interval: interval, runAtStart: runAtStart, job: job}, nil
}

func (t *IntervalTrigger) Run(ctx context.Context) error {
	if t.runAtStart {
		runJob(ctx, t.job)
	}
	for {
		slog.Info("timer waiting", "until", time.Now().Add(t.interval).Format("2006-01-02 15:04"))
		timer := time.NewTimer(t.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		runJob(ctx, t.job)
	}
}

// OnceTrigger runs the job a single time and returns its error.
type OnceTrigger struct {
	job Job
}

func (t *OnceTrigger) Run(ctx context.Context) error {
	return t.job(ctx)
}

// slogCronLogger adapts cron's logger to slog.
type slogCronLogger struct{}

func (slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
