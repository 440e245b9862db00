// Package schedule runs the reminder engine on a cron schedule.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"opsbridge.org/internal/errs"
)

// DefaultSpec fires every day at 07:00.
const DefaultSpec = "0 7 * * *"

// Runner is implemented by reminder.Engine.
type Runner interface {
	Run(ctx context.Context, now time.Time) (int, error)
}

// Options configures a Scheduler.
type Options struct {
	Spec     string
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.SugaredLogger
	// Timeout bounds one run; zero means no bound.
	Timeout time.Duration
}

// Scheduler owns a cron runner with a single reminder entry.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	opts   Options
	log    *zap.SugaredLogger
	entry  cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses the cron expression and registers the job. Overlapping runs are skipped
// and panics inside a run are recovered.
func New(runner Runner, opts Options) (*Scheduler, error) {
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	clog := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(opts.Location),
		cron.WithLogger(clog),
		cron.WithChain(
			cron.SkipIfStillRunning(clog),
			cron.Recover(clog),
		),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, runner: runner, opts: opts, log: log, ctx: ctx, cancel: cancel}
	id, err := c.AddFunc(opts.Spec, s.tick)
	if err != nil {
		cancel()
		return nil, errs.Mark(errs.Wrapf(err, "parse schedule %q", opts.Spec), errs.ErrConfiguration)
	}
	s.entry = id
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infow("reminder schedule started", "spec", s.opts.Spec, "tz", s.opts.Location.String(), "next", s.Next())
}

// Stop halts the schedule, cancels a run in flight and waits for it to return
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports the next fire time, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	now := s.opts.Now()
	sent, err := s.runner.Run(ctx, now)
	if err != nil {
		s.log.Errorw("scheduled reminder run failed", "error", err)
		return
	}
	s.log.Infow("scheduled reminder run finished", "sent", sent)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
