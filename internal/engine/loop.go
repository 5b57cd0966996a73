// Package engine owns the agent's timers and the goroutines they spawn.
// Every component that schedules work receives a *Loop instead of reaching
// for package-level state, so tests can run isolated loops side by side.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

var ErrStopped = errors.New("loop is stopped")

type Loop struct {
	log   *slog.Logger
	sched gocron.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      conc.WaitGroup

	running atomic.Int64
	panics  atomic.Int64
}

func New(log *slog.Logger) (*Loop, error) {
	sched, err := gocron.NewScheduler(gocron.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Loop{
		log:    log,
		sched:  sched,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Context is cancelled when the loop shuts down.
func (l *Loop) Context() context.Context {
	return l.ctx
}

// Every registers fn to run each interval, first right after Start.
// A panic in fn is logged and the timer keeps ticking.
func (l *Loop) Every(name string, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("timer %s: interval must be positive", name)
	}

	_, err := l.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			l.guard(name, fn)
		}),
		gocron.WithName(name),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("initializing gocron job %s: %w", name, err)
	}

	return nil
}

// Cron registers fn on a standard five-field cron spec (descriptors such as
// "@every 10s" are accepted too).
func (l *Loop) Cron(name, spec string, fn func(ctx context.Context)) error {
	_, err := l.sched.NewJob(
		gocron.CronJob(spec, false),
		gocron.NewTask(func() {
			l.guard(name, fn)
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("initializing gocron job %s: %w", name, err)
	}

	return nil
}

// Go runs fn on its own goroutine, tracked until Shutdown. The caller never
// waits for it. ErrStopped is returned once the loop is shutting down.
func (l *Loop) Go(name string, fn func(ctx context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrStopped
	}

	l.running.Add(1)
	l.wg.Go(func() {
		defer l.running.Add(-1)
		l.guard(name, fn)
	})

	return nil
}

func (l *Loop) Start() {
	l.sched.Start()
}

// Running is the number of goroutines started with Go that have not returned yet.
func (l *Loop) Running() int64 {
	return l.running.Load()
}

// Panics counts recovered panics since the loop was created.
func (l *Loop) Panics() int64 {
	return l.panics.Load()
}

// Shutdown stops the timers, cancels the loop context and waits for tracked
// goroutines until ctx expires.
func (l *Loop) Shutdown(ctx context.Context) error {
	const op = "engine.Loop.Shutdown"

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	l.mu.Unlock()

	err := l.sched.Shutdown()
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		l.log.Warn("tracked goroutines did not stop in time",
			slog.String("op", op),
			slog.Int64("running", l.running.Load()),
		)
		return errors.Join(err, ctx.Err())
	}

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (l *Loop) guard(name string, fn func(ctx context.Context)) {
	var pc panics.Catcher
	pc.Try(func() { fn(l.ctx) })

	if r := pc.Recovered(); r != nil {
		l.panics.Add(1)
		l.log.Error("recovered panic",
			slog.String("task", name),
			slog.Any("value", r.Value),
			slog.String("stack", string(r.Stack)),
		)
	}
}
