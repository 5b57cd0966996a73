package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ozzus/sbe-monitor/internal/backend"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
	"ozzus/sbe-monitor/internal/repository"
	"ozzus/sbe-monitor/internal/store"
)

// Spawner runs fn in the background without the caller waiting on it.
type Spawner interface {
	Go(name string, fn func(ctx context.Context)) error
}

// Fetcher pulls one job from the source per tick and queues it. Ticks do not
// wait on each other: a slow fetch never delays the next one.
type Fetcher struct {
	log     *slog.Logger
	spawner Spawner
	tasks   repository.TaskRepository
	jobs    store.JobStore
	stats   *Stats
	timeout time.Duration
}

func NewFetcher(log *slog.Logger, spawner Spawner, tasks repository.TaskRepository, jobs store.JobStore, stats *Stats, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Fetcher{
		log:     log,
		spawner: spawner,
		tasks:   tasks,
		jobs:    jobs,
		stats:   stats,
		timeout: timeout,
	}
}

func (f *Fetcher) Tick(context.Context) {
	if err := f.spawner.Go("fetch", f.fetch); err != nil {
		f.log.Debug("fetch tick dropped", slog.String("op", "service.Fetcher.Tick"), sl.Err(err))
	}
}

func (f *Fetcher) fetch(ctx context.Context) {
	const op = "service.Fetcher.fetch"

	log := f.log.With(slog.String("op", op))

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	f.stats.fetchAttempts.Add(1)

	job, err := f.tasks.FetchJob(ctx)
	if err != nil {
		if errors.Is(err, backend.ErrNoJob) {
			log.Debug("no job available")
			return
		}
		f.stats.fetchErrors.Add(1)
		log.Error("failed to fetch job", sl.Err(err))
		return
	}

	if err := f.jobs.Push(ctx, job); err != nil {
		f.stats.fetchErrors.Add(1)
		f.tasks.NackJob(job.ID)
		log.Error("failed to queue job", slog.String("job_id", job.ID), sl.Err(err))
		return
	}

	f.stats.fetched.Add(1)
	log.Info("job queued",
		slog.String("job_id", job.ID),
		slog.String("host", job.Hostname),
		slog.Int("services", len(job.Services)),
	)
}
