package service

import (
	"context"
	"log/slog"
	"sync"

	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
	"ozzus/sbe-monitor/internal/repository"
	"ozzus/sbe-monitor/internal/store"
)

// inFlight tracks job ids whose pipeline is running.
type inFlight struct {
	mu   sync.Mutex
	jobs map[string]struct{}
}

func newInFlight() *inFlight {
	return &inFlight{jobs: make(map[string]struct{})}
}

// begin claims id; false means a pipeline for it is already running.
func (f *inFlight) begin(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.jobs[id]; ok {
		return false
	}
	f.jobs[id] = struct{}{}
	return true
}

func (f *inFlight) end(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
}

func (f *inFlight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// Scheduler pops at most one job per tick and starts its pipeline in the
// background. Pipelines run concurrently with no cap.
type Scheduler struct {
	log      *slog.Logger
	spawner  Spawner
	jobs     store.JobStore
	tasks    repository.TaskRepository
	pipeline *Pipeline
	stats    *Stats
	running  *inFlight
}

func NewScheduler(
	log *slog.Logger,
	spawner Spawner,
	jobs store.JobStore,
	tasks repository.TaskRepository,
	pipeline *Pipeline,
	stats *Stats,
) *Scheduler {
	return &Scheduler{
		log:      log,
		spawner:  spawner,
		jobs:     jobs,
		tasks:    tasks,
		pipeline: pipeline,
		stats:    stats,
		running:  newInFlight(),
	}
}

func (s *Scheduler) Tick(ctx context.Context) {
	const op = "service.Scheduler.Tick"

	log := s.log.With(slog.String("op", op))

	job, ok, err := s.jobs.Pop(ctx)
	if err != nil {
		log.Error("failed to pop job", sl.Err(err))
		return
	}
	if !ok {
		return
	}

	if !s.running.begin(job.ID) {
		s.stats.duplicates.Add(1)
		log.Warn("job already running, dropped", slog.String("job_id", job.ID))
		return
	}

	err = s.spawner.Go("pipeline:"+job.ID, func(ctx context.Context) {
		defer s.running.end(job.ID)
		s.run(ctx, job)
	})
	if err != nil {
		s.running.end(job.ID)
		s.tasks.NackJob(job.ID)
		log.Warn("pipeline not started", slog.String("job_id", job.ID), sl.Err(err))
	}
}

// InFlight is the number of pipelines currently running.
func (s *Scheduler) InFlight() int {
	return s.running.len()
}

func (s *Scheduler) run(ctx context.Context, job *domain.Job) {
	const op = "service.Scheduler.run"

	s.stats.started.Add(1)

	res, err := s.pipeline.Run(ctx, job)
	if err != nil {
		s.stats.pipelineErrors.Add(1)
		s.tasks.NackJob(job.ID)
		s.log.Error("pipeline aborted", slog.String("op", op), slog.String("job_id", job.ID), sl.Err(err))
		return
	}

	if res.DNSFailed {
		s.stats.dnsFailures.Add(1)
	}
	if res.PingErr != nil {
		s.stats.pingFailures.Add(1)
	}

	if !res.Reported() {
		s.stats.reportErrors.Add(1)
		s.tasks.NackJob(job.ID)
		return
	}

	s.stats.reported.Add(1)

	if err := s.tasks.AckJob(context.WithoutCancel(ctx), job.ID); err != nil {
		s.log.Error("failed to ack job", slog.String("op", op), slog.String("job_id", job.ID), sl.Err(err))
	}
}
