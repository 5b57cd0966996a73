package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"ozzus/sbe-monitor/internal/engine"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
	"ozzus/sbe-monitor/internal/repository"
	"ozzus/sbe-monitor/internal/store"
)

type Config struct {
	AgentID       string
	FetchInterval time.Duration
	// FetchCron replaces FetchInterval when set.
	FetchCron     string
	StartInterval time.Duration
	FetchTimeout  time.Duration
}

// AgentService wires the fetch and start timers onto a loop and reports on them.
type AgentService struct {
	log       *slog.Logger
	loop      *engine.Loop
	jobs      store.JobStore
	fetcher   *Fetcher
	scheduler *Scheduler
	stats     *Stats
	config    Config

	isRunning atomic.Bool
	startedAt atomic.Pointer[time.Time]
}

func NewAgentService(
	log *slog.Logger,
	loop *engine.Loop,
	taskRepo repository.TaskRepository,
	jobs store.JobStore,
	pipeline *Pipeline,
	config Config,
) *AgentService {
	if config.FetchInterval <= 0 {
		config.FetchInterval = 5 * time.Second
	}
	if config.StartInterval <= 0 {
		config.StartInterval = time.Second
	}

	stats := &Stats{}

	return &AgentService{
		log:       log,
		loop:      loop,
		jobs:      jobs,
		fetcher:   NewFetcher(log, loop, taskRepo, jobs, stats, config.FetchTimeout),
		scheduler: NewScheduler(log, loop, jobs, taskRepo, pipeline, stats),
		stats:     stats,
		config:    config,
	}
}

// Start registers both timers and starts the loop. It does not block.
func (s *AgentService) Start() error {
	const op = "service.AgentService.Start"

	var err error
	if s.config.FetchCron != "" {
		err = s.loop.Cron("fetch", s.config.FetchCron, s.fetcher.Tick)
	} else {
		err = s.loop.Every("fetch", s.config.FetchInterval, s.fetcher.Tick)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.loop.Every("start", s.config.StartInterval, s.scheduler.Tick); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.loop.Start()

	now := time.Now()
	s.startedAt.Store(&now)
	s.isRunning.Store(true)

	s.log.Info("agent service started",
		slog.String("op", op),
		slog.String("agent_id", s.config.AgentID),
		slog.Duration("fetch_interval", s.config.FetchInterval),
		slog.Duration("start_interval", s.config.StartInterval),
	)

	return nil
}

// Stop halts the timers and waits for running pipelines until ctx expires.
func (s *AgentService) Stop(ctx context.Context) error {
	const op = "service.AgentService.Stop"

	s.isRunning.Store(false)

	err := s.loop.Shutdown(ctx)
	if closeErr := s.jobs.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}

	if err != nil {
		s.log.Error("agent service stopped with errors", slog.String("op", op), sl.Err(err))
		return err
	}

	s.log.Info("agent service stopped", slog.String("op", op))
	return nil
}

func (s *AgentService) HealthCheck(ctx context.Context) error {
	if !s.isRunning.Load() {
		return fmt.Errorf("service is not running")
	}

	if _, err := s.jobs.Len(ctx); err != nil {
		return fmt.Errorf("job store unavailable: %w", err)
	}

	return nil
}

type Status struct {
	AgentID       string        `json:"agent_id"`
	IsRunning     bool          `json:"is_running"`
	Uptime        string        `json:"uptime,omitempty"`
	FetchInterval string        `json:"fetch_interval"`
	StartInterval string        `json:"start_interval"`
	QueueDepth    int           `json:"queue_depth"`
	InFlight      int           `json:"in_flight"`
	Goroutines    int64         `json:"goroutines"`
	Panics        int64         `json:"panics"`
	Counters      StatsSnapshot `json:"counters"`
}

func (s *AgentService) GetStatus(ctx context.Context) Status {
	depth, err := s.jobs.Len(ctx)
	if err != nil {
		depth = -1
	}

	st := Status{
		AgentID:       s.config.AgentID,
		IsRunning:     s.isRunning.Load(),
		FetchInterval: s.config.FetchInterval.String(),
		StartInterval: s.config.StartInterval.String(),
		QueueDepth:    depth,
		InFlight:      s.scheduler.InFlight(),
		Goroutines:    s.loop.Running(),
		Panics:        s.loop.Panics(),
		Counters:      s.stats.Snapshot(),
	}

	if started := s.startedAt.Load(); started != nil && st.IsRunning {
		st.Uptime = time.Since(*started).Round(time.Second).String()
	}

	return st
}
