package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
	"ozzus/sbe-monitor/internal/repository"

	"github.com/google/uuid"
)

type Resolver interface {
	Resolve(ctx context.Context, job *domain.Job) error
}

type Pinger interface {
	Ping(ctx context.Context, job *domain.Job) error
}

type ServiceWalker interface {
	Walk(ctx context.Context, job *domain.Job) error
}

type PipelineConfig struct {
	AgentID      string
	StageTimeout time.Duration
}

// Pipeline drives one job through resolve, ping, service checks and report.
// A Pipeline is shared by all jobs; per-run state lives on the job.
type Pipeline struct {
	log      *slog.Logger
	resolver Resolver
	pinger   Pinger
	walker   ServiceWalker
	results  repository.ResultRepository

	agentID      string
	stageTimeout time.Duration
}

// NewPipeline builds a pipeline. A nil pinger skips the ping stage.
func NewPipeline(
	log *slog.Logger,
	resolver Resolver,
	pinger Pinger,
	walker ServiceWalker,
	results repository.ResultRepository,
	cfg PipelineConfig,
) *Pipeline {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}

	return &Pipeline{
		log:          log,
		resolver:     resolver,
		pinger:       pinger,
		walker:       walker,
		results:      results,
		agentID:      cfg.AgentID,
		stageTimeout: cfg.StageTimeout,
	}
}

// stageResult is what a step hands back to the driver: where to go next and,
// for a failed stage, why.
type stageResult struct {
	next domain.PipelineState
	err  error
}

func proceed(next domain.PipelineState) stageResult { return stageResult{next: next} }

func divert(next domain.PipelineState, err error) stageResult {
	return stageResult{next: next, err: err}
}

// RunResult summarises a finished run.
type RunResult struct {
	JobID     string
	RunID     string
	Trace     []domain.PipelineState
	DNSFailed bool
	PingErr   error
	WalkErr   error
	ReportErr error
}

// Reported tells whether the sink accepted the report.
func (r RunResult) Reported() bool {
	return r.ReportErr == nil
}

// Run drives job from NEW to DONE. Exactly one report is attempted per call,
// whatever happened in the earlier stages. Once started a run is not aborted
// by ctx: each stage is bounded by the stage timeout only, so a shutdown never
// turns into a false DNS failure or an unprobed service.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job) (RunResult, error) {
	const op = "service.Pipeline.Run"

	ctx = context.WithoutCancel(ctx)

	job.RunID = uuid.NewString()
	job.State = domain.StateNew

	res := RunResult{JobID: job.ID, RunID: job.RunID, Trace: []domain.PipelineState{domain.StateNew}}

	log := p.log.With(
		slog.String("op", op),
		slog.String("job_id", job.ID),
		slog.String("run_id", job.RunID),
		slog.String("host", job.Hostname),
	)
	log.Info("pipeline started")

	start := time.Now()
	for !job.State.Terminal() {
		step := p.step(ctx, job, &res)

		if !job.State.CanTransition(step.next) {
			return res, fmt.Errorf("%s: illegal transition %s -> %s", op, job.State, step.next)
		}

		if step.err != nil {
			log.Warn("stage failed",
				slog.String("state", string(job.State)),
				slog.String("next", string(step.next)),
				sl.Err(step.err),
			)
		}

		job.State = step.next
		res.Trace = append(res.Trace, step.next)
	}

	log.Info("pipeline finished",
		slog.String("ip", job.IP),
		slog.String("host_status", string(job.HostStatus())),
		slog.Bool("reported", res.Reported()),
		slog.Duration("took", time.Since(start)),
	)

	return res, nil
}

func (p *Pipeline) step(ctx context.Context, job *domain.Job, res *RunResult) stageResult {
	switch job.State {
	case domain.StateNew:
		return proceed(domain.StateResolving)

	case domain.StateResolving:
		err := p.withDeadline(ctx, func(ctx context.Context) error {
			return p.resolver.Resolve(ctx, job)
		})
		if err != nil || !job.Resolved() {
			job.IP = domain.IPFail
			res.DNSFailed = true
			if err == nil {
				err = errors.New("resolver returned no address")
			}
			p.emit(ctx, job, domain.LogLevelError, "dns resolution failed: "+err.Error())
			return divert(domain.StateDNSFailed, err)
		}
		return proceed(domain.StateResolved)

	case domain.StateResolved:
		if p.pinger == nil {
			return proceed(domain.StateCheckingServices)
		}
		return proceed(domain.StatePinging)

	case domain.StateDNSFailed:
		return proceed(domain.StateReporting)

	case domain.StatePinging:
		err := p.withDeadline(ctx, func(ctx context.Context) error {
			return p.pinger.Ping(ctx, job)
		})
		if err != nil {
			// reachability unknown, services are still checked
			job.Ping = nil
			res.PingErr = err
			p.emit(ctx, job, domain.LogLevelWarn, "ping failed: "+err.Error())
			return divert(domain.StatePingFailed, err)
		}
		return proceed(domain.StatePinged)

	case domain.StatePinged, domain.StatePingFailed:
		return proceed(domain.StateCheckingServices)

	case domain.StateCheckingServices:
		err := p.withDeadline(ctx, func(ctx context.Context) error {
			return p.walker.Walk(ctx, job)
		})
		if err != nil {
			res.WalkErr = err
			p.emit(ctx, job, domain.LogLevelWarn, "service walk stopped: "+err.Error())
			return divert(domain.StateChecked, err)
		}
		return proceed(domain.StateChecked)

	case domain.StateChecked:
		return proceed(domain.StateReporting)

	case domain.StateReporting:
		if job.IP == "" {
			job.IP = domain.IPFail
		}
		err := p.withDeadline(ctx, func(ctx context.Context) error {
			return p.results.SendReport(ctx, job)
		})
		res.ReportErr = err
		if err != nil {
			p.emit(ctx, job, domain.LogLevelError, "report failed: "+err.Error())
			return divert(domain.StateDone, err)
		}
		p.emit(ctx, job, domain.LogLevelInfo, "job reported")
		return proceed(domain.StateDone)
	}

	return divert(domain.StateDone, fmt.Errorf("no step for state %s", job.State))
}

func (p *Pipeline) withDeadline(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	return fn(ctx)
}

func (p *Pipeline) emit(ctx context.Context, job *domain.Job, level domain.LogLevel, msg string) {
	entry := domain.LogEntry{
		JobID:     job.ID,
		RunID:     job.RunID,
		AgentID:   p.agentID,
		Level:     level,
		State:     job.State,
		Message:   msg,
		Timestamp: time.Now(),
	}

	if err := p.results.SendLog(ctx, entry); err != nil {
		p.log.Debug("failed to send log", slog.String("job_id", job.ID), sl.Err(err))
	}
}
