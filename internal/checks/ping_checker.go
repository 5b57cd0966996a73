package checks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"ozzus/sbe-monitor/internal/domain"
)

var (
	pingTransmittedRegexp = regexp.MustCompile(`(\d+) packets transmitted`)
	pingReceivedRegexp    = regexp.MustCompile(`(\d+) (?:packets )?received`)
)

// PingSummary holds the counts read from one ping run.
type PingSummary struct {
	Transmitted int
	Received    int
}

// ParsePingOutput extracts the transmitted and received counts from the
// summary that ping prints on exit. Both lines must be present.
func ParsePingOutput(output string) (PingSummary, error) {
	tm := pingTransmittedRegexp.FindStringSubmatch(output)
	rm := pingReceivedRegexp.FindStringSubmatch(output)
	if len(tm) != 2 || len(rm) != 2 {
		return PingSummary{}, ErrPingUnparsable
	}

	transmitted, err := strconv.Atoi(tm[1])
	if err != nil {
		return PingSummary{}, fmt.Errorf("%w: %v", ErrPingUnparsable, err)
	}
	received, err := strconv.Atoi(rm[1])
	if err != nil {
		return PingSummary{}, fmt.Errorf("%w: %v", ErrPingUnparsable, err)
	}

	return PingSummary{Transmitted: transmitted, Received: received}, nil
}

// PingRunner sends count echo requests to addr and reports what came back.
type PingRunner interface {
	Run(ctx context.Context, addr string, count int) (PingSummary, error)
}

// ExecPingRunner shells out to the system ping utility as `ping -c <count> <addr>`.
type ExecPingRunner struct {
	Binary string
}

func (r ExecPingRunner) Run(ctx context.Context, addr string, count int) (PingSummary, error) {
	binary := r.Binary
	if binary == "" {
		binary = "ping"
	}

	cmd := exec.CommandContext(ctx, binary, "-c", strconv.Itoa(count), addr)

	// ping exits non-zero when replies are missing; the summary is still valid
	output, runErr := cmd.CombinedOutput()

	summary, err := ParsePingOutput(string(output))
	if err == nil {
		return summary, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return PingSummary{}, fmt.Errorf("%w: %v", err, ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return PingSummary{}, fmt.Errorf("run %s: %w", binary, runErr)
		}
		return PingSummary{}, fmt.Errorf("%w: %s exited with %d", err, binary, exitErr.ExitCode())
	}

	return PingSummary{}, err
}

type PingChecker struct {
	log     *slog.Logger
	runner  PingRunner
	timeout time.Duration
	count   int
}

func NewPingChecker(log *slog.Logger, runner PingRunner, timeout time.Duration, count int) *PingChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if count <= 0 {
		count = 5
	}

	return &PingChecker{
		log:     log,
		runner:  runner,
		timeout: timeout,
		count:   count,
	}
}

// Ping records packet counts on the job. Counts are only recorded when the
// run produced a non-zero transmitted count; otherwise job.Ping stays nil and
// one of ErrPingUnparsable, ErrPingZeroTransmitted (or a runner error) is returned.
func (p *PingChecker) Ping(ctx context.Context, job *domain.Job) error {
	const op = "checks.PingChecker.Ping"

	if !job.Resolved() {
		return fmt.Errorf("%s: job %s has no address", op, job.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	summary, err := p.runner.Run(ctx, job.IP, p.count)
	if err != nil {
		return err
	}

	if summary.Transmitted == 0 {
		return ErrPingZeroTransmitted
	}

	job.Ping = &domain.PingStats{Sent: summary.Transmitted, Received: summary.Received}

	loss, _ := job.Ping.Loss()
	p.log.Debug("ping finished",
		slog.String("op", op),
		slog.String("job_id", job.ID),
		slog.String("ip", job.IP),
		slog.Int("sent", summary.Transmitted),
		slog.Int("received", summary.Received),
		slog.Float64("loss", loss),
		slog.String("took", formatMilliseconds(time.Since(start))),
	)

	return nil
}
