package checks

import (
	"context"
	"fmt"
	"log/slog"

	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
)

const httpPort = 80

// UnknownProtocolPolicy decides what a service with an unrecognised protocol does to the walk.
type UnknownProtocolPolicy string

const (
	// AbortOnUnknown stops the walk and drops every result collected so far.
	AbortOnUnknown UnknownProtocolPolicy = "abort"
	// SkipUnknown leaves that one service unprobed and carries on.
	SkipUnknown UnknownProtocolPolicy = "skip"
)

// ServiceProber checks a single service of a resolved job.
type ServiceProber interface {
	Probe(ctx context.Context, job *domain.Job, svc *domain.Service) (*domain.ServiceResult, error)
}

type Dispatcher struct {
	log    *slog.Logger
	http   ServiceProber
	policy UnknownProtocolPolicy
}

func NewDispatcher(log *slog.Logger, httpProber ServiceProber, policy UnknownProtocolPolicy) *Dispatcher {
	if policy != SkipUnknown {
		policy = AbortOnUnknown
	}

	return &Dispatcher{
		log:    log,
		http:   httpProber,
		policy: policy,
	}
}

// Walk probes the job's services in declaration order and stores each result
// on its service. A failing probe only marks its own service. Services that
// need auth, non-80 tcp and udp services are left without a result.
func (d *Dispatcher) Walk(ctx context.Context, job *domain.Job) error {
	const op = "checks.Dispatcher.Walk"

	log := d.log.With(slog.String("op", op), slog.String("job_id", job.ID))

	for i, svc := range job.Services {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: service walk interrupted at #%d: %w", op, i, err)
		}

		svcLog := log.With(
			slog.Int("index", i),
			slog.String("protocol", svc.RawProtocol),
			slog.Int("port", svc.Port),
		)

		if svc.RequiresAuth {
			// authenticated probes are not implemented
			svcLog.Debug("service requires auth, skipped")
			continue
		}

		switch svc.Protocol {
		case domain.ProtocolTCP:
			if svc.Port != httpPort {
				svcLog.Debug("no handler for tcp port, left unprobed")
				continue
			}

			result, err := d.http.Probe(ctx, job, svc)
			if err != nil {
				svcLog.Warn("service probe failed", sl.Err(err))
			}
			if result == nil {
				result = &domain.ServiceResult{Connect: domain.ConnectError}
				if err != nil {
					result.Error = err.Error()
				}
			}
			svc.Result = result

		case domain.ProtocolUDP:
			svcLog.Debug("udp service left unprobed")

		case domain.ProtocolUnknown:
			if d.policy == SkipUnknown {
				svcLog.Warn("unknown protocol, service skipped")
				continue
			}

			for _, s := range job.Services {
				s.Result = nil
			}
			svcLog.Warn("unknown protocol, service walk aborted")
			return fmt.Errorf("%w: %q", ErrUnknownProtocol, svc.RawProtocol)

		default:
			return fmt.Errorf("%s: unhandled protocol kind %d", op, svc.Protocol)
		}
	}

	return nil
}
