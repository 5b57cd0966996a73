package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ozzus/sbe-monitor/internal/backend"
	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
)

type ResultRepository interface {
	SendReport(ctx context.Context, job *domain.Job) error
	SendLog(ctx context.Context, logEntry domain.LogEntry) error
}

type jobReporter interface {
	ReportJob(ctx context.Context, job *domain.Job) error
}

// HTTPResultRepository reports jobs back to the scoring backend. The backend
// has no log intake, so log entries only go to the local logger.
type HTTPResultRepository struct {
	log    *slog.Logger
	client jobReporter
}

func NewHTTPResultRepository(log *slog.Logger, client jobReporter) *HTTPResultRepository {
	return &HTTPResultRepository{log: log, client: client}
}

func (r *HTTPResultRepository) SendReport(ctx context.Context, job *domain.Job) error {
	if err := r.client.ReportJob(ctx, job); err != nil {
		return fmt.Errorf("failed to report job %s: %w", job.ID, err)
	}
	return nil
}

func (r *HTTPResultRepository) SendLog(ctx context.Context, logEntry domain.LogEntry) error {
	level := slog.LevelInfo
	switch logEntry.Level {
	case domain.LogLevelWarn:
		level = slog.LevelWarn
	case domain.LogLevelError:
		level = slog.LevelError
	}

	r.log.Log(ctx, level, logEntry.Message,
		slog.String("job_id", logEntry.JobID),
		slog.String("run_id", logEntry.RunID),
		slog.String("state", string(logEntry.State)),
	)
	return nil
}

type publisher interface {
	Publish(ctx context.Context, key string, payload []byte, headers map[string]string) error
	PublishEvent(ctx context.Context, key string, event any, headers map[string]string) error
	Topic() string
}

// KafkaResultRepository mirrors reports and pipeline logs onto topics.
// Reports use the same envelope as the backend PUT, keyed by job id.
type KafkaResultRepository struct {
	log             *slog.Logger
	resultsProducer publisher
	logsProducer    publisher
}

func NewKafkaResultRepository(log *slog.Logger, resultsProducer, logsProducer publisher) *KafkaResultRepository {
	return &KafkaResultRepository{
		log:             log,
		resultsProducer: resultsProducer,
		logsProducer:    logsProducer,
	}
}

func (r *KafkaResultRepository) SendReport(ctx context.Context, job *domain.Job) error {
	payload, err := backend.EncodeReport(job)
	if err != nil {
		return err
	}

	headers := map[string]string{
		"content-type": "application/json",
		"run-id":       job.RunID,
		"host-status":  string(job.HostStatus()),
	}
	if err := r.resultsProducer.Publish(ctx, job.ID, payload, headers); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	r.log.Debug("report published",
		slog.String("job_id", job.ID),
		slog.String("topic", r.resultsProducer.Topic()),
	)
	return nil
}

func (r *KafkaResultRepository) SendLog(ctx context.Context, logEntry domain.LogEntry) error {
	key := fmt.Sprintf("%s-%d", logEntry.JobID, logEntry.Timestamp.UnixNano())
	headers := map[string]string{
		"content-type": "application/json",
		"level":        string(logEntry.Level),
	}
	if err := r.logsProducer.PublishEvent(ctx, key, logEntry, headers); err != nil {
		return fmt.Errorf("failed to publish log: %w", err)
	}
	return nil
}

// MultiResultRepository sends to a primary sink and best-effort mirrors.
// Only the primary decides whether a report counts as delivered.
type MultiResultRepository struct {
	log     *slog.Logger
	primary ResultRepository
	mirrors []ResultRepository
}

func NewMultiResultRepository(log *slog.Logger, primary ResultRepository, mirrors ...ResultRepository) *MultiResultRepository {
	return &MultiResultRepository{
		log:     log,
		primary: primary,
		mirrors: mirrors,
	}
}

func (r *MultiResultRepository) SendReport(ctx context.Context, job *domain.Job) error {
	const op = "repository.MultiResultRepository.SendReport"

	err := r.primary.SendReport(ctx, job)

	for _, m := range r.mirrors {
		if mErr := m.SendReport(ctx, job); mErr != nil {
			r.log.Warn("mirror report failed", slog.String("op", op), slog.String("job_id", job.ID), sl.Err(mErr))
		}
	}

	return err
}

func (r *MultiResultRepository) SendLog(ctx context.Context, logEntry domain.LogEntry) error {
	errs := []error{r.primary.SendLog(ctx, logEntry)}
	for _, m := range r.mirrors {
		errs = append(errs, m.SendLog(ctx, logEntry))
	}
	return errors.Join(errs...)
}
