package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ozzus/sbe-monitor/internal/backend"
	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/lib/logger/sl"

	kafkago "github.com/segmentio/kafka-go"
)

// TaskRepository hands out jobs. FetchJob returns backend.ErrNoJob when the
// source has nothing; AckJob is called once the job has been reported.
type TaskRepository interface {
	FetchJob(ctx context.Context) (*domain.Job, error)
	AckJob(ctx context.Context, jobID string) error
	NackJob(jobID string)
}

type jobFetcher interface {
	FetchJob(ctx context.Context) (*domain.Job, error)
}

// HTTPTaskRepository pulls jobs from the scoring backend. The backend hands
// each job out once, so there is nothing to acknowledge.
type HTTPTaskRepository struct {
	client jobFetcher
}

func NewHTTPTaskRepository(client jobFetcher) *HTTPTaskRepository {
	return &HTTPTaskRepository{client: client}
}

func (r *HTTPTaskRepository) FetchJob(ctx context.Context) (*domain.Job, error) {
	return r.client.FetchJob(ctx)
}

func (r *HTTPTaskRepository) AckJob(context.Context, string) error { return nil }

func (r *HTTPTaskRepository) NackJob(string) {}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// KafkaTaskRepository reads job envelopes from a topic. A job's offset is
// settled by AckJob after its report went out; the group only commits past
// offsets whose jobs are all settled, so a nacked job is read again after a
// restart or rebalance.
type KafkaTaskRepository struct {
	log         *slog.Logger
	consumer    messageReader
	pollTimeout time.Duration

	// commitMu keeps commits in settle order
	commitMu sync.Mutex

	mu      sync.Mutex
	offsets *offsetTracker
	jobs    map[string][]position
}

func NewKafkaTaskRepository(log *slog.Logger, consumer messageReader, pollTimeout time.Duration) *KafkaTaskRepository {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}

	return &KafkaTaskRepository{
		log:         log,
		consumer:    consumer,
		pollTimeout: pollTimeout,
		offsets:     newOffsetTracker(),
		jobs:        make(map[string][]position),
	}
}

func (r *KafkaTaskRepository) FetchJob(ctx context.Context) (*domain.Job, error) {
	const op = "repository.KafkaTaskRepository.FetchJob"

	timeoutCtx, cancel := context.WithTimeout(ctx, r.pollTimeout)
	defer cancel()

	msg, err := r.consumer.FetchMessage(timeoutCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, backend.ErrNoJob
		}
		return nil, fmt.Errorf("failed to read event: %w", err)
	}

	r.mu.Lock()
	pos := r.offsets.track(msg)
	r.mu.Unlock()

	job, err := backend.DecodeJob(msg.Value)
	if err != nil {
		// nothing to run for this message, it must not hold the partition back
		if commitErr := r.settle(ctx, pos); commitErr != nil {
			r.log.Error("failed to skip undecodable message", slog.String("op", op), sl.Err(commitErr))
		}
		if errors.Is(err, backend.ErrNoJob) {
			return nil, err
		}
		return nil, fmt.Errorf("decode message at offset %d: %w", msg.Offset, err)
	}

	r.mu.Lock()
	r.jobs[job.ID] = append(r.jobs[job.ID], pos)
	r.mu.Unlock()

	return job, nil
}

func (r *KafkaTaskRepository) AckJob(ctx context.Context, jobID string) error {
	r.mu.Lock()
	positions, ok := r.jobs[jobID]
	delete(r.jobs, jobID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	return r.settle(ctx, positions...)
}

// NackJob holds the job's offsets: the partition commits nothing past them
// until the agent restarts or the group rebalances.
func (r *KafkaTaskRepository) NackJob(jobID string) {
	r.mu.Lock()
	positions := r.jobs[jobID]
	delete(r.jobs, jobID)
	for _, pos := range positions {
		r.offsets.hold(pos)
	}
	r.mu.Unlock()

	for _, pos := range positions {
		r.log.Warn("job nacked, partition commits stop before it",
			slog.String("job_id", jobID),
			slog.Int("partition", pos.partition),
			slog.Int64("offset", pos.offset),
		)
	}
}

// Pending is the number of fetched messages the group has not committed yet.
func (r *KafkaTaskRepository) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offsets.uncommitted()
}

// settle marks positions done and commits whatever prefix became contiguous.
// A failed commit leaves the offsets settled; the next commit covers them.
func (r *KafkaTaskRepository) settle(ctx context.Context, positions ...position) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.mu.Lock()
	for _, pos := range positions {
		r.offsets.settle(pos)
	}
	msgs := r.offsets.committable()
	r.mu.Unlock()

	if len(msgs) == 0 {
		return nil
	}

	if err := r.commit(ctx, msgs); err != nil {
		return err
	}

	r.mu.Lock()
	r.offsets.committed(msgs)
	r.mu.Unlock()

	return nil
}

func (r *KafkaTaskRepository) commit(ctx context.Context, msgs []kafkago.Message) error {
	const maxRetries = 3

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ctx.Err()
			}
			if remaining < timeout {
				timeout = remaining
			}
		}

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		err := r.consumer.CommitMessages(commitCtx, msgs...)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}

	return fmt.Errorf("failed to commit message: %w", lastErr)
}
