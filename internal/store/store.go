package store

import (
	"context"
	"errors"

	"ozzus/sbe-monitor/internal/domain"
)

var ErrClosed = errors.New("job store is closed")

// JobStore holds pending jobs between the fetch and start timers. Push and
// Pop never block waiting for the other side; Pop on an empty store returns
// ok == false. A job handed out by Pop is never handed out again.
type JobStore interface {
	Push(ctx context.Context, job *domain.Job) error
	Pop(ctx context.Context) (job *domain.Job, ok bool, err error)
	Len(ctx context.Context) (int, error)
	Close() error
}
