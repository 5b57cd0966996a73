package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"ozzus/sbe-monitor/internal/backend"
	"ozzus/sbe-monitor/internal/domain"
)

// WriterResultRepository writes indented reports to w instead of a remote
// sink. Used by the one-shot check command.
type WriterResultRepository struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterResultRepository(w io.Writer) *WriterResultRepository {
	return &WriterResultRepository{w: w}
}

func (r *WriterResultRepository) SendReport(_ context.Context, job *domain.Job) error {
	payload, err := backend.EncodeReport(job)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return fmt.Errorf("indent report: %w", err)
	}
	buf.WriteByte('\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.w.Write(buf.Bytes())
	return err
}

func (r *WriterResultRepository) SendLog(context.Context, domain.LogEntry) error {
	return nil
}
