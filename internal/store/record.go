package store

import (
	"encoding/json"
	"fmt"

	"ozzus/sbe-monitor/internal/domain"
)

// record is the queued form of a job. Only fetch-time fields are kept;
// pipeline output never goes back into the queue.
type record struct {
	ID        string          `json:"id"`
	Hostname  string          `json:"hostname"`
	DNS       []string        `json:"dns,omitempty"`
	Scheme    string          `json:"scheme"`
	PingRatio int             `json:"ping_ratio"`
	Services  []serviceRecord `json:"services"`
}

type serviceRecord struct {
	Protocol     string         `json:"protocol"`
	Port         int            `json:"port"`
	RequiresAuth bool           `json:"requires_auth"`
	Content      domain.Content `json:"content"`
}

func toRecord(job *domain.Job) record {
	rec := record{
		ID:        job.ID,
		Hostname:  job.Hostname,
		DNS:       job.DNS,
		Scheme:    string(job.Scheme),
		PingRatio: job.PingRatio,
		Services:  make([]serviceRecord, 0, len(job.Services)),
	}
	for _, svc := range job.Services {
		rec.Services = append(rec.Services, serviceRecord{
			Protocol:     svc.RawProtocol,
			Port:         svc.Port,
			RequiresAuth: svc.RequiresAuth,
			Content:      svc.Content,
		})
	}
	return rec
}

func (r record) toJob() *domain.Job {
	job := &domain.Job{
		ID:        r.ID,
		Hostname:  r.Hostname,
		DNS:       r.DNS,
		Scheme:    domain.ParseScheme(r.Scheme),
		PingRatio: r.PingRatio,
		State:     domain.StateNew,
		Services:  make([]*domain.Service, 0, len(r.Services)),
	}
	for _, s := range r.Services {
		job.Services = append(job.Services, &domain.Service{
			Protocol:     domain.ParseProtocol(s.Protocol),
			RawProtocol:  s.Protocol,
			Port:         s.Port,
			RequiresAuth: s.RequiresAuth,
			Content:      s.Content,
		})
	}
	return job
}

func encodeRecord(job *domain.Job) ([]byte, error) {
	b, err := json.Marshal(toRecord(job))
	if err != nil {
		return nil, fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return b, nil
}

func decodeRecord(b []byte) (*domain.Job, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return rec.toJob(), nil
}
