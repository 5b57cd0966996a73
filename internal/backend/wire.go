package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ozzus/sbe-monitor/internal/domain"
)

const (
	envelopeModel = "scorebot.job"
	statusJob     = "job"
	statusDone    = "done"
)

// Envelope is the job document exchanged with the scoring backend, in both
// directions. The fetch side fills the descriptor fields; the report side adds
// the measured ones.
type Envelope struct {
	PK     jobID     `json:"pk"`
	Model  string    `json:"model,omitempty"`
	Status string    `json:"status"`
	Fields JobFields `json:"fields"`
}

type JobFields struct {
	DNS    []string `json:"job_dns,omitempty"`
	Scheme string   `json:"job_scheme,omitempty"`
	Host   HostJSON `json:"job_host"`
}

type HostJSON struct {
	FQDN         string        `json:"host_fqdn"`
	PingRatio    int           `json:"host_ping_ratio"`
	Services     []ServiceJSON `json:"host_services"`
	IP           string        `json:"host_ip,omitempty"`
	PingSent     *int          `json:"host_ping_sent,omitempty"`
	PingReceived *int          `json:"host_ping_received,omitempty"`
	PingPercent  *int          `json:"host_ping_percent,omitempty"`
	Status       string        `json:"host_status,omitempty"`
}

type ServiceJSON struct {
	Protocol     string          `json:"service_protocol"`
	Port         int             `json:"service_port"`
	RequiresAuth bool            `json:"service_requires_auth,omitempty"`
	Connect      string          `json:"service_connect,omitempty"`
	Content      json.RawMessage `json:"service_content,omitempty"`
}

type resultContent struct {
	Status          int      `json:"status"`
	Content         string   `json:"content"`
	KeywordsMatched []string `json:"keywords_matched,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// DecodeJob turns a fetched document into a Job. A document whose status is
// not "job" carries nothing to do and yields ErrNoJob.
func DecodeJob(b []byte) (*domain.Job, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, ErrNoJob
	}

	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}

	if !strings.EqualFold(env.Status, statusJob) {
		return nil, ErrNoJob
	}

	return env.toJob()
}

func (e Envelope) toJob() (*domain.Job, error) {
	id := string(e.PK)
	if id == "" {
		return nil, errors.New("decode job: missing pk")
	}

	host := strings.TrimSpace(e.Fields.Host.FQDN)
	if host == "" {
		return nil, fmt.Errorf("decode job %s: missing host_fqdn", id)
	}

	job := &domain.Job{
		ID:        id,
		Hostname:  host,
		DNS:       e.Fields.DNS,
		Scheme:    domain.ParseScheme(e.Fields.Scheme),
		PingRatio: e.Fields.Host.PingRatio,
		State:     domain.StateNew,
		Services:  make([]*domain.Service, 0, len(e.Fields.Host.Services)),
	}

	for i, s := range e.Fields.Host.Services {
		svc := &domain.Service{
			Protocol:     domain.ParseProtocol(s.Protocol),
			RawProtocol:  s.Protocol,
			Port:         s.Port,
			RequiresAuth: s.RequiresAuth,
		}
		if len(s.Content) > 0 && string(s.Content) != "null" {
			if err := json.Unmarshal(s.Content, &svc.Content); err != nil {
				return nil, fmt.Errorf("decode job %s: service %d content: %w", id, i, err)
			}
		}
		job.Services = append(job.Services, svc)
	}

	return job, nil
}

// EncodeReport builds the report document for a finished job. Only services
// that produced a probe result are listed.
func EncodeReport(job *domain.Job) ([]byte, error) {
	env := Envelope{
		PK:     jobID(job.ID),
		Model:  envelopeModel,
		Status: statusDone,
		Fields: JobFields{
			DNS:    job.DNS,
			Scheme: string(job.Scheme),
			Host: HostJSON{
				FQDN:      job.Hostname,
				PingRatio: job.PingRatio,
				IP:        job.IP,
				Status:    string(job.HostStatus()),
				Services:  make([]ServiceJSON, 0, len(job.Services)),
			},
		},
	}

	if job.Ping != nil {
		sent, recv := job.Ping.Sent, job.Ping.Received
		env.Fields.Host.PingSent = &sent
		env.Fields.Host.PingReceived = &recv
		if pct, ok := job.Ping.ReplyPercent(); ok {
			env.Fields.Host.PingPercent = &pct
		}
	}

	for _, svc := range job.Services {
		if svc.Result == nil {
			continue
		}
		content, err := json.Marshal(resultContent{
			Status:          svc.Result.Status,
			Content:         svc.Result.Content,
			KeywordsMatched: svc.Result.KeywordsMatched,
			Error:           svc.Result.Error,
		})
		if err != nil {
			return nil, fmt.Errorf("encode service %d result: %w", svc.Port, err)
		}
		env.Fields.Host.Services = append(env.Fields.Host.Services, ServiceJSON{
			Protocol:     svc.Protocol.String(),
			Port:         svc.Port,
			RequiresAuth: svc.RequiresAuth,
			Connect:      string(svc.Result.Connect),
			Content:      content,
		})
	}

	return json.Marshal(env)
}

// jobID is the backend primary key. The backend sends a number; other
// sources may send a string. Numeric ids go back out as numbers.
type jobID string

func (id *jobID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = jobID(s)
		return nil
	}
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("pk: %w", err)
	}
	*id = jobID(n.String())
	return nil
}

func (id jobID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}
