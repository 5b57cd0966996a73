package domain

import (
	"net"
	"strings"
)

// IPFail is stored in Job.IP when the hostname could not be resolved.
const IPFail = "fail"

type Scheme string

const (
	SchemePlain Scheme = "http"
	SchemeTLS   Scheme = "https"
)

// ParseScheme maps a wire value onto a Scheme. Anything that is not https is plain.
func ParseScheme(s string) Scheme {
	if strings.EqualFold(strings.TrimSpace(s), string(SchemeTLS)) {
		return SchemeTLS
	}
	return SchemePlain
}

// тип L4 протокола сервиса

type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolTCP
	ProtocolUDP
)

// ParseProtocol keeps the raw value for logging; unrecognised strings map to ProtocolUnknown.
func ParseProtocol(s string) Protocol {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return ProtocolTCP
	case "udp":
		return ProtocolUDP
	default:
		return ProtocolUnknown
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Content describes what the HTTP probe should fetch and look for.
type Content struct {
	URL      string   `json:"url,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

type Service struct {
	Protocol     Protocol
	RawProtocol  string
	Port         int
	RequiresAuth bool
	Content      Content
	Result       *ServiceResult
}

type PingStats struct {
	Sent     int `json:"packets_sent"`
	Received int `json:"packets_received"`
}

// Loss returns the fraction of echo requests that went unanswered.
// ok is false when nothing was transmitted.
func (p PingStats) Loss() (loss float64, ok bool) {
	if p.Sent <= 0 {
		return 0, false
	}
	return float64(p.Sent-p.Received) / float64(p.Sent), true
}

// ReplyPercent is the whole-number percentage of answered echo requests.
func (p PingStats) ReplyPercent() (int, bool) {
	if p.Sent <= 0 {
		return 0, false
	}
	return p.Received * 100 / p.Sent, true
}

// Job is one assignment to verify a host and its services. It is owned by a
// single pipeline run at a time and mutated in place by each stage.
type Job struct {
	ID        string
	RunID     string
	Hostname  string
	DNS       []string
	Scheme    Scheme
	PingRatio int
	IP        string
	Ping      *PingStats
	Services  []*Service
	State     PipelineState
}

// Resolved reports whether IP holds a usable address.
func (j *Job) Resolved() bool {
	return j.IP != "" && j.IP != IPFail && net.ParseIP(j.IP) != nil
}

// HostStatus derives up/down from the ping result and the job's threshold.
func (j *Job) HostStatus() HostStatus {
	if j.Ping == nil {
		return HostStatusUnknown
	}
	pct, ok := j.Ping.ReplyPercent()
	if !ok {
		return HostStatusUnknown
	}
	if pct >= j.PingRatio {
		return HostStatusUp
	}
	return HostStatusDown
}

type HostStatus string

const (
	HostStatusUp      HostStatus = "up"
	HostStatusDown    HostStatus = "down"
	HostStatusUnknown HostStatus = "unknown"
)
