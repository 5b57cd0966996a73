package service

import "sync/atomic"

type Stats struct {
	fetchAttempts  atomic.Int64
	fetchErrors    atomic.Int64
	fetched        atomic.Int64
	started        atomic.Int64
	duplicates     atomic.Int64
	dnsFailures    atomic.Int64
	pingFailures   atomic.Int64
	reported       atomic.Int64
	reportErrors   atomic.Int64
	pipelineErrors atomic.Int64
}

type StatsSnapshot struct {
	FetchAttempts  int64 `json:"fetch_attempts"`
	FetchErrors    int64 `json:"fetch_errors"`
	Fetched        int64 `json:"fetched"`
	Started        int64 `json:"started"`
	Duplicates     int64 `json:"duplicates"`
	DNSFailures    int64 `json:"dns_failures"`
	PingFailures   int64 `json:"ping_failures"`
	Reported       int64 `json:"reported"`
	ReportErrors   int64 `json:"report_errors"`
	PipelineErrors int64 `json:"pipeline_errors"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FetchAttempts:  s.fetchAttempts.Load(),
		FetchErrors:    s.fetchErrors.Load(),
		Fetched:        s.fetched.Load(),
		Started:        s.started.Load(),
		Duplicates:     s.duplicates.Load(),
		DNSFailures:    s.dnsFailures.Load(),
		PingFailures:   s.pingFailures.Load(),
		Reported:       s.reported.Load(),
		ReportErrors:   s.reportErrors.Load(),
		PipelineErrors: s.pipelineErrors.Load(),
	}
}
