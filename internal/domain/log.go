package domain

import "time"

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is a pipeline event mirrored to the log stream.
type LogEntry struct {
	JobID     string        `json:"job_id"`
	RunID     string        `json:"run_id"`
	AgentID   string        `json:"agent_id"`
	Level     LogLevel      `json:"level"`
	State     PipelineState `json:"state"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}
