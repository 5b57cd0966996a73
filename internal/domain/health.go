package domain

import "time"

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentState состояние одной части агента (store, fetcher, scheduler, reporter)
type ComponentState string

const (
	ComponentOK       ComponentState = "ok"
	ComponentDegraded ComponentState = "degraded"
	ComponentFailing  ComponentState = "failing"
)

type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	AgentID   string       `json:"agent_id"`
	Message   string       `json:"message,omitempty"`
}

type ComponentHealth struct {
	Name    string         `json:"name"`
	State   ComponentState `json:"state"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type DetailedHealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	AgentID    string            `json:"agent_id"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime,omitempty"`
	Components []ComponentHealth `json:"components"`
}

// OverallStatus folds component states: any failing part makes the agent
// unhealthy, any degraded part makes it degraded.
func OverallStatus(components []ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, c := range components {
		switch c.State {
		case ComponentFailing:
			return HealthStatusUnhealthy
		case ComponentDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}
