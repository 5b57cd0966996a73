package http

import (
	"context"
	"net/http"
	"time"

	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/service"

	"github.com/gin-gonic/gin"
)

const version = "1.0.0"

type AgentStatus interface {
	HealthCheck(ctx context.Context) error
	GetStatus(ctx context.Context) service.Status
}

type HealthController struct {
	agent   AgentStatus
	agentID string
}

func NewHealthController(agent AgentStatus, agentID string) *HealthController {
	return &HealthController{
		agent:   agent,
		agentID: agentID,
	}
}

// Health handler для проверки работоспособности агента
func (h *HealthController) Health(c *gin.Context) {
	if err := h.agent.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, domain.HealthResponse{
			Status:    domain.HealthStatusUnhealthy,
			Timestamp: time.Now(),
			AgentID:   h.agentID,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, domain.HealthResponse{
		Status:    domain.HealthStatusHealthy,
		Timestamp: time.Now(),
		AgentID:   h.agentID,
		Message:   "Agent is running",
	})
}

// Status handler: очередь, пайплайны в работе, счётчики
func (h *HealthController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.agent.GetStatus(c.Request.Context()))
}

// Ready handler для проверки готовности агента к работе
func (h *HealthController) Ready(c *gin.Context) {
	if err := h.agent.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"agent":     h.agentID,
			"message":   err.Error(),
			"timestamp": time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"agent":     h.agentID,
		"message":   "Agent is ready to process jobs",
		"timestamp": time.Now(),
	})
}

// Info handler для получения общей информации об агенте
func (h *HealthController) Info(c *gin.Context) {
	ctx := c.Request.Context()
	st := h.agent.GetStatus(ctx)

	components := []domain.ComponentHealth{
		storeComponent(h.agent.HealthCheck(ctx), st),
		fetcherComponent(st),
		schedulerComponent(st),
		reporterComponent(st),
	}

	c.JSON(http.StatusOK, domain.DetailedHealthResponse{
		Status:     domain.OverallStatus(components),
		Timestamp:  time.Now(),
		AgentID:    h.agentID,
		Version:    version,
		Uptime:     st.Uptime,
		Components: components,
	})
}

func storeComponent(healthErr error, st service.Status) domain.ComponentHealth {
	ch := domain.ComponentHealth{
		Name:    "job_store",
		State:   domain.ComponentOK,
		Details: map[string]any{"queue_depth": st.QueueDepth},
	}
	switch {
	case healthErr != nil:
		ch.State = domain.ComponentFailing
		ch.Message = healthErr.Error()
	case st.QueueDepth < 0:
		ch.State = domain.ComponentDegraded
		ch.Message = "queue depth unavailable"
	}
	return ch
}

func fetcherComponent(st service.Status) domain.ComponentHealth {
	n := st.Counters
	ch := domain.ComponentHealth{
		Name:  "fetcher",
		State: domain.ComponentOK,
		Details: map[string]any{
			"interval": st.FetchInterval,
			"attempts": n.FetchAttempts,
			"fetched":  n.Fetched,
			"errors":   n.FetchErrors,
		},
	}
	// ни одной удачной попытки
	if n.FetchErrors > 0 && n.FetchErrors == n.FetchAttempts {
		ch.State = domain.ComponentDegraded
		ch.Message = "job source unreachable"
	}
	return ch
}

func schedulerComponent(st service.Status) domain.ComponentHealth {
	ch := domain.ComponentHealth{
		Name:  "scheduler",
		State: domain.ComponentOK,
		Details: map[string]any{
			"interval":   st.StartInterval,
			"in_flight":  st.InFlight,
			"started":    st.Counters.Started,
			"duplicates": st.Counters.Duplicates,
			"panics":     st.Panics,
		},
	}
	if st.Panics > 0 {
		ch.State = domain.ComponentDegraded
		ch.Message = "recovered panics in pipelines"
	}
	return ch
}

func reporterComponent(st service.Status) domain.ComponentHealth {
	n := st.Counters
	ch := domain.ComponentHealth{
		Name:    "reporter",
		State:   domain.ComponentOK,
		Details: map[string]any{"reported": n.Reported, "errors": n.ReportErrors},
	}
	if n.ReportErrors > 0 {
		ch.State = domain.ComponentDegraded
		ch.Message = "some reports were not delivered"
	}
	return ch
}
