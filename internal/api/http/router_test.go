package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apihttp "ozzus/sbe-monitor/internal/api/http"
	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
	"ozzus/sbe-monitor/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	healthErr error
	status    service.Status
}

func (f fakeAgent) HealthCheck(context.Context) error { return f.healthErr }

func (f fakeAgent) GetStatus(context.Context) service.Status { return f.status }

func serve(t *testing.T, agent fakeAgent, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := apihttp.NewRouter(sl.Discard(), apihttp.NewHealthController(agent, "agent-01"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, fakeAgent{}, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body domain.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.HealthStatusHealthy, body.Status)
	assert.Equal(t, "agent-01", body.AgentID)

	rec = serve(t, fakeAgent{healthErr: errors.New("service is not running")}, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.HealthStatusUnhealthy, body.Status)
	assert.Equal(t, "service is not running", body.Message)
}

func TestReady(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(t, fakeAgent{}, "/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, fakeAgent{healthErr: errors.New("down")}, "/ready").Code)
}

func TestStatus(t *testing.T) {
	agent := fakeAgent{status: service.Status{
		AgentID:    "agent-01",
		IsRunning:  true,
		QueueDepth: 4,
		InFlight:   2,
	}}

	rec := serve(t, agent, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 4, body["queue_depth"])
	assert.EqualValues(t, 2, body["in_flight"])
	assert.Contains(t, body, "counters")
}

func TestInfo(t *testing.T) {
	cases := []struct {
		scenario string
		agent    fakeAgent
		status   domain.HealthStatus
		degraded string
	}{
		{
			scenario: "all ok",
			agent: fakeAgent{status: service.Status{Counters: service.StatsSnapshot{
				FetchAttempts: 3,
				Fetched:       2,
				FetchErrors:   1,
			}}},
			status: domain.HealthStatusHealthy,
		},
		{
			scenario: "report errors",
			agent:    fakeAgent{status: service.Status{Counters: service.StatsSnapshot{ReportErrors: 1}}},
			status:   domain.HealthStatusDegraded,
			degraded: "reporter",
		},
		{
			scenario: "every fetch failed",
			agent:    fakeAgent{status: service.Status{Counters: service.StatsSnapshot{FetchAttempts: 2, FetchErrors: 2}}},
			status:   domain.HealthStatusDegraded,
			degraded: "fetcher",
		},
		{
			scenario: "recovered panics",
			agent:    fakeAgent{status: service.Status{Panics: 1}},
			status:   domain.HealthStatusDegraded,
			degraded: "scheduler",
		},
		{
			scenario: "store down",
			agent:    fakeAgent{healthErr: errors.New("redis: connection refused")},
			status:   domain.HealthStatusUnhealthy,
		},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			rec := serve(t, tc.agent, "/info")
			require.Equal(t, http.StatusOK, rec.Code)

			var body domain.DetailedHealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "1.0.0", body.Version)
			require.Len(t, body.Components, 4)
			assert.Equal(t, tc.status, body.Status)

			for _, c := range body.Components {
				if c.Name == tc.degraded {
					assert.Equal(t, domain.ComponentDegraded, c.State)
				}
			}
		})
	}
}
