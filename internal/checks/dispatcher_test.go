package checks_test

import (
	"context"
	"errors"
	"testing"

	"ozzus/sbe-monitor/internal/checks"
	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/lib/logger/sl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProber struct {
	probed []int
	fail   map[int]error
}

func (p *recordingProber) Probe(_ context.Context, _ *domain.Job, svc *domain.Service) (*domain.ServiceResult, error) {
	p.probed = append(p.probed, svc.Port)
	if err := p.fail[svc.Port]; err != nil {
		return &domain.ServiceResult{Connect: domain.ConnectError, Error: err.Error()}, err
	}
	return &domain.ServiceResult{Connect: domain.ConnectOK, Status: 200, Content: "ok"}, nil
}

func service(protocol string, port int) *domain.Service {
	return &domain.Service{Protocol: domain.ParseProtocol(protocol), RawProtocol: protocol, Port: port}
}

func TestDispatcher_Walk(t *testing.T) {
	t.Run("tcp 80 probed", func(t *testing.T) {
		prober := &recordingProber{}
		job := &domain.Job{ID: "1", IP: "10.0.0.5", Services: []*domain.Service{service("tcp", 80)}}

		err := checks.NewDispatcher(sl.Discard(), prober, checks.AbortOnUnknown).Walk(context.Background(), job)
		require.NoError(t, err)

		assert.Equal(t, []int{80}, prober.probed)
		require.NotNil(t, job.Services[0].Result)
		assert.Equal(t, domain.ConnectOK, job.Services[0].Result.Connect)
	})

	t.Run("udp and other tcp ports left unprobed", func(t *testing.T) {
		prober := &recordingProber{}
		job := &domain.Job{ID: "1", IP: "10.0.0.5", Services: []*domain.Service{
			service("udp", 53),
			service("tcp", 22),
			service("tcp", 80),
		}}

		require.NoError(t, checks.NewDispatcher(sl.Discard(), prober, checks.AbortOnUnknown).Walk(context.Background(), job))

		assert.Equal(t, []int{80}, prober.probed)
		assert.Nil(t, job.Services[0].Result)
		assert.Nil(t, job.Services[1].Result)
		assert.NotNil(t, job.Services[2].Result)
	})

	t.Run("auth services skipped", func(t *testing.T) {
		prober := &recordingProber{}
		auth := service("tcp", 80)
		auth.RequiresAuth = true
		job := &domain.Job{ID: "1", IP: "10.0.0.5", Services: []*domain.Service{auth}}

		require.NoError(t, checks.NewDispatcher(sl.Discard(), prober, checks.AbortOnUnknown).Walk(context.Background(), job))
		assert.Empty(t, prober.probed)
		assert.Nil(t, auth.Result)
	})

	t.Run("probe failure is isolated", func(t *testing.T) {
		prober := &recordingProber{fail: map[int]error{80: errors.New("connection refused")}}
		job := &domain.Job{ID: "1", IP: "10.0.0.5", Services: []*domain.Service{
			service("tcp", 80),
			service("tcp", 80),
		}}

		require.NoError(t, checks.NewDispatcher(sl.Discard(), prober, checks.AbortOnUnknown).Walk(context.Background(), job))
		assert.Len(t, prober.probed, 2)
		for _, svc := range job.Services {
			require.NotNil(t, svc.Result)
			assert.Equal(t, domain.ConnectError, svc.Result.Connect)
			assert.Equal(t, "connection refused", svc.Result.Error)
		}
	})

	t.Run("unknown protocol aborts the walk", func(t *testing.T) {
		prober := &recordingProber{}
		job := &domain.Job{ID: "1", IP: "10.0.0.5", Services: []*domain.Service{
			service("tcp", 80),
			service("icmp", 0),
			service("tcp", 80),
		}}

		err := checks.NewDispatcher(sl.Discard(), prober, checks.AbortOnUnknown).Walk(context.Background(), job)
		require.ErrorIs(t, err, checks.ErrUnknownProtocol)

		assert.Len(t, prober.probed, 1)
		for _, svc := range job.Services {
			assert.Nil(t, svc.Result)
		}
	})

	t.Run("unknown protocol skipped by policy", func(t *testing.T) {
		prober := &recordingProber{}
		job := &domain.Job{ID: "1", IP: "10.0.0.5", Services: []*domain.Service{
			service("icmp", 0),
			service("tcp", 80),
		}}

		require.NoError(t, checks.NewDispatcher(sl.Discard(), prober, checks.SkipUnknown).Walk(context.Background(), job))
		assert.Equal(t, []int{80}, prober.probed)
		assert.Nil(t, job.Services[0].Result)
		assert.NotNil(t, job.Services[1].Result)
	})

	t.Run("cancelled context stops the walk", func(t *testing.T) {
		prober := &recordingProber{}
		job := &domain.Job{ID: "1", IP: "10.0.0.5", Services: []*domain.Service{service("tcp", 80)}}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := checks.NewDispatcher(sl.Discard(), prober, checks.AbortOnUnknown).Walk(ctx, job)
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, prober.probed)
	})
}
