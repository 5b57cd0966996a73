package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"ozzus/sbe-monitor/internal/backend"
	"ozzus/sbe-monitor/internal/checks"
	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/engine"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
	"ozzus/sbe-monitor/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type lookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

func (f lookupFunc) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return f(ctx, host)
}

func resolverTo(ip string) *checks.DNSChecker {
	return checks.NewDNSChecker(sl.Discard(), time.Second).WithLookupFactory(func(string) checks.Lookuper {
		return lookupFunc(func(context.Context, string) ([]net.IPAddr, error) {
			if ip == "" {
				return nil, &net.DNSError{Err: "no such host", IsNotFound: true}
			}
			return []net.IPAddr{{IP: net.ParseIP(ip)}}, nil
		})
	})
}

// outputRunner replays canned ping output through the real parser.
type outputRunner struct {
	output string
	calls  int
}

func (r *outputRunner) Run(context.Context, string, int) (checks.PingSummary, error) {
	r.calls++
	return checks.ParsePingOutput(r.output)
}

type stubProber struct {
	mu     sync.Mutex
	probed []int
}

func (p *stubProber) Probe(_ context.Context, _ *domain.Job, svc *domain.Service) (*domain.ServiceResult, error) {
	p.mu.Lock()
	p.probed = append(p.probed, svc.Port)
	p.mu.Unlock()
	return &domain.ServiceResult{Connect: domain.ConnectOK, Status: 200, Content: "<h1>alpha</h1>"}, nil
}

type captureResults struct {
	mu      sync.Mutex
	reports [][]byte
	logs    []domain.LogEntry
	err     error
}

func (c *captureResults) SendReport(_ context.Context, job *domain.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := backend.EncodeReport(job)
	if err != nil {
		return err
	}
	c.reports = append(c.reports, b)
	return c.err
}

func (c *captureResults) SendLog(_ context.Context, e domain.LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, e)
	return nil
}

func (c *captureResults) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

type reportHost struct {
	IP           string `json:"host_ip"`
	PingSent     *int   `json:"host_ping_sent"`
	PingReceived *int   `json:"host_ping_received"`
	Status       string `json:"host_status"`
	Services     []struct {
		Protocol string `json:"service_protocol"`
		Port     int    `json:"service_port"`
		Connect  string `json:"service_connect"`
	} `json:"host_services"`
}

func decodeReport(t *testing.T, b []byte) reportHost {
	t.Helper()
	var env struct {
		Status string `json:"status"`
		Fields struct {
			Host reportHost `json:"job_host"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(b, &env))
	assert.Equal(t, "done", env.Status)
	return env.Fields.Host
}

type fixture struct {
	runner  *outputRunner
	prober  *stubProber
	results *captureResults
	policy  checks.UnknownProtocolPolicy
	ip      string
}

func newFixture(ip, pingOutput string) *fixture {
	return &fixture{
		runner:  &outputRunner{output: pingOutput},
		prober:  &stubProber{},
		results: &captureResults{},
		policy:  checks.AbortOnUnknown,
		ip:      ip,
	}
}

func (f *fixture) pipeline(resolver service.Resolver) *service.Pipeline {
	if resolver == nil {
		resolver = resolverTo(f.ip)
	}
	return service.NewPipeline(
		sl.Discard(),
		resolver,
		checks.NewPingChecker(sl.Discard(), f.runner, time.Second, 5),
		checks.NewDispatcher(sl.Discard(), f.prober, f.policy),
		f.results,
		service.PipelineConfig{AgentID: "agent-test", StageTimeout: time.Second},
	)
}

func newJob(id string, services ...*domain.Service) *domain.Job {
	return &domain.Job{ID: id, Hostname: "www.alpha.net", PingRatio: 50, Services: services}
}

func svc(protocol string, port int) *domain.Service {
	return &domain.Service{Protocol: domain.ParseProtocol(protocol), RawProtocol: protocol, Port: port}
}

const fullPing = "5 packets transmitted, 5 received, 0% packet loss"

func TestPipeline_HealthyHost(t *testing.T) {
	f := newFixture("10.0.0.5", fullPing)
	job := newJob("1", svc("tcp", 80))

	res, err := f.pipeline(nil).Run(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, res.Reported())
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []domain.PipelineState{
		domain.StateNew, domain.StateResolving, domain.StateResolved,
		domain.StatePinging, domain.StatePinged, domain.StateCheckingServices,
		domain.StateChecked, domain.StateReporting, domain.StateDone,
	}, res.Trace)

	loss, ok := job.Ping.Loss()
	require.True(t, ok)
	assert.Zero(t, loss)

	require.Equal(t, 1, f.results.count())
	host := decodeReport(t, f.results.reports[0])
	assert.Equal(t, "10.0.0.5", host.IP)
	require.NotNil(t, host.PingSent)
	assert.Equal(t, 5, *host.PingSent)
	assert.Equal(t, 5, *host.PingReceived)
	assert.Equal(t, "up", host.Status)
	require.Len(t, host.Services, 1)
	assert.Equal(t, 80, host.Services[0].Port)
	assert.Equal(t, "OK", host.Services[0].Connect)
}

func TestPipeline_DNSFailureShortCircuits(t *testing.T) {
	f := newFixture("", fullPing)
	job := newJob("2", svc("tcp", 80))

	res, err := f.pipeline(nil).Run(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, res.DNSFailed)
	assert.Equal(t, []domain.PipelineState{
		domain.StateNew, domain.StateResolving, domain.StateDNSFailed,
		domain.StateReporting, domain.StateDone,
	}, res.Trace)
	assert.Zero(t, f.runner.calls)
	assert.Empty(t, f.prober.probed)

	require.Equal(t, 1, f.results.count())
	host := decodeReport(t, f.results.reports[0])
	assert.Equal(t, domain.IPFail, host.IP)
	assert.Nil(t, host.PingSent)
	assert.Nil(t, host.PingReceived)
	assert.Empty(t, host.Services)
}

func TestPipeline_UDPServiceSkipped(t *testing.T) {
	f := newFixture("10.0.0.5", fullPing)
	job := newJob("3", svc("udp", 53), svc("tcp", 80))

	_, err := f.pipeline(nil).Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []int{80}, f.prober.probed)
	host := decodeReport(t, f.results.reports[0])
	require.Len(t, host.Services, 1)
	assert.Equal(t, "tcp", host.Services[0].Protocol)
}

func TestPipeline_MalformedPingContinues(t *testing.T) {
	f := newFixture("10.0.0.5", "ping: socket: Operation not permitted")
	job := newJob("4", svc("tcp", 80))

	res, err := f.pipeline(nil).Run(context.Background(), job)
	require.NoError(t, err)

	require.ErrorIs(t, res.PingErr, checks.ErrPingUnparsable)
	assert.Contains(t, res.Trace, domain.StatePingFailed)
	assert.Nil(t, job.Ping)
	assert.Equal(t, []int{80}, f.prober.probed)

	host := decodeReport(t, f.results.reports[0])
	assert.Nil(t, host.PingSent)
	assert.Equal(t, "unknown", host.Status)
	assert.Len(t, host.Services, 1)
}

func TestPipeline_ZeroTransmittedContinues(t *testing.T) {
	f := newFixture("10.0.0.5", "0 packets transmitted, 0 received")
	job := newJob("4b", svc("tcp", 80))

	res, err := f.pipeline(nil).Run(context.Background(), job)
	require.NoError(t, err)

	require.ErrorIs(t, res.PingErr, checks.ErrPingZeroTransmitted)
	assert.Nil(t, job.Ping)
	assert.Equal(t, []int{80}, f.prober.probed)
}

func TestPipeline_UnknownProtocolAbortsWalk(t *testing.T) {
	f := newFixture("10.0.0.5", fullPing)
	job := newJob("5", svc("icmp", 0), svc("tcp", 80))

	res, err := f.pipeline(nil).Run(context.Background(), job)
	require.NoError(t, err)

	require.ErrorIs(t, res.WalkErr, checks.ErrUnknownProtocol)
	assert.Empty(t, f.prober.probed)
	assert.True(t, res.Reported())

	host := decodeReport(t, f.results.reports[0])
	assert.Empty(t, host.Services)
	assert.Equal(t, "10.0.0.5", host.IP)
}

func TestPipeline_UnknownProtocolSkipPolicy(t *testing.T) {
	f := newFixture("10.0.0.5", fullPing)
	f.policy = checks.SkipUnknown
	job := newJob("5b", svc("icmp", 0), svc("tcp", 80))

	res, err := f.pipeline(nil).Run(context.Background(), job)
	require.NoError(t, err)

	assert.NoError(t, res.WalkErr)
	assert.Equal(t, []int{80}, f.prober.probed)
}

type hangingResolver struct{}

func (hangingResolver) Resolve(ctx context.Context, _ *domain.Job) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPipeline_StageDeadline(t *testing.T) {
	f := newFixture("", fullPing)
	p := service.NewPipeline(
		sl.Discard(),
		hangingResolver{},
		nil,
		checks.NewDispatcher(sl.Discard(), f.prober, checks.AbortOnUnknown),
		f.results,
		service.PipelineConfig{StageTimeout: 50 * time.Millisecond},
	)

	job := newJob("6")
	start := time.Now()
	res, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.DNSFailed)
	assert.Equal(t, domain.IPFail, job.IP)
	assert.Equal(t, 1, f.results.count())
}

func TestPipeline_ReportFailureIsReturnedOnce(t *testing.T) {
	f := newFixture("10.0.0.5", fullPing)
	f.results.err = errors.New("backend down")
	job := newJob("7", svc("tcp", 80))

	res, err := f.pipeline(nil).Run(context.Background(), job)
	require.NoError(t, err)

	assert.False(t, res.Reported())
	assert.Equal(t, 1, f.results.count())
	assert.Equal(t, domain.StateDone, job.State)
}

func TestPipeline_CancelDoesNotAbortStages(t *testing.T) {
	f := newFixture("10.0.0.5", fullPing)
	job := newJob("8", svc("tcp", 80))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.pipeline(nil).Run(ctx, job)
	require.NoError(t, err)

	require.NoError(t, res.WalkErr)
	assert.False(t, res.DNSFailed)
	assert.Equal(t, "10.0.0.5", job.IP)
	assert.Equal(t, []int{80}, f.prober.probed)
	assert.True(t, res.Reported())
	assert.Equal(t, 1, f.results.count())
}

// slowResolver answers after delay unless its context ends first.
func slowResolver(ip string, delay time.Duration) *checks.DNSChecker {
	return checks.NewDNSChecker(sl.Discard(), time.Second).WithLookupFactory(func(string) checks.Lookuper {
		return lookupFunc(func(ctx context.Context, _ string) ([]net.IPAddr, error) {
			select {
			case <-time.After(delay):
				return []net.IPAddr{{IP: net.ParseIP(ip)}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	})
}

func TestPipeline_LoopShutdownDuringResolve(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture("10.0.0.5", fullPing)
	p := f.pipeline(slowResolver("10.0.0.5", 200*time.Millisecond))

	loop, err := engine.New(sl.Discard())
	require.NoError(t, err)
	loop.Start()

	job := newJob("11", svc("tcp", 80))
	var res service.RunResult
	require.NoError(t, loop.Go("pipeline:11", func(ctx context.Context) {
		res, _ = p.Run(ctx, job)
	}))

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.Shutdown(ctx))

	require.Equal(t, 1, f.results.count())
	host := decodeReport(t, f.results.reports[0])
	assert.Equal(t, "10.0.0.5", host.IP)
	require.Len(t, host.Services, 1)
	assert.Equal(t, "OK", host.Services[0].Connect)
	assert.False(t, res.DNSFailed)
}

func TestPipeline_WithoutPinger(t *testing.T) {
	f := newFixture("10.0.0.5", fullPing)
	p := service.NewPipeline(
		sl.Discard(),
		resolverTo("10.0.0.5"),
		nil,
		checks.NewDispatcher(sl.Discard(), f.prober, checks.AbortOnUnknown),
		f.results,
		service.PipelineConfig{},
	)

	res, err := p.Run(context.Background(), newJob("9", svc("tcp", 80)))
	require.NoError(t, err)
	assert.NotContains(t, res.Trace, domain.StatePinging)
	assert.Equal(t, []int{80}, f.prober.probed)
}

func TestPipeline_LogsCarryRunID(t *testing.T) {
	f := newFixture("", fullPing)
	job := newJob("10")

	res, err := f.pipeline(nil).Run(context.Background(), job)
	require.NoError(t, err)

	require.NotEmpty(t, f.results.logs)
	for _, e := range f.results.logs {
		assert.Equal(t, res.RunID, e.RunID)
		assert.Equal(t, "agent-test", e.AgentID)
	}
}
