package checks_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"ozzus/sbe-monitor/internal/checks"
	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/lib/logger/sl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const linuxPingOutput = `PING 10.0.0.5 (10.0.0.5) 56(84) bytes of data.
64 bytes from 10.0.0.5: icmp_seq=1 ttl=64 time=0.045 ms
64 bytes from 10.0.0.5: icmp_seq=2 ttl=64 time=0.051 ms

--- 10.0.0.5 ping statistics ---
5 packets transmitted, 3 received, 40% packet loss, time 4081ms
rtt min/avg/max/mdev = 0.045/0.048/0.051/0.003 ms
`

const bsdPingOutput = `PING 10.0.0.5 (10.0.0.5): 56 data bytes

--- 10.0.0.5 ping statistics ---
4 packets transmitted, 4 packets received, 0.0% packet loss
`

func TestParsePingOutput(t *testing.T) {
	cases := []struct {
		scenario string
		output   string
		want     checks.PingSummary
		err      error
	}{
		{"linux summary", linuxPingOutput, checks.PingSummary{Transmitted: 5, Received: 3}, nil},
		{"bsd summary", bsdPingOutput, checks.PingSummary{Transmitted: 4, Received: 4}, nil},
		{"short form", "5 packets transmitted, 5 received", checks.PingSummary{Transmitted: 5, Received: 5}, nil},
		{"zero transmitted parses", "0 packets transmitted, 0 received", checks.PingSummary{}, nil},
		{"no summary", "ping: unknown host web.team1.lan\n", checks.PingSummary{}, checks.ErrPingUnparsable},
		{"missing received", "5 packets transmitted, 100% packet loss", checks.PingSummary{}, checks.ErrPingUnparsable},
		{"empty", "", checks.PingSummary{}, checks.ErrPingUnparsable},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			got, err := checks.ParsePingOutput(tc.output)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

type fakeRunner struct {
	summary checks.PingSummary
	err     error

	addr  string
	count int
}

func (f *fakeRunner) Run(_ context.Context, addr string, count int) (checks.PingSummary, error) {
	f.addr = addr
	f.count = count
	return f.summary, f.err
}

func TestPingChecker_Ping(t *testing.T) {
	t.Run("records counts", func(t *testing.T) {
		runner := &fakeRunner{summary: checks.PingSummary{Transmitted: 5, Received: 5}}
		checker := checks.NewPingChecker(sl.Discard(), runner, time.Second, 5)

		job := &domain.Job{ID: "1", IP: "10.0.0.5"}
		require.NoError(t, checker.Ping(context.Background(), job))

		require.NotNil(t, job.Ping)
		assert.Equal(t, domain.PingStats{Sent: 5, Received: 5}, *job.Ping)
		loss, ok := job.Ping.Loss()
		assert.True(t, ok)
		assert.Zero(t, loss)
		assert.Equal(t, "10.0.0.5", runner.addr)
		assert.Equal(t, 5, runner.count)
	})

	t.Run("zero transmitted", func(t *testing.T) {
		runner := &fakeRunner{summary: checks.PingSummary{}}
		checker := checks.NewPingChecker(sl.Discard(), runner, time.Second, 5)

		job := &domain.Job{ID: "1", IP: "10.0.0.5"}
		err := checker.Ping(context.Background(), job)

		require.ErrorIs(t, err, checks.ErrPingZeroTransmitted)
		assert.Nil(t, job.Ping)
	})

	t.Run("runner failure", func(t *testing.T) {
		runner := &fakeRunner{err: checks.ErrPingUnparsable}
		checker := checks.NewPingChecker(sl.Discard(), runner, time.Second, 5)

		job := &domain.Job{ID: "1", IP: "10.0.0.5"}
		err := checker.Ping(context.Background(), job)

		require.ErrorIs(t, err, checks.ErrPingUnparsable)
		assert.Nil(t, job.Ping)
	})

	t.Run("unresolved job", func(t *testing.T) {
		runner := &fakeRunner{}
		checker := checks.NewPingChecker(sl.Discard(), runner, time.Second, 5)

		job := &domain.Job{ID: "1", IP: domain.IPFail}
		require.Error(t, checker.Ping(context.Background(), job))
		assert.Empty(t, runner.addr)
	})
}

// writeScript creates an executable stand-in for the ping utility.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	path := filepath.Join(t.TempDir(), "ping")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExecPingRunner(t *testing.T) {
	t.Run("passes count and address", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "args")
		binary := writeScript(t, `echo "$@" > `+out+`
echo "3 packets transmitted, 2 received, 33% packet loss"
`)

		got, err := checks.ExecPingRunner{Binary: binary}.Run(context.Background(), "10.0.0.5", 3)
		require.NoError(t, err)
		assert.Equal(t, checks.PingSummary{Transmitted: 3, Received: 2}, got)

		args, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "-c 3 10.0.0.5\n", string(args))
	})

	t.Run("non-zero exit with summary", func(t *testing.T) {
		binary := writeScript(t, `echo "5 packets transmitted, 0 received, 100% packet loss"
exit 1
`)

		got, err := checks.ExecPingRunner{Binary: binary}.Run(context.Background(), "10.0.0.5", 5)
		require.NoError(t, err)
		assert.Equal(t, checks.PingSummary{Transmitted: 5, Received: 0}, got)
	})

	t.Run("garbage output", func(t *testing.T) {
		binary := writeScript(t, `echo "ping: sendmsg: Operation not permitted" >&2
exit 2
`)

		_, err := checks.ExecPingRunner{Binary: binary}.Run(context.Background(), "10.0.0.5", 5)
		require.ErrorIs(t, err, checks.ErrPingUnparsable)
	})

	t.Run("killed at deadline", func(t *testing.T) {
		binary := writeScript(t, "exec sleep 10\n")

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := checks.ExecPingRunner{Binary: binary}.Run(ctx, "10.0.0.5", 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, checks.ErrPingUnparsable))
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := checks.ExecPingRunner{Binary: filepath.Join(t.TempDir(), "nope")}.Run(context.Background(), "10.0.0.5", 5)
		require.Error(t, err)
		assert.False(t, errors.Is(err, checks.ErrPingUnparsable))
	})
}
