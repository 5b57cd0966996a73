package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ping/ping"
)

// NativePingRunner sends ICMP echo requests from the process itself instead
// of spawning the ping utility. Unprivileged mode uses UDP ping sockets, which
// need net.ipv4.ping_group_range to include the process group on Linux.
type NativePingRunner struct {
	Privileged bool
	Interval   time.Duration
}

func (r NativePingRunner) Run(ctx context.Context, addr string, count int) (PingSummary, error) {
	pinger, err := ping.NewPinger(addr)
	if err != nil {
		return PingSummary{}, fmt.Errorf("create pinger for %s: %w", addr, err)
	}

	pinger.Count = count
	pinger.SetPrivileged(r.Privileged)
	if r.Interval > 0 {
		pinger.Interval = r.Interval
	}
	if deadline, ok := ctx.Deadline(); ok {
		pinger.Timeout = time.Until(deadline)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return PingSummary{}, fmt.Errorf("ping %s: %w", addr, err)
	}

	stats := pinger.Statistics()
	return PingSummary{Transmitted: stats.PacketsSent, Received: stats.PacketsRecv}, nil
}
