package checks

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"ozzus/sbe-monitor/internal/domain"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
)

const dnsPort = "53"

// Lookuper is the part of net.Resolver the DNS stage needs.
type Lookuper interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// LookupFactory returns a Lookuper bound to one name server, or the system
// resolver when server is empty.
type LookupFactory func(server string) Lookuper

type DNSChecker struct {
	log     *slog.Logger
	timeout time.Duration
	lookup  LookupFactory
}

func NewDNSChecker(log *slog.Logger, timeout time.Duration) *DNSChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &DNSChecker{
		log:     log,
		timeout: timeout,
		lookup:  systemLookup(timeout),
	}
}

// WithLookupFactory replaces the resolver constructor. Primarily useful for testing.
func (d *DNSChecker) WithLookupFactory(f LookupFactory) *DNSChecker {
	if f != nil {
		d.lookup = f
	}
	return d
}

// Resolve sets job.IP to the address of job.Hostname. The job's own name
// servers are tried in order; without any the system resolver is used.
// On failure job.IP becomes domain.IPFail and the error wraps ErrResolve.
func (d *DNSChecker) Resolve(ctx context.Context, job *domain.Job) error {
	const op = "checks.DNSChecker.Resolve"

	log := d.log.With(slog.String("op", op), slog.String("job_id", job.ID), slog.String("host", job.Hostname))

	if ip := net.ParseIP(job.Hostname); ip != nil {
		job.IP = ip.String()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	servers := job.DNS
	if len(servers) == 0 {
		servers = []string{""}
	}

	var lastErr error
	for _, server := range servers {
		addrs, err := d.lookup(server).LookupIPAddr(ctx, job.Hostname)
		if err != nil {
			log.Debug("lookup failed", slog.String("server", server), sl.Err(err))
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		ip, err := pickAddress(addrs)
		if err != nil {
			lastErr = err
			continue
		}

		job.IP = ip
		log.Debug("host resolved", slog.String("ip", ip), slog.String("server", server))
		return nil
	}

	job.IP = domain.IPFail
	return fmt.Errorf("%w: %s: %v", ErrResolve, job.Hostname, lastErr)
}

// pickAddress prefers the first IPv4 address and falls back to the first IPv6 one.
func pickAddress(addrs []net.IPAddr) (string, error) {
	var firstV6 net.IP
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
		if firstV6 == nil && a.IP != nil {
			firstV6 = a.IP
		}
	}
	if firstV6 != nil {
		return firstV6.String(), nil
	}
	return "", fmt.Errorf("no addresses found")
}

func systemLookup(timeout time.Duration) LookupFactory {
	return func(server string) Lookuper {
		if server == "" {
			return net.DefaultResolver
		}

		addr := server
		if _, _, err := net.SplitHostPort(server); err != nil {
			addr = net.JoinHostPort(server, dnsPort)
		}

		return &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				d := net.Dialer{Timeout: timeout}
				return d.DialContext(ctx, network, addr)
			},
		}
	}
}
