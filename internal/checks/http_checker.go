package checks

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"ozzus/sbe-monitor/internal/domain"
)

const (
	defaultMaxBody = 1 << 20
	maxStoredBody  = 64 << 10
	userAgent      = "sbe-monitor"
)

type HTTPChecker struct {
	log     *slog.Logger
	timeout time.Duration
	maxBody int64
	dialer  func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewHTTPChecker(log *slog.Logger, timeout time.Duration, maxBody int64) *HTTPChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	d := &net.Dialer{Timeout: timeout}

	return &HTTPChecker{
		log:     log,
		timeout: timeout,
		maxBody: maxBody,
		dialer:  d.DialContext,
	}
}

// Probe connects to job.IP:svc.Port (TLS when the job's scheme is https),
// sends one GET for the service's content path and reads the response as it
// streams in. A nil result is never returned together with a nil error; on a
// connect or parse failure the returned result is an ERROR result carrying the
// cause, and the error is returned as well.
func (h *HTTPChecker) Probe(ctx context.Context, job *domain.Job, svc *domain.Service) (*domain.ServiceResult, error) {
	const op = "checks.HTTPChecker.Probe"

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	addr := net.JoinHostPort(job.IP, strconv.Itoa(svc.Port))

	conn, err := h.connect(ctx, job, addr)
	if err != nil {
		return failedResult(err), fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// unblocks reads when the stage is cancelled before the deadline
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+requestPath(svc.Content.URL), nil)
	if err != nil {
		return failedResult(err), fmt.Errorf("build request: %w", err)
	}
	req.Host = job.Hostname
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Connection", "close")

	if err := req.Write(conn); err != nil {
		return failedResult(err), fmt.Errorf("write request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return failedResult(err), fmt.Errorf("read response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody))
	if err != nil {
		return failedResult(err), fmt.Errorf("read body: %w", err)
	}

	matched, all := matchKeywords(string(body), svc.Content.Keywords)

	result := &domain.ServiceResult{
		Connect:         domain.ConnectOK,
		Status:          resp.StatusCode,
		Content:         truncate(string(body), maxStoredBody),
		KeywordsMatched: matched,
	}

	switch {
	case resp.StatusCode >= http.StatusBadRequest:
		result.Connect = domain.ConnectError
		result.Error = fmt.Sprintf("status %d", resp.StatusCode)
	case !all:
		result.Connect = domain.ConnectError
		result.Error = fmt.Sprintf("matched %d of %d keywords", len(matched), len(svc.Content.Keywords))
	}

	h.log.Debug("service probed",
		slog.String("op", op),
		slog.String("job_id", job.ID),
		slog.String("addr", addr),
		slog.Int("status", resp.StatusCode),
		slog.String("connect", string(result.Connect)),
		slog.String("took", formatMilliseconds(time.Since(start))),
	)

	return result, nil
}

func (h *HTTPChecker) connect(ctx context.Context, job *domain.Job, addr string) (net.Conn, error) {
	raw, err := h.dialer(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if job.Scheme != domain.SchemeTLS {
		return raw, nil
	}

	tlsConn := tls.Client(raw, &tls.Config{
		ServerName:         job.Hostname,
		InsecureSkipVerify: true, //nolint:gosec // targets use self-signed certs
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}

func failedResult(err error) *domain.ServiceResult {
	return &domain.ServiceResult{
		Connect: domain.ConnectError,
		Error:   err.Error(),
	}
}
