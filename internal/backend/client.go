package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ozzus/sbe-monitor/internal/domain"
)

const (
	jobPath     = "/api/job/"
	maxJobBytes = 4 << 20
)

// ErrNoJob means the job source had nothing to hand out.
var ErrNoJob = errors.New("no job available")

// Client talks to the job source: it fetches job descriptors and accepts reports.
type Client struct {
	baseURL    string
	httpClient *http.Client
	agentName  string
	token      string
}

type Options struct {
	AgentName          string
	Token              string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// NewClient builds a client for baseURL (scheme://host:port). The scheme picks
// plain HTTP or TLS; TLS verification follows opts.InsecureSkipVerify.
func NewClient(baseURL string, opts Options) (*Client, error) {
	normalizedURL, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: opts.Timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // scoring networks use self-signed certs
		},
		// every fetch and report opens its own connection
		DisableKeepAlives: true,
	}

	return &Client{
		baseURL: normalizedURL,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		agentName: opts.AgentName,
		token:     opts.Token,
	}, nil
}

// WithHTTPClient overrides the default http.Client. Primarily useful for testing.
func (c *Client) WithHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchJob asks the source for the next job. ErrNoJob is returned when there is none.
func (c *Client) FetchJob(ctx context.Context) (*domain.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, jobPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var body []byte
	if err := c.do(req, &body); err != nil {
		return nil, err
	}

	return DecodeJob(body)
}

// ReportJob sends the final state of a job, keyed by its id.
func (c *Client) ReportJob(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job ID is required")
	}

	payload, err := EncodeReport(job)
	if err != nil {
		return err
	}

	path := jobPath + url.PathEscape(job.ID) + "/"
	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create report request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("job source URL is required")
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid job source URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unknown scheme: %s", parsed.Scheme)
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("invalid job source URL: %s", raw)
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return strings.TrimSuffix(parsed.String(), "/"), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	if c.token != "" {
		req.SetBasicAuth(c.agentName, c.token)
	}
	return req, nil
}

// do executes req. When out is non-nil the raw body is stored in it; a 204
// leaves it empty.
func (c *Client) do(req *http.Request, out *[]byte) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			host := req.URL.Hostname()
			return fmt.Errorf("execute request: network error contacting %s: %w", host, err)
		}
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || (resp.StatusCode == http.StatusNotFound && req.Method == http.MethodGet) {
		_, _ = io.Copy(io.Discard, resp.Body)
		if out != nil {
			*out = nil
		}
		return nil
	}

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(b) == 0 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxJobBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	*out = b

	return nil
}
