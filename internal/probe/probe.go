// Package probe implements the low-level reachability checks used by discovery
// and functional testing: TCP connect, HTTP GET with retry, and ICMP ping.
package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"

	"espdeploy/internal/command"
	"espdeploy/internal/domain"
	"espdeploy/internal/metrics"
)

// maxBody caps how much of a response is kept
const maxBody = 64 << 10

var latencyRe = regexp.MustCompile(`time[=<](\d+\.?\d*)\s*ms`)

// HTTPOptions bounds an HTTP probe
type HTTPOptions struct {
	// Timeout applies to each attempt independently
	Timeout time.Duration
	// Attempts is the total number of tries, at least 1
	Attempts int
	// Delay is the wait between attempts
	Delay time.Duration
}

// DefaultHTTPOptions matches the functional test matrix
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Timeout:  2 * time.Second,
		Attempts: 3,
		Delay:    300 * time.Millisecond,
	}
}

// HTTPResponse is the captured outcome of an HTTP probe
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Attempts   int
	Latency    time.Duration
}

// OK reports a 2xx status
func (r HTTPResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Engine performs reachability probes
type Engine struct {
	runner    command.Runner
	metrics   metrics.Collector
	transport http.RoundTripper
	log       logr.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithRunner sets the diagnostic command runner used for ping
func WithRunner(r command.Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTransport replaces the HTTP transport
func WithTransport(rt http.RoundTripper) Option {
	return func(e *Engine) { e.transport = rt }
}

// WithLogger sets the logger
func WithLogger(log logr.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates a probe engine
func New(opts ...Option) *Engine {
	e := &Engine{
		runner:  command.NewLocal(),
		metrics: metrics.Nop{},
		transport: &http.Transport{
			Proxy:               nil,
			DisableKeepAlives:   true,
			MaxIdleConnsPerHost: 1,
		},
		log: logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DialTCP attempts a raw TCP connection to the address
func (e *Engine) DialTCP(ctx context.Context, addr domain.NetworkAddress, timeout time.Duration) domain.ProbeResult {
	start := time.Now()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.HostPort())
	latency := time.Since(start)

	result := domain.ProbeResult{Address: addr, Latency: latency, Attempts: 1}
	if err == nil {
		conn.Close()
		result.TransportReachable = true
	}

	e.metrics.ProbeObserved("tcp", result.TransportReachable, latency)
	return result
}

// Get issues an HTTP GET with bounded per-attempt timeout and retry.
// Transport failures and non-2xx responses are retried; the last response is
// returned with a ConnectivityError when no attempt succeeded.
func (e *Engine) Get(ctx context.Context, url string, opts HTTPOptions) (HTTPResponse, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}

	attempts := 0
	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: e.transport, Timeout: opts.Timeout}
	client.RetryMax = opts.Attempts - 1
	client.RetryWaitMin = opts.Delay
	client.RetryWaitMax = opts.Delay
	client.Backoff = func(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return min
	}
	client.CheckRetry = retryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = leveledLogger{log: e.log.V(2)}
	client.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		attempts = attempt + 1
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	out := HTTPResponse{Attempts: attempts, Latency: time.Since(start)}

	if resp != nil {
		defer resp.Body.Close()
		out.StatusCode = resp.StatusCode
		out.Body, _ = io.ReadAll(io.LimitReader(resp.Body, maxBody))
	}

	ok := err == nil && out.OK()
	e.metrics.ProbeObserved("http", ok, out.Latency)

	if err != nil {
		return out, &domain.ConnectivityError{Address: url, Err: err}
	}
	if !out.OK() {
		return out, &domain.ConnectivityError{Address: url, Err: fmt.Errorf("HTTP %d", out.StatusCode)}
	}
	return out, nil
}

// retryPolicy retries transport errors and non-2xx statuses until the context ends
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode < 200 || resp.StatusCode >= 300, nil
}

// Ping sends one ICMP echo through the system ping command.
// The error is non-nil only when ping could not be run at all.
func (e *Engine) Ping(ctx context.Context, host string, timeout time.Duration) (bool, time.Duration, error) {
	timeoutSec := int(timeout.Seconds())
	if timeoutSec < 1 {
		timeoutSec = 1
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	var args []string
	if runtime.GOOS == "windows" {
		args = []string{"-n", "1", "-w", strconv.Itoa(int(timeout.Milliseconds())), host}
	} else {
		args = []string{"-c", "1", "-W", strconv.Itoa(timeoutSec), host}
	}

	res, err := e.runner.Run(ctx, "ping", args...)
	if err != nil {
		return false, 0, err
	}
	if !res.Success() {
		e.metrics.ProbeObserved("ping", false, 0)
		return false, 0, nil
	}

	latency := ParseLatency(res.Stdout)
	e.metrics.ProbeObserved("ping", true, latency)
	return true, latency, nil
}

// ParseLatency extracts round-trip time from ping output, 0 when absent
func ParseLatency(output string) time.Duration {
	m := latencyRe.FindStringSubmatch(output)
	if len(m) < 2 {
		return 0
	}
	ms, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// leveledLogger adapts logr to retryablehttp's leveled logging
type leveledLogger struct {
	log logr.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Info(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Info(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Info(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Info(msg, kv...) }
