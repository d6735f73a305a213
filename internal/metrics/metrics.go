// Package metrics records probe, test and upload counters.
//
// Components take a Collector explicitly; there is no package-level state.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector receives observations from the deployment pipeline
type Collector interface {
	// ProbeObserved records one probe; kind is "tcp", "http" or "ping"
	ProbeObserved(kind string, ok bool, latency time.Duration)
	// CandidateScanned records one address probed within a tier
	CandidateScanned(tier string)
	// DeviceConfirmed records an identity confirmation in a tier
	DeviceConfirmed(tier string)
	// EndpointTested records one functional matrix result
	EndpointTested(path string, ok bool, attempts int)
	// BytesSent records payload bytes written to the serial link
	BytesSent(n int)
	// StageCompleted records an orchestration stage outcome
	StageCompleted(stage, status string, d time.Duration)
}

// Nop discards all observations
type Nop struct{}

func (Nop) ProbeObserved(string, bool, time.Duration) {}
func (Nop) CandidateScanned(string) {}
func (Nop) DeviceConfirmed(string) {}
func (Nop) EndpointTested(string, bool, int) {}
func (Nop) BytesSent(int) {}
func (Nop) StageCompleted(string, string, time.Duration) {}

// Prometheus is a Collector backed by client_golang metrics
type Prometheus struct {
	probes     *prometheus.HistogramVec
	candidates *prometheus.CounterVec
	confirmed  *prometheus.CounterVec
	endpoints  *prometheus.CounterVec
	attempts   *prometheus.HistogramVec
	bytesSent  prometheus.Counter
	stages     *prometheus.HistogramVec
}

// NewPrometheus registers espdeploy metrics on reg
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		probes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "espdeploy_probe_duration_seconds",
			Help:    "Latency of reachability probes by kind and outcome.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"kind", "result"}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "espdeploy_candidates_scanned_total",
			Help: "Candidate addresses probed per discovery tier.",
		}, []string{"tier"}),
		confirmed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "espdeploy_devices_confirmed_total",
			Help: "Devices confirmed by identity check per discovery tier.",
		}, []string{"tier"}),
		endpoints: f.NewCounterVec(prometheus.CounterOpts{
			Name: "espdeploy_endpoint_tests_total",
			Help: "Functional matrix endpoint results.",
		}, []string{"path", "result"}),
		attempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "espdeploy_endpoint_attempts",
			Help:    "Attempts used per functional matrix endpoint.",
			Buckets: []float64{1, 2, 3},
		}, []string{"path"}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "espdeploy_serial_bytes_sent_total",
			Help: "Payload bytes written to the serial link.",
		}),
		stages: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "espdeploy_stage_duration_seconds",
			Help:    "Orchestration stage durations by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"stage", "status"}),
	}
}

func (p *Prometheus) ProbeObserved(kind string, ok bool, latency time.Duration) {
	p.probes.WithLabelValues(kind, result(ok)).Observe(latency.Seconds())
}

func (p *Prometheus) CandidateScanned(tier string) {
	p.candidates.WithLabelValues(tier).Inc()
}

func (p *Prometheus) DeviceConfirmed(tier string) {
	p.confirmed.WithLabelValues(tier).Inc()
}

func (p *Prometheus) EndpointTested(path string, ok bool, attempts int) {
	p.endpoints.WithLabelValues(path, result(ok)).Inc()
	p.attempts.WithLabelValues(path).Observe(float64(attempts))
}

func (p *Prometheus) BytesSent(n int) {
	p.bytesSent.Add(float64(n))
}

func (p *Prometheus) StageCompleted(stage, status string, d time.Duration) {
	p.stages.WithLabelValues(stage, status).Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, log logr.Logger, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}
