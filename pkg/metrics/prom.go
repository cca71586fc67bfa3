package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "merklediff"

// Collector exports session metrics to prometheus.
type Collector struct {
	sessions *prometheus.CounterVec
	rounds   *prometheus.CounterVec
	digests  *prometheus.CounterVec
	mismatch *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Comparison sessions by phase and outcome.",
		}, []string{"phase", "outcome"}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Digest exchange rounds.",
		}, []string{"phase"}),
		digests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_total",
			Help:      "Digests exchanged with the peer.",
		}, []string{"phase", "direction"}),
		mismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mismatched_nodes_total",
			Help:      "Tree nodes whose digests differed from the peer's.",
		}, []string{"phase"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wire_bytes_total",
			Help:      "Framed bytes on the wire.",
		}, []string{"direction"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of a session, tree build included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
	}
	reg.MustRegister(c.sessions, c.rounds, c.digests, c.mismatch, c.bytes, c.duration)
	return c
}

func (c *Collector) ObserveSession(m SessionMetrics, err error) {
	outcome := "done"
	if err != nil {
		outcome = "failed"
	}
	c.sessions.WithLabelValues(m.Phase, outcome).Inc()
	c.rounds.WithLabelValues(m.Phase).Add(float64(m.Rounds))
	c.digests.WithLabelValues(m.Phase, "out").Add(float64(m.DigestsSent))
	c.digests.WithLabelValues(m.Phase, "in").Add(float64(m.DigestsReceived))
	c.mismatch.WithLabelValues(m.Phase).Add(float64(m.Mismatched))
	c.bytes.WithLabelValues("out").Add(float64(m.BytesOut))
	c.bytes.WithLabelValues("in").Add(float64(m.BytesIn))
	c.duration.WithLabelValues(m.Phase).Observe(m.DurationMS / 1000)
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	return ln.Addr(), done, nil
}
