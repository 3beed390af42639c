package prom

import (
	"time"

	"github.com/IvanBrykalov/respcache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   *prometheus.CounterVec
	reclaims *prometheus.CounterVec
	sizeEnt  prometheus.Gauge
	sizeByte prometheus.Gauge
	retired  prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Cache evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		reclaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "reclaims_total",
				Help:        "Entries whose storage was released, by who released it",
				ConstLabels: constLabels,
			},
			[]string{"mode"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of live entries",
			ConstLabels: constLabels,
		}),
		sizeByte: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_bytes",
			Help:        "Payload bytes held, including retired entries",
			ConstLabels: constLabels,
		}),
		retired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "retired_pending",
			Help:        "Evicted entries still pinned by readers",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.reclaims, a.sizeEnt, a.sizeByte, a.retired)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(reason(r)).Inc()
}

// Reclaim counts released entries; mode is "deferred" when the last
// reader released it and "immediate" otherwise.
func (a *Adapter) Reclaim(deferred bool) {
	mode := "immediate"
	if deferred {
		mode = "deferred"
	}
	a.reclaims.WithLabelValues(mode).Inc()
}

// Size updates gauges for the number of entries and payload bytes.
func (a *Adapter) Size(entries int, bytes int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeByte.Set(float64(bytes))
}

// Retired sets the retired_pending gauge.
func (a *Adapter) Retired(pending int) { a.retired.Set(float64(pending)) }

// reason maps EvictReason to a stable label value.
func reason(r cache.EvictReason) string {
	switch r {
	case cache.EvictTail:
		return "tail"
	case cache.EvictWindow:
		return "window"
	default:
		return "unknown"
	}
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)

// Server exports request-level metrics for the file server.
type Server struct {
	requests *prometheus.CounterVec
	bytes    prometheus.Counter
	latency  *prometheus.HistogramVec
	conns    prometheus.Gauge
	rejected prometheus.Counter
}

// NewServer registers request metrics; reg nil => prometheus.DefaultRegisterer.
func NewServer(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Server {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &Server{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "requests_total",
			Help:        "Requests served, by outcome (hit, miss, not_found, bad_request, error)",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "response_bytes_total",
			Help:        "Body bytes written to clients",
			ConstLabels: constLabels,
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "request_duration_seconds",
			Help:        "Time from accept to the last byte written",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "connections_active",
			Help:        "Connections currently being served",
			ConstLabels: constLabels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "accept_errors_total",
			Help:        "Failed accepts",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(s.requests, s.bytes, s.latency, s.conns, s.rejected)
	return s
}

// Request records one finished request.
func (s *Server) Request(outcome string, bytes int, elapsed time.Duration) {
	s.requests.WithLabelValues(outcome).Inc()
	s.bytes.Add(float64(bytes))
	s.latency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ConnOpened and ConnClosed track the active connection gauge.
func (s *Server) ConnOpened() { s.conns.Inc() }
func (s *Server) ConnClosed() { s.conns.Dec() }

// AcceptError counts a failed accept.
func (s *Server) AcceptError() { s.rejected.Inc() }
