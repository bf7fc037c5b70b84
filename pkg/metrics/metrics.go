// Package metrics exposes Prometheus collectors for CLASP client sessions.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// guard metric updates.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clasp_client"

// Metrics groups the session collectors.
type Metrics struct {
	framesTotal      *prometheus.CounterVec
	frameBytesTotal  *prometheus.CounterVec
	reconnectsTotal  *prometheus.CounterVec
	dispatchTotal    prometheus.Counter
	callbackErrors   prometheus.Counter
	serverErrors     *prometheus.CounterVec
	getLatency       prometheus.Histogram
	getTimeouts      prometheus.Counter
	connected        prometheus.Gauge
	subscriptions    prometheus.Gauge
	clockOffsetMicro prometheus.Gauge
	rttSeconds       prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames by direction and message type",
		}, []string{"direction", "type"}),
		frameBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_total",
			Help:      "Frame bytes by direction",
		}, []string{"direction"}),
		reconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by result",
		}, []string{"result"}),
		dispatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Subscription handler invocations",
		}),
		callbackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_errors_total",
			Help:      "Handler panics recovered during dispatch",
		}),
		serverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "ERROR messages received, by code",
		}, []string{"code"}),
		getLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "get_latency_seconds",
			Help:      "Latency of point reads that missed the cache",
			Buckets:   prometheus.DefBuckets,
		}),
		getTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "get_timeouts_total",
			Help:      "Point reads that timed out",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a session is established",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Registered subscriptions",
		}),
		clockOffsetMicro: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_offset_microseconds",
			Help:      "Router minus local clock offset",
		}),
		rttSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rtt_seconds",
			Help:      "Smoothed SYNC round-trip time",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.framesTotal, m.frameBytesTotal, m.reconnectsTotal, m.dispatchTotal,
		m.callbackErrors, m.serverErrors, m.getLatency, m.getTimeouts,
		m.connected, m.subscriptions, m.clockOffsetMicro, m.rttSeconds,
	}
}

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// FrameSent records an outbound frame.
func (m *Metrics) FrameSent(msgType string, size int) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues("out", msgType).Inc()
	m.frameBytesTotal.WithLabelValues("out").Add(float64(size))
}

// FrameReceived records an inbound frame.
func (m *Metrics) FrameReceived(msgType string, size int) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues("in", msgType).Inc()
	m.frameBytesTotal.WithLabelValues("in").Add(float64(size))
}

// Reconnect records a reconnect attempt outcome ("success", "failure",
// "gave_up").
func (m *Metrics) Reconnect(result string) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(result).Inc()
}

// Dispatched records n handler invocations.
func (m *Metrics) Dispatched(n int) {
	if m == nil {
		return
	}
	m.dispatchTotal.Add(float64(n))
}

// CallbackError records a recovered handler panic.
func (m *Metrics) CallbackError() {
	if m == nil {
		return
	}
	m.callbackErrors.Inc()
}

// ServerError records an inbound ERROR.
func (m *Metrics) ServerError(code string) {
	if m == nil {
		return
	}
	m.serverErrors.WithLabelValues(code).Inc()
}

// GetCompleted records the latency of a resolved point read.
func (m *Metrics) GetCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.getLatency.Observe(d.Seconds())
}

// GetTimedOut records a point read timeout.
func (m *Metrics) GetTimedOut() {
	if m == nil {
		return
	}
	m.getTimeouts.Inc()
}

// SetConnected sets the connected gauge.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// SetSubscriptions sets the subscription gauge.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// SetClock records the current clock estimate.
func (m *Metrics) SetClock(offsetMicros int64, rtt time.Duration) {
	if m == nil {
		return
	}
	m.clockOffsetMicro.Set(float64(offsetMicros))
	m.rttSeconds.Set(rtt.Seconds())
}
