package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "practicum"

// Collector holds every series the scheduling service exports. All methods
// are safe on a nil receiver.
type Collector struct {
	lifecycleTotal     *prometheus.CounterVec
	rejectionsTotal    *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	notifyDropped      prometheus.Counter
	remindersTotal     *prometheus.CounterVec
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	inFlight           prometheus.Gauge
}

func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		lifecycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "lifecycle_events_total",
			Help:      "Appointment lifecycle events by type.",
		}, []string{"event"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "rejections_total",
			Help:      "Rejected appointment operations by operation and reason.",
		}, []string{"operation", "reason"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "emails_total",
			Help:      "Notification emails by template and outcome.",
		}, []string{"template", "outcome"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "queue_dropped_total",
			Help:      "Events dropped because the notification queue was full.",
		}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "runs_total",
			Help:      "Reminder candidates by outcome.",
		}, []string{"outcome"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		c.lifecycleTotal,
		c.rejectionsTotal,
		c.notificationsTotal,
		c.notifyDropped,
		c.remindersTotal,
		c.requestsTotal,
		c.requestDuration,
		c.inFlight,
	)
	return c
}

func (c *Collector) LifecycleEvent(event string) {
	if c == nil {
		return
	}
	c.lifecycleTotal.WithLabelValues(event).Inc()
}

func (c *Collector) Rejected(operation, reason string) {
	if c == nil {
		return
	}
	c.rejectionsTotal.WithLabelValues(operation, reason).Inc()
}

func (c *Collector) Notification(template, outcome string) {
	if c == nil {
		return
	}
	c.notificationsTotal.WithLabelValues(template, outcome).Inc()
}

func (c *Collector) NotificationDropped() {
	if c == nil {
		return
	}
	c.notifyDropped.Inc()
}

func (c *Collector) Reminder(outcome string) {
	if c == nil {
		return
	}
	c.remindersTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RequestStarted() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

func (c *Collector) RequestFinished(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.inFlight.Dec()
	c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry the collector was registered with.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
