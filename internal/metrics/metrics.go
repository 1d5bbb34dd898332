package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the application's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	LoginSuccess    prometheus.Counter
	LoginFailure    *prometheus.CounterVec
	RegisterSuccess prometheus.Counter
	PostsCreated    prometheus.Counter
	FollowChanges   *prometheus.CounterVec
	MailSent        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		LoginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "login_success_total",
			Help: "Total successful login attempts",
		}),
		LoginFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "login_failure_total",
			Help: "Total failed login attempts",
		}, []string{"reason"}),
		RegisterSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "register_success_total",
			Help: "Total successful register attempts",
		}),
		PostsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posts_created_total",
			Help: "Total posts successfully created",
		}),
		FollowChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "follow_changes_total",
			Help: "Total follow and unfollow actions",
		}, []string{"action"}),
		MailSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_sent_total",
			Help: "Total outgoing mails by delivery status",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestDuration,
		m.LoginSuccess,
		m.LoginFailure,
		m.RegisterSuccess,
		m.PostsCreated,
		m.FollowChanges,
		m.MailSent,
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records the duration of every request by its route template.
func (m *Metrics) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Login(ok bool, reason string) {
	if m == nil {
		return
	}
	if ok {
		m.LoginSuccess.Inc()
		return
	}
	m.LoginFailure.WithLabelValues(reason).Inc()
}

func (m *Metrics) Registered() {
	if m != nil {
		m.RegisterSuccess.Inc()
	}
}

func (m *Metrics) PostCreated() {
	if m != nil {
		m.PostsCreated.Inc()
	}
}

func (m *Metrics) FollowChanged(action string) {
	if m != nil {
		m.FollowChanges.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) Mail(err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.MailSent.WithLabelValues(status).Inc()
}
