package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the rating service's Prometheus collectors.
type Metrics struct {
	ratings         *prometheus.CounterVec
	premium         prometheus.Histogram
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	quotesSaved     prometheus.Counter
	quotesBound     prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rating_requests_total",
			Help: "Ratings computed, by outcome.",
		}, []string{"outcome"}),
		premium: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rating_final_premium_dollars",
			Help:    "Distribution of final rated premiums.",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 12),
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rating_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rating_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		quotesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rating_quotes_saved_total",
			Help: "Insurance towers persisted.",
		}),
		quotesBound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rating_quotes_bound_total",
			Help: "Insurance towers bound.",
		}),
	}
	reg.MustRegister(m.ratings, m.premium, m.requests, m.requestDuration, m.quotesSaved, m.quotesBound)
	return m
}

func (m *Metrics) observeRating(premium int64, err error) {
	if err != nil {
		m.ratings.WithLabelValues(errorOutcome(err)).Inc()
		return
	}
	m.ratings.WithLabelValues("ok").Inc()
	m.premium.Observe(float64(premium))
}

func (m *Metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	if status == 0 {
		status = 200
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
