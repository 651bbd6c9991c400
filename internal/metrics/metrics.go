// Package metrics provides Prometheus metrics for page/menu fetches and the
// reverse proxy. Labels stay low-cardinality: no paths, sessions or request IDs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page fetch outcomes.
const (
	OutcomeRedirect  = "redirect"
	OutcomeHardError = "hard_error"
	OutcomeSoftError = "soft_error"
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
)

var (
	// PageFetchTotal counts page fetches by classification outcome.
	PageFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drupal_ce_page_fetch_total",
		Help: "Total number of page fetches, by outcome.",
	}, []string{"outcome"})

	// MenuFetchTotal counts menu fetches by outcome (success/failure).
	MenuFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drupal_ce_menu_fetch_total",
		Help: "Total number of menu fetches, by outcome.",
	}, []string{"outcome"})

	// ProxyRequestsTotal counts proxied requests by route family and upstream status class.
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drupal_ce_proxy_requests_total",
		Help: "Total number of proxied requests, by route and upstream status class.",
	}, []string{"route", "status_class"})

	// UpstreamDuration observes CMS round trips by caller kind (page/menu/proxy).
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drupal_ce_upstream_duration_seconds",
		Help:    "Latency of CMS round trips, by caller kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// BreakerState reports the CMS circuit breaker state (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drupal_ce_upstream_breaker_state",
		Help: "CMS circuit breaker state (0=closed, 1=half-open, 2=open).",
	})
)

// StatusClass maps a status code to "2xx"... style labels; 0 means transport failure.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// ObserveUpstream records a CMS round trip duration.
func ObserveUpstream(kind string, started time.Time) {
	UpstreamDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}
