package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tutorgate_provider_request_duration_seconds",
		Help:    "Duration of provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "model", "status"})

	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorgate_provider_requests_total",
		Help: "Total number of provider calls",
	}, []string{"provider", "model", "status"})

	providerTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorgate_provider_tokens_total",
		Help: "Tokens reported by providers",
	}, []string{"provider", "model"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutorgate_cache_hits_total",
		Help: "Total number of response cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutorgate_cache_misses_total",
		Help: "Total number of response cache misses",
	})

	budgetRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorgate_budget_rejections_total",
		Help: "Requests refused by the token ledger",
	}, []string{"reason"})

	dailyTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutorgate_daily_tokens",
		Help: "Tokens consumed today by free-tier requests",
	})

	dailyCost = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutorgate_daily_cost_usd",
		Help: "Estimated cost accumulated today",
	})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorgate_director_decisions_total",
		Help: "Teacher selections by method",
	}, []string{"method"})
)

// RecordProviderCall records a provider call outcome.
func RecordProviderCall(provider, model, status string, duration time.Duration, tokens int) {
	providerRequestDuration.WithLabelValues(provider, model, status).Observe(duration.Seconds())
	providerRequestsTotal.WithLabelValues(provider, model, status).Inc()
	if tokens > 0 {
		providerTokensTotal.WithLabelValues(provider, model).Add(float64(tokens))
	}
}

// RecordCacheHit records a cache hit.
func RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss.
func RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordBudgetRejection records a request refused by the token ledger.
func RecordBudgetRejection(reason string) {
	budgetRejections.WithLabelValues(reason).Inc()
}

// SetDailyTokens updates the daily token gauge.
func SetDailyTokens(n int64) {
	dailyTokens.Set(float64(n))
}

// SetDailyCost updates the daily cost gauge.
func SetDailyCost(usd float64) {
	dailyCost.Set(usd)
}

// RecordDecision records a teacher selection.
func RecordDecision(method string) {
	decisionsTotal.WithLabelValues(method).Inc()
}

// Handler serves the registered collectors in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
