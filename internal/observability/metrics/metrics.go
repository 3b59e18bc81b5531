package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	metricPrefix = "fuelledger_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	submissionsTotal   *prometheus.CounterVec
	submissionLatency  *prometheus.HistogramVec
	rejectionsTotal    *prometheus.CounterVec
	aggregationsTotal  *prometheus.CounterVec
	aggregationLatency *prometheus.HistogramVec
	excludedEvents     prometheus.Counter
	priceRefreshTotal  *prometheus.CounterVec
	exportTotal        *prometheus.CounterVec
	seriesCacheLookups *prometheus.CounterVec
)

// Init registers the service metrics with the default registry.
// db may be nil (in-memory mode); otherwise connection pool stats are exported too.
func Init(db *sql.DB) {
	registerOnce.Do(func() {
		submissionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "submissions_total",
				Help: "Fuel event submissions by kind and result",
			},
			[]string{"kind", "result"},
		)
		submissionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "submission_latency_seconds",
				Help:    "Fuel event submission latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		)
		rejectionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rejections_total",
				Help: "Fuel event rejections by reason",
			},
			[]string{"reason"},
		)
		aggregationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregations_total",
				Help: "Period aggregation queries by result",
			},
			[]string{"result"},
		)
		aggregationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregation_latency_seconds",
				Help:    "Period aggregation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		excludedEvents = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregation_excluded_events_total",
				Help: "Malformed events excluded from aggregation",
			},
		)
		priceRefreshTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "price_refresh_total",
				Help: "Price cache refreshes by result",
			},
			[]string{"result"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Stats exports by format and result",
			},
			[]string{"format", "result"},
		)
		seriesCacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "series_cache_lookups_total",
				Help: "Efficiency series cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			submissionsTotal,
			submissionLatency,
			rejectionsTotal,
			aggregationsTotal,
			aggregationLatency,
			excludedEvents,
			priceRefreshTotal,
			exportTotal,
			seriesCacheLookups,
		)

		if db != nil {
			prometheus.MustRegister(collectors.NewDBStatsCollector(db, "fuelledger"))
		}
	})
}

// ObserveSubmission records a ledger write. kind is create, edit or delete.
func ObserveSubmission(kind, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if submissionsTotal != nil {
		submissionsTotal.WithLabelValues(kind, result).Inc()
	}
	if submissionLatency != nil {
		submissionLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// IncRejection counts a business-rule rejection.
func IncRejection(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if rejectionsTotal != nil {
		rejectionsTotal.WithLabelValues(reason).Inc()
	}
}

// ObserveAggregation records a stats query.
func ObserveAggregation(result string, duration time.Duration, excluded int) {
	if result == "" {
		result = resultSuccess
	}
	if aggregationsTotal != nil {
		aggregationsTotal.WithLabelValues(result).Inc()
	}
	if aggregationLatency != nil {
		aggregationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if excludedEvents != nil && excluded > 0 {
		excludedEvents.Add(float64(excluded))
	}
}

func IncPriceRefresh(result string) {
	if result == "" {
		result = resultSuccess
	}
	if priceRefreshTotal != nil {
		priceRefreshTotal.WithLabelValues(result).Inc()
	}
}

func IncExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}

// IncSeriesCache counts a series cache hit or miss.
func IncSeriesCache(hit bool) {
	if seriesCacheLookups == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	seriesCacheLookups.WithLabelValues(outcome).Inc()
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
