// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 编排核心指标收集器
type Collector struct {
	// 编排指标
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fallbackTotal   prometheus.Counter
	hedgedTotal     prometheus.Counter

	// Provider 指标
	providerAttempts *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	providerHealth   *prometheus.GaugeVec

	// 记忆指标
	memoryQueryDuration prometheus.Histogram
	memoryAppendsTotal  *prometheus.CounterVec
	memoryReferenced    prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 编排指标
	c.requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestration_requests_total",
			Help:      "Total number of orchestration requests",
		},
		[]string{"category", "verdict", "error_kind"},
	)

	c.requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "orchestration_request_duration_seconds",
			Help:      "Orchestration request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"category"},
	)

	c.fallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestration_fallback_total",
			Help:      "Total number of requests served by a fallback provider",
		},
	)

	c.hedgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestration_hedged_total",
			Help:      "Total number of responses downgraded to hedged answers",
		},
	)

	// Provider 指标
	c.providerAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Total number of provider attempts",
		},
		[]string{"provider", "status"},
	)

	c.providerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Provider attempt duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	c.providerHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_health_state",
			Help:      "Provider health state (0=Healthy, 1=Degraded, 2=Open)",
		},
		[]string{"provider"},
	)

	// 记忆指标
	c.memoryQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_query_duration_seconds",
			Help:      "Memory retrieval duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
		},
	)

	c.memoryAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_appends_total",
			Help:      "Total number of memory append operations",
		},
		[]string{"status"},
	)

	c.memoryReferenced = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_references_per_request",
			Help:      "Number of memory records referenced per request",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		},
	)

	return c
}

// RecordRequest 记录一次编排请求结果
func (c *Collector) RecordRequest(category, verdict, errorKind string, duration time.Duration, fallbackUsed, hedged bool, memoryRefs int) {
	c.requestsTotal.WithLabelValues(category, verdict, errorKind).Inc()
	c.requestDuration.WithLabelValues(category).Observe(duration.Seconds())
	c.memoryReferenced.Observe(float64(memoryRefs))
	if fallbackUsed {
		c.fallbackTotal.Inc()
	}
	if hedged {
		c.hedgedTotal.Inc()
	}
}

// RecordProviderAttempt 记录一次后端尝试
func (c *Collector) RecordProviderAttempt(provider, status string, latency time.Duration) {
	c.providerAttempts.WithLabelValues(provider, status).Inc()
	c.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// SetProviderHealth 更新后端健康状态
func (c *Collector) SetProviderHealth(provider string, state int) {
	c.providerHealth.WithLabelValues(provider).Set(float64(state))
}

// RecordMemoryQuery 记录一次记忆检索耗时
func (c *Collector) RecordMemoryQuery(duration time.Duration) {
	c.memoryQueryDuration.Observe(duration.Seconds())
}

// RecordMemoryAppend 记录一次记忆写入
func (c *Collector) RecordMemoryAppend(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.memoryAppendsTotal.WithLabelValues(status).Inc()
}
