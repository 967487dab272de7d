// Package metrics 提供了对话编排相关的 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fitcoach"

// Metrics 持有独立的 Registry 及所有指标。方法对 nil 接收者安全，测试中可以不注入。
type Metrics struct {
	reg *prometheus.Registry

	Branches       *prometheus.CounterVec
	RetrievalTiers *prometheus.CounterVec
	ChurnLevels    *prometheus.CounterVec
	Retention      *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	BackendLatency *prometheus.HistogramVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// New 创建并注册所有指标。
func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.Branches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_branch_total",
		Help:      "Replies produced per orchestrator branch",
	}, []string{"topic"})
	m.RetrievalTiers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_tier_total",
		Help:      "Knowledge retrieval results per tier",
	}, []string{"tier"})
	m.ChurnLevels = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "churn_level_total",
		Help:      "Churn risk evaluations per level",
	}, []string{"level"})
	m.Retention = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_message_total",
		Help:      "Retention messages appended or suppressed",
	}, []string{"level", "outcome"})
	m.StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Swallowed storage errors per store",
	}, []string{"store"})
	m.BackendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_call_duration_seconds",
		Help:      "Latency of generation and embedding backend calls",
		Buckets:   []float64{0.1, 0.3, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"backend", "outcome"})
	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests per route and status code",
	}, []string{"route", "code"})
	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 1.0, 3.0, 5.0, 10.0},
	}, []string{"route"})

	m.reg.MustRegister(m.Branches, m.RetrievalTiers, m.ChurnLevels, m.Retention,
		m.StoreErrors, m.BackendLatency, m.HTTPRequests, m.HTTPDuration)
	return m
}

// Registry 返回底层 Registry，测试中用于读取指标值。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler 返回暴露指标的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveBranch(topic string) {
	if m == nil {
		return
	}
	m.Branches.WithLabelValues(topic).Inc()
}

func (m *Metrics) ObserveRetrievalTier(tier string) {
	if m == nil {
		return
	}
	m.RetrievalTiers.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObserveChurn(level string) {
	if m == nil {
		return
	}
	m.ChurnLevels.WithLabelValues(level).Inc()
}

// ObserveRetention 记录挽留话术的结果，outcome 为 appended 或 suppressed。
func (m *Metrics) ObserveRetention(level, outcome string) {
	if m == nil {
		return
	}
	m.Retention.WithLabelValues(level, outcome).Inc()
}

func (m *Metrics) ObserveStoreError(store string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(store).Inc()
}

// ObserveBackend 记录一次后端调用的耗时。
func (m *Metrics) ObserveBackend(backend string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BackendLatency.WithLabelValues(backend, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
