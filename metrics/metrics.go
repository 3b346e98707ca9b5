// Package metrics 提供 Prometheus 指标。使用独立的 registry，nil *Collector 的所有方法都是空操作。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "freeloader"

// Collector 汇总 front door 与后端相关的指标。
type Collector struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	backendErrors *prometheus.CounterVec
	streamChunks  *prometheus.CounterVec
	backendUp     *prometheus.GaugeVec
}

// New 创建并注册所有指标（含 Go runtime 与进程指标）。
func New() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests handled by the front door.",
		}, []string{"endpoint", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Front door request latency, including the full stream for streaming responses.",
			// 网页聊天后端的延迟从百毫秒到数分钟不等。
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"endpoint"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend call failures by error kind.",
		}, []string{"backend", "kind"}),
		streamChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Content chunks forwarded to streaming clients.",
		}, []string{"backend"}),
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Whether the last liveness probe reached the backend (1) or not (0).",
		}, []string{"backend"}),
	}
	registry.MustRegister(
		c.requests,
		c.duration,
		c.backendErrors,
		c.streamChunks,
		c.backendUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry 返回底层 registry（测试中用于断言）。
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveRequest 记录一次请求的状态码与耗时。
func (c *Collector) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// BackendError 记录一次后端错误。
func (c *Collector) BackendError(backend, kind string) {
	if c == nil {
		return
	}
	c.backendErrors.WithLabelValues(backend, kind).Inc()
}

// StreamChunk 记录一个转发给客户端的内容 chunk。
func (c *Collector) StreamChunk(backend string) {
	if c == nil {
		return
	}
	c.streamChunks.WithLabelValues(backend).Inc()
}

// SetBackendUp 记录探活结果。
func (c *Collector) SetBackendUp(backend string, up bool) {
	if c == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.backendUp.WithLabelValues(backend).Set(v)
}

// Handler 返回 Prometheus exposition handler。
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
