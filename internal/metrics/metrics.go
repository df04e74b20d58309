package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages persisted and broadcast",
	})
	WsFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_frames_total",
		Help: "Inbound websocket frames by type and outcome",
	}, []string{"type", "outcome"})
	WsOutboundDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_outbound_dropped_total",
		Help: "Outbound frames dropped because a connection queue was full",
	}, []string{"policy"})
	TypingExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_typing_expired_total",
		Help: "Typing indicators cleared by the server-side inactivity timer",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		WsMessagesTotal,
		WsFramesTotal,
		WsOutboundDropped,
		TypingExpired,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

const unmatchedPath = "unmatched"

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		// 未匹配路由统一归为一个标签，避免任意 404 路径撑大序列数
		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
