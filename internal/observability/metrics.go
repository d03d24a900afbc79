package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat bridge.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcClientHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_client_handled_total",
			Help: "Total number of gRPC calls completed by the client.",
		},
		[]string{"grpc_method", "grpc_code"},
	)
	openWindows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkchat_open_windows",
			Help: "Number of open chat windows.",
		},
	)
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkchat_connection_state",
			Help: "1 for the current realtime connection state, 0 otherwise.",
		},
		[]string{"state"},
	)
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkchat_realtime_events_total",
			Help: "Total number of realtime events by direction.",
		},
		[]string{"direction", "event"},
	)
	backendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkchat_backend_call_duration_seconds",
			Help:    "Backend API call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkchat_notifications_total",
			Help: "Total number of user-facing notifications by kind.",
		},
		[]string{"kind"},
	)
	updateStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkchat_update_streams_active",
			Help: "Number of connected UI update streams.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkchat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcClientHandledTotal,
		openWindows,
		connectionState,
		realtimeEventsTotal,
		backendCallDuration,
		notificationsTotal,
		updateStreams,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCClientMetricsUnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		grpcClientHandledTotal.WithLabelValues(method, status.Code(err).String()).Inc()
		return err
	}
}

func SetOpenWindows(n int) {
	openWindows.Set(float64(n))
}

// SetConnectionState flips the state gauge so exactly one label reads 1.
func SetConnectionState(current string, all ...string) {
	for _, s := range all {
		connectionState.WithLabelValues(s).Set(0)
	}
	connectionState.WithLabelValues(current).Set(1)
}

func IncRealtimeEvent(direction, event string) {
	realtimeEventsTotal.WithLabelValues(direction, event).Inc()
}

func ObserveBackendCall(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	backendCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func IncNotification(kind string) {
	notificationsTotal.WithLabelValues(kind).Inc()
}

func IncUpdateStreams() {
	updateStreams.Inc()
}

func DecUpdateStreams() {
	updateStreams.Dec()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
