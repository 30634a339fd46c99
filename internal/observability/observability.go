package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	metricsNamespace = "settlement"
	requestIDHeader  = "X-Request-ID"
	requestIDKey     = "request_id"
	unmatchedRoute   = "unmatched"
)

// Metrics groups the counters exported on /metrics.
type Metrics struct {
	operationsTotal *prometheus.CounterVec
	webhooksTotal   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	entriesWritten  prometheus.Counter
	gatewayDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "service",
				Name:      "operations_total",
				Help:      "Settlement operations partitioned by operation and status.",
			},
			[]string{"operation", "status"},
		),
		webhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "webhook",
				Name:      "deliveries_total",
				Help:      "Webhook deliveries partitioned by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests partitioned by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		entriesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ledger",
				Name:      "webhook_entries_written_total",
				Help:      "Ledger entries written while reconciling webhooks.",
			},
		),
		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Outbound gateway call latency partitioned by call and result.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"call", "result"},
		),
	}
}

// ObserveWebhook counts one reconciled delivery.
func (metrics *Metrics) ObserveWebhook(provider string, result settlement.ReconciliationResult) {
	if metrics == nil {
		return
	}
	metrics.webhooksTotal.WithLabelValues(provider, string(result.Outcome)).Inc()
	if result.EntriesWritten > 0 {
		metrics.entriesWritten.Add(float64(result.EntriesWritten))
	}
}

// OperationLogger writes one structured line per settlement operation and counts it.
type OperationLogger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewOperationLogger wires zap and optional metrics into a settlement.OperationLogger.
func NewOperationLogger(logger *zap.Logger, metrics *Metrics) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger, metrics: metrics}
}

func (operationLogger *OperationLogger) LogOperation(ctx context.Context, entry settlement.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.Owner.IsZero() {
		fields = append(fields, zap.String("owner", entry.Owner.String()))
	}
	if entry.Reference.String() != "" {
		fields = append(fields, zap.String("reference", entry.Reference.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.Currency.String() != "" {
		fields = append(fields, zap.String("currency", entry.Currency.String()))
	}
	if entry.IdempotencyKey.String() != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey.String()))
	}
	if entry.Note != "" {
		fields = append(fields, zap.String("note", entry.Note))
	}
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		fields = append(fields, zap.String(requestIDKey, requestID))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("settlement operation failed", append(fields, zap.Error(entry.Error))...)
	} else {
		operationLogger.logger.Info("settlement operation", fields...)
	}
	if operationLogger.metrics != nil {
		operationLogger.metrics.operationsTotal.WithLabelValues(entry.Operation, entry.Status).Inc()
	}
}

type requestIDContextKey struct{}

// RequestMiddleware assigns a request id, logs one line per request and records HTTP metrics.
func RequestMiddleware(logger *zap.Logger, metrics *Metrics) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDContextKey{}, requestID))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		latency := time.Since(start)
		status := c.Writer.Status()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String(requestIDKey, requestID),
		)
		if metrics != nil {
			metrics.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
			metrics.httpLatency.WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())
		}
	}
}

// InstrumentedGateway records call latency around a settlement.Gateway.
type InstrumentedGateway struct {
	next    settlement.Gateway
	metrics *Metrics
}

// InstrumentGateway wraps next. A nil metrics returns next unchanged.
func InstrumentGateway(next settlement.Gateway, metrics *Metrics) settlement.Gateway {
	if next == nil || metrics == nil {
		return next
	}
	return &InstrumentedGateway{next: next, metrics: metrics}
}

func (gateway *InstrumentedGateway) observe(call string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gateway.metrics.gatewayDuration.WithLabelValues(call, result).Observe(time.Since(start).Seconds())
}

func (gateway *InstrumentedGateway) InitializeTransaction(ctx context.Context, request settlement.ChargeRequest) (settlement.Authorization, error) {
	start := time.Now()
	authorization, err := gateway.next.InitializeTransaction(ctx, request)
	gateway.observe("initialize", start, err)
	return authorization, err
}

func (gateway *InstrumentedGateway) VerifyTransaction(ctx context.Context, reference settlement.Reference) (settlement.Verification, error) {
	start := time.Now()
	verification, err := gateway.next.VerifyTransaction(ctx, reference)
	gateway.observe("verify", start, err)
	return verification, err
}

func (gateway *InstrumentedGateway) CreateRecipient(ctx context.Context, request settlement.RecipientRequest) (settlement.Recipient, error) {
	start := time.Now()
	recipient, err := gateway.next.CreateRecipient(ctx, request)
	gateway.observe("recipient", start, err)
	return recipient, err
}

func (gateway *InstrumentedGateway) Transfer(ctx context.Context, request settlement.TransferRequest) (settlement.Transfer, error) {
	start := time.Now()
	transfer, err := gateway.next.Transfer(ctx, request)
	gateway.observe("transfer", start, err)
	return transfer, err
}
