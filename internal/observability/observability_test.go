package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func mustUserID(test *testing.T, raw string) settlement.UserID {
	test.Helper()
	userID, err := settlement.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func TestOperationLoggerWritesFieldsAndCounts(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := NewMetrics(prometheus.NewRegistry())
	operationLogger := NewOperationLogger(zap.New(core), metrics)

	operationLogger.LogOperation(context.Background(), settlement.OperationLog{
		Operation: "deposit",
		Owner:     mustUserID(test, "user-1"),
		Amount:    settlement.Amount(50000),
		Status:    "ok",
	})
	operationLogger.LogOperation(context.Background(), settlement.OperationLog{
		Operation: "withdraw",
		Owner:     mustUserID(test, "user-1"),
		Status:    "error",
		Error:     errors.New("insufficient funds"),
	})

	entries := logs.All()
	if len(entries) != 2 {
		test.Fatalf("expected 2 log lines, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["owner"] != "user-1" || first["amount"] != "500.00" || first["status"] != "ok" {
		test.Fatalf("unexpected fields %v", first)
	}
	if entries[1].Level != zapcore.WarnLevel {
		test.Fatalf("expected failed operation logged at warn, got %s", entries[1].Level)
	}
	if got := testutil.ToFloat64(metrics.operationsTotal.WithLabelValues("withdraw", "error")); got != 1 {
		test.Fatalf("expected 1 failed withdraw, got %v", got)
	}
}

func TestObserveWebhook(test *testing.T) {
	test.Parallel()
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.ObserveWebhook("paystack", settlement.ReconciliationResult{Outcome: settlement.OutcomeApplied, EntriesWritten: 3})
	metrics.ObserveWebhook("paystack", settlement.ReconciliationResult{Outcome: settlement.OutcomeDuplicate})

	if got := testutil.ToFloat64(metrics.webhooksTotal.WithLabelValues("paystack", "applied")); got != 1 {
		test.Fatalf("expected 1 applied delivery, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.entriesWritten); got != 3 {
		test.Fatalf("expected 3 entries, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveWebhook("paystack", settlement.ReconciliationResult{})
}

func TestRequestMiddleware(test *testing.T) {
	test.Parallel()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := NewMetrics(prometheus.NewRegistry())
	router := gin.New()
	router.Use(RequestMiddleware(zap.New(core), metrics))
	router.GET("/api/wallet/balance", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	testCases := []struct {
		name      string
		path      string
		requestID string
		status    int
		route     string
	}{
		{name: "matched with id", path: "/api/wallet/balance", requestID: "req-123", status: http.StatusOK, route: "/api/wallet/balance"},
		{name: "unmatched", path: "/nope", status: http.StatusNotFound, route: unmatchedRoute},
	}
	for _, testCase := range testCases {
		request := httptest.NewRequest(http.MethodGet, testCase.path, nil)
		if testCase.requestID != "" {
			request.Header.Set(requestIDHeader, testCase.requestID)
		}
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		if recorder.Code != testCase.status {
			test.Fatalf("%s: expected %d, got %d", testCase.name, testCase.status, recorder.Code)
		}
		echoed := recorder.Header().Get(requestIDHeader)
		if echoed == "" || (testCase.requestID != "" && echoed != testCase.requestID) {
			test.Fatalf("%s: unexpected request id %q", testCase.name, echoed)
		}
	}

	if count := logs.FilterMessage("http request").Len(); count != 2 {
		test.Fatalf("expected 2 request lines, got %d", count)
	}
	if got := testutil.ToFloat64(metrics.httpRequests.WithLabelValues(http.MethodGet, unmatchedRoute, "404")); got != 1 {
		test.Fatalf("expected unmatched request counted, got %v", got)
	}
}

type failingGateway struct {
	settlement.Gateway
}

func (failingGateway) Transfer(ctx context.Context, request settlement.TransferRequest) (settlement.Transfer, error) {
	return settlement.Transfer{}, settlement.ErrProviderUnavailable
}

func TestInstrumentGateway(test *testing.T) {
	test.Parallel()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	if InstrumentGateway(nil, metrics) != nil {
		test.Fatalf("expected nil gateway to stay nil")
	}
	gateway := InstrumentGateway(failingGateway{}, metrics)
	if _, err := gateway.Transfer(context.Background(), settlement.TransferRequest{}); !errors.Is(err, settlement.ErrProviderUnavailable) {
		test.Fatalf("expected error passed through, got %v", err)
	}
	if count := testutil.CollectAndCount(metrics.gatewayDuration, "settlement_gateway_call_duration_seconds"); count != 1 {
		test.Fatalf("expected one observed series, got %d", count)
	}
}
