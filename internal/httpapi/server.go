package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/internal/auth"
	"github.com/MarkoPoloResearchLab/settlement/internal/observability"
	"github.com/MarkoPoloResearchLab/settlement/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 5 * time.Second
	shutdownTimeout       = 5 * time.Second
	maxWebhookBodyBytes   = 1 << 20
	idempotencyKeyHeader  = "Idempotency-Key"
)

// Config carries the HTTP-specific settings.
type Config struct {
	AllowedOrigins  []string
	DefaultCurrency settlement.Currency
	RequestTimeout  time.Duration
}

// Dependencies are the collaborators the HTTP surface calls into.
type Dependencies struct {
	Service   *settlement.Service
	Directory settlement.Directory
	Validator *auth.Validator
	// Limiter is optional; nil disables rate limiting.
	Limiter  ratelimit.Limiter
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	// Ready is optional and backs /healthz.
	Ready func(ctx context.Context) error
}

type httpHandler struct {
	service         *settlement.Service
	directory       settlement.Directory
	metrics         *observability.Metrics
	logger          *zap.Logger
	ready           func(ctx context.Context) error
	defaultCurrency settlement.Currency
	requestTimeout  time.Duration
}

// NewRouter builds the gin engine serving the wallet, payment, payout and webhook routes.
func NewRouter(cfg Config, dependencies Dependencies) (*gin.Engine, error) {
	if dependencies.Service == nil {
		return nil, fmt.Errorf("settlement service is nil")
	}
	if dependencies.Directory == nil {
		return nil, fmt.Errorf("directory is nil")
	}
	if dependencies.Validator == nil {
		return nil, fmt.Errorf("token validator is nil")
	}
	if cfg.DefaultCurrency.String() == "" {
		return nil, fmt.Errorf("default currency is empty")
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	gatherer := dependencies.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	handler := &httpHandler{
		service:         dependencies.Service,
		directory:       dependencies.Directory,
		metrics:         dependencies.Metrics,
		logger:          logger,
		ready:           dependencies.Ready,
		defaultCurrency: cfg.DefaultCurrency,
		requestTimeout:  requestTimeout,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestMiddleware(logger, dependencies.Metrics))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Authorization", "Content-Type", "Origin", "Accept", idempotencyKeyHeader},
			ExposeHeaders: []string{"Retry-After", "X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.POST("/webhooks/:provider", handler.handleWebhook)

	limited := func(c *gin.Context) { c.Next() }
	if dependencies.Limiter != nil {
		limited = ratelimit.Middleware(dependencies.Limiter, logger)
	}
	customers := auth.RequireRole(settlement.RoleCustomer, settlement.RoleAdmin)
	artisans := auth.RequireRole(settlement.RoleArtisan)

	api := router.Group("/api")
	api.Use(auth.Middleware(dependencies.Validator))

	api.GET("/wallet/balance", handler.handleBalance)
	api.GET("/wallet/entries", handler.handleEntries)
	api.POST("/wallet/deposit", limited, handler.handleDeposit)
	api.POST("/wallet/withdraw", limited, handler.handleWithdraw)

	api.POST("/payments/checkout", limited, customers, handler.handleCheckout)
	api.GET("/payments", handler.handleListPayments)
	api.GET("/payments/:reference", handler.handleGetPayment)
	api.POST("/payments/:reference/initialize", limited, handler.handleInitializePayment)
	api.POST("/payments/:reference/verify", limited, handler.handleVerifyPayment)

	api.POST("/payouts/destination", limited, artisans, handler.handleRegisterDestination)
	api.POST("/payouts", limited, artisans, handler.handleRequestPayout)
	api.GET("/payouts", artisans, handler.handleListPayouts)

	return router, nil
}

// Run serves handler on listenAddr until ctx is cancelled.
func Run(ctx context.Context, listenAddr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", listenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("http shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (handler *httpHandler) handleHealth(c *gin.Context) {
	if handler.ready != nil {
		readyCtx, cancel := context.WithTimeout(c.Request.Context(), handler.requestTimeout)
		defer cancel()
		if err := handler.ready(readyCtx); err != nil {
			handler.logger.Warn("readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), handler.requestTimeout)
}
