package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/internal/auth"
	"github.com/MarkoPoloResearchLab/settlement/internal/config"
	"github.com/MarkoPoloResearchLab/settlement/internal/gateway"
	"github.com/MarkoPoloResearchLab/settlement/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/settlement/internal/httpapi"
	"github.com/MarkoPoloResearchLab/settlement/internal/observability"
	"github.com/MarkoPoloResearchLab/settlement/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	opened, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := opened.close(); closeErr != nil {
			logger.Warn("database close failed", zap.Error(closeErr))
		}
	}()

	platform, err := settlement.ResolvePlatformAccount(ctx, opened.store, cfg.PlatformAccountEmail)
	if err != nil {
		return err
	}
	fees, err := cfg.Fees()
	if err != nil {
		return err
	}
	currency, err := cfg.Currency()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	options := []settlement.ServiceOption{
		settlement.WithOperationLogger(observability.NewOperationLogger(logger, metrics)),
		settlement.WithProvider(cfg.GatewayProvider),
	}
	if cfg.GatewaySecret != "" {
		gatewayClient, gatewayErr := gateway.NewClient(gateway.Config{
			BaseURL:    cfg.GatewayBaseURL,
			SecretKey:  cfg.GatewaySecret,
			Timeout:    cfg.GatewayTimeout,
			MaxRetries: cfg.GatewayMaxRetries,
			Logger:     logger,
		})
		if gatewayErr != nil {
			return fmt.Errorf("gateway init: %w", gatewayErr)
		}
		options = append(options,
			settlement.WithGateway(observability.InstrumentGateway(gatewayClient, metrics)),
			settlement.WithWebhookSecret(cfg.GatewaySecret),
		)
	} else {
		logger.Warn("gateway secret is empty; card payments, payouts and webhooks are disabled")
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	settlementService, err := settlement.NewService(opened.store, clock, platform, fees, options...)
	if err != nil {
		return fmt.Errorf("settlement service init: %w", err)
	}

	validator, err := auth.NewValidator(cfg.JWTSigningKey, cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("token validator init: %w", err)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled() {
		redisClient, redisErr := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if redisErr != nil {
			return fmt.Errorf("redis init: %w", redisErr)
		}
		defer func() { _ = redisClient.Close() }()
		redisLimiter, limiterErr := ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow)
		if limiterErr != nil {
			return limiterErr
		}
		limiter = redisLimiter
	}

	router, err := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins:  cfg.AllowedOrigins,
		DefaultCurrency: currency,
		RequestTimeout:  cfg.RequestTimeout,
	}, httpapi.Dependencies{
		Service:   settlementService,
		Directory: opened.store,
		Validator: validator,
		Limiter:   limiter,
		Metrics:   metrics,
		Gatherer:  prometheus.DefaultGatherer,
		Logger:    logger,
		Ready:     opened.ready,
	})
	if err != nil {
		return fmt.Errorf("http router init: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.AdminInterceptor(validator)))
	grpcserver.Register(grpcServer, grpcserver.NewServer(settlementService, currency))

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpapi.Run(serveCtx, cfg.HTTPListenAddr, router, logger)
	}()
	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		grpcErrCh <- grpcServer.Serve(lis)
	}()

	var (
		runErr      error
		httpStopped bool
		grpcStopped bool
	)
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-httpErrCh:
		httpStopped = true
	case runErr = <-grpcErrCh:
		grpcStopped = true
	}

	cancel()
	grpcServer.GracefulStop()
	if !grpcStopped {
		if serveErr := <-grpcErrCh; runErr == nil {
			runErr = serveErr
		}
	}
	if !httpStopped {
		if serveErr := <-httpErrCh; runErr == nil {
			runErr = serveErr
		}
	}
	if errors.Is(runErr, grpc.ErrServerStopped) {
		return nil
	}
	return runErr
}
