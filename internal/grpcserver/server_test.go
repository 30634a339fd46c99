package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/internal/auth"
	"github.com/MarkoPoloResearchLab/settlement/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"gorm.io/gorm"
)

const (
	bufconnSize    = 1 << 20
	testSigningKey = "grpc-test-key"
)

type backOffice struct {
	client  *Client
	health  healthpb.HealthClient
	service *settlement.Service
}

func mustUserID(test *testing.T, raw string) settlement.UserID {
	test.Helper()
	userID, err := settlement.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustCurrency(test *testing.T, raw string) settlement.Currency {
	test.Helper()
	currency, err := settlement.NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return currency
}

func mustStruct(test *testing.T, fields map[string]any) *structpb.Struct {
	test.Helper()
	request, err := structpb.NewStruct(fields)
	if err != nil {
		test.Fatalf("struct: %v", err)
	}
	return request
}

func startBackOffice(test *testing.T) backOffice {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/settlement.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	if err := gormstore.Migrate(context.Background(), db); err != nil {
		test.Fatalf("migrate failed: %v", err)
	}
	store := gormstore.New(db)
	clock := func() int64 { return time.Now().UTC().Unix() }
	platform := settlement.Party{ID: mustUserID(test, "platform"), Role: settlement.RoleAdmin}
	fee := settlement.Amount(1000)
	service, err := settlement.NewService(store, clock, platform, settlement.FeeSchedule{CustomerCheckout: fee, Wallet: fee, Payout: fee})
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	validator, err := auth.NewValidator(testSigningKey, "")
	if err != nil {
		test.Fatalf("validator: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(AdminInterceptor(validator)))
	Register(grpcServer, NewServer(service, mustCurrency(test, "NGN")))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		test.Fatalf("gRPC client init failed: %v", err)
	}
	test.Cleanup(func() {
		grpcServer.Stop()
		_ = conn.Close()
	})
	return backOffice{client: NewClient(conn), health: healthpb.NewHealthClient(conn), service: service}
}

func adminContext(test *testing.T, role string) context.Context {
	test.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("sign: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+signed)
}

func TestBackOfficeReads(test *testing.T) {
	test.Parallel()
	office := startBackOffice(test)
	ctx := adminContext(test, "admin")
	customer := settlement.Party{ID: mustUserID(test, "customer-1"), Role: settlement.RoleCustomer}
	artisan := settlement.Party{ID: mustUserID(test, "artisan-1"), Role: settlement.RoleArtisan}
	currency := mustCurrency(test, "NGN")

	if _, err := office.service.Deposit(context.Background(), settlement.DepositRequest{Owner: customer.ID, Amount: 50000, Currency: currency}); err != nil {
		test.Fatalf("deposit: %v", err)
	}
	payment, err := office.service.Checkout(context.Background(), settlement.CheckoutRequest{
		Customer:     customer,
		Amount:       12000,
		Currency:     currency,
		Method:       settlement.MethodWallet,
		Counterparty: &artisan,
	})
	if err != nil {
		test.Fatalf("checkout: %v", err)
	}

	balance, err := office.client.GetBalance(ctx, mustStruct(test, map[string]any{"user_id": "customer-1"}))
	if err != nil {
		test.Fatalf("get balance: %v", err)
	}
	if got := balance.GetFields()["balance"].GetStringValue(); got != "370.00" {
		test.Fatalf("expected 370.00, got %s", got)
	}

	paymentResponse, err := office.client.GetPayment(ctx, mustStruct(test, map[string]any{"reference": payment.Reference.String()}))
	if err != nil {
		test.Fatalf("get payment: %v", err)
	}
	if got := paymentResponse.GetFields()["status"].GetStringValue(); got != "captured" {
		test.Fatalf("expected captured, got %s", got)
	}

	entries, err := office.client.ListEntries(ctx, mustStruct(test, map[string]any{"user_id": "customer-1", "limit": 10}))
	if err != nil {
		test.Fatalf("list entries: %v", err)
	}
	if count := len(entries.GetFields()["entries"].GetListValue().GetValues()); count != 3 {
		test.Fatalf("expected deposit plus two checkout legs, got %d", count)
	}
}

func TestBackOfficeErrors(test *testing.T) {
	test.Parallel()
	office := startBackOffice(test)

	testCases := []struct {
		name    string
		ctx     context.Context
		call    func(ctx context.Context) error
		code    codes.Code
		message string
	}{
		{
			name: "missing token",
			ctx:  context.Background(),
			call: func(ctx context.Context) error {
				_, err := office.client.GetBalance(ctx, mustStruct(test, map[string]any{"user_id": "customer-1"}))
				return err
			},
			code:    codes.Unauthenticated,
			message: errorUnauthenticated,
		},
		{
			name: "non-admin token",
			ctx:  adminContext(test, "customer"),
			call: func(ctx context.Context) error {
				_, err := office.client.GetBalance(ctx, mustStruct(test, map[string]any{"user_id": "customer-1"}))
				return err
			},
			code:    codes.PermissionDenied,
			message: errorPermissionDenied,
		},
		{
			name: "empty user",
			ctx:  adminContext(test, "admin"),
			call: func(ctx context.Context) error {
				_, err := office.client.GetBalance(ctx, mustStruct(test, map[string]any{}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidUserID,
		},
		{
			name: "unknown payment",
			ctx:  adminContext(test, "admin"),
			call: func(ctx context.Context) error {
				_, err := office.client.GetPayment(ctx, mustStruct(test, map[string]any{"reference": "FIX-UNKNOWN00000"}))
				return err
			},
			code:    codes.NotFound,
			message: errorNotFound,
		},
		{
			name: "limit too large",
			ctx:  adminContext(test, "admin"),
			call: func(ctx context.Context) error {
				_, err := office.client.ListEntries(ctx, mustStruct(test, map[string]any{"user_id": "customer-1", "limit": 500}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidListLimit,
		},
	}
	for _, testCase := range testCases {
		err := testCase.call(testCase.ctx)
		statusInfo, ok := status.FromError(err)
		if !ok || statusInfo.Code() != testCase.code || statusInfo.Message() != testCase.message {
			test.Fatalf("%s: expected %s/%s, got %v", testCase.name, testCase.code, testCase.message, err)
		}
	}
}

func TestHealthServiceServes(test *testing.T) {
	test.Parallel()
	office := startBackOffice(test)
	response, err := office.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		test.Fatalf("health check: %v", err)
	}
	if response.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		test.Fatalf("expected SERVING, got %s", response.GetStatus())
	}
}

func TestMapToGRPCError(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{name: "insufficient funds", err: settlement.ErrInsufficientFunds, code: codes.FailedPrecondition},
		{name: "duplicate", err: settlement.WrapError("store", "idempotency", "reserve", settlement.ErrDuplicateOperation), code: codes.AlreadyExists},
		{name: "validation", err: settlement.ErrSelfDealing, code: codes.InvalidArgument},
		{name: "payout missing", err: settlement.ErrPayoutNotFound, code: codes.NotFound},
		{name: "provider", err: settlement.ErrProviderUnavailable, code: codes.Unavailable},
		{name: "unknown", err: context.DeadlineExceeded, code: codes.Internal},
	}
	for _, testCase := range testCases {
		if got := status.Code(mapToGRPCError(testCase.err)); got != testCase.code {
			test.Fatalf("%s: expected %s, got %s", testCase.name, testCase.code, got)
		}
	}
}
