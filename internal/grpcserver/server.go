package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/settlement/internal/auth"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "settlement.v1.SettlementService"

	methodGetBalance  = "GetBalance"
	methodGetPayment  = "GetPayment"
	methodListEntries = "ListEntries"

	errorInsufficientFunds  = "insufficient_funds"
	errorDuplicateOperation = "duplicate_operation"
	errorNotFound           = "not_found"
	errorProviderError      = "provider_error"
	errorInvalidUserID      = "invalid_user_id"
	errorInvalidCurrency    = "invalid_currency"
	errorInvalidReference   = "invalid_reference"
	errorInvalidArgument    = "invalid_argument"
	errorInvalidListLimit   = "invalid_list_limit"
	errorUnauthenticated    = "unauthenticated"
	errorPermissionDenied   = "permission_denied"

	defaultListEntriesLimit = 50
	maxListEntriesLimit     = 200
)

// SettlementServiceServer is the back-office read API. Requests and responses are
// google.protobuf.Struct documents.
type SettlementServiceServer interface {
	GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetPayment(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListEntries(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes settlement.v1.SettlementService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SettlementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetBalance, Handler: unaryHandler(methodGetBalance, SettlementServiceServer.GetBalance)},
		{MethodName: methodGetPayment, Handler: unaryHandler(methodGetPayment, SettlementServiceServer.GetPayment)},
		{MethodName: methodListEntries, Handler: unaryHandler(methodListEntries, SettlementServiceServer.ListEntries)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "settlement/v1/settlement.proto",
}

type unaryMethod func(SettlementServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(methodName string, method unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(structpb.Struct)
		if err := decode(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(server.(SettlementServiceServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: "/" + ServiceName + "/" + methodName}
		handler := func(ctx context.Context, request any) (any, error) {
			return method(server.(SettlementServiceServer), ctx, request.(*structpb.Struct))
		}
		return interceptor(ctx, request, info, handler)
	}
}

// Register installs the settlement service and the standard health service on grpcServer.
func Register(grpcServer *grpc.Server, server SettlementServiceServer) *health.Server {
	grpcServer.RegisterService(&ServiceDesc, server)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	return healthServer
}

// AdminInterceptor requires an admin bearer token in the authorization metadata of
// every settlement call. Health checks pass through.
func AdminInterceptor(validator *auth.Validator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, request)
		}
		incoming, _ := metadata.FromIncomingContext(ctx)
		values := incoming.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		token := strings.TrimSpace(values[0])
		if len(token) > len("bearer ") && strings.EqualFold(token[:len("bearer ")], "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		party, err := validator.Validate(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		if party.Role != settlement.RoleAdmin {
			return nil, status.Error(codes.PermissionDenied, errorPermissionDenied)
		}
		return handler(ctx, request)
	}
}

// Server exposes settlement reads over gRPC.
type Server struct {
	settlementService *settlement.Service
	defaultCurrency   settlement.Currency
	backOffice        settlement.Party
}

// NewServer constructs a gRPC server for the settlement service. Calls run with
// administrator visibility.
func NewServer(settlementService *settlement.Service, defaultCurrency settlement.Currency) *Server {
	return &Server{
		settlementService: settlementService,
		defaultCurrency:   defaultCurrency,
		backOffice:        settlement.Party{ID: settlementService.Platform().ID, Role: settlement.RoleAdmin},
	}
}

func (server *Server) GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := settlement.NewUserID(stringField(request, "user_id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	currency, err := server.currency(stringField(request, "currency"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, operationError := server.settlementService.Balance(ctx, userID, currency)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newStruct(map[string]any{
		"user_id":       userID.String(),
		"currency":      currency.String(),
		"balance":       balance.String(),
		"balance_minor": balance.Int64(),
	})
}

func (server *Server) GetPayment(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	reference, err := settlement.NewReference(stringField(request, "reference"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	payment, operationError := server.settlementService.GetPayment(ctx, server.backOffice, reference)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	fields := map[string]any{
		"id":                 payment.ID,
		"reference":          payment.Reference.String(),
		"customer_id":        payment.Customer.String(),
		"amount":             payment.Amount.String(),
		"fee":                payment.Fee.String(),
		"currency":           payment.Currency.String(),
		"method":             payment.Method.String(),
		"status":             payment.Status.String(),
		"provider":           payment.Provider,
		"provider_reference": payment.ProviderReference,
		"signature_verified": payment.SignatureVerified,
		"created_unix_utc":   payment.CreatedUnixUTC,
		"updated_unix_utc":   payment.UpdatedUnixUTC,
	}
	if payment.Counterparty != nil {
		fields["counterparty_id"] = payment.Counterparty.String()
	}
	if payment.Job != nil {
		fields["job_id"] = payment.Job.String()
	}
	return newStruct(fields)
}

func (server *Server) ListEntries(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := settlement.NewUserID(stringField(request, "user_id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	currency, err := server.currency(stringField(request, "currency"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, err := normalizeListLimit(int64(numberField(request, "limit")))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	before := int64(numberField(request, "before_unix_utc"))
	entries, operationError := server.settlementService.ListEntries(ctx, userID, currency, before, int(limit))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	items := make([]any, 0, len(entries))
	for _, entryRecord := range entries {
		items = append(items, map[string]any{
			"entry_id":         entryRecord.ID,
			"kind":             entryRecord.Kind.String(),
			"amount":           entryRecord.Amount.String(),
			"currency":         entryRecord.Currency.String(),
			"reference":        entryRecord.Reference.String(),
			"leg":              entryRecord.Leg.String(),
			"metadata_json":    entryRecord.Metadata.JSON(),
			"created_unix_utc": entryRecord.CreatedUnixUTC,
		})
	}
	return newStruct(map[string]any{"entries": items})
}

func (server *Server) currency(raw string) (settlement.Currency, error) {
	if strings.TrimSpace(raw) == "" {
		return server.defaultCurrency, nil
	}
	return settlement.NewCurrency(raw)
}

func stringField(request *structpb.Struct, name string) string {
	value, ok := request.GetFields()[name]
	if !ok {
		return ""
	}
	return value.GetStringValue()
}

func numberField(request *structpb.Struct, name string) float64 {
	value, ok := request.GetFields()[name]
	if !ok {
		return 0
	}
	return value.GetNumberValue()
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return response, nil
}

func normalizeListLimit(limit int64) (int64, error) {
	if limit <= 0 {
		return defaultListEntriesLimit, nil
	}
	if limit > maxListEntriesLimit {
		return 0, fmt.Errorf("limit exceeds maximum: %d > %d", limit, maxListEntriesLimit)
	}
	return limit, nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, settlement.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	}
	if errors.Is(source, settlement.ErrInvalidCurrency) {
		return status.Error(codes.InvalidArgument, errorInvalidCurrency)
	}
	if errors.Is(source, settlement.ErrInvalidReference) {
		return status.Error(codes.InvalidArgument, errorInvalidReference)
	}
	if settlement.IsValidationError(source) {
		return status.Error(codes.InvalidArgument, errorInvalidArgument)
	}
	if errors.Is(source, settlement.ErrInsufficientFunds) {
		return status.Error(codes.FailedPrecondition, errorInsufficientFunds)
	}
	if errors.Is(source, settlement.ErrPaymentNotFound) || errors.Is(source, settlement.ErrPayoutNotFound) || errors.Is(source, settlement.ErrPartyNotFound) {
		return status.Error(codes.NotFound, errorNotFound)
	}
	if errors.Is(source, settlement.ErrDuplicateOperation) {
		return status.Error(codes.AlreadyExists, errorDuplicateOperation)
	}
	if errors.Is(source, settlement.ErrProviderRejected) || errors.Is(source, settlement.ErrProviderUnavailable) {
		return status.Error(codes.Unavailable, errorProviderError)
	}
	return status.Error(codes.Internal, source.Error())
}
