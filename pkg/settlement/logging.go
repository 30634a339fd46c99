package settlement

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing settlement operation.
type OperationLog struct {
	Operation      string
	Owner          UserID
	Reference      Reference
	Amount         Amount
	Currency       Currency
	IdempotencyKey IdempotencyKey
	Note           string
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithGateway wires the external payment gateway.
func WithGateway(gateway Gateway) ServiceOption {
	return func(service *Service) {
		service.gateway = gateway
	}
}

// WithWebhookSecret sets the shared secret used to verify webhook signatures.
func WithWebhookSecret(secret string) ServiceOption {
	return func(service *Service) {
		service.webhookSecret = secret
	}
}

// WithProvider names the gateway provider recorded on payments.
func WithProvider(provider string) ServiceOption {
	return func(service *Service) {
		if provider != "" {
			service.provider = provider
		}
	}
}

// WithReferenceGenerator overrides how payment and payout references are minted.
func WithReferenceGenerator(generator func(prefix string, length int) string) ServiceOption {
	return func(service *Service) {
		if generator != nil {
			service.newReference = generator
		}
	}
}
