package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const defaultProvider = "paystack"

// Service contains the settlement logic over a Store.
type Service struct {
	store         Store
	nowFn         func() int64
	logger        OperationLogger
	gateway       Gateway
	fees          FeeSchedule
	platform      Party
	webhookSecret string
	provider      string
	newReference  func(prefix string, length int) string
}

// NewService wires a Service. The platform party receives every configured fee.
func NewService(store Store, now func() int64, platform Party, fees FeeSchedule, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if platform.ID.IsZero() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, ErrPlatformAccountUnresolved)
	}
	if err := fees.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, err)
	}
	service := &Service{
		store:        store,
		nowFn:        now,
		fees:         fees,
		platform:     platform,
		provider:     defaultProvider,
		newReference: randomReference,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Fees returns the configured fee schedule.
func (service *Service) Fees() FeeSchedule {
	return service.fees
}

// Platform returns the party that collects fees.
func (service *Service) Platform() Party {
	return service.platform
}

// Provider returns the gateway provider name.
func (service *Service) Provider() string {
	return service.provider
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) mintReference(prefix string, length int) (Reference, error) {
	return NewReference(service.newReference(prefix, length))
}

// spendable is the balance minus payouts still in flight at the gateway.
func (service *Service) spendable(ctx context.Context, txStore Store, owner UserID, currency Currency) (Amount, error) {
	balance, err := txStore.SumBalance(ctx, owner, currency)
	if err != nil {
		return 0, err
	}
	openPayouts, err := txStore.SumOpenPayouts(ctx, owner, currency)
	if err != nil {
		return 0, err
	}
	return balance.Plus(-openPayouts)
}

func randomReference(prefix string, length int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if length > len(raw) {
		length = len(raw)
	}
	value := raw[:length]
	if prefix == paymentReferencePrefix {
		value = strings.ToUpper(value)
	}
	return prefix + value
}

func normalizeListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func insufficientFunds(required Amount, available Amount) error {
	return fmt.Errorf("%w: need %s, available %s", ErrInsufficientFunds, required, available)
}
