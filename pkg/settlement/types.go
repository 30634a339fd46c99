package settlement

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const amountScale int32 = 2

// Amount is a fixed-point money value in minor units (two decimals).
// Stored entry amounts are always positive; balances may be zero or negative.
type Amount int64

// MaxAmount bounds any single amount or fee: 100 billion major units.
// Sums of a handful of bounded amounts stay far below math.MaxInt64.
const MaxAmount Amount = 10_000_000_000_000

// ParseAmount parses a decimal string, quantises it to 0.01 half-up and requires it to be positive.
func ParseAmount(raw string) (Amount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, raw)
	}
	return NewAmountFromDecimal(value)
}

// NewAmountFromDecimal quantises a decimal to two places and requires it to be positive.
func NewAmountFromDecimal(value decimal.Decimal) (Amount, error) {
	quantized := value.Round(amountScale)
	if !quantized.IsPositive() {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	minor := quantized.Shift(amountScale)
	if minor.GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, fmt.Errorf("%w: exceeds maximum %s", ErrInvalidAmount, MaxAmount)
	}
	return Amount(minor.IntPart()), nil
}

// NewPositiveAmount validates an amount already expressed in minor units.
func NewPositiveAmount(minor int64) (Amount, error) {
	amount := Amount(minor)
	if err := amount.validatePositive(); err != nil {
		return 0, err
	}
	return amount, nil
}

func (amount Amount) validatePositive() error {
	if amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if amount > MaxAmount {
		return fmt.Errorf("%w: exceeds maximum %s", ErrInvalidAmount, MaxAmount)
	}
	return nil
}

// Plus adds other, failing instead of wrapping around int64.
func (amount Amount) Plus(other Amount) (Amount, error) {
	if (other > 0 && amount > math.MaxInt64-other) || (other < 0 && amount < math.MinInt64-other) {
		return 0, fmt.Errorf("%w: %d + %d overflows", ErrInvalidAmount, amount, other)
	}
	return amount + other, nil
}

// Int64 returns the amount in minor units.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// Decimal returns the amount in major units.
func (amount Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(amount), -amountScale)
}

// String renders the amount with exactly two decimals.
func (amount Amount) String() string {
	return amount.Decimal().StringFixed(amountScale)
}

// UserID identifies a wallet owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// JobID identifies a booked job owned by the job service.
type JobID struct {
	value string
}

// NewJobID validates and normalizes a job id.
func NewJobID(raw string) (JobID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return JobID{}, fmt.Errorf("%w: empty value", ErrInvalidJobID)
	}
	return JobID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id JobID) String() string {
	return id.value
}

// Reference correlates every ledger entry of one logical operation.
type Reference struct {
	value string
}

// NewReference validates and normalizes a settlement reference.
func NewReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, fmt.Errorf("%w: empty value", ErrInvalidReference)
	}
	if len(trimmed) > 64 {
		return Reference{}, fmt.Errorf("%w: longer than 64 characters", ErrInvalidReference)
	}
	return Reference{value: trimmed}, nil
}

// String returns the normalized reference.
func (reference Reference) String() string {
	return reference.value
}

// IdempotencyKey is a caller- or event-supplied token for one logical operation.
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	if len(trimmed) > 128 {
		return IdempotencyKey{}, fmt.Errorf("%w: longer than 128 characters", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// OptionalIdempotencyKey returns nil for a blank header value.
func OptionalIdempotencyKey(raw string) (*IdempotencyKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// Scope names an operation family for idempotency keys.
type Scope string

// WebhookScope returns the scope used for provider event ids.
func WebhookScope(provider string) (Scope, error) {
	trimmed := strings.ToLower(strings.TrimSpace(provider))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty provider", ErrInvalidScope)
	}
	return Scope(webhookScopePrefix + trimmed), nil
}

// String returns the scope name.
func (scope Scope) String() string {
	return string(scope)
}

// Currency is an ISO-4217 alphabetic code.
type Currency struct {
	code string
}

// NewCurrency upper-cases and validates a three-letter currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != 3 {
		return Currency{}, fmt.Errorf("%w: %q must be a 3-letter code", ErrInvalidCurrency, raw)
	}
	for _, letter := range normalized {
		if letter < 'A' || letter > 'Z' {
			return Currency{}, fmt.Errorf("%w: %q must be a 3-letter code", ErrInvalidCurrency, raw)
		}
	}
	return Currency{code: normalized}, nil
}

// String returns the currency code.
func (currency Currency) String() string {
	return currency.code
}

// Role is the closed set of marketplace roles.
type Role uint8

const (
	RoleCustomer Role = iota + 1
	RoleArtisan
	RoleAdmin
)

// ParseRole maps a stored or claimed role name onto Role.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "customer":
		return RoleCustomer, nil
	case "artisan":
		return RoleArtisan, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// String returns the canonical role name.
func (role Role) String() string {
	switch role {
	case RoleCustomer:
		return "customer"
	case RoleArtisan:
		return "artisan"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ProvidesServices reports whether the role may receive checkout payments and payouts.
func (role Role) ProvidesServices() bool {
	switch role {
	case RoleArtisan:
		return true
	case RoleCustomer, RoleAdmin:
		return false
	default:
		return false
	}
}

// PaysWithdrawalFee reports whether wallet withdrawals by the role carry the payout fee.
func (role Role) PaysWithdrawalFee() bool {
	switch role {
	case RoleArtisan:
		return true
	case RoleCustomer, RoleAdmin:
		return false
	default:
		return false
	}
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryDeposit    EntryKind = "deposit"
	EntryWithdrawal EntryKind = "withdrawal"
	EntryCharge     EntryKind = "charge"
	EntryPayout     EntryKind = "payout"
	EntryRefund     EntryKind = "refund"
	EntryAdjust     EntryKind = "adjust"
)

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	kind := EntryKind(strings.TrimSpace(raw))
	switch kind {
	case EntryDeposit, EntryWithdrawal, EntryCharge, EntryPayout, EntryRefund, EntryAdjust:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
	}
}

// IsCredit reports whether entries of this kind increase the owner's balance.
func (kind EntryKind) IsCredit() bool {
	switch kind {
	case EntryDeposit, EntryPayout, EntryRefund, EntryAdjust:
		return true
	default:
		return false
	}
}

// String returns the kind name.
func (kind EntryKind) String() string {
	return string(kind)
}

// Leg names one entry within the set written for a settlement reference.
type Leg string

// ParseLeg validates a stored leg name.
func ParseLeg(raw string) (Leg, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidLeg)
	}
	return Leg(trimmed), nil
}

// String returns the leg name.
func (leg Leg) String() string {
	return string(leg)
}

// PaymentMethod enumerates checkout methods.
type PaymentMethod string

const (
	MethodWallet       PaymentMethod = "wallet"
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

// ParsePaymentMethod validates a checkout method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case MethodWallet, MethodCard, MethodBankTransfer:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, raw)
	}
}

// String returns the method name.
func (method PaymentMethod) String() string {
	return string(method)
}

// PaymentStatus defines the payment lifecycle.
type PaymentStatus string

const (
	PaymentInitiated  PaymentStatus = "initiated"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// ParsePaymentStatus validates a stored payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.TrimSpace(raw))
	switch status {
	case PaymentInitiated, PaymentAuthorized, PaymentCaptured, PaymentFailed, PaymentRefunded, PaymentCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, raw)
	}
}

// IsTerminal reports whether no further transition is permitted.
func (status PaymentStatus) IsTerminal() bool {
	switch status {
	case PaymentCaptured, PaymentFailed, PaymentRefunded:
		return true
	default:
		return false
	}
}

// String returns the status name.
func (status PaymentStatus) String() string {
	return string(status)
}

// PayoutStatus defines the payout lifecycle.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutSuccess    PayoutStatus = "success"
	PayoutFailed     PayoutStatus = "failed"
)

// ParsePayoutStatus validates a stored payout status.
func ParsePayoutStatus(raw string) (PayoutStatus, error) {
	status := PayoutStatus(strings.TrimSpace(raw))
	switch status {
	case PayoutPending, PayoutProcessing, PayoutSuccess, PayoutFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPayoutStatus, raw)
	}
}

// IsTerminal reports whether no further transition is permitted.
func (status PayoutStatus) IsTerminal() bool {
	return status == PayoutSuccess || status == PayoutFailed
}

// String returns the status name.
func (status PayoutStatus) String() string {
	return string(status)
}
