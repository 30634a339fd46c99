package settlement

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the settlement service.
var (
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrDuplicateOperation        = errors.New("duplicate operation")
	ErrInvalidSignature          = errors.New("invalid signature")
	ErrMalformedEvent            = errors.New("malformed event")
	ErrProviderRejected          = errors.New("provider rejected request")
	ErrProviderUnavailable       = errors.New("provider unavailable")
	ErrPaymentNotFound           = errors.New("payment not found")
	ErrPayoutNotFound            = errors.New("payout not found")
	ErrPartyNotFound             = errors.New("party not found")
	ErrJobNotFound               = errors.New("job not found")
	ErrInvalidUserID             = errors.New("invalid user id")
	ErrInvalidJobID              = errors.New("invalid job id")
	ErrInvalidRole               = errors.New("invalid role")
	ErrInvalidCurrency           = errors.New("invalid currency")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidMethod             = errors.New("invalid payment method")
	ErrInvalidEntryKind          = errors.New("invalid entry kind")
	ErrInvalidLeg                = errors.New("invalid entry leg")
	ErrInvalidPaymentStatus      = errors.New("invalid payment status")
	ErrInvalidPayoutStatus       = errors.New("invalid payout status")
	ErrInvalidReference          = errors.New("invalid reference")
	ErrInvalidIdempotencyKey     = errors.New("invalid idempotency key")
	ErrInvalidScope              = errors.New("invalid idempotency scope")
	ErrInvalidMetadata           = errors.New("invalid metadata")
	ErrCounterpartyRequired      = errors.New("counterparty required")
	ErrCounterpartyMismatch      = errors.New("counterparty does not match job provider")
	ErrCounterpartyNotProvider   = errors.New("counterparty is not a service provider")
	ErrSelfDealing               = errors.New("customer and counterparty are the same party")
	ErrNotPayoutEligible         = errors.New("party is not eligible for payouts")
	ErrPayoutDestinationMissing  = errors.New("no active payout destination")
	ErrInvalidDestination        = errors.New("invalid payout destination")
	ErrPaymentNotInitializable   = errors.New("payment cannot be initialized")
	ErrInvalidServiceConfig      = errors.New("invalid service config")
	ErrPlatformAccountUnresolved = errors.New("platform fee account unresolved")
)

var validationErrors = []error{
	ErrInvalidUserID,
	ErrInvalidJobID,
	ErrInvalidRole,
	ErrInvalidCurrency,
	ErrInvalidAmount,
	ErrInvalidMethod,
	ErrInvalidEntryKind,
	ErrInvalidLeg,
	ErrInvalidReference,
	ErrInvalidIdempotencyKey,
	ErrInvalidScope,
	ErrInvalidMetadata,
	ErrCounterpartyRequired,
	ErrCounterpartyMismatch,
	ErrCounterpartyNotProvider,
	ErrSelfDealing,
	ErrNotPayoutEligible,
	ErrPayoutDestinationMissing,
	ErrInvalidDestination,
	ErrPaymentNotInitializable,
}

// IsValidationError reports whether err was caused by caller input.
func IsValidationError(err error) bool {
	for _, candidate := range validationErrors {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
