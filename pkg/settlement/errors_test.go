package settlement

import (
	"context"
	"errors"
	"testing"
)

func TestWrapErrorKeepsCause(test *testing.T) {
	test.Parallel()
	if WrapError("store", "payment", "get", nil) != nil {
		test.Fatalf("expected nil for nil error")
	}
	err := WrapError("store", "payment", "get", ErrPaymentNotFound)
	if !errors.Is(err, ErrPaymentNotFound) {
		test.Fatalf("expected wrapped sentinel")
	}
	var operationError OperationError
	if !errors.As(err, &operationError) {
		test.Fatalf("expected OperationError")
	}
	if operationError.Operation() != "store" || operationError.Subject() != "payment" || operationError.Code() != "get" {
		test.Fatalf("unexpected segments %+v", operationError)
	}
	if err.Error() != "store.payment.get: payment not found" {
		test.Fatalf("unexpected message %q", err.Error())
	}
}

func TestIsValidationError(test *testing.T) {
	test.Parallel()
	if !IsValidationError(WrapError("service", "checkout", "validate", ErrSelfDealing)) {
		test.Fatalf("expected self dealing to be a validation error")
	}
	for _, err := range []error{ErrInsufficientFunds, ErrDuplicateOperation, ErrProviderRejected, errors.New("boom")} {
		if IsValidationError(err) {
			test.Fatalf("did not expect %v to be a validation error", err)
		}
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.insertErr = errors.New("boom")
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	owner := mustUserID(test, "owner")

	_, err := service.Deposit(context.Background(), DepositRequest{
		Owner:          owner,
		Amount:         100,
		Currency:       mustCurrency(test, "NGN"),
		IdempotencyKey: mustIdempotencyKey(test, "dep-1"),
	})
	if err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationDeposit || entry.Owner != owner || entry.IdempotencyKey.String() != "dep-1" {
		test.Fatalf("unexpected log entry %+v", entry)
	}
	if entry.Status != operationStatusError || entry.Error == nil {
		test.Fatalf("expected error log entry, got %+v", entry)
	}
}
