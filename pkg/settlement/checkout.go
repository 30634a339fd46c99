package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CheckoutRequest describes one checkout attempt.
// Job and Counterparty are resolved by the caller from the marketplace directory.
type CheckoutRequest struct {
	Customer       Party
	Amount         Amount
	Currency       Currency
	Method         PaymentMethod
	Job            *Job
	Counterparty   *Party
	Metadata       Metadata
	IdempotencyKey *IdempotencyKey
}

func (request CheckoutRequest) validate() error {
	if request.Customer.ID.IsZero() {
		return fmt.Errorf("%w: empty customer", ErrInvalidUserID)
	}
	if err := request.Amount.validatePositive(); err != nil {
		return err
	}
	if request.Currency.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidCurrency)
	}
	if _, err := ParsePaymentMethod(request.Method.String()); err != nil {
		return err
	}
	if request.Counterparty != nil {
		if !request.Counterparty.Role.ProvidesServices() {
			return fmt.Errorf("%w: %s", ErrCounterpartyNotProvider, request.Counterparty.ID)
		}
		if request.Counterparty.ID == request.Customer.ID {
			return ErrSelfDealing
		}
		if request.Job != nil && request.Job.AssignedProvider != request.Counterparty.ID {
			return fmt.Errorf("%w: job %s", ErrCounterpartyMismatch, request.Job.ID)
		}
	}
	if request.Method == MethodWallet && request.Counterparty == nil {
		return ErrCounterpartyRequired
	}
	return nil
}

func (service *Service) checkoutFee(method PaymentMethod) Amount {
	switch method {
	case MethodWallet:
		return service.fees.For(FeeWallet)
	case MethodCard:
		return service.fees.For(FeeCustomerCheckout)
	case MethodBankTransfer:
		return 0
	default:
		return 0
	}
}

// Checkout creates a Payment. Wallet payments are captured synchronously;
// card and bank payments stay initiated until the gateway confirms them.
func (service *Service) Checkout(ctx context.Context, request CheckoutRequest) (Payment, error) {
	var payment Payment
	operationError := func() error {
		if err := request.validate(); err != nil {
			return err
		}
		reference, err := service.mintReference(paymentReferencePrefix, paymentReferenceLength)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		fee := service.checkoutFee(request.Method)
		gross, err := request.Amount.Plus(fee)
		if err != nil {
			return err
		}
		candidate := Payment{
			ID:             uuid.NewString(),
			Reference:      reference,
			Customer:       request.Customer.ID,
			Amount:         request.Amount,
			Fee:            fee,
			Currency:       request.Currency,
			Method:         request.Method,
			Status:         PaymentInitiated,
			Metadata:       request.Metadata.WithFee(fee, gross),
			CreatedUnixUTC: nowUnixUTC,
			UpdatedUnixUTC: nowUnixUTC,
		}
		if candidate.Metadata.Version == 0 {
			candidate.Metadata.Version = MetadataVersion
		}
		if request.Job != nil {
			jobID := request.Job.ID
			candidate.Job = &jobID
			candidate.Metadata.JobID = jobID.String()
		}
		if request.Counterparty != nil {
			counterpartyID := request.Counterparty.ID
			candidate.Counterparty = &counterpartyID
		}
		if request.Method != MethodWallet {
			candidate.Provider = service.provider
		}
		err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if err := reserveIdempotency(ctx, txStore, request.Customer.ID, ScopePaymentsCheckout, request.IdempotencyKey, nowUnixUTC); err != nil {
				return err
			}
			if err := txStore.CreatePayment(ctx, candidate); err != nil {
				return err
			}
			if candidate.Method != MethodWallet {
				return nil
			}
			if err := txStore.LockWallet(ctx, candidate.Customer, candidate.Currency); err != nil {
				return err
			}
			available, err := service.spendable(ctx, txStore, candidate.Customer, candidate.Currency)
			if err != nil {
				return err
			}
			if available < gross {
				return insufficientFunds(gross, available)
			}
			captured, _, err := service.capturePayment(ctx, txStore, candidate, captureDetails{reason: "wallet_checkout"})
			if err != nil {
				return err
			}
			candidate = captured
			return nil
		})
		if err != nil {
			return err
		}
		payment = candidate
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation:      operationCheckout,
		Owner:          request.Customer.ID,
		Reference:      payment.Reference,
		Amount:         request.Amount,
		Currency:       request.Currency,
		IdempotencyKey: keyValue(request.IdempotencyKey),
		Note:           request.Method.String(),
		Error:          operationError,
	})
	if operationError != nil {
		return Payment{}, operationError
	}
	return payment, nil
}

type captureDetails struct {
	reason            string
	providerEvent     string
	providerReference string
	signatureVerified bool
}

// capturePayment moves a non-terminal payment to captured and ensures its legs.
// An already-captured payment only gets missing legs written; other terminal states are left alone.
func (service *Service) capturePayment(ctx context.Context, txStore Store, payment Payment, details captureDetails) (Payment, int, error) {
	switch {
	case payment.Status == PaymentCaptured:
	case payment.Status.IsTerminal():
		return payment, 0, nil
	default:
		payment.Status = PaymentCaptured
		payment.UpdatedUnixUTC = service.nowFn()
		if details.signatureVerified {
			payment.SignatureVerified = true
		}
		if details.providerReference != "" {
			payment.ProviderReference = details.providerReference
		}
		gross, err := payment.Amount.Plus(payment.Fee)
		if err != nil {
			return Payment{}, 0, err
		}
		payment.Metadata = payment.Metadata.WithFee(payment.Fee, gross)
		payment.Metadata.Reason = details.reason
		payment.Metadata.ProviderEvent = details.providerEvent
		if err := txStore.UpdatePayment(ctx, payment); err != nil {
			return Payment{}, 0, err
		}
	}
	planned, err := service.paymentLegs(payment, payment.Provider, details.providerEvent)
	if err != nil {
		return Payment{}, 0, err
	}
	written, err := service.ensureLegs(ctx, txStore, payment.Reference, payment.Currency, planned)
	if err != nil {
		return Payment{}, 0, err
	}
	return payment, written, nil
}

func (service *Service) failPayment(ctx context.Context, txStore Store, payment Payment, reason string) (Payment, bool, error) {
	if payment.Status.IsTerminal() {
		return payment, false, nil
	}
	payment.Status = PaymentFailed
	payment.UpdatedUnixUTC = service.nowFn()
	payment.Metadata.Reason = reason
	if err := txStore.UpdatePayment(ctx, payment); err != nil {
		return Payment{}, false, err
	}
	return payment, true, nil
}

// EnsureSettlementEntries writes whichever settlement legs are missing for a
// captured payment or a successful payout. Existing legs are never changed.
func (service *Service) EnsureSettlementEntries(ctx context.Context, reference Reference) (int, error) {
	var written int
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		payment, err := txStore.LockPayment(ctx, reference)
		switch {
		case err == nil:
			if payment.Status != PaymentCaptured {
				return nil
			}
			planned, err := service.paymentLegs(payment, payment.Provider, "")
			if err != nil {
				return err
			}
			written, err = service.ensureLegs(ctx, txStore, reference, payment.Currency, planned)
			return err
		case !errors.Is(err, ErrPaymentNotFound):
			return err
		}
		payout, err := txStore.LockPayout(ctx, reference)
		if err != nil {
			if errors.Is(err, ErrPayoutNotFound) {
				return fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
			}
			return err
		}
		if payout.Status != PayoutSuccess {
			return nil
		}
		written, err = service.ensureLegs(ctx, txStore, reference, payout.Currency, service.payoutLegs(payout, service.provider))
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationEnsureEntries,
		Reference: reference,
		Note:      fmt.Sprintf("written=%d", written),
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return written, nil
}

// InitializeCardPayment starts the gateway charge for a card payment owned by payer.
// The payer is charged the amount plus the customer checkout fee.
func (service *Service) InitializeCardPayment(ctx context.Context, payer Party, reference Reference) (Authorization, error) {
	var authorization Authorization
	var payment Payment
	operationError := func() error {
		if service.gateway == nil {
			return fmt.Errorf("%w: gateway not configured", ErrProviderUnavailable)
		}
		stored, err := service.store.GetPayment(ctx, reference)
		if err != nil {
			return err
		}
		if stored.Customer != payer.ID {
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
		}
		if stored.Method != MethodCard || stored.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s/%s", ErrPaymentNotInitializable, reference, stored.Method, stored.Status)
		}
		payment = stored
		charge, err := stored.Amount.Plus(stored.Fee)
		if err != nil {
			return err
		}
		result, err := service.gateway.InitializeTransaction(ctx, ChargeRequest{
			Reference: stored.Reference,
			Email:     payer.Email,
			Amount:    charge,
			Currency:  stored.Currency,
			Metadata: map[string]string{
				"payment_id": stored.Reference.String(),
				"fee":        stored.Fee.String(),
			},
		})
		if err != nil {
			return WrapError(errorOperationService, errorSubjectGateway, errorCodeInitialize, err)
		}
		authorization = result
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			locked, err := txStore.LockPayment(ctx, reference)
			if err != nil {
				return err
			}
			if locked.Status.IsTerminal() {
				return nil
			}
			locked.Provider = service.provider
			locked.UpdatedUnixUTC = service.nowFn()
			return txStore.UpdatePayment(ctx, locked)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationInitializePayment,
		Owner:     payer.ID,
		Reference: reference,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Error:     operationError,
	})
	if operationError != nil {
		return Authorization{}, operationError
	}
	return authorization, nil
}

// VerifyPayment asks the gateway for the charge status and applies a capture
// or failure the same way a webhook delivery would.
func (service *Service) VerifyPayment(ctx context.Context, viewer Party, reference Reference) (Payment, error) {
	var payment Payment
	operationError := func() error {
		if service.gateway == nil {
			return fmt.Errorf("%w: gateway not configured", ErrProviderUnavailable)
		}
		stored, err := service.store.GetPayment(ctx, reference)
		if err != nil {
			return err
		}
		if !stored.VisibleTo(viewer) {
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
		}
		payment = stored
		if stored.Method == MethodWallet || stored.Status.IsTerminal() {
			return nil
		}
		verification, err := service.gateway.VerifyTransaction(ctx, reference)
		if err != nil {
			return WrapError(errorOperationService, errorSubjectGateway, errorCodeVerify, err)
		}
		expected, err := stored.Amount.Plus(stored.Fee)
		if err != nil {
			return err
		}
		if verification.Succeeded() && verification.Amount != 0 && verification.Amount < expected {
			return fmt.Errorf("%w: gateway amount %s below expected %s", ErrProviderRejected, verification.Amount, expected)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			locked, err := txStore.LockPayment(ctx, reference)
			if err != nil {
				return err
			}
			switch {
			case verification.Succeeded():
				captured, _, err := service.capturePayment(ctx, txStore, locked, captureDetails{
					reason:            "gateway_verify",
					providerEvent:     "verify",
					providerReference: verification.ProviderReference,
				})
				if err != nil {
					return err
				}
				payment = captured
			case verification.Status == "failed":
				failed, _, err := service.failPayment(ctx, txStore, locked, "gateway_verify_failed")
				if err != nil {
					return err
				}
				payment = failed
			default:
				payment = locked
			}
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationVerifyPayment,
		Owner:     viewer.ID,
		Reference: reference,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Note:      payment.Status.String(),
		Error:     operationError,
	})
	if operationError != nil {
		return Payment{}, operationError
	}
	return payment, nil
}

// GetPayment returns a payment the viewer is allowed to see.
func (service *Service) GetPayment(ctx context.Context, viewer Party, reference Reference) (Payment, error) {
	payment, err := service.store.GetPayment(ctx, reference)
	if err != nil {
		return Payment{}, err
	}
	if !payment.VisibleTo(viewer) {
		return Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
	}
	return payment, nil
}

// ListPayments pages through the customer's payments, newest first.
func (service *Service) ListPayments(ctx context.Context, customer UserID, limit int, offset int) ([]Payment, int64, error) {
	return service.store.ListPayments(ctx, customer, normalizeListLimit(limit), normalizeOffset(offset))
}
