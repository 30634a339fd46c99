package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DestinationRequest carries the bank account an artisan wants payouts sent to.
type DestinationRequest struct {
	BankCode      string
	AccountNumber string
	AccountName   string
	Currency      Currency
}

func (request DestinationRequest) validate() error {
	if strings.TrimSpace(request.BankCode) == "" {
		return fmt.Errorf("%w: bank code is required", ErrInvalidDestination)
	}
	accountNumber := strings.TrimSpace(request.AccountNumber)
	if len(accountNumber) < 6 || len(accountNumber) > 20 {
		return fmt.Errorf("%w: account number must have 6 to 20 digits", ErrInvalidDestination)
	}
	for _, digit := range accountNumber {
		if digit < '0' || digit > '9' {
			return fmt.Errorf("%w: account number must be numeric", ErrInvalidDestination)
		}
	}
	if request.Currency.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidCurrency)
	}
	return nil
}

// PayoutRequest asks for part of an artisan's balance to be sent to their bank.
type PayoutRequest struct {
	Owner          Party
	Amount         Amount
	Currency       Currency
	Reason         string
	IdempotencyKey *IdempotencyKey
}

// RegisterPayoutDestination registers the owner's bank account with the gateway
// and makes it the active payout destination.
func (service *Service) RegisterPayoutDestination(ctx context.Context, owner Party, request DestinationRequest) (PayoutDestination, error) {
	var destination PayoutDestination
	operationError := func() error {
		if owner.ID.IsZero() {
			return fmt.Errorf("%w: empty owner", ErrInvalidUserID)
		}
		if !owner.Role.ProvidesServices() {
			return fmt.Errorf("%w: role %s", ErrNotPayoutEligible, owner.Role)
		}
		if err := request.validate(); err != nil {
			return err
		}
		if service.gateway == nil {
			return fmt.Errorf("%w: gateway not configured", ErrProviderUnavailable)
		}
		accountNumber := strings.TrimSpace(request.AccountNumber)
		recipient, err := service.gateway.CreateRecipient(ctx, RecipientRequest{
			Name:          strings.TrimSpace(request.AccountName),
			AccountNumber: accountNumber,
			BankCode:      strings.TrimSpace(request.BankCode),
			Currency:      request.Currency,
		})
		if err != nil {
			return WrapError(errorOperationService, errorSubjectGateway, errorCodeRecipient, err)
		}
		accountName := recipient.AccountName
		if accountName == "" {
			accountName = strings.TrimSpace(request.AccountName)
		}
		destination = PayoutDestination{
			Owner:         owner.ID,
			Provider:      service.provider,
			RecipientCode: recipient.RecipientCode,
			BankCode:      strings.TrimSpace(request.BankCode),
			BankName:      recipient.BankName,
			AccountLast4:  accountNumber[len(accountNumber)-4:],
			AccountName:   accountName,
			Currency:      request.Currency,
			Active:        true,
		}
		return service.store.UpsertPayoutDestination(ctx, destination)
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterRecipient,
		Owner:     owner.ID,
		Currency:  request.Currency,
		Error:     operationError,
	})
	if operationError != nil {
		return PayoutDestination{}, operationError
	}
	return destination, nil
}

// RequestPayout reserves the owner's balance in a processing payout and starts
// the bank transfer for the amount minus the payout fee. The ledger is only
// debited once the gateway confirms the transfer.
func (service *Service) RequestPayout(ctx context.Context, request PayoutRequest) (Payout, error) {
	var payout Payout
	operationError := func() error {
		if request.Owner.ID.IsZero() {
			return fmt.Errorf("%w: empty owner", ErrInvalidUserID)
		}
		if !request.Owner.Role.ProvidesServices() {
			return fmt.Errorf("%w: role %s", ErrNotPayoutEligible, request.Owner.Role)
		}
		if err := request.Amount.validatePositive(); err != nil {
			return err
		}
		if request.Currency.String() == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidCurrency)
		}
		if service.gateway == nil {
			return fmt.Errorf("%w: gateway not configured", ErrProviderUnavailable)
		}
		transferAmount, fee, err := Split(request.Amount, service.fees.For(FeePayout))
		if err != nil {
			return err
		}
		reference, err := service.mintReference(payoutReferencePrefix, payoutReferenceLength)
		if err != nil {
			return err
		}
		reason := strings.TrimSpace(request.Reason)
		if reason == "" {
			reason = defaultPayoutReason
		}
		nowUnixUTC := service.nowFn()
		var destination PayoutDestination
		err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if err := reserveIdempotency(ctx, txStore, request.Owner.ID, ScopePayoutsRequest, request.IdempotencyKey, nowUnixUTC); err != nil {
				return err
			}
			active, err := txStore.GetActivePayoutDestination(ctx, request.Owner.ID)
			if err != nil {
				return err
			}
			destination = active
			if err := txStore.LockWallet(ctx, request.Owner.ID, request.Currency); err != nil {
				return err
			}
			available, err := service.spendable(ctx, txStore, request.Owner.ID, request.Currency)
			if err != nil {
				return err
			}
			if available < request.Amount {
				return insufficientFunds(request.Amount, available)
			}
			payout = Payout{
				ID:             uuid.NewString(),
				Reference:      reference,
				Owner:          request.Owner.ID,
				Amount:         request.Amount,
				Fee:            fee,
				TransferAmount: transferAmount,
				Currency:       request.Currency,
				Status:         PayoutProcessing,
				Reason:         reason,
				CreatedUnixUTC: nowUnixUTC,
				UpdatedUnixUTC: nowUnixUTC,
			}
			return txStore.CreatePayout(ctx, payout)
		})
		if err != nil {
			return err
		}
		transfer, transferError := service.gateway.Transfer(ctx, TransferRequest{
			Reference:     reference,
			RecipientCode: destination.RecipientCode,
			Amount:        transferAmount,
			Currency:      request.Currency,
			Reason:        reason,
		})
		switch {
		case transferError == nil:
			return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
				locked, err := txStore.LockPayout(ctx, reference)
				if err != nil {
					return err
				}
				if locked.TransferCode == "" {
					locked.TransferCode = transfer.TransferCode
					locked.UpdatedUnixUTC = service.nowFn()
					if err := txStore.UpdatePayout(ctx, locked); err != nil {
						return err
					}
				}
				payout = locked
				return nil
			})
		case errors.Is(transferError, ErrProviderRejected):
			err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
				locked, err := txStore.LockPayout(ctx, reference)
				if err != nil {
					return err
				}
				if locked.Status.IsTerminal() {
					payout = locked
					return nil
				}
				locked.Status = PayoutFailed
				locked.FailureReason = transferError.Error()
				locked.UpdatedUnixUTC = service.nowFn()
				if err := txStore.UpdatePayout(ctx, locked); err != nil {
					return err
				}
				payout = locked
				return nil
			})
			if err != nil {
				return errors.Join(transferError, err)
			}
			return WrapError(errorOperationService, errorSubjectPayout, errorCodeTransfer, transferError)
		default:
			return WrapError(errorOperationService, errorSubjectPayout, errorCodeTransfer, transferError)
		}
	}()
	service.logOperation(ctx, OperationLog{
		Operation:      operationRequestPayout,
		Owner:          request.Owner.ID,
		Reference:      payout.Reference,
		Amount:         request.Amount,
		Currency:       request.Currency,
		IdempotencyKey: keyValue(request.IdempotencyKey),
		Note:           payout.Status.String(),
		Error:          operationError,
	})
	if operationError != nil {
		return payout, operationError
	}
	return payout, nil
}

// ListPayouts pages through the owner's payouts, newest first.
func (service *Service) ListPayouts(ctx context.Context, owner UserID, limit int, offset int) ([]Payout, int64, error) {
	return service.store.ListPayouts(ctx, owner, normalizeListLimit(limit), normalizeOffset(offset))
}
