package settlement

import (
	"context"
	"fmt"
)

// DepositRequest credits a wallet.
type DepositRequest struct {
	Owner          UserID
	Amount         Amount
	Currency       Currency
	Reference      *Reference
	Metadata       Metadata
	IdempotencyKey *IdempotencyKey
}

// WithdrawRequest debits a wallet, charging the payout fee to fee-liable roles.
type WithdrawRequest struct {
	Owner          Party
	Amount         Amount
	Currency       Currency
	Metadata       Metadata
	IdempotencyKey *IdempotencyKey
}

// Deposit writes one deposit entry and returns its reference.
func (service *Service) Deposit(ctx context.Context, request DepositRequest) (Reference, error) {
	var reference Reference
	operationError := func() error {
		if request.Owner.IsZero() {
			return fmt.Errorf("%w: empty owner", ErrInvalidUserID)
		}
		if err := request.Amount.validatePositive(); err != nil {
			return err
		}
		if request.Currency.String() == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidCurrency)
		}
		if request.Reference != nil {
			reference = *request.Reference
		} else {
			minted, err := service.mintReference(depositReferencePrefix, depositReferenceLength)
			if err != nil {
				return err
			}
			reference = minted
		}
		nowUnixUTC := service.nowFn()
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if err := reserveIdempotency(ctx, txStore, request.Owner, ScopeWalletDeposit, request.IdempotencyKey, nowUnixUTC); err != nil {
				return err
			}
			_, err := service.ensureLegs(ctx, txStore, reference, request.Currency, []plannedEntry{
				{owner: request.Owner, kind: EntryDeposit, leg: LegDeposit, amount: request.Amount, metadata: request.Metadata.WithReason("wallet_deposit")},
			})
			return err
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:      operationDeposit,
		Owner:          request.Owner,
		Reference:      reference,
		Amount:         request.Amount,
		Currency:       request.Currency,
		IdempotencyKey: keyValue(request.IdempotencyKey),
		Error:          operationError,
	})
	if operationError != nil {
		return Reference{}, operationError
	}
	return reference, nil
}

// Withdraw debits the owner's wallet after checking the spendable balance.
func (service *Service) Withdraw(ctx context.Context, request WithdrawRequest) (Reference, error) {
	var reference Reference
	operationError := func() error {
		if request.Owner.ID.IsZero() {
			return fmt.Errorf("%w: empty owner", ErrInvalidUserID)
		}
		if err := request.Amount.validatePositive(); err != nil {
			return err
		}
		if request.Currency.String() == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidCurrency)
		}
		var fee Amount
		if request.Owner.Role.PaysWithdrawalFee() {
			fee = service.fees.For(FeePayout)
		}
		minted, err := service.mintReference(withdrawalReferencePrefix, withdrawalReferenceLength)
		if err != nil {
			return err
		}
		reference = minted
		nowUnixUTC := service.nowFn()
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if err := reserveIdempotency(ctx, txStore, request.Owner.ID, ScopeWalletWithdraw, request.IdempotencyKey, nowUnixUTC); err != nil {
				return err
			}
			if err := txStore.LockWallet(ctx, request.Owner.ID, request.Currency); err != nil {
				return err
			}
			available, err := service.spendable(ctx, txStore, request.Owner.ID, request.Currency)
			if err != nil {
				return err
			}
			required, err := request.Amount.Plus(fee)
			if err != nil {
				return err
			}
			if available < required {
				return insufficientFunds(required, available)
			}
			metadata := request.Metadata.WithFee(fee, required)
			_, err = service.ensureLegs(ctx, txStore, reference, request.Currency, []plannedEntry{
				{owner: request.Owner.ID, kind: EntryWithdrawal, leg: LegWithdrawal, amount: request.Amount, metadata: metadata.WithReason("wallet_withdrawal")},
				{owner: request.Owner.ID, kind: EntryCharge, leg: LegWithdrawalFee, amount: fee, metadata: metadata.WithReason("withdrawal_fee")},
				{owner: service.platform.ID, kind: EntryPayout, leg: LegPlatformFee, amount: fee, metadata: metadata.WithReason("platform_fee_withdrawal")},
			})
			return err
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:      operationWithdraw,
		Owner:          request.Owner.ID,
		Reference:      reference,
		Amount:         request.Amount,
		Currency:       request.Currency,
		IdempotencyKey: keyValue(request.IdempotencyKey),
		Error:          operationError,
	})
	if operationError != nil {
		return Reference{}, operationError
	}
	return reference, nil
}

func keyValue(key *IdempotencyKey) IdempotencyKey {
	if key == nil {
		return IdempotencyKey{}
	}
	return *key
}
