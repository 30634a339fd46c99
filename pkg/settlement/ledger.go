package settlement

import (
	"context"
	"fmt"
)

// CalculateBalance sums credits minus debits over entries.
func CalculateBalance(entries []LedgerEntry) (Amount, error) {
	var total Amount
	for _, entry := range entries {
		next, err := total.Plus(entry.SignedAmount())
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// Balance returns Σcredits − Σdebits for owner and currency, read fresh from the store.
func (service *Service) Balance(ctx context.Context, owner UserID, currency Currency) (Amount, error) {
	balance, err := service.store.SumBalance(ctx, owner, currency)
	if err != nil {
		return 0, WrapError(errorOperationService, errorSubjectBalance, errorCodeSum, err)
	}
	return balance, nil
}

// AppendEntries inserts all entries in one transaction or none of them.
func (service *Service) AppendEntries(ctx context.Context, entries []LedgerEntry) error {
	var reference Reference
	operationError := func() error {
		if len(entries) == 0 {
			return nil
		}
		reference = entries[0].Reference
		nowUnixUTC := service.nowFn()
		validated := make([]LedgerEntry, 0, len(entries))
		for _, entry := range entries {
			createdUnixUTC := entry.CreatedUnixUTC
			if createdUnixUTC == 0 {
				createdUnixUTC = nowUnixUTC
			}
			checked, err := NewLedgerEntry(entry.Owner, entry.Currency, entry.Kind, entry.Amount, entry.Reference, entry.Leg, entry.Metadata, createdUnixUTC)
			if err != nil {
				return err
			}
			validated = append(validated, checked)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			return txStore.InsertEntries(ctx, validated)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationAppendEntries,
		Reference: reference,
		Error:     operationError,
	})
	return operationError
}

// ListEntries returns the owner's most recent entries created before the cutoff.
func (service *Service) ListEntries(ctx context.Context, owner UserID, currency Currency, beforeUnixUTC int64, limit int) ([]LedgerEntry, error) {
	if beforeUnixUTC <= 0 {
		beforeUnixUTC = service.nowFn() + 1
	}
	return service.store.ListEntries(ctx, owner, currency, beforeUnixUTC, normalizeListLimit(limit))
}

func reserveIdempotency(ctx context.Context, txStore Store, owner UserID, scope Scope, key *IdempotencyKey, nowUnixUTC int64) error {
	if key == nil {
		return nil
	}
	return txStore.ReserveIdempotencyKey(ctx, owner, scope, *key, nowUnixUTC)
}

type plannedEntry struct {
	owner    UserID
	kind     EntryKind
	leg      Leg
	amount   Amount
	metadata Metadata
}

// ensureLegs writes the planned legs that are not yet recorded under reference.
// Legs are whole entries; existing legs are never topped up or recomputed.
func (service *Service) ensureLegs(ctx context.Context, txStore Store, reference Reference, currency Currency, planned []plannedEntry) (int, error) {
	existing, err := txStore.ListEntriesByReference(ctx, reference)
	if err != nil {
		return 0, err
	}
	present := make(map[Leg]struct{}, len(existing))
	for _, entry := range existing {
		present[entry.Leg] = struct{}{}
	}
	nowUnixUTC := service.nowFn()
	missing := make([]LedgerEntry, 0, len(planned))
	for _, plan := range planned {
		if _, ok := present[plan.leg]; ok {
			continue
		}
		if plan.amount <= 0 {
			continue
		}
		entry, err := NewLedgerEntry(plan.owner, currency, plan.kind, plan.amount, reference, plan.leg, plan.metadata, nowUnixUTC)
		if err != nil {
			return 0, WrapError(errorOperationService, errorSubjectEntries, errorCodePlan, err)
		}
		missing = append(missing, entry)
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := txStore.InsertEntries(ctx, missing); err != nil {
		return 0, err
	}
	return len(missing), nil
}

// paymentLegs plans the entries that settle a captured payment.
func (service *Service) paymentLegs(payment Payment, provider string, providerEvent string) ([]plannedEntry, error) {
	base := Metadata{
		Version:       MetadataVersion,
		PaymentID:     payment.Reference.String(),
		Provider:      provider,
		ProviderEvent: providerEvent,
	}
	if payment.Job != nil {
		base.JobID = payment.Job.String()
	}
	switch payment.Method {
	case MethodWallet:
		if payment.Counterparty == nil {
			return nil, ErrCounterpartyRequired
		}
		gross, err := payment.Amount.Plus(payment.Fee)
		if err != nil {
			return nil, err
		}
		return []plannedEntry{
			{owner: payment.Customer, kind: EntryCharge, leg: LegCustomerCharge, amount: payment.Amount, metadata: base.WithReason("customer_wallet_charge").WithFee(payment.Fee, gross)},
			{owner: payment.Customer, kind: EntryCharge, leg: LegCustomerFee, amount: payment.Fee, metadata: base.WithReason("wallet_fee_customer")},
			{owner: *payment.Counterparty, kind: EntryPayout, leg: LegCounterpartyCredit, amount: payment.Amount, metadata: base.WithReason("artisan_wallet_credit")},
			{owner: service.platform.ID, kind: EntryPayout, leg: LegPlatformFee, amount: payment.Fee, metadata: base.WithReason("platform_wallet_fee_customer")},
		}, nil
	case MethodCard, MethodBankTransfer:
		if payment.Counterparty == nil {
			return nil, nil
		}
		return []plannedEntry{
			{owner: *payment.Counterparty, kind: EntryPayout, leg: LegCounterpartyCredit, amount: payment.Amount, metadata: base.WithReason("artisan_gateway_credit")},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, payment.Method)
	}
}

// payoutLegs plans the entries that settle a successful payout.
func (service *Service) payoutLegs(payout Payout, provider string) []plannedEntry {
	base := Metadata{
		Version:      MetadataVersion,
		Provider:     provider,
		TransferCode: payout.TransferCode,
	}
	return []plannedEntry{
		{owner: payout.Owner, kind: EntryWithdrawal, leg: LegPayoutDebit, amount: payout.Amount, metadata: base.WithReason("bank_payout_debit").WithFee(payout.Fee, payout.Amount)},
		{owner: service.platform.ID, kind: EntryPayout, leg: LegPlatformFee, amount: payout.Fee, metadata: base.WithReason("platform_fee_payout")},
	}
}
