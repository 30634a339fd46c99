package settlement

import (
	"context"
	"fmt"
)

// LedgerEntry is a single immutable money movement for one owner and currency.
type LedgerEntry struct {
	ID             string
	Owner          UserID
	Currency       Currency
	Kind           EntryKind
	Amount         Amount
	Reference      Reference
	Leg            Leg
	Metadata       Metadata
	CreatedUnixUTC int64
}

// NewLedgerEntry validates the parts of an entry before it is appended.
func NewLedgerEntry(owner UserID, currency Currency, kind EntryKind, amount Amount, reference Reference, leg Leg, metadata Metadata, createdUnixUTC int64) (LedgerEntry, error) {
	if owner.IsZero() {
		return LedgerEntry{}, fmt.Errorf("%w: entry owner is empty", ErrInvalidUserID)
	}
	if currency.String() == "" {
		return LedgerEntry{}, fmt.Errorf("%w: entry currency is empty", ErrInvalidCurrency)
	}
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return LedgerEntry{}, err
	}
	if err := amount.validatePositive(); err != nil {
		return LedgerEntry{}, fmt.Errorf("entry: %w", err)
	}
	if reference.String() == "" {
		return LedgerEntry{}, fmt.Errorf("%w: entry reference is empty", ErrInvalidReference)
	}
	if _, err := ParseLeg(leg.String()); err != nil {
		return LedgerEntry{}, err
	}
	if metadata.Version == 0 {
		metadata.Version = MetadataVersion
	}
	return LedgerEntry{
		Owner:          owner,
		Currency:       currency,
		Kind:           kind,
		Amount:         amount,
		Reference:      reference,
		Leg:            leg,
		Metadata:       metadata,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

// SignedAmount returns the entry's effect on the owner's balance.
func (entry LedgerEntry) SignedAmount() Amount {
	if entry.Kind.IsCredit() {
		return entry.Amount
	}
	return -entry.Amount
}

// Party is a marketplace participant as seen by the settlement engine.
type Party struct {
	ID    UserID
	Role  Role
	Email string
}

// Job is the part of a booked job the engine needs for checkout validation.
type Job struct {
	ID               JobID
	AssignedProvider UserID
}

// Payment is one checkout attempt.
type Payment struct {
	ID                string
	Reference         Reference
	Customer          UserID
	Job               *JobID
	Counterparty      *UserID
	Amount            Amount
	Fee               Amount
	Currency          Currency
	Method            PaymentMethod
	Status            PaymentStatus
	Provider          string
	ProviderReference string
	SignatureVerified bool
	Metadata          Metadata
	CreatedUnixUTC    int64
	UpdatedUnixUTC    int64
}

// VisibleTo reports whether viewer may read the payment.
func (payment Payment) VisibleTo(viewer Party) bool {
	switch viewer.Role {
	case RoleAdmin:
		return true
	case RoleCustomer, RoleArtisan:
		if viewer.ID == payment.Customer {
			return true
		}
		return payment.Counterparty != nil && *payment.Counterparty == viewer.ID
	default:
		return false
	}
}

// Payout is one artisan withdrawal-to-bank request.
type Payout struct {
	ID             string
	Reference      Reference
	Owner          UserID
	Amount         Amount
	Fee            Amount
	TransferAmount Amount
	Currency       Currency
	Status         PayoutStatus
	TransferCode   string
	Reason         string
	FailureReason  string
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// PayoutDestination is a bank recipient registered with the gateway.
// Only the last four account digits are kept.
type PayoutDestination struct {
	Owner         UserID
	Provider      string
	RecipientCode string
	BankCode      string
	BankName      string
	AccountLast4  string
	AccountName   string
	Currency      Currency
	Active        bool
}

// WebhookOutcome summarises what the reconciler did with a delivery.
type WebhookOutcome string

const (
	OutcomeApplied   WebhookOutcome = "applied"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
	OutcomeUnmatched WebhookOutcome = "unmatched"
	OutcomeDeferred  WebhookOutcome = "deferred"
	OutcomeRejected  WebhookOutcome = "rejected"
)

// WebhookEvent is the audit record of one webhook delivery.
type WebhookEvent struct {
	Provider        string
	EventID         string
	EventType       string
	Reference       string
	SignatureValid  bool
	Outcome         WebhookOutcome
	ProcessingError string
	ReceivedUnixUTC int64
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LockWallet(ctx context.Context, owner UserID, currency Currency) error
	InsertEntries(ctx context.Context, entries []LedgerEntry) error
	SumBalance(ctx context.Context, owner UserID, currency Currency) (Amount, error)
	SumOpenPayouts(ctx context.Context, owner UserID, currency Currency) (Amount, error)
	ListEntriesByReference(ctx context.Context, reference Reference) ([]LedgerEntry, error)
	ListEntries(ctx context.Context, owner UserID, currency Currency, beforeUnixUTC int64, limit int) ([]LedgerEntry, error)
	ReserveIdempotencyKey(ctx context.Context, owner UserID, scope Scope, key IdempotencyKey, createdUnixUTC int64) error
	CreatePayment(ctx context.Context, payment Payment) error
	GetPayment(ctx context.Context, reference Reference) (Payment, error)
	LockPayment(ctx context.Context, reference Reference) (Payment, error)
	UpdatePayment(ctx context.Context, payment Payment) error
	ListPayments(ctx context.Context, customer UserID, limit int, offset int) ([]Payment, int64, error)
	CreatePayout(ctx context.Context, payout Payout) error
	LockPayout(ctx context.Context, reference Reference) (Payout, error)
	LockPayoutByTransferCode(ctx context.Context, transferCode string) (Payout, error)
	UpdatePayout(ctx context.Context, payout Payout) error
	ListPayouts(ctx context.Context, owner UserID, limit int, offset int) ([]Payout, int64, error)
	UpsertPayoutDestination(ctx context.Context, destination PayoutDestination) error
	GetActivePayoutDestination(ctx context.Context, owner UserID) (PayoutDestination, error)
	RecordWebhookEvent(ctx context.Context, event WebhookEvent) error
}

// Directory resolves parties and jobs owned by the surrounding marketplace services.
type Directory interface {
	GetParty(ctx context.Context, id UserID) (Party, error)
	FindPartyByEmail(ctx context.Context, email string) (Party, error)
	GetJob(ctx context.Context, id JobID) (Job, error)
}
