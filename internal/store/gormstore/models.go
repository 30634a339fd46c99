package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID   string         `gorm:"size:36;primaryKey"`
	OwnerID   string         `gorm:"size:128;not null;index:idx_ledger_owner_currency_created,priority:1"`
	Currency  string         `gorm:"size:3;not null;index:idx_ledger_owner_currency_created,priority:2"`
	Kind      string         `gorm:"size:16;not null"`
	Amount    int64          `gorm:"not null"`
	Reference string         `gorm:"size:64;not null;index:uniq_ledger_reference_leg,unique,priority:1"`
	Leg       string         `gorm:"size:32;not null;index:uniq_ledger_reference_leg,unique,priority:2"`
	Metadata  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index:idx_ledger_owner_currency_created,priority:3"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Payment mirrors the payments table.
type Payment struct {
	PaymentID         string         `gorm:"size:36;primaryKey"`
	Reference         string         `gorm:"size:64;not null;uniqueIndex:uniq_payments_reference"`
	CustomerID        string         `gorm:"size:128;not null;index:idx_payments_customer_created,priority:1"`
	JobID             *string        `gorm:"size:128"`
	CounterpartyID    *string        `gorm:"size:128;index"`
	Amount            int64          `gorm:"not null"`
	Fee               int64          `gorm:"not null"`
	Currency          string         `gorm:"size:3;not null"`
	Method            string         `gorm:"size:16;not null"`
	Status            string         `gorm:"size:16;not null"`
	Provider          string         `gorm:"size:32"`
	ProviderReference string         `gorm:"size:128"`
	SignatureVerified bool           `gorm:"not null"`
	Metadata          datatypes.JSON `gorm:"not null"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_payments_customer_created,priority:2"`
	UpdatedAt         time.Time      `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

func (payment *Payment) BeforeCreate(tx *gorm.DB) error {
	if payment.PaymentID == "" {
		payment.PaymentID = uuid.NewString()
	}
	return nil
}

// Payout mirrors the payouts table.
type Payout struct {
	PayoutID       string    `gorm:"size:36;primaryKey"`
	Reference      string    `gorm:"size:64;not null;uniqueIndex:uniq_payouts_reference"`
	OwnerID        string    `gorm:"size:128;not null;index:idx_payouts_owner_status,priority:1"`
	Amount         int64     `gorm:"not null"`
	Fee            int64     `gorm:"not null"`
	TransferAmount int64     `gorm:"not null"`
	Currency       string    `gorm:"size:3;not null"`
	Status         string    `gorm:"size:16;not null;index:idx_payouts_owner_status,priority:2"`
	TransferCode   string    `gorm:"size:128;index"`
	Reason         string    `gorm:"size:255"`
	FailureReason  string    `gorm:"size:512"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Payout) TableName() string { return "payouts" }

func (payout *Payout) BeforeCreate(tx *gorm.DB) error {
	if payout.PayoutID == "" {
		payout.PayoutID = uuid.NewString()
	}
	return nil
}

// IdempotencyKey mirrors the idempotency_keys table.
type IdempotencyKey struct {
	OwnerID        string    `gorm:"size:128;primaryKey"`
	Scope          string    `gorm:"size:64;primaryKey"`
	IdempotencyKey string    `gorm:"size:160;primaryKey"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (IdempotencyKey) TableName() string { return "idempotency_keys" }

// PayoutDestination mirrors the payout_destinations table.
type PayoutDestination struct {
	OwnerID       string    `gorm:"size:128;primaryKey"`
	Provider      string    `gorm:"size:32;primaryKey"`
	RecipientCode string    `gorm:"size:128;not null"`
	BankCode      string    `gorm:"size:16;not null"`
	BankName      string    `gorm:"size:128"`
	AccountLast4  string    `gorm:"size:4;not null"`
	AccountName   string    `gorm:"size:255"`
	Currency      string    `gorm:"size:3;not null"`
	Active        bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (PayoutDestination) TableName() string { return "payout_destinations" }

// WebhookEvent mirrors the webhook_events audit table.
type WebhookEvent struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	Provider        string    `gorm:"size:32;not null;index:idx_webhook_events_provider_event,priority:1"`
	EventID         string    `gorm:"size:128;index:idx_webhook_events_provider_event,priority:2"`
	EventType       string    `gorm:"size:64"`
	Reference       string    `gorm:"size:64;index"`
	SignatureValid  bool      `gorm:"not null"`
	Outcome         string    `gorm:"size:16;not null"`
	ProcessingError string    `gorm:"size:1024"`
	ReceivedAt      time.Time `gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// DirectoryParty mirrors the directory_parties table kept in sync by the user service.
type DirectoryParty struct {
	UserID    string    `gorm:"size:128;primaryKey"`
	Role      string    `gorm:"size:16;not null"`
	Email     string    `gorm:"size:255;not null;uniqueIndex:uniq_directory_parties_email"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (DirectoryParty) TableName() string { return "directory_parties" }

// DirectoryJob mirrors the directory_jobs table kept in sync by the job service.
type DirectoryJob struct {
	JobID              string    `gorm:"size:128;primaryKey"`
	AssignedProviderID string    `gorm:"size:128;not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (DirectoryJob) TableName() string { return "directory_jobs" }

// Models lists every table managed by the store in migration order.
func Models() []any {
	return []any{
		&LedgerEntry{},
		&Payment{},
		&Payout{},
		&IdempotencyKey{},
		&PayoutDestination{},
		&WebhookEvent{},
		&DirectoryParty{},
		&DirectoryJob{},
	}
}
