package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON     = `{"v":1}`
	dialectPostgres         = "postgres"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectBalance     = "balance"
	errorSubjectDestination = "destination"
	errorSubjectEntry       = "entry"
	errorSubjectIdempotency = "idempotency"
	errorSubjectJob         = "job"
	errorSubjectParty       = "party"
	errorSubjectPayment     = "payment"
	errorSubjectPayout      = "payout"
	errorSubjectWallet      = "wallet"
	errorSubjectWebhook     = "webhook"
	errorCodeCount          = "count"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLock           = "lock"
	errorCodeReserve        = "reserve"
	errorCodeSumBalance     = "sum_balance"
	errorCodeSumOpen        = "sum_open_payouts"
	errorCodeUpdate         = "update"
	errorCodeUpsert         = "upsert"
)

var (
	creditKinds = []string{
		settlement.EntryDeposit.String(),
		settlement.EntryPayout.String(),
		settlement.EntryRefund.String(),
		settlement.EntryAdjust.String(),
	}
	openPayoutStatuses = []string{
		settlement.PayoutPending.String(),
		settlement.PayoutProcessing.String(),
	}
)

// Store implements settlement.Store and settlement.Directory using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table the store uses.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore settlement.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) isPostgres() bool {
	return store.db.Dialector != nil && store.db.Dialector.Name() == dialectPostgres
}

// rowLock returns FOR UPDATE on Postgres. SQLite serialises writers and has no row locks.
func (store *Store) rowLock() []clause.Expression {
	if !store.isPostgres() {
		return nil
	}
	return []clause.Expression{clause.Locking{Strength: "UPDATE"}}
}

// LockWallet takes a transaction-scoped advisory lock on owner and currency.
func (store *Store) LockWallet(ctx context.Context, owner settlement.UserID, currency settlement.Currency) error {
	if !store.isPostgres() {
		return nil
	}
	err := store.db.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(hashtext(?))", owner.String()+"|"+currency.String()).Error
	if err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeLock, err)
	}
	return nil
}

func (store *Store) InsertEntries(ctx context.Context, entries []settlement.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, LedgerEntry{
			EntryID:   entry.ID,
			OwnerID:   entry.Owner.String(),
			Currency:  entry.Currency.String(),
			Kind:      entry.Kind.String(),
			Amount:    entry.Amount.Int64(),
			Reference: entry.Reference.String(),
			Leg:       entry.Leg.String(),
			Metadata:  datatypesJSON(entry.Metadata.JSON()),
			CreatedAt: unixTime(entry.CreatedUnixUTC),
		})
	}
	err := store.db.WithContext(ctx).Create(&rows).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, settlement.ErrDuplicateOperation)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) SumBalance(ctx context.Context, owner settlement.UserID, currency settlement.Currency) (settlement.Amount, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(case when kind in ? then amount else -amount end),0) as total", creditKinds).
		Where("owner_id = ? AND currency = ?", owner.String(), currency.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumBalance, err)
	}
	return settlement.Amount(sum.Total), nil
}

func (store *Store) SumOpenPayouts(ctx context.Context, owner settlement.UserID, currency settlement.Currency) (settlement.Amount, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&Payout{}).
		Select("coalesce(sum(amount),0) as total").
		Where("owner_id = ? AND currency = ? AND status IN ?", owner.String(), currency.String(), openPayoutStatuses).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumOpen, err)
	}
	return settlement.Amount(sum.Total), nil
}

func (store *Store) ListEntriesByReference(ctx context.Context, reference settlement.Reference) ([]settlement.LedgerEntry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("reference = ?", reference.String()).
		Order("created_at ASC, leg ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func (store *Store) ListEntries(ctx context.Context, owner settlement.UserID, currency settlement.Currency, beforeUnixUTC int64, limit int) ([]settlement.LedgerEntry, error) {
	before := unixTime(beforeUnixUTC)
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("owner_id = ? AND currency = ? AND created_at < ?", owner.String(), currency.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

// ReserveIdempotencyKey inserts the key or reports a duplicate without aborting the transaction.
func (store *Store) ReserveIdempotencyKey(ctx context.Context, owner settlement.UserID, scope settlement.Scope, key settlement.IdempotencyKey, createdUnixUTC int64) error {
	row := IdempotencyKey{
		OwnerID:        owner.String(),
		Scope:          scope.String(),
		IdempotencyKey: key.String(),
		CreatedAt:      unixTime(createdUnixUTC),
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeReserve, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectIdempotency, errorCodeDuplicate, settlement.ErrDuplicateOperation)
	}
	return nil
}

func (store *Store) CreatePayment(ctx context.Context, payment settlement.Payment) error {
	row := paymentRow(payment)
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, settlement.ErrDuplicateOperation)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPayment(ctx context.Context, reference settlement.Reference) (settlement.Payment, error) {
	return store.findPayment(ctx, reference, nil)
}

func (store *Store) LockPayment(ctx context.Context, reference settlement.Reference) (settlement.Payment, error) {
	return store.findPayment(ctx, reference, store.rowLock())
}

func (store *Store) findPayment(ctx context.Context, reference settlement.Reference, clauses []clause.Expression) (settlement.Payment, error) {
	var row Payment
	err := store.db.WithContext(ctx).
		Clauses(clauses...).
		Where("reference = ?", reference.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return settlement.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, fmt.Errorf("%w: %s", settlement.ErrPaymentNotFound, reference))
		}
		return settlement.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	payment, err := mapPayment(row)
	if err != nil {
		return settlement.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return payment, nil
}

func (store *Store) UpdatePayment(ctx context.Context, payment settlement.Payment) error {
	result := store.db.WithContext(ctx).
		Model(&Payment{}).
		Where("reference = ?", payment.Reference.String()).
		Updates(map[string]any{
			"status":             payment.Status.String(),
			"provider":           payment.Provider,
			"provider_reference": payment.ProviderReference,
			"signature_verified": payment.SignatureVerified,
			"metadata":           datatypesJSON(payment.Metadata.JSON()),
			"updated_at":         unixTime(payment.UpdatedUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, settlement.ErrPaymentNotFound)
	}
	return nil
}

func (store *Store) ListPayments(ctx context.Context, customer settlement.UserID, limit int, offset int) ([]settlement.Payment, int64, error) {
	query := store.db.WithContext(ctx).Model(&Payment{}).Where("customer_id = ?", customer.String())
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayment, errorCodeCount, err)
	}
	var rows []Payment
	err := store.db.WithContext(ctx).
		Where("customer_id = ?", customer.String()).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	payments := make([]settlement.Payment, 0, len(rows))
	for _, row := range rows {
		payment, err := mapPayment(row)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
		}
		payments = append(payments, payment)
	}
	return payments, total, nil
}

func (store *Store) CreatePayout(ctx context.Context, payout settlement.Payout) error {
	row := Payout{
		PayoutID:       payout.ID,
		Reference:      payout.Reference.String(),
		OwnerID:        payout.Owner.String(),
		Amount:         payout.Amount.Int64(),
		Fee:            payout.Fee.Int64(),
		TransferAmount: payout.TransferAmount.Int64(),
		Currency:       payout.Currency.String(),
		Status:         payout.Status.String(),
		TransferCode:   payout.TransferCode,
		Reason:         payout.Reason,
		FailureReason:  payout.FailureReason,
		CreatedAt:      unixTime(payout.CreatedUnixUTC),
		UpdatedAt:      unixTime(payout.UpdatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPayout, errorCodeDuplicate, settlement.ErrDuplicateOperation)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) LockPayout(ctx context.Context, reference settlement.Reference) (settlement.Payout, error) {
	return store.findPayout(ctx, "reference = ?", reference.String())
}

func (store *Store) LockPayoutByTransferCode(ctx context.Context, transferCode string) (settlement.Payout, error) {
	if transferCode == "" {
		return settlement.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeGet, settlement.ErrPayoutNotFound)
	}
	return store.findPayout(ctx, "transfer_code = ?", transferCode)
}

func (store *Store) findPayout(ctx context.Context, condition string, value string) (settlement.Payout, error) {
	var row Payout
	err := store.db.WithContext(ctx).
		Clauses(store.rowLock()...).
		Where(condition, value).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return settlement.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeGet, fmt.Errorf("%w: %s", settlement.ErrPayoutNotFound, value))
		}
		return settlement.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeGet, err)
	}
	payout, err := mapPayout(row)
	if err != nil {
		return settlement.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	return payout, nil
}

func (store *Store) UpdatePayout(ctx context.Context, payout settlement.Payout) error {
	result := store.db.WithContext(ctx).
		Model(&Payout{}).
		Where("reference = ?", payout.Reference.String()).
		Updates(map[string]any{
			"status":         payout.Status.String(),
			"transfer_code":  payout.TransferCode,
			"failure_reason": payout.FailureReason,
			"updated_at":     unixTime(payout.UpdatedUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdate, settlement.ErrPayoutNotFound)
	}
	return nil
}

func (store *Store) ListPayouts(ctx context.Context, owner settlement.UserID, limit int, offset int) ([]settlement.Payout, int64, error) {
	var total int64
	if err := store.db.WithContext(ctx).Model(&Payout{}).Where("owner_id = ?", owner.String()).Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayout, errorCodeCount, err)
	}
	var rows []Payout
	err := store.db.WithContext(ctx).
		Where("owner_id = ?", owner.String()).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	payouts := make([]settlement.Payout, 0, len(rows))
	for _, row := range rows {
		payout, err := mapPayout(row)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
		}
		payouts = append(payouts, payout)
	}
	return payouts, total, nil
}

func (store *Store) UpsertPayoutDestination(ctx context.Context, destination settlement.PayoutDestination) error {
	now := time.Now().UTC()
	row := PayoutDestination{
		OwnerID:       destination.Owner.String(),
		Provider:      destination.Provider,
		RecipientCode: destination.RecipientCode,
		BankCode:      destination.BankCode,
		BankName:      destination.BankName,
		AccountLast4:  destination.AccountLast4,
		AccountName:   destination.AccountName,
		Currency:      destination.Currency.String(),
		Active:        destination.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"recipient_code", "bank_code", "bank_name", "account_last4", "account_name", "currency", "active", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectDestination, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetActivePayoutDestination(ctx context.Context, owner settlement.UserID) (settlement.PayoutDestination, error) {
	var row PayoutDestination
	err := store.db.WithContext(ctx).
		Where("owner_id = ? AND active = ?", owner.String(), true).
		Order("updated_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return settlement.PayoutDestination{}, wrapStoreError(errorSubjectDestination, errorCodeGet, settlement.ErrPayoutDestinationMissing)
		}
		return settlement.PayoutDestination{}, wrapStoreError(errorSubjectDestination, errorCodeGet, err)
	}
	ownerID, err := settlement.NewUserID(row.OwnerID)
	if err != nil {
		return settlement.PayoutDestination{}, wrapStoreError(errorSubjectDestination, errorCodeInvalid, err)
	}
	currency, err := settlement.NewCurrency(row.Currency)
	if err != nil {
		return settlement.PayoutDestination{}, wrapStoreError(errorSubjectDestination, errorCodeInvalid, err)
	}
	return settlement.PayoutDestination{
		Owner:         ownerID,
		Provider:      row.Provider,
		RecipientCode: row.RecipientCode,
		BankCode:      row.BankCode,
		BankName:      row.BankName,
		AccountLast4:  row.AccountLast4,
		AccountName:   row.AccountName,
		Currency:      currency,
		Active:        row.Active,
	}, nil
}

func (store *Store) RecordWebhookEvent(ctx context.Context, event settlement.WebhookEvent) error {
	row := WebhookEvent{
		Provider:        event.Provider,
		EventID:         event.EventID,
		EventType:       event.EventType,
		Reference:       event.Reference,
		SignatureValid:  event.SignatureValid,
		Outcome:         string(event.Outcome),
		ProcessingError: truncate(event.ProcessingError, 1024),
		ReceivedAt:      unixTime(event.ReceivedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectWebhook, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return settlement.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func paymentRow(payment settlement.Payment) Payment {
	row := Payment{
		PaymentID:         payment.ID,
		Reference:         payment.Reference.String(),
		CustomerID:        payment.Customer.String(),
		Amount:            payment.Amount.Int64(),
		Fee:               payment.Fee.Int64(),
		Currency:          payment.Currency.String(),
		Method:            payment.Method.String(),
		Status:            payment.Status.String(),
		Provider:          payment.Provider,
		ProviderReference: payment.ProviderReference,
		SignatureVerified: payment.SignatureVerified,
		Metadata:          datatypesJSON(payment.Metadata.JSON()),
		CreatedAt:         unixTime(payment.CreatedUnixUTC),
		UpdatedAt:         unixTime(payment.UpdatedUnixUTC),
	}
	if payment.Job != nil {
		value := payment.Job.String()
		row.JobID = &value
	}
	if payment.Counterparty != nil {
		value := payment.Counterparty.String()
		row.CounterpartyID = &value
	}
	return row
}

func mapLedgerEntries(rows []LedgerEntry) ([]settlement.LedgerEntry, error) {
	entries := make([]settlement.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapLedgerEntry(row LedgerEntry) (settlement.LedgerEntry, error) {
	owner, err := settlement.NewUserID(row.OwnerID)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	currency, err := settlement.NewCurrency(row.Currency)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	kind, err := settlement.ParseEntryKind(row.Kind)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	reference, err := settlement.NewReference(row.Reference)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	leg, err := settlement.ParseLeg(row.Leg)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	metadata, err := settlement.ParseMetadata(string(row.Metadata))
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	entry, err := settlement.NewLedgerEntry(owner, currency, kind, settlement.Amount(row.Amount), reference, leg, metadata, row.CreatedAt.Unix())
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	entry.ID = row.EntryID
	return entry, nil
}

func mapPayment(row Payment) (settlement.Payment, error) {
	reference, err := settlement.NewReference(row.Reference)
	if err != nil {
		return settlement.Payment{}, err
	}
	customer, err := settlement.NewUserID(row.CustomerID)
	if err != nil {
		return settlement.Payment{}, err
	}
	currency, err := settlement.NewCurrency(row.Currency)
	if err != nil {
		return settlement.Payment{}, err
	}
	method, err := settlement.ParsePaymentMethod(row.Method)
	if err != nil {
		return settlement.Payment{}, err
	}
	status, err := settlement.ParsePaymentStatus(row.Status)
	if err != nil {
		return settlement.Payment{}, err
	}
	metadata, err := settlement.ParseMetadata(string(row.Metadata))
	if err != nil {
		return settlement.Payment{}, err
	}
	payment := settlement.Payment{
		ID:                row.PaymentID,
		Reference:         reference,
		Customer:          customer,
		Amount:            settlement.Amount(row.Amount),
		Fee:               settlement.Amount(row.Fee),
		Currency:          currency,
		Method:            method,
		Status:            status,
		Provider:          row.Provider,
		ProviderReference: row.ProviderReference,
		SignatureVerified: row.SignatureVerified,
		Metadata:          metadata,
		CreatedUnixUTC:    row.CreatedAt.Unix(),
		UpdatedUnixUTC:    row.UpdatedAt.Unix(),
	}
	if row.JobID != nil {
		jobID, err := settlement.NewJobID(*row.JobID)
		if err != nil {
			return settlement.Payment{}, err
		}
		payment.Job = &jobID
	}
	if row.CounterpartyID != nil {
		counterparty, err := settlement.NewUserID(*row.CounterpartyID)
		if err != nil {
			return settlement.Payment{}, err
		}
		payment.Counterparty = &counterparty
	}
	return payment, nil
}

func mapPayout(row Payout) (settlement.Payout, error) {
	reference, err := settlement.NewReference(row.Reference)
	if err != nil {
		return settlement.Payout{}, err
	}
	owner, err := settlement.NewUserID(row.OwnerID)
	if err != nil {
		return settlement.Payout{}, err
	}
	currency, err := settlement.NewCurrency(row.Currency)
	if err != nil {
		return settlement.Payout{}, err
	}
	status, err := settlement.ParsePayoutStatus(row.Status)
	if err != nil {
		return settlement.Payout{}, err
	}
	return settlement.Payout{
		ID:             row.PayoutID,
		Reference:      reference,
		Owner:          owner,
		Amount:         settlement.Amount(row.Amount),
		Fee:            settlement.Amount(row.Fee),
		TransferAmount: settlement.Amount(row.TransferAmount),
		Currency:       currency,
		Status:         status,
		TransferCode:   row.TransferCode,
		Reason:         row.Reason,
		FailureReason:  row.FailureReason,
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}, nil
}

func unixTime(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
