package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectBalance     = "balance"
	errorSubjectDestination = "destination"
	errorSubjectEntry       = "entry"
	errorSubjectIdempotency = "idempotency"
	errorSubjectJob         = "job"
	errorSubjectParty       = "party"
	errorSubjectPayment     = "payment"
	errorSubjectPayout      = "payout"
	errorSubjectSchema      = "schema"
	errorSubjectTransaction = "transaction"
	errorSubjectWallet      = "wallet"
	errorSubjectWebhook     = "webhook"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCount          = "count"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeEnsure         = "ensure"
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

	sqlLockWallet = `select pg_advisory_xact_lock(hashtext($1))`

	sqlInsertEntry = `
		insert into ledger_entries(entry_id, owner_id, currency, kind, amount, reference, leg, metadata, created_at)
		values($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`

	sqlSumBalance = `
		select coalesce(sum(case when kind in ('deposit','payout','refund','adjust') then amount else -amount end),0)::bigint
		from ledger_entries
		where owner_id = $1 and currency = $2
	`

	sqlSumOpenPayouts = `
		select coalesce(sum(amount),0)::bigint from payouts
		where owner_id = $1 and currency = $2 and status in ('pending','processing')
	`

	sqlEntryColumns = `
		select entry_id::text, owner_id, currency, kind, amount, reference, leg, metadata::text,
			extract(epoch from created_at)::bigint
		from ledger_entries
	`

	sqlListEntriesByReference = sqlEntryColumns + `
		where reference = $1
		order by created_at asc, leg asc
	`

	sqlListEntriesBefore = sqlEntryColumns + `
		where owner_id = $1 and currency = $2 and created_at < $3
		order by created_at desc
		limit $4
	`

	sqlReserveIdempotencyKey = `
		insert into idempotency_keys(owner_id, scope, idempotency_key, created_at)
		values($1, $2, $3, $4)
		on conflict do nothing
	`

	sqlInsertPayment = `
		insert into payments(
			payment_id, reference, customer_id, job_id, counterparty_id, amount, fee, currency, method, status,
			provider, provider_reference, signature_verified, metadata, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15, $16)
	`

	sqlPaymentColumns = `
		select payment_id::text, reference, customer_id, job_id, counterparty_id, amount, fee, currency, method, status,
			provider, provider_reference, signature_verified, metadata::text,
			extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
		from payments
	`

	sqlSelectPayment = sqlPaymentColumns + ` where reference = $1`

	sqlLockPayment = sqlSelectPayment + ` for update`

	sqlUpdatePayment = `
		update payments
		set status = $2, provider = $3, provider_reference = $4, signature_verified = $5, metadata = $6::jsonb, updated_at = $7
		where reference = $1
	`

	sqlCountPayments = `select count(*) from payments where customer_id = $1`

	sqlListPayments = sqlPaymentColumns + `
		where customer_id = $1
		order by created_at desc
		limit $2 offset $3
	`

	sqlInsertPayout = `
		insert into payouts(
			payout_id, reference, owner_id, amount, fee, transfer_amount, currency, status,
			transfer_code, reason, failure_reason, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	sqlPayoutColumns = `
		select payout_id::text, reference, owner_id, amount, fee, transfer_amount, currency, status,
			transfer_code, reason, failure_reason,
			extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
		from payouts
	`

	sqlLockPayout = sqlPayoutColumns + ` where reference = $1 for update`

	sqlLockPayoutByTransferCode = sqlPayoutColumns + ` where transfer_code = $1 for update`

	sqlUpdatePayout = `
		update payouts
		set status = $2, transfer_code = $3, failure_reason = $4, updated_at = $5
		where reference = $1
	`

	sqlCountPayouts = `select count(*) from payouts where owner_id = $1`

	sqlListPayouts = sqlPayoutColumns + `
		where owner_id = $1
		order by created_at desc
		limit $2 offset $3
	`

	sqlUpsertDestination = `
		insert into payout_destinations(
			owner_id, provider, recipient_code, bank_code, bank_name, account_last4, account_name, currency, active
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (owner_id, provider) do update set
			recipient_code = excluded.recipient_code,
			bank_code = excluded.bank_code,
			bank_name = excluded.bank_name,
			account_last4 = excluded.account_last4,
			account_name = excluded.account_name,
			currency = excluded.currency,
			active = excluded.active,
			updated_at = now()
	`

	sqlSelectActiveDestination = `
		select owner_id, provider, recipient_code, bank_code, bank_name, account_last4, account_name, currency, active
		from payout_destinations
		where owner_id = $1 and active
		order by updated_at desc
		limit 1
	`

	sqlInsertWebhookEvent = `
		insert into webhook_events(provider, event_id, event_type, reference, signature_valid, outcome, processing_error, received_at)
		values($1, $2, $3, $4, $5, $6, $7, $8)
	`

	sqlSelectPartyByID = `select user_id, role, email from directory_parties where user_id = $1`

	sqlSelectPartyByEmail = `select user_id, role, email from directory_parties where email = $1`

	sqlUpsertParty = `
		insert into directory_parties(user_id, role, email) values($1, $2, $3)
		on conflict (user_id) do update set role = excluded.role, email = excluded.email, updated_at = now()
	`

	sqlSelectJob = `select job_id, assigned_provider_id from directory_jobs where job_id = $1`

	sqlUpsertJob = `
		insert into directory_jobs(job_id, assigned_provider_id) values($1, $2)
		on conflict (job_id) do update set assigned_provider_id = excluded.assigned_provider_id, updated_at = now()
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements settlement.Store and settlement.Directory on a pgx pool.
// A Store returned to a WithTx callback runs every statement in that transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Open parses dsn, connects a pool and pings it.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema applies the embedded schema. Every statement is idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore settlement.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{pool: store.pool, db: tx, inTx: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) LockWallet(ctx context.Context, owner settlement.UserID, currency settlement.Currency) error {
	if _, err := store.db.Exec(ctx, sqlLockWallet, owner.String()+"|"+currency.String()); err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeLock, err)
	}
	return nil
}

func (store *Store) InsertEntries(ctx context.Context, entries []settlement.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return store.WithTx(ctx, func(ctx context.Context, txStore settlement.Store) error {
		transactionStore := txStore.(*Store)
		for _, entry := range entries {
			entryID := entry.ID
			if entryID == "" {
				entryID = uuid.NewString()
			}
			_, err := transactionStore.db.Exec(ctx, sqlInsertEntry,
				entryID,
				entry.Owner.String(),
				entry.Currency.String(),
				entry.Kind.String(),
				entry.Amount.Int64(),
				entry.Reference.String(),
				entry.Leg.String(),
				entry.Metadata.JSON(),
				unixTime(entry.CreatedUnixUTC),
			)
			if isUniqueViolation(err) {
				return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, settlement.ErrDuplicateOperation)
			}
			if err != nil {
				return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
			}
		}
		return nil
	})
}

func (store *Store) SumBalance(ctx context.Context, owner settlement.UserID, currency settlement.Currency) (settlement.Amount, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumBalance, owner.String(), currency.String()).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumBalance, err)
	}
	return settlement.Amount(sum), nil
}

func (store *Store) SumOpenPayouts(ctx context.Context, owner settlement.UserID, currency settlement.Currency) (settlement.Amount, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumOpenPayouts, owner.String(), currency.String()).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumOpen, err)
	}
	return settlement.Amount(sum), nil
}

func (store *Store) ListEntriesByReference(ctx context.Context, reference settlement.Reference) ([]settlement.LedgerEntry, error) {
	rows, err := store.db.Query(ctx, sqlListEntriesByReference, reference.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (store *Store) ListEntries(ctx context.Context, owner settlement.UserID, currency settlement.Currency, beforeUnixUTC int64, limit int) ([]settlement.LedgerEntry, error) {
	before := unixTime(beforeUnixUTC)
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	rows, err := store.db.Query(ctx, sqlListEntriesBefore, owner.String(), currency.String(), before, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ReserveIdempotencyKey uses on conflict do nothing so a duplicate never aborts the surrounding transaction.
func (store *Store) ReserveIdempotencyKey(ctx context.Context, owner settlement.UserID, scope settlement.Scope, key settlement.IdempotencyKey, createdUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlReserveIdempotencyKey, owner.String(), scope.String(), key.String(), unixTime(createdUnixUTC))
	if err != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeReserve, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectIdempotency, errorCodeDuplicate, settlement.ErrDuplicateOperation)
	}
	return nil
}

func (store *Store) CreatePayment(ctx context.Context, payment settlement.Payment) error {
	paymentID := payment.ID
	if paymentID == "" {
		paymentID = uuid.NewString()
	}
	var jobID, counterpartyID *string
	if payment.Job != nil {
		value := payment.Job.String()
		jobID = &value
	}
	if payment.Counterparty != nil {
		value := payment.Counterparty.String()
		counterpartyID = &value
	}
	_, err := store.db.Exec(ctx, sqlInsertPayment,
		paymentID,
		payment.Reference.String(),
		payment.Customer.String(),
		jobID,
		counterpartyID,
		payment.Amount.Int64(),
		payment.Fee.Int64(),
		payment.Currency.String(),
		payment.Method.String(),
		payment.Status.String(),
		payment.Provider,
		payment.ProviderReference,
		payment.SignatureVerified,
		payment.Metadata.JSON(),
		unixTime(payment.CreatedUnixUTC),
		unixTime(payment.UpdatedUnixUTC),
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, settlement.ErrDuplicateOperation)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPayment(ctx context.Context, reference settlement.Reference) (settlement.Payment, error) {
	return store.selectPayment(ctx, sqlSelectPayment, reference)
}

func (store *Store) LockPayment(ctx context.Context, reference settlement.Reference) (settlement.Payment, error) {
	return store.selectPayment(ctx, sqlLockPayment, reference)
}

func (store *Store) selectPayment(ctx context.Context, query string, reference settlement.Reference) (settlement.Payment, error) {
	payment, err := scanPayment(store.db.QueryRow(ctx, query, reference.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, fmt.Errorf("%w: %s", settlement.ErrPaymentNotFound, reference))
		}
		return settlement.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	return payment, nil
}

func (store *Store) UpdatePayment(ctx context.Context, payment settlement.Payment) error {
	tag, err := store.db.Exec(ctx, sqlUpdatePayment,
		payment.Reference.String(),
		payment.Status.String(),
		payment.Provider,
		payment.ProviderReference,
		payment.SignatureVerified,
		payment.Metadata.JSON(),
		unixTime(payment.UpdatedUnixUTC),
	)
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, settlement.ErrPaymentNotFound)
	}
	return nil
}

func (store *Store) ListPayments(ctx context.Context, customer settlement.UserID, limit int, offset int) ([]settlement.Payment, int64, error) {
	var total int64
	if err := store.db.QueryRow(ctx, sqlCountPayments, customer.String()).Scan(&total); err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayment, errorCodeCount, err)
	}
	rows, err := store.db.Query(ctx, sqlListPayments, customer.String(), limit, offset)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	defer rows.Close()
	payments := make([]settlement.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	return payments, total, nil
}

func (store *Store) CreatePayout(ctx context.Context, payout settlement.Payout) error {
	payoutID := payout.ID
	if payoutID == "" {
		payoutID = uuid.NewString()
	}
	_, err := store.db.Exec(ctx, sqlInsertPayout,
		payoutID,
		payout.Reference.String(),
		payout.Owner.String(),
		payout.Amount.Int64(),
		payout.Fee.Int64(),
		payout.TransferAmount.Int64(),
		payout.Currency.String(),
		payout.Status.String(),
		payout.TransferCode,
		payout.Reason,
		payout.FailureReason,
		unixTime(payout.CreatedUnixUTC),
		unixTime(payout.UpdatedUnixUTC),
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPayout, errorCodeDuplicate, settlement.ErrDuplicateOperation)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) LockPayout(ctx context.Context, reference settlement.Reference) (settlement.Payout, error) {
	return store.selectPayout(ctx, sqlLockPayout, reference.String())
}

func (store *Store) LockPayoutByTransferCode(ctx context.Context, transferCode string) (settlement.Payout, error) {
	if transferCode == "" {
		return settlement.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeGet, settlement.ErrPayoutNotFound)
	}
	return store.selectPayout(ctx, sqlLockPayoutByTransferCode, transferCode)
}

func (store *Store) selectPayout(ctx context.Context, query string, value string) (settlement.Payout, error) {
	payout, err := scanPayout(store.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeGet, fmt.Errorf("%w: %s", settlement.ErrPayoutNotFound, value))
		}
		return settlement.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeGet, err)
	}
	return payout, nil
}

func (store *Store) UpdatePayout(ctx context.Context, payout settlement.Payout) error {
	tag, err := store.db.Exec(ctx, sqlUpdatePayout,
		payout.Reference.String(),
		payout.Status.String(),
		payout.TransferCode,
		payout.FailureReason,
		unixTime(payout.UpdatedUnixUTC),
	)
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdate, settlement.ErrPayoutNotFound)
	}
	return nil
}

func (store *Store) ListPayouts(ctx context.Context, owner settlement.UserID, limit int, offset int) ([]settlement.Payout, int64, error) {
	var total int64
	if err := store.db.QueryRow(ctx, sqlCountPayouts, owner.String()).Scan(&total); err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayout, errorCodeCount, err)
	}
	rows, err := store.db.Query(ctx, sqlListPayouts, owner.String(), limit, offset)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	defer rows.Close()
	payouts := make([]settlement.Payout, 0)
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
		}
		payouts = append(payouts, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	return payouts, total, nil
}

func (store *Store) UpsertPayoutDestination(ctx context.Context, destination settlement.PayoutDestination) error {
	_, err := store.db.Exec(ctx, sqlUpsertDestination,
		destination.Owner.String(),
		destination.Provider,
		destination.RecipientCode,
		destination.BankCode,
		destination.BankName,
		destination.AccountLast4,
		destination.AccountName,
		destination.Currency.String(),
		destination.Active,
	)
	if err != nil {
		return wrapStoreError(errorSubjectDestination, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetActivePayoutDestination(ctx context.Context, owner settlement.UserID) (settlement.PayoutDestination, error) {
	var (
		ownerValue    string
		currencyValue string
		destination   settlement.PayoutDestination
	)
	err := store.db.QueryRow(ctx, sqlSelectActiveDestination, owner.String()).Scan(
		&ownerValue,
		&destination.Provider,
		&destination.RecipientCode,
		&destination.BankCode,
		&destination.BankName,
		&destination.AccountLast4,
		&destination.AccountName,
		&currencyValue,
		&destination.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.PayoutDestination{}, wrapStoreError(errorSubjectDestination, errorCodeGet, settlement.ErrPayoutDestinationMissing)
		}
		return settlement.PayoutDestination{}, wrapStoreError(errorSubjectDestination, errorCodeGet, err)
	}
	if destination.Owner, err = settlement.NewUserID(ownerValue); err != nil {
		return settlement.PayoutDestination{}, wrapStoreError(errorSubjectDestination, errorCodeInvalid, err)
	}
	if destination.Currency, err = settlement.NewCurrency(currencyValue); err != nil {
		return settlement.PayoutDestination{}, wrapStoreError(errorSubjectDestination, errorCodeInvalid, err)
	}
	return destination, nil
}

func (store *Store) RecordWebhookEvent(ctx context.Context, event settlement.WebhookEvent) error {
	_, err := store.db.Exec(ctx, sqlInsertWebhookEvent,
		event.Provider,
		event.EventID,
		event.EventType,
		event.Reference,
		event.SignatureValid,
		string(event.Outcome),
		event.ProcessingError,
		unixTime(event.ReceivedUnixUTC),
	)
	if err != nil {
		return wrapStoreError(errorSubjectWebhook, errorCodeInsert, err)
	}
	return nil
}

// GetParty resolves a marketplace participant by id.
func (store *Store) GetParty(ctx context.Context, id settlement.UserID) (settlement.Party, error) {
	return store.selectParty(ctx, sqlSelectPartyByID, id.String())
}

// FindPartyByEmail resolves a participant by their normalised email address.
func (store *Store) FindPartyByEmail(ctx context.Context, email string) (settlement.Party, error) {
	return store.selectParty(ctx, sqlSelectPartyByEmail, normalizeEmail(email))
}

func (store *Store) selectParty(ctx context.Context, query string, value string) (settlement.Party, error) {
	var userValue, roleValue, email string
	if err := store.db.QueryRow(ctx, query, value).Scan(&userValue, &roleValue, &email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.Party{}, wrapStoreError(errorSubjectParty, errorCodeGet, fmt.Errorf("%w: %s", settlement.ErrPartyNotFound, value))
		}
		return settlement.Party{}, wrapStoreError(errorSubjectParty, errorCodeGet, err)
	}
	userID, err := settlement.NewUserID(userValue)
	if err != nil {
		return settlement.Party{}, wrapStoreError(errorSubjectParty, errorCodeInvalid, err)
	}
	role, err := settlement.ParseRole(roleValue)
	if err != nil {
		return settlement.Party{}, wrapStoreError(errorSubjectParty, errorCodeInvalid, err)
	}
	return settlement.Party{ID: userID, Role: role, Email: email}, nil
}

// GetJob resolves the assigned provider of a booked job.
func (store *Store) GetJob(ctx context.Context, id settlement.JobID) (settlement.Job, error) {
	var jobValue, providerValue string
	if err := store.db.QueryRow(ctx, sqlSelectJob, id.String()).Scan(&jobValue, &providerValue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.Job{}, wrapStoreError(errorSubjectJob, errorCodeGet, fmt.Errorf("%w: %s", settlement.ErrJobNotFound, id))
		}
		return settlement.Job{}, wrapStoreError(errorSubjectJob, errorCodeGet, err)
	}
	provider, err := settlement.NewUserID(providerValue)
	if err != nil {
		return settlement.Job{}, wrapStoreError(errorSubjectJob, errorCodeInvalid, err)
	}
	return settlement.Job{ID: id, AssignedProvider: provider}, nil
}

// UpsertParty records or refreshes a directory participant.
func (store *Store) UpsertParty(ctx context.Context, party settlement.Party) error {
	if party.ID.IsZero() {
		return wrapStoreError(errorSubjectParty, errorCodeUpsert, settlement.ErrInvalidUserID)
	}
	_, err := store.db.Exec(ctx, sqlUpsertParty, party.ID.String(), party.Role.String(), normalizeEmail(party.Email))
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectParty, errorCodeDuplicate, settlement.ErrDuplicateOperation)
	}
	if err != nil {
		return wrapStoreError(errorSubjectParty, errorCodeUpsert, err)
	}
	return nil
}

// UpsertJob records or refreshes the assigned provider of a job.
func (store *Store) UpsertJob(ctx context.Context, job settlement.Job) error {
	if _, err := store.db.Exec(ctx, sqlUpsertJob, job.ID.String(), job.AssignedProvider.String()); err != nil {
		return wrapStoreError(errorSubjectJob, errorCodeUpsert, err)
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]settlement.LedgerEntry, error) {
	entries := make([]settlement.LedgerEntry, 0)
	for rows.Next() {
		var (
			entryID        string
			ownerValue     string
			currencyValue  string
			kindValue      string
			amountValue    int64
			referenceValue string
			legValue       string
			metadataValue  string
			createdUnixUTC int64
		)
		if err := rows.Scan(&entryID, &ownerValue, &currencyValue, &kindValue, &amountValue, &referenceValue, &legValue, &metadataValue, &createdUnixUTC); err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
		}
		entry, err := buildEntry(ownerValue, currencyValue, kindValue, amountValue, referenceValue, legValue, metadataValue, createdUnixUTC)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entry.ID = entryID
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func buildEntry(ownerValue, currencyValue, kindValue string, amountValue int64, referenceValue, legValue, metadataValue string, createdUnixUTC int64) (settlement.LedgerEntry, error) {
	owner, err := settlement.NewUserID(ownerValue)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	currency, err := settlement.NewCurrency(currencyValue)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	kind, err := settlement.ParseEntryKind(kindValue)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	reference, err := settlement.NewReference(referenceValue)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	leg, err := settlement.ParseLeg(legValue)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	metadata, err := settlement.ParseMetadata(metadataValue)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	return settlement.NewLedgerEntry(owner, currency, kind, settlement.Amount(amountValue), reference, leg, metadata, createdUnixUTC)
}

func scanPayment(row pgx.Row) (settlement.Payment, error) {
	var (
		payment           settlement.Payment
		referenceValue    string
		customerValue     string
		jobValue          *string
		counterpartyValue *string
		amountValue       int64
		feeValue          int64
		currencyValue     string
		methodValue       string
		statusValue       string
		metadataValue     string
	)
	err := row.Scan(
		&payment.ID,
		&referenceValue,
		&customerValue,
		&jobValue,
		&counterpartyValue,
		&amountValue,
		&feeValue,
		&currencyValue,
		&methodValue,
		&statusValue,
		&payment.Provider,
		&payment.ProviderReference,
		&payment.SignatureVerified,
		&metadataValue,
		&payment.CreatedUnixUTC,
		&payment.UpdatedUnixUTC,
	)
	if err != nil {
		return settlement.Payment{}, err
	}
	if payment.Reference, err = settlement.NewReference(referenceValue); err != nil {
		return settlement.Payment{}, err
	}
	if payment.Customer, err = settlement.NewUserID(customerValue); err != nil {
		return settlement.Payment{}, err
	}
	if payment.Currency, err = settlement.NewCurrency(currencyValue); err != nil {
		return settlement.Payment{}, err
	}
	if payment.Method, err = settlement.ParsePaymentMethod(methodValue); err != nil {
		return settlement.Payment{}, err
	}
	if payment.Status, err = settlement.ParsePaymentStatus(statusValue); err != nil {
		return settlement.Payment{}, err
	}
	if payment.Metadata, err = settlement.ParseMetadata(metadataValue); err != nil {
		return settlement.Payment{}, err
	}
	if jobValue != nil {
		jobID, err := settlement.NewJobID(*jobValue)
		if err != nil {
			return settlement.Payment{}, err
		}
		payment.Job = &jobID
	}
	if counterpartyValue != nil {
		counterparty, err := settlement.NewUserID(*counterpartyValue)
		if err != nil {
			return settlement.Payment{}, err
		}
		payment.Counterparty = &counterparty
	}
	payment.Amount = settlement.Amount(amountValue)
	payment.Fee = settlement.Amount(feeValue)
	return payment, nil
}

func scanPayout(row pgx.Row) (settlement.Payout, error) {
	var (
		payout         settlement.Payout
		referenceValue string
		ownerValue     string
		amountValue    int64
		feeValue       int64
		transferValue  int64
		currencyValue  string
		statusValue    string
	)
	err := row.Scan(
		&payout.ID,
		&referenceValue,
		&ownerValue,
		&amountValue,
		&feeValue,
		&transferValue,
		&currencyValue,
		&statusValue,
		&payout.TransferCode,
		&payout.Reason,
		&payout.FailureReason,
		&payout.CreatedUnixUTC,
		&payout.UpdatedUnixUTC,
	)
	if err != nil {
		return settlement.Payout{}, err
	}
	if payout.Reference, err = settlement.NewReference(referenceValue); err != nil {
		return settlement.Payout{}, err
	}
	if payout.Owner, err = settlement.NewUserID(ownerValue); err != nil {
		return settlement.Payout{}, err
	}
	if payout.Currency, err = settlement.NewCurrency(currencyValue); err != nil {
		return settlement.Payout{}, err
	}
	if payout.Status, err = settlement.ParsePayoutStatus(statusValue); err != nil {
		return settlement.Payout{}, err
	}
	payout.Amount = settlement.Amount(amountValue)
	payout.Fee = settlement.Amount(feeValue)
	payout.TransferAmount = settlement.Amount(transferValue)
	return payout, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return settlement.WrapError(errorOperationStore, subject, code, err)
}

func unixTime(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
