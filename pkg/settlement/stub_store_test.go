package settlement

import (
	"context"
	"fmt"
	"sort"
	"testing"
)

const testNowUnixUTC int64 = 1_700_000_000

type stubStore struct {
	entries       []LedgerEntry
	payments      map[string]Payment
	payouts       map[string]Payout
	keys          map[string]struct{}
	destinations  map[string]PayoutDestination
	webhookEvents []WebhookEvent
	insertErr     error
	lockedWallets int
}

func newStubStore() *stubStore {
	return &stubStore{
		payments:     make(map[string]Payment),
		payouts:      make(map[string]Payout),
		keys:         make(map[string]struct{}),
		destinations: make(map[string]PayoutDestination),
	}
}

type stubSnapshot struct {
	entries      []LedgerEntry
	payments     map[string]Payment
	payouts      map[string]Payout
	keys         map[string]struct{}
	destinations map[string]PayoutDestination
}

func (store *stubStore) snapshot() stubSnapshot {
	snapshot := stubSnapshot{
		entries:      append([]LedgerEntry(nil), store.entries...),
		payments:     make(map[string]Payment, len(store.payments)),
		payouts:      make(map[string]Payout, len(store.payouts)),
		keys:         make(map[string]struct{}, len(store.keys)),
		destinations: make(map[string]PayoutDestination, len(store.destinations)),
	}
	for key, value := range store.payments {
		snapshot.payments[key] = value
	}
	for key, value := range store.payouts {
		snapshot.payouts[key] = value
	}
	for key := range store.keys {
		snapshot.keys[key] = struct{}{}
	}
	for key, value := range store.destinations {
		snapshot.destinations[key] = value
	}
	return snapshot
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.entries = snapshot.entries
	store.payments = snapshot.payments
	store.payouts = snapshot.payouts
	store.keys = snapshot.keys
	store.destinations = snapshot.destinations
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snapshot)
		return err
	}
	return nil
}

func (store *stubStore) LockWallet(ctx context.Context, owner UserID, currency Currency) error {
	store.lockedWallets++
	return nil
}

func (store *stubStore) InsertEntries(ctx context.Context, entries []LedgerEntry) error {
	if store.insertErr != nil {
		return store.insertErr
	}
	for _, entry := range entries {
		for _, existing := range store.entries {
			if existing.Reference == entry.Reference && existing.Leg == entry.Leg {
				return fmt.Errorf("%w: leg %s", ErrDuplicateOperation, entry.Leg)
			}
		}
		entry.ID = fmt.Sprintf("entry-%d", len(store.entries)+1)
		store.entries = append(store.entries, entry)
	}
	return nil
}

func (store *stubStore) SumBalance(ctx context.Context, owner UserID, currency Currency) (Amount, error) {
	var owned []LedgerEntry
	for _, entry := range store.entries {
		if entry.Owner == owner && entry.Currency == currency {
			owned = append(owned, entry)
		}
	}
	return CalculateBalance(owned)
}

func (store *stubStore) SumOpenPayouts(ctx context.Context, owner UserID, currency Currency) (Amount, error) {
	var total Amount
	for _, payout := range store.payouts {
		if payout.Owner == owner && payout.Currency == currency && !payout.Status.IsTerminal() {
			total += payout.Amount
		}
	}
	return total, nil
}

func (store *stubStore) ListEntriesByReference(ctx context.Context, reference Reference) ([]LedgerEntry, error) {
	var matched []LedgerEntry
	for _, entry := range store.entries {
		if entry.Reference == reference {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (store *stubStore) ListEntries(ctx context.Context, owner UserID, currency Currency, beforeUnixUTC int64, limit int) ([]LedgerEntry, error) {
	var matched []LedgerEntry
	for index := len(store.entries) - 1; index >= 0 && len(matched) < limit; index-- {
		entry := store.entries[index]
		if entry.Owner == owner && entry.Currency == currency && entry.CreatedUnixUTC < beforeUnixUTC {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (store *stubStore) ReserveIdempotencyKey(ctx context.Context, owner UserID, scope Scope, key IdempotencyKey, createdUnixUTC int64) error {
	composite := owner.String() + "|" + scope.String() + "|" + key.String()
	if _, exists := store.keys[composite]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, key)
	}
	store.keys[composite] = struct{}{}
	return nil
}

func (store *stubStore) CreatePayment(ctx context.Context, payment Payment) error {
	if _, exists := store.payments[payment.Reference.String()]; exists {
		return ErrDuplicateOperation
	}
	store.payments[payment.Reference.String()] = payment
	return nil
}

func (store *stubStore) GetPayment(ctx context.Context, reference Reference) (Payment, error) {
	payment, ok := store.payments[reference.String()]
	if !ok {
		return Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
	}
	return payment, nil
}

func (store *stubStore) LockPayment(ctx context.Context, reference Reference) (Payment, error) {
	return store.GetPayment(ctx, reference)
}

func (store *stubStore) UpdatePayment(ctx context.Context, payment Payment) error {
	if _, ok := store.payments[payment.Reference.String()]; !ok {
		return ErrPaymentNotFound
	}
	store.payments[payment.Reference.String()] = payment
	return nil
}

func (store *stubStore) ListPayments(ctx context.Context, customer UserID, limit int, offset int) ([]Payment, int64, error) {
	var matched []Payment
	for _, payment := range store.payments {
		if payment.Customer == customer {
			matched = append(matched, payment)
		}
	}
	sort.Slice(matched, func(left, right int) bool {
		return matched[left].Reference.String() < matched[right].Reference.String()
	})
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (store *stubStore) CreatePayout(ctx context.Context, payout Payout) error {
	store.payouts[payout.Reference.String()] = payout
	return nil
}

func (store *stubStore) LockPayout(ctx context.Context, reference Reference) (Payout, error) {
	payout, ok := store.payouts[reference.String()]
	if !ok {
		return Payout{}, fmt.Errorf("%w: %s", ErrPayoutNotFound, reference)
	}
	return payout, nil
}

func (store *stubStore) LockPayoutByTransferCode(ctx context.Context, transferCode string) (Payout, error) {
	for _, payout := range store.payouts {
		if payout.TransferCode == transferCode {
			return payout, nil
		}
	}
	return Payout{}, fmt.Errorf("%w: transfer %s", ErrPayoutNotFound, transferCode)
}

func (store *stubStore) UpdatePayout(ctx context.Context, payout Payout) error {
	store.payouts[payout.Reference.String()] = payout
	return nil
}

func (store *stubStore) ListPayouts(ctx context.Context, owner UserID, limit int, offset int) ([]Payout, int64, error) {
	var matched []Payout
	for _, payout := range store.payouts {
		if payout.Owner == owner {
			matched = append(matched, payout)
		}
	}
	return matched, int64(len(matched)), nil
}

func (store *stubStore) UpsertPayoutDestination(ctx context.Context, destination PayoutDestination) error {
	store.destinations[destination.Owner.String()] = destination
	return nil
}

func (store *stubStore) GetActivePayoutDestination(ctx context.Context, owner UserID) (PayoutDestination, error) {
	destination, ok := store.destinations[owner.String()]
	if !ok || !destination.Active {
		return PayoutDestination{}, fmt.Errorf("%w: %s", ErrPayoutDestinationMissing, owner)
	}
	return destination, nil
}

func (store *stubStore) RecordWebhookEvent(ctx context.Context, event WebhookEvent) error {
	store.webhookEvents = append(store.webhookEvents, event)
	return nil
}

func (store *stubStore) entriesFor(reference Reference) []LedgerEntry {
	entries, _ := store.ListEntriesByReference(context.Background(), reference)
	return entries
}

func (store *stubStore) mustBalance(test *testing.T, owner UserID, currency Currency) Amount {
	test.Helper()
	balance, err := store.SumBalance(context.Background(), owner, currency)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance
}

func (store *stubStore) seedDeposit(test *testing.T, owner UserID, currency Currency, amount Amount) {
	test.Helper()
	reference := mustReference(test, fmt.Sprintf("seed-%s-%d", owner, len(store.entries)))
	entry, err := NewLedgerEntry(owner, currency, EntryDeposit, amount, reference, LegDeposit, Metadata{}, testNowUnixUTC-10)
	if err != nil {
		test.Fatalf("seed entry: %v", err)
	}
	if err := store.InsertEntries(context.Background(), []LedgerEntry{entry}); err != nil {
		test.Fatalf("seed insert: %v", err)
	}
}

type stubGateway struct {
	initializeErr   error
	verification    Verification
	verifyErr       error
	recipient       Recipient
	recipientErr    error
	transfer        Transfer
	transferErr     error
	charges         []ChargeRequest
	transfers       []TransferRequest
	recipientAsks   []RecipientRequest
	verifyRequested []Reference
}

func (gateway *stubGateway) InitializeTransaction(ctx context.Context, request ChargeRequest) (Authorization, error) {
	gateway.charges = append(gateway.charges, request)
	if gateway.initializeErr != nil {
		return Authorization{}, gateway.initializeErr
	}
	return Authorization{Reference: request.Reference, AuthorizationURL: "https://checkout.example/" + request.Reference.String(), AccessCode: "access"}, nil
}

func (gateway *stubGateway) VerifyTransaction(ctx context.Context, reference Reference) (Verification, error) {
	gateway.verifyRequested = append(gateway.verifyRequested, reference)
	if gateway.verifyErr != nil {
		return Verification{}, gateway.verifyErr
	}
	return gateway.verification, nil
}

func (gateway *stubGateway) CreateRecipient(ctx context.Context, request RecipientRequest) (Recipient, error) {
	gateway.recipientAsks = append(gateway.recipientAsks, request)
	if gateway.recipientErr != nil {
		return Recipient{}, gateway.recipientErr
	}
	return gateway.recipient, nil
}

func (gateway *stubGateway) Transfer(ctx context.Context, request TransferRequest) (Transfer, error) {
	gateway.transfers = append(gateway.transfers, request)
	if gateway.transferErr != nil {
		return Transfer{}, gateway.transferErr
	}
	return gateway.transfer, nil
}

type stubDirectory struct {
	parties map[string]Party
	jobs    map[string]Job
}

func (directory *stubDirectory) GetParty(ctx context.Context, id UserID) (Party, error) {
	party, ok := directory.parties[id.String()]
	if !ok {
		return Party{}, ErrPartyNotFound
	}
	return party, nil
}

func (directory *stubDirectory) FindPartyByEmail(ctx context.Context, email string) (Party, error) {
	for _, party := range directory.parties {
		if party.Email == email {
			return party, nil
		}
	}
	return Party{}, ErrPartyNotFound
}

func (directory *stubDirectory) GetJob(ctx context.Context, id JobID) (Job, error) {
	job, ok := directory.jobs[id.String()]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func sequentialReferences() func(prefix string, length int) string {
	counter := 0
	return func(prefix string, length int) string {
		counter++
		return fmt.Sprintf("%s%d", prefix, counter)
	}
}

func testFees(test *testing.T) FeeSchedule {
	test.Helper()
	return FeeSchedule{
		CustomerCheckout: mustAmount(test, "10.00"),
		Wallet:           mustAmount(test, "10.00"),
		Payout:           mustAmount(test, "10.00"),
	}
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithReferenceGenerator(sequentialReferences())}, options...)
	service, err := NewService(store, func() int64 { return testNowUnixUTC }, platformParty(test), testFees(test), options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func platformParty(test *testing.T) Party {
	test.Helper()
	return Party{ID: mustUserID(test, "platform"), Role: RoleAdmin, Email: "fees@example.com"}
}

func customerParty(test *testing.T, raw string) Party {
	test.Helper()
	return Party{ID: mustUserID(test, raw), Role: RoleCustomer, Email: raw + "@example.com"}
}

func artisanParty(test *testing.T, raw string) Party {
	test.Helper()
	return Party{ID: mustUserID(test, raw), Role: RoleArtisan, Email: raw + "@example.com"}
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustReference(test *testing.T, raw string) Reference {
	test.Helper()
	value, err := NewReference(raw)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	return value
}

func mustIdempotencyKey(test *testing.T, raw string) *IdempotencyKey {
	test.Helper()
	value, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return &value
}

func mustAmount(test *testing.T, raw string) Amount {
	test.Helper()
	value, err := ParseAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustCurrency(test *testing.T, raw string) Currency {
	test.Helper()
	value, err := NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return value
}
