package settlement

import (
	"context"
	"errors"
	"testing"
)

func seedDestination(test *testing.T, store *stubStore, owner UserID) {
	test.Helper()
	store.destinations[owner.String()] = PayoutDestination{
		Owner:         owner,
		Provider:      defaultProvider,
		RecipientCode: "RCP_1",
		AccountLast4:  "6789",
		Currency:      mustCurrency(test, "NGN"),
		Active:        true,
	}
}

func TestRegisterPayoutDestinationKeepsLastFourDigits(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	gateway := &stubGateway{recipient: Recipient{RecipientCode: "RCP_abc", BankName: "Test Bank", AccountName: "ADA ARTISAN"}}
	service := mustNewService(test, store, WithGateway(gateway))
	artisan := artisanParty(test, "artisan")

	destination, err := service.RegisterPayoutDestination(context.Background(), artisan, DestinationRequest{
		BankCode:      "058",
		AccountNumber: "0123456789",
		AccountName:   "Ada Artisan",
		Currency:      mustCurrency(test, "NGN"),
	})
	if err != nil {
		test.Fatalf("register: %v", err)
	}
	if destination.AccountLast4 != "6789" || destination.RecipientCode != "RCP_abc" || !destination.Active {
		test.Fatalf("unexpected destination %+v", destination)
	}
	if destination.AccountName != "ADA ARTISAN" {
		test.Fatalf("expected gateway account name, got %s", destination.AccountName)
	}
	if len(gateway.recipientAsks) != 1 || gateway.recipientAsks[0].AccountNumber != "0123456789" {
		test.Fatalf("unexpected recipient request %+v", gateway.recipientAsks)
	}
	if _, ok := store.destinations[artisan.ID.String()]; !ok {
		test.Fatalf("expected destination stored")
	}
}

func TestRegisterPayoutDestinationValidation(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(), WithGateway(&stubGateway{}))
	currency := mustCurrency(test, "NGN")
	testCases := []struct {
		name    string
		owner   Party
		request DestinationRequest
		err     error
	}{
		{name: "customer", owner: customerParty(test, "customer"), request: DestinationRequest{BankCode: "058", AccountNumber: "0123456789", Currency: currency}, err: ErrNotPayoutEligible},
		{name: "missing bank", owner: artisanParty(test, "artisan"), request: DestinationRequest{AccountNumber: "0123456789", Currency: currency}, err: ErrInvalidDestination},
		{name: "short account", owner: artisanParty(test, "artisan"), request: DestinationRequest{BankCode: "058", AccountNumber: "123", Currency: currency}, err: ErrInvalidDestination},
		{name: "letters", owner: artisanParty(test, "artisan"), request: DestinationRequest{BankCode: "058", AccountNumber: "01234abcde", Currency: currency}, err: ErrInvalidDestination},
	}
	for _, testCase := range testCases {
		if _, err := service.RegisterPayoutDestination(context.Background(), testCase.owner, testCase.request); !errors.Is(err, testCase.err) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.err, err)
		}
	}
}

func TestRequestPayoutStartsTransferForNetAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	gateway := &stubGateway{transfer: Transfer{TransferCode: "TRF_1", Status: "pending"}}
	service := mustNewService(test, store, WithGateway(gateway))
	artisan := artisanParty(test, "artisan")
	currency := mustCurrency(test, "NGN")
	store.seedDeposit(test, artisan.ID, currency, mustAmount(test, "300.00"))
	seedDestination(test, store, artisan.ID)

	payout, err := service.RequestPayout(context.Background(), PayoutRequest{
		Owner:          artisan,
		Amount:         mustAmount(test, "200.00"),
		Currency:       currency,
		IdempotencyKey: mustIdempotencyKey(test, "payout-1"),
	})
	if err != nil {
		test.Fatalf("request payout: %v", err)
	}
	if payout.Status != PayoutProcessing || payout.TransferCode != "TRF_1" {
		test.Fatalf("unexpected payout %+v", payout)
	}
	if payout.TransferAmount != mustAmount(test, "190.00") || payout.Fee != mustAmount(test, "10.00") || payout.Reason != defaultPayoutReason {
		test.Fatalf("unexpected payout amounts %+v", payout)
	}
	if len(gateway.transfers) != 1 || gateway.transfers[0].Amount != mustAmount(test, "190.00") || gateway.transfers[0].RecipientCode != "RCP_1" {
		test.Fatalf("unexpected transfer %+v", gateway.transfers)
	}
	if got := store.mustBalance(test, artisan.ID, currency); got != mustAmount(test, "300.00") {
		test.Fatalf("expected ledger untouched until confirmation, got %s", got)
	}

	_, err = service.RequestPayout(context.Background(), PayoutRequest{Owner: artisan, Amount: mustAmount(test, "150.00"), Currency: currency})
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected open payout to reduce spendable balance, got %v", err)
	}
	_, err = service.RequestPayout(context.Background(), PayoutRequest{
		Owner:          artisan,
		Amount:         mustAmount(test, "20.00"),
		Currency:       currency,
		IdempotencyKey: mustIdempotencyKey(test, "payout-1"),
	})
	if !errors.Is(err, ErrDuplicateOperation) {
		test.Fatalf("expected ErrDuplicateOperation, got %v", err)
	}
}

func TestRequestPayoutInsufficientBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	gateway := &stubGateway{}
	service := mustNewService(test, store, WithGateway(gateway))
	artisan := artisanParty(test, "artisan")
	currency := mustCurrency(test, "NGN")
	store.seedDeposit(test, artisan.ID, currency, mustAmount(test, "150.00"))
	seedDestination(test, store, artisan.ID)

	_, err := service.RequestPayout(context.Background(), PayoutRequest{Owner: artisan, Amount: mustAmount(test, "200.00"), Currency: currency})
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(store.payouts) != 0 || len(gateway.transfers) != 0 {
		test.Fatalf("expected no payout and no transfer")
	}
	if got := store.mustBalance(test, artisan.ID, currency); got != mustAmount(test, "150.00") {
		test.Fatalf("expected balance unchanged, got %s", got)
	}
}

func TestRequestPayoutPreconditions(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, WithGateway(&stubGateway{}))
	artisan := artisanParty(test, "artisan")
	currency := mustCurrency(test, "NGN")
	store.seedDeposit(test, artisan.ID, currency, mustAmount(test, "150.00"))

	if _, err := service.RequestPayout(context.Background(), PayoutRequest{Owner: artisan, Amount: mustAmount(test, "50.00"), Currency: currency}); !errors.Is(err, ErrPayoutDestinationMissing) {
		test.Fatalf("expected ErrPayoutDestinationMissing, got %v", err)
	}
	seedDestination(test, store, artisan.ID)
	if _, err := service.RequestPayout(context.Background(), PayoutRequest{Owner: artisan, Amount: mustAmount(test, "10.00"), Currency: currency}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount when fee consumes amount, got %v", err)
	}
	if _, err := service.RequestPayout(context.Background(), PayoutRequest{Owner: customerParty(test, "customer"), Amount: mustAmount(test, "50.00"), Currency: currency}); !errors.Is(err, ErrNotPayoutEligible) {
		test.Fatalf("expected ErrNotPayoutEligible, got %v", err)
	}
	noGateway := mustNewService(test, store)
	if _, err := noGateway.RequestPayout(context.Background(), PayoutRequest{Owner: artisan, Amount: mustAmount(test, "50.00"), Currency: currency}); !errors.Is(err, ErrProviderUnavailable) {
		test.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if len(store.payouts) != 0 {
		test.Fatalf("expected no payouts, got %d", len(store.payouts))
	}
}

func TestRequestPayoutProviderRejectionFailsPayout(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	gateway := &stubGateway{transferErr: errors.Join(ErrProviderRejected, errors.New("Insufficient platform balance"))}
	service := mustNewService(test, store, WithGateway(gateway))
	artisan := artisanParty(test, "artisan")
	currency := mustCurrency(test, "NGN")
	store.seedDeposit(test, artisan.ID, currency, mustAmount(test, "300.00"))
	seedDestination(test, store, artisan.ID)

	payout, err := service.RequestPayout(context.Background(), PayoutRequest{Owner: artisan, Amount: mustAmount(test, "100.00"), Currency: currency})
	if !errors.Is(err, ErrProviderRejected) {
		test.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if payout.Status != PayoutFailed || payout.FailureReason == "" {
		test.Fatalf("expected failed payout with reason, got %+v", payout)
	}
	stored := store.payouts[payout.Reference.String()]
	if stored.Status != PayoutFailed {
		test.Fatalf("expected stored payout failed, got %s", stored.Status)
	}
	if open, _ := store.SumOpenPayouts(context.Background(), artisan.ID, currency); open != 0 {
		test.Fatalf("expected failed payout to release spendable balance, got %s", open)
	}
}

func TestRequestPayoutTransportFailureStaysProcessing(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	gateway := &stubGateway{transferErr: ErrProviderUnavailable}
	service := mustNewService(test, store, WithGateway(gateway))
	artisan := artisanParty(test, "artisan")
	currency := mustCurrency(test, "NGN")
	store.seedDeposit(test, artisan.ID, currency, mustAmount(test, "300.00"))
	seedDestination(test, store, artisan.ID)

	payout, err := service.RequestPayout(context.Background(), PayoutRequest{Owner: artisan, Amount: mustAmount(test, "100.00"), Currency: currency})
	if !errors.Is(err, ErrProviderUnavailable) {
		test.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if store.payouts[payout.Reference.String()].Status != PayoutProcessing {
		test.Fatalf("expected payout to stay processing")
	}
}

func TestPayoutConfirmedByWebhookSettlesLedger(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	gateway := &stubGateway{transfer: Transfer{TransferCode: "TRF_42"}}
	service := mustNewService(test, store, WithGateway(gateway), WithWebhookSecret(testWebhookSecret))
	artisan := artisanParty(test, "artisan")
	currency := mustCurrency(test, "NGN")
	store.seedDeposit(test, artisan.ID, currency, mustAmount(test, "300.00"))
	seedDestination(test, store, artisan.ID)

	payout, err := service.RequestPayout(context.Background(), PayoutRequest{Owner: artisan, Amount: mustAmount(test, "200.00"), Currency: currency})
	if err != nil {
		test.Fatalf("request payout: %v", err)
	}
	body := transferEvent(EventTransferSuccess, payout.Reference.String(), "TRF_42")
	if _, err := service.HandleWebhook(context.Background(), "paystack", body, SignWebhookPayload(testWebhookSecret, body)); err != nil {
		test.Fatalf("webhook: %v", err)
	}
	if store.payouts[payout.Reference.String()].Status != PayoutSuccess {
		test.Fatalf("expected payout success")
	}
	if got := store.mustBalance(test, artisan.ID, currency); got != mustAmount(test, "100.00") {
		test.Fatalf("expected artisan debited full amount, got %s", got)
	}
	if got := store.mustBalance(test, service.Platform().ID, currency); got != mustAmount(test, "10.00") {
		test.Fatalf("expected platform credited fee, got %s", got)
	}
	written, err := service.EnsureSettlementEntries(context.Background(), payout.Reference)
	if err != nil || written != 0 {
		test.Fatalf("expected settled payout to need no legs, got %d %v", written, err)
	}
	payouts, total, err := service.ListPayouts(context.Background(), artisan.ID, 10, 0)
	if err != nil || total != 1 || len(payouts) != 1 {
		test.Fatalf("expected one payout listed, got %d/%d %v", len(payouts), total, err)
	}
}
