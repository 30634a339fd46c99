package settlement

import (
	"context"
	"errors"
	"testing"
)

func TestSplitDeductsFlatFee(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		gross       Amount
		fee         Amount
		expectedNet Amount
		err         error
	}{
		{name: "deducts fee", gross: 20000, fee: 1000, expectedNet: 19000},
		{name: "zero fee", gross: 500, fee: 0, expectedNet: 500},
		{name: "fee equals gross", gross: 1000, fee: 1000, err: ErrInvalidAmount},
		{name: "fee exceeds gross", gross: 500, fee: 1000, err: ErrInvalidAmount},
		{name: "negative fee", gross: 500, fee: -1, err: ErrInvalidAmount},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			net, fee, err := Split(testCase.gross, testCase.fee)
			if testCase.err != nil {
				if !errors.Is(err, testCase.err) {
					test.Fatalf("expected %v, got %v", testCase.err, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("split: %v", err)
			}
			if net != testCase.expectedNet || fee != testCase.fee {
				test.Fatalf("expected %d/%d, got %d/%d", testCase.expectedNet, testCase.fee, net, fee)
			}
			if net+fee != testCase.gross {
				test.Fatalf("split does not add up to gross")
			}
		})
	}
}

func TestFeeScheduleFor(test *testing.T) {
	test.Parallel()
	schedule := FeeSchedule{CustomerCheckout: 100, Wallet: 200, Payout: 300}
	if schedule.For(FeeCustomerCheckout) != 100 || schedule.For(FeeWallet) != 200 || schedule.For(FeePayout) != 300 {
		test.Fatalf("unexpected fee lookup for %+v", schedule)
	}
	if schedule.For(FeeKind(99)) != 0 {
		test.Fatalf("expected unknown fee kind to be zero")
	}
}

func TestResolvePlatformAccount(test *testing.T) {
	test.Parallel()
	directory := &stubDirectory{parties: map[string]Party{
		"platform": {ID: mustUserID(test, "platform"), Role: RoleAdmin, Email: "fees@example.com"},
	}}
	party, err := ResolvePlatformAccount(context.Background(), directory, " fees@example.com ")
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if party.ID.String() != "platform" {
		test.Fatalf("unexpected platform party %+v", party)
	}
	if _, err := ResolvePlatformAccount(context.Background(), directory, "missing@example.com"); !errors.Is(err, ErrPlatformAccountUnresolved) {
		test.Fatalf("expected ErrPlatformAccountUnresolved, got %v", err)
	}
	if _, err := ResolvePlatformAccount(context.Background(), directory, ""); !errors.Is(err, ErrPlatformAccountUnresolved) {
		test.Fatalf("expected ErrPlatformAccountUnresolved for empty email, got %v", err)
	}
}

func TestNewServiceRequiresPlatformAccount(test *testing.T) {
	test.Parallel()
	_, err := NewService(newStubStore(), func() int64 { return 1 }, Party{}, FeeSchedule{})
	if !errors.Is(err, ErrInvalidServiceConfig) || !errors.Is(err, ErrPlatformAccountUnresolved) {
		test.Fatalf("expected config error, got %v", err)
	}
	_, err = NewService(newStubStore(), func() int64 { return 1 }, platformParty(test), FeeSchedule{Wallet: -1})
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for negative fee, got %v", err)
	}
	_, err = NewService(newStubStore(), func() int64 { return 1 }, platformParty(test), FeeSchedule{Payout: MaxAmount + 1})
	if !errors.Is(err, ErrInvalidServiceConfig) || !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected config error for oversized fee, got %v", err)
	}
	_, err = NewService(nil, func() int64 { return 1 }, platformParty(test), FeeSchedule{})
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil store, got %v", err)
	}
}
