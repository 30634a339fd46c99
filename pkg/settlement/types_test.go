package settlement

import (
	"errors"
	"math"
	"testing"
)

func TestParseAmountQuantisesHalfUp(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		raw      string
		expected Amount
		err      error
	}{
		{name: "whole", raw: "500", expected: 50000},
		{name: "two places", raw: "10.25", expected: 1025},
		{name: "rounds half up", raw: "10.005", expected: 1001},
		{name: "rounds down", raw: "10.004", expected: 1000},
		{name: "trims spaces", raw: " 1.10 ", expected: 110},
		{name: "rounds to zero", raw: "0.004", err: ErrInvalidAmount},
		{name: "negative", raw: "-1.00", err: ErrInvalidAmount},
		{name: "empty", raw: "", err: ErrInvalidAmount},
		{name: "not a number", raw: "ten", err: ErrInvalidAmount},
		{name: "at maximum", raw: "100000000000.00", expected: MaxAmount},
		{name: "above maximum", raw: "100000000000.01", err: ErrInvalidAmount},
		{name: "beyond int64", raw: "92233720368547758.07", err: ErrInvalidAmount},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			amount, err := ParseAmount(testCase.raw)
			if testCase.err != nil {
				if !errors.Is(err, testCase.err) {
					test.Fatalf("expected %v, got %v", testCase.err, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("parse: %v", err)
			}
			if amount != testCase.expected {
				test.Fatalf("expected %d, got %d", testCase.expected, amount)
			}
		})
	}
}

func TestNewPositiveAmountBounds(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		minor int64
		valid bool
	}{
		{minor: 1, valid: true},
		{minor: int64(MaxAmount), valid: true},
		{minor: 0},
		{minor: -1},
		{minor: int64(MaxAmount) + 1},
		{minor: math.MaxInt64},
	}
	for _, testCase := range testCases {
		_, err := NewPositiveAmount(testCase.minor)
		if testCase.valid && err != nil {
			test.Fatalf("%d: unexpected error %v", testCase.minor, err)
		}
		if !testCase.valid && !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("%d: expected ErrInvalidAmount, got %v", testCase.minor, err)
		}
	}
}

func TestAmountPlusDetectsOverflow(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		left     Amount
		right    Amount
		expected Amount
		overflow bool
	}{
		{name: "bounded sum", left: MaxAmount, right: MaxAmount, expected: 2 * MaxAmount},
		{name: "negative operand", left: 500, right: -700, expected: -200},
		{name: "wraps positive", left: math.MaxInt64 - 5, right: 10, overflow: true},
		{name: "wraps negative", left: math.MinInt64 + 5, right: -10, overflow: true},
	}
	for _, testCase := range testCases {
		sum, err := testCase.left.Plus(testCase.right)
		if testCase.overflow {
			if !errors.Is(err, ErrInvalidAmount) {
				test.Fatalf("%s: expected ErrInvalidAmount, got %v", testCase.name, err)
			}
			continue
		}
		if err != nil || sum != testCase.expected {
			test.Fatalf("%s: expected %d, got %d %v", testCase.name, testCase.expected, sum, err)
		}
	}
}

func TestAmountStringUsesTwoDecimals(test *testing.T) {
	test.Parallel()
	if got := Amount(49000).String(); got != "490.00" {
		test.Fatalf("expected 490.00, got %s", got)
	}
	if got := Amount(-1005).String(); got != "-10.05" {
		test.Fatalf("expected -10.05, got %s", got)
	}
}

func TestNewCurrencyNormalizes(test *testing.T) {
	test.Parallel()
	currency, err := NewCurrency(" ngn ")
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	if currency.String() != "NGN" {
		test.Fatalf("expected NGN, got %s", currency)
	}
	for _, raw := range []string{"", "NG", "NGNN", "N1N"} {
		if _, err := NewCurrency(raw); !errors.Is(err, ErrInvalidCurrency) {
			test.Fatalf("expected ErrInvalidCurrency for %q, got %v", raw, err)
		}
	}
}

func TestParseRole(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		raw              string
		expected         Role
		providesServices bool
	}{
		{raw: "customer", expected: RoleCustomer},
		{raw: "Artisan", expected: RoleArtisan, providesServices: true},
		{raw: "admin", expected: RoleAdmin},
	}
	for _, testCase := range testCases {
		role, err := ParseRole(testCase.raw)
		if err != nil {
			test.Fatalf("parse role %q: %v", testCase.raw, err)
		}
		if role != testCase.expected {
			test.Fatalf("expected %s, got %s", testCase.expected, role)
		}
		if role.ProvidesServices() != testCase.providesServices {
			test.Fatalf("unexpected ProvidesServices for %s", role)
		}
	}
	if _, err := ParseRole("provider"); !errors.Is(err, ErrInvalidRole) {
		test.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestEntryKindSign(test *testing.T) {
	test.Parallel()
	credits := []EntryKind{EntryDeposit, EntryPayout, EntryRefund, EntryAdjust}
	debits := []EntryKind{EntryWithdrawal, EntryCharge}
	for _, kind := range credits {
		if !kind.IsCredit() {
			test.Fatalf("expected %s to be a credit", kind)
		}
	}
	for _, kind := range debits {
		if kind.IsCredit() {
			test.Fatalf("expected %s to be a debit", kind)
		}
	}
	if _, err := ParseEntryKind("hold"); !errors.Is(err, ErrInvalidEntryKind) {
		test.Fatalf("expected ErrInvalidEntryKind, got %v", err)
	}
}

func TestTerminalStatuses(test *testing.T) {
	test.Parallel()
	for _, status := range []PaymentStatus{PaymentCaptured, PaymentFailed, PaymentRefunded} {
		if !status.IsTerminal() {
			test.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []PaymentStatus{PaymentInitiated, PaymentAuthorized, PaymentCancelled} {
		if status.IsTerminal() {
			test.Fatalf("expected %s to be open", status)
		}
	}
	if !PayoutSuccess.IsTerminal() || !PayoutFailed.IsTerminal() || PayoutProcessing.IsTerminal() {
		test.Fatalf("unexpected payout terminal states")
	}
}

func TestOptionalIdempotencyKey(test *testing.T) {
	test.Parallel()
	key, err := OptionalIdempotencyKey("  ")
	if err != nil || key != nil {
		test.Fatalf("expected nil key for blank header, got %v %v", key, err)
	}
	key, err = OptionalIdempotencyKey("abc")
	if err != nil || key == nil || key.String() != "abc" {
		test.Fatalf("expected key abc, got %v %v", key, err)
	}
}

func TestWebhookScope(test *testing.T) {
	test.Parallel()
	scope, err := WebhookScope(" Paystack ")
	if err != nil {
		test.Fatalf("scope: %v", err)
	}
	if scope != "webhook:paystack" {
		test.Fatalf("unexpected scope %s", scope)
	}
	if _, err := WebhookScope(""); !errors.Is(err, ErrInvalidScope) {
		test.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestMetadataRoundTripKeepsVersion(test *testing.T) {
	test.Parallel()
	metadata, err := ParseMetadata(`{"reason":"x","attributes":{"note":"hi"}}`)
	if err != nil {
		test.Fatalf("parse metadata: %v", err)
	}
	if metadata.Version != MetadataVersion || metadata.Reason != "x" {
		test.Fatalf("unexpected metadata %+v", metadata)
	}
	if _, err := ParseMetadata("{"); !errors.Is(err, ErrInvalidMetadata) {
		test.Fatalf("expected ErrInvalidMetadata, got %v", err)
	}
	empty, err := ParseMetadata("null")
	if err != nil || empty.Version != MetadataVersion {
		test.Fatalf("expected empty metadata, got %+v %v", empty, err)
	}
}
