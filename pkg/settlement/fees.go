package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FeeSchedule holds the flat fees routed to the platform account.
// A zero fee disables that charge.
type FeeSchedule struct {
	CustomerCheckout Amount
	Wallet           Amount
	Payout           Amount
}

// FeeKind names one configured flat fee.
type FeeKind uint8

const (
	FeeCustomerCheckout FeeKind = iota + 1
	FeeWallet
	FeePayout
)

// For returns the flat fee configured for kind.
func (schedule FeeSchedule) For(kind FeeKind) Amount {
	switch kind {
	case FeeCustomerCheckout:
		return schedule.CustomerCheckout
	case FeeWallet:
		return schedule.Wallet
	case FeePayout:
		return schedule.Payout
	default:
		return 0
	}
}

func (schedule FeeSchedule) validate() error {
	for _, fee := range []Amount{schedule.CustomerCheckout, schedule.Wallet, schedule.Payout} {
		if fee < 0 {
			return fmt.Errorf("%w: fees must not be negative", ErrInvalidAmount)
		}
		if fee > MaxAmount {
			return fmt.Errorf("%w: fee exceeds maximum %s", ErrInvalidAmount, MaxAmount)
		}
	}
	return nil
}

// Split divides a gross amount into the part owed to the counterparty and the platform fee.
func Split(gross Amount, fee Amount) (Amount, Amount, error) {
	if fee < 0 {
		return 0, 0, fmt.Errorf("%w: negative fee", ErrInvalidAmount)
	}
	if gross <= fee {
		return 0, 0, fmt.Errorf("%w: %s does not cover fee %s", ErrInvalidAmount, gross, fee)
	}
	return gross - fee, fee, nil
}

// ResolvePlatformAccount finds the fee account by its well-known email.
// Failure is a configuration error and should stop the process.
func ResolvePlatformAccount(ctx context.Context, directory Directory, email string) (Party, error) {
	normalized := strings.TrimSpace(email)
	if directory == nil || normalized == "" {
		return Party{}, fmt.Errorf("%w: no platform account configured", ErrPlatformAccountUnresolved)
	}
	party, err := directory.FindPartyByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrPartyNotFound) {
			return Party{}, fmt.Errorf("%w: %s", ErrPlatformAccountUnresolved, normalized)
		}
		return Party{}, fmt.Errorf("%w: %v", ErrPlatformAccountUnresolved, err)
	}
	return party, nil
}
