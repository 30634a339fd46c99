package settlement

import "context"

// Gateway is the external card and bank-transfer capability the engine consumes.
// Implementations return errors wrapping ErrProviderRejected for non-success
// responses and ErrProviderUnavailable for transport failures.
type Gateway interface {
	InitializeTransaction(ctx context.Context, request ChargeRequest) (Authorization, error)
	VerifyTransaction(ctx context.Context, reference Reference) (Verification, error)
	CreateRecipient(ctx context.Context, request RecipientRequest) (Recipient, error)
	Transfer(ctx context.Context, request TransferRequest) (Transfer, error)
}

// ChargeRequest asks the gateway to start a card charge.
type ChargeRequest struct {
	Reference Reference
	Email     string
	Amount    Amount
	Currency  Currency
	Metadata  map[string]string
}

// Authorization is where the payer completes a card charge.
type Authorization struct {
	Reference        Reference
	AuthorizationURL string
	AccessCode       string
}

// Verification is the gateway's view of a charge.
type Verification struct {
	Reference         Reference
	Status            string
	Amount            Amount
	ProviderReference string
}

// Succeeded reports whether the gateway considers the charge paid.
func (verification Verification) Succeeded() bool {
	return verification.Status == "success"
}

// RecipientRequest registers a bank account for transfers.
type RecipientRequest struct {
	Name          string
	AccountNumber string
	BankCode      string
	Currency      Currency
}

// Recipient is the gateway's handle for a registered bank account.
type Recipient struct {
	RecipientCode string
	BankName      string
	AccountName   string
}

// TransferRequest moves money from the platform balance to a recipient.
type TransferRequest struct {
	Reference     Reference
	RecipientCode string
	Amount        Amount
	Currency      Currency
	Reason        string
}

// Transfer is the gateway's acknowledgement of a transfer.
type Transfer struct {
	TransferCode string
	Status       string
}
