package httpapi

import (
	"encoding/json"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

type walletRequest struct {
	Amount   json.Number    `json:"amount" binding:"required"`
	Currency string         `json:"currency" binding:"omitempty,len=3,alpha"`
	Metadata map[string]any `json:"metadata"`
}

type checkoutRequest struct {
	Amount         json.Number    `json:"amount" binding:"required"`
	Method         string         `json:"method" binding:"required,oneof=wallet card bank_transfer"`
	Currency       string         `json:"currency" binding:"omitempty,len=3,alpha"`
	JobID          string         `json:"job_id"`
	CounterpartyID string         `json:"counterparty_id"`
	Metadata       map[string]any `json:"metadata"`
}

type destinationRequest struct {
	BankCode      string `json:"bank_code" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required,numeric,min=6,max=20"`
	AccountName   string `json:"account_name"`
	Currency      string `json:"currency" binding:"omitempty,len=3,alpha"`
}

type payoutRequest struct {
	Amount   json.Number `json:"amount" binding:"required"`
	Currency string      `json:"currency" binding:"omitempty,len=3,alpha"`
	Reason   string      `json:"reason" binding:"max=200"`
}

type balancePayload struct {
	Owner    string `json:"owner"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Kind           string          `json:"kind"`
	Amount         string          `json:"amount"`
	Currency       string          `json:"currency"`
	Reference      string          `json:"reference"`
	Leg            string          `json:"leg"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type paymentPayload struct {
	ID                string          `json:"id"`
	Reference         string          `json:"reference"`
	Customer          string          `json:"customer_id"`
	Counterparty      string          `json:"counterparty_id,omitempty"`
	JobID             string          `json:"job_id,omitempty"`
	Amount            string          `json:"amount"`
	Fee               string          `json:"fee"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	Status            string          `json:"status"`
	Provider          string          `json:"provider,omitempty"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	SignatureVerified bool            `json:"signature_verified"`
	Metadata          json.RawMessage `json:"metadata"`
	CreatedUnixUTC    int64           `json:"created_unix_utc"`
	UpdatedUnixUTC    int64           `json:"updated_unix_utc"`
}

type payoutPayload struct {
	ID             string `json:"id"`
	Reference      string `json:"reference"`
	Owner          string `json:"owner_id"`
	Amount         string `json:"amount"`
	Fee            string `json:"fee"`
	TransferAmount string `json:"transfer_amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	TransferCode   string `json:"transfer_code,omitempty"`
	Reason         string `json:"reason"`
	FailureReason  string `json:"failure_reason,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
	UpdatedUnixUTC int64  `json:"updated_unix_utc"`
}

type destinationPayload struct {
	Provider      string `json:"provider"`
	RecipientCode string `json:"recipient_code"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name,omitempty"`
	AccountLast4  string `json:"account_last4"`
	AccountName   string `json:"account_name,omitempty"`
	Currency      string `json:"currency"`
}

func newEntryPayloads(entries []settlement.LedgerEntry) []entryPayload {
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, entryPayload{
			EntryID:        entry.ID,
			Kind:           entry.Kind.String(),
			Amount:         entry.Amount.String(),
			Currency:       entry.Currency.String(),
			Reference:      entry.Reference.String(),
			Leg:            entry.Leg.String(),
			Metadata:       json.RawMessage(entry.Metadata.JSON()),
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	return payloads
}

func newPaymentPayload(payment settlement.Payment) paymentPayload {
	payload := paymentPayload{
		ID:                payment.ID,
		Reference:         payment.Reference.String(),
		Customer:          payment.Customer.String(),
		Amount:            payment.Amount.String(),
		Fee:               payment.Fee.String(),
		Currency:          payment.Currency.String(),
		Method:            payment.Method.String(),
		Status:            payment.Status.String(),
		Provider:          payment.Provider,
		ProviderReference: payment.ProviderReference,
		SignatureVerified: payment.SignatureVerified,
		Metadata:          json.RawMessage(payment.Metadata.JSON()),
		CreatedUnixUTC:    payment.CreatedUnixUTC,
		UpdatedUnixUTC:    payment.UpdatedUnixUTC,
	}
	if payment.Counterparty != nil {
		payload.Counterparty = payment.Counterparty.String()
	}
	if payment.Job != nil {
		payload.JobID = payment.Job.String()
	}
	return payload
}

func newPayoutPayload(payout settlement.Payout) payoutPayload {
	return payoutPayload{
		ID:             payout.ID,
		Reference:      payout.Reference.String(),
		Owner:          payout.Owner.String(),
		Amount:         payout.Amount.String(),
		Fee:            payout.Fee.String(),
		TransferAmount: payout.TransferAmount.String(),
		Currency:       payout.Currency.String(),
		Status:         payout.Status.String(),
		TransferCode:   payout.TransferCode,
		Reason:         payout.Reason,
		FailureReason:  payout.FailureReason,
		CreatedUnixUTC: payout.CreatedUnixUTC,
		UpdatedUnixUTC: payout.UpdatedUnixUTC,
	}
}
