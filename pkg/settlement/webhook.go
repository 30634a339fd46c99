package settlement

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	webhookNoteSecretMissing  = "secret_not_configured"
	webhookNoteMalformed      = "malformed_event"
	webhookNoteBackfill       = "backfill"
	webhookNoteTerminalLocked = "terminal_locked"
	webhookNoteUnknownEvent   = "unknown_event"
)

// SignWebhookPayload returns the hex HMAC-SHA512 of body under secret.
func SignWebhookPayload(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature compares signature against the expected HMAC in constant time.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// ProviderEvent is the part of a gateway webhook body the reconciler acts on.
type ProviderEvent struct {
	Type              string
	ID                string
	Reference         string
	TransferCode      string
	Status            string
	Message           string
	ProviderReference string
}

type webhookEnvelope struct {
	Event string      `json:"event"`
	Data  webhookData `json:"data"`
}

type webhookData struct {
	ID              json.RawMessage `json:"id"`
	Reference       string          `json:"reference"`
	TransferCode    string          `json:"transfer_code"`
	Status          string          `json:"status"`
	GatewayResponse string          `json:"gateway_response"`
	Reason          string          `json:"reason"`
}

// ParseProviderEvent decodes a webhook body. The event id is data.id, or the
// business reference when the provider omits it.
func ParseProviderEvent(rawBody []byte) (ProviderEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return ProviderEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	eventType := strings.TrimSpace(envelope.Event)
	if eventType == "" {
		return ProviderEvent{}, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}
	eventID, err := decodeEventID(envelope.Data.ID)
	if err != nil {
		return ProviderEvent{}, err
	}
	reference := strings.TrimSpace(envelope.Data.Reference)
	if eventID == "" {
		eventID = reference
	}
	message := envelope.Data.GatewayResponse
	if message == "" {
		message = envelope.Data.Reason
	}
	event := ProviderEvent{
		Type:         eventType,
		ID:           eventID,
		Reference:    reference,
		TransferCode: strings.TrimSpace(envelope.Data.TransferCode),
		Status:       envelope.Data.Status,
		Message:      message,
	}
	if rawID := strings.Trim(string(envelope.Data.ID), `"`); rawID != "" && rawID != "null" {
		event.ProviderReference = rawID
	}
	return event, nil
}

func decodeEventID(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", fmt.Errorf("%w: event id: %v", ErrMalformedEvent, err)
		}
		return strings.TrimSpace(text), nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return "", fmt.Errorf("%w: event id: %v", ErrMalformedEvent, err)
	}
	return number.String(), nil
}

// ReconciliationResult reports what a webhook delivery changed.
type ReconciliationResult struct {
	Outcome        WebhookOutcome
	Event          string
	EventID        string
	Reference      string
	Note           string
	EntriesWritten int
}

// Idempotent reports whether the delivery was a replay of an already-applied event.
func (result ReconciliationResult) Idempotent() bool {
	return result.Outcome == OutcomeDuplicate
}

// HandleWebhook verifies, parses and applies one provider delivery.
//
// Returned errors are limited to ErrInvalidSignature and ErrMalformedEvent. A failure
// while applying the event rolls its transaction back and is reported as
// OutcomeDeferred with a nil error so the provider stops retrying.
func (service *Service) HandleWebhook(ctx context.Context, provider string, rawBody []byte, signature string) (ReconciliationResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = service.provider
	}
	audit := WebhookEvent{Provider: provider, ReceivedUnixUTC: service.nowFn()}
	result, resultError, applyError := service.reconcile(ctx, provider, rawBody, signature, &audit)
	if applyError != nil {
		result.Outcome = OutcomeDeferred
		result.Note = applyError.Error()
		audit.ProcessingError = applyError.Error()
	}
	audit.Outcome = result.Outcome
	audit.EventType = result.Event
	audit.EventID = result.EventID
	audit.Reference = result.Reference
	if err := service.store.RecordWebhookEvent(ctx, audit); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationWebhook,
			Note:      "audit_record_failed",
			Error:     err,
		})
	}
	loggedError := resultError
	if loggedError == nil {
		loggedError = applyError
	}
	reference, _ := NewReference(result.Reference)
	service.logOperation(ctx, OperationLog{
		Operation: operationWebhook,
		Reference: reference,
		Note:      fmt.Sprintf("%s %s %s", result.Event, result.Outcome, result.Note),
		Error:     loggedError,
	})
	return result, resultError
}

func (service *Service) reconcile(ctx context.Context, provider string, rawBody []byte, signature string, audit *WebhookEvent) (ReconciliationResult, error, error) {
	if service.webhookSecret == "" {
		return ReconciliationResult{Outcome: OutcomeIgnored, Note: webhookNoteSecretMissing}, nil, nil
	}
	if !VerifyWebhookSignature(service.webhookSecret, rawBody, signature) {
		return ReconciliationResult{Outcome: OutcomeRejected}, ErrInvalidSignature, nil
	}
	audit.SignatureValid = true
	event, err := ParseProviderEvent(rawBody)
	if err != nil {
		return ReconciliationResult{Outcome: OutcomeIgnored, Note: webhookNoteMalformed}, err, nil
	}
	result := ReconciliationResult{Event: event.Type, EventID: event.ID, Reference: event.Reference}
	switch event.Type {
	case EventChargeSuccess, EventChargeFailed:
		applyError := service.reconcilePayment(ctx, provider, event, &result)
		return result, nil, applyError
	case EventTransferSuccess, EventTransferFailed, EventTransferReversed:
		applyError := service.reconcilePayout(ctx, provider, event, &result)
		return result, nil, applyError
	default:
		result.Outcome = OutcomeIgnored
		result.Note = webhookNoteUnknownEvent
		return result, nil, nil
	}
}

func (service *Service) reconcilePayment(ctx context.Context, provider string, event ProviderEvent, result *ReconciliationResult) error {
	reference, err := NewReference(event.Reference)
	if err != nil {
		result.Outcome = OutcomeUnmatched
		return nil
	}
	scope, key, err := webhookIdempotency(provider, event)
	if err != nil {
		return err
	}
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		payment, err := txStore.LockPayment(ctx, reference)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				result.Outcome = OutcomeUnmatched
				return nil
			}
			return err
		}
		if err := txStore.ReserveIdempotencyKey(ctx, payment.Customer, scope, key, service.nowFn()); err != nil {
			if errors.Is(err, ErrDuplicateOperation) {
				result.Outcome = OutcomeDuplicate
				return nil
			}
			return err
		}
		switch event.Type {
		case EventChargeSuccess:
			if payment.Status.IsTerminal() && payment.Status != PaymentCaptured {
				result.Outcome = OutcomeIgnored
				result.Note = webhookNoteTerminalLocked
				return nil
			}
			wasCaptured := payment.Status == PaymentCaptured
			_, written, err := service.capturePayment(ctx, txStore, payment, captureDetails{
				reason:            "gateway_webhook",
				providerEvent:     event.Type,
				providerReference: event.ProviderReference,
				signatureVerified: true,
			})
			if err != nil {
				return err
			}
			result.Outcome = OutcomeApplied
			result.EntriesWritten = written
			if wasCaptured {
				result.Note = webhookNoteBackfill
			}
			return nil
		default:
			_, changed, err := service.failPayment(ctx, txStore, payment, "gateway_webhook_failed")
			if err != nil {
				return err
			}
			if !changed {
				result.Outcome = OutcomeIgnored
				result.Note = webhookNoteTerminalLocked
				return nil
			}
			result.Outcome = OutcomeApplied
			return nil
		}
	})
}

func (service *Service) reconcilePayout(ctx context.Context, provider string, event ProviderEvent, result *ReconciliationResult) error {
	scope, key, err := webhookIdempotency(provider, event)
	if err != nil {
		return err
	}
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		payout, err := lockPayoutForEvent(ctx, txStore, event)
		if err != nil {
			if errors.Is(err, ErrPayoutNotFound) {
				result.Outcome = OutcomeUnmatched
				return nil
			}
			return err
		}
		result.Reference = payout.Reference.String()
		if err := txStore.ReserveIdempotencyKey(ctx, payout.Owner, scope, key, service.nowFn()); err != nil {
			if errors.Is(err, ErrDuplicateOperation) {
				result.Outcome = OutcomeDuplicate
				return nil
			}
			return err
		}
		switch event.Type {
		case EventTransferSuccess:
			switch payout.Status {
			case PayoutFailed:
				result.Outcome = OutcomeIgnored
				result.Note = webhookNoteTerminalLocked
				return nil
			case PayoutSuccess:
				result.Note = webhookNoteBackfill
			case PayoutPending, PayoutProcessing:
				payout.Status = PayoutSuccess
				payout.UpdatedUnixUTC = service.nowFn()
				if payout.TransferCode == "" {
					payout.TransferCode = event.TransferCode
				}
				if err := txStore.UpdatePayout(ctx, payout); err != nil {
					return err
				}
			}
			written, err := service.ensureLegs(ctx, txStore, payout.Reference, payout.Currency, service.payoutLegs(payout, provider))
			if err != nil {
				return err
			}
			result.Outcome = OutcomeApplied
			result.EntriesWritten = written
			return nil
		default:
			if payout.Status.IsTerminal() {
				result.Outcome = OutcomeIgnored
				result.Note = webhookNoteTerminalLocked
				if payout.Status == PayoutSuccess && event.Type == EventTransferReversed {
					result.Note = "reversal_after_success"
				}
				return nil
			}
			payout.Status = PayoutFailed
			payout.FailureReason = event.Message
			if payout.FailureReason == "" {
				payout.FailureReason = event.Type
			}
			payout.UpdatedUnixUTC = service.nowFn()
			if err := txStore.UpdatePayout(ctx, payout); err != nil {
				return err
			}
			result.Outcome = OutcomeApplied
			return nil
		}
	})
}

func lockPayoutForEvent(ctx context.Context, txStore Store, event ProviderEvent) (Payout, error) {
	if reference, err := NewReference(event.Reference); err == nil {
		payout, err := txStore.LockPayout(ctx, reference)
		if err == nil || !errors.Is(err, ErrPayoutNotFound) || event.TransferCode == "" {
			return payout, err
		}
	}
	if event.TransferCode == "" {
		return Payout{}, fmt.Errorf("%w: event carries no reference", ErrPayoutNotFound)
	}
	return txStore.LockPayoutByTransferCode(ctx, event.TransferCode)
}

func webhookIdempotency(provider string, event ProviderEvent) (Scope, IdempotencyKey, error) {
	scope, err := WebhookScope(provider)
	if err != nil {
		return "", IdempotencyKey{}, err
	}
	rawKey := event.ID
	if rawKey == "" {
		rawKey = event.TransferCode
	}
	key, err := NewIdempotencyKey(event.Type + ":" + rawKey)
	if err != nil {
		return "", IdempotencyKey{}, err
	}
	return scope, key, nil
}
