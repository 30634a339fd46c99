package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/settlement/internal/auth"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	operationBalance             = "balance"
	operationEntries             = "entries"
	operationDeposit             = "deposit"
	operationWithdraw            = "withdraw"
	operationCheckout            = "checkout"
	operationListPayments        = "list_payments"
	operationGetPayment          = "get_payment"
	operationInitializePayment   = "initialize_payment"
	operationVerifyPayment       = "verify_payment"
	operationRegisterDestination = "register_destination"
	operationRequestPayout       = "request_payout"
	operationListPayouts         = "list_payouts"
	operationWebhook             = "webhook"
	signatureHeader              = "X-Paystack-Signature"
	fallbackSignatureHeader      = "X-Signature"
)

func (handler *httpHandler) handleBalance(c *gin.Context) {
	principal, _ := auth.Principal(c)
	currency, err := handler.currency(c.Query("currency"))
	if err != nil {
		handler.writeError(c, operationBalance, err)
		return
	}
	requestCtx, cancel := handler.requestContext(c)
	defer cancel()
	balance, err := handler.service.Balance(requestCtx, principal.ID, currency)
	if err != nil {
		handler.writeError(c, operationBalance, err)
		return
	}
	c.JSON(http.StatusOK, balancePayload{
		Owner:    principal.ID.String(),
		Currency: currency.String(),
		Balance:  balance.String(),
	})
}

func (handler *httpHandler) handleEntries(c *gin.Context) {
	principal, _ := auth.Principal(c)
	currency, err := handler.currency(c.Query("currency"))
	if err != nil {
		handler.writeError(c, operationEntries, err)
		return
	}
	before, err := queryInt64(c, "before", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	limit, err := queryInt64(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	requestCtx, cancel := handler.requestContext(c)
	defer cancel()
	entries, err := handler.service.ListEntries(requestCtx, principal.ID, currency, before, int(limit))
	if err != nil {
		handler.writeError(c, operationEntries, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": newEntryPayloads(entries)})
}

func (handler *httpHandler) handleDeposit(c *gin.Context) {
	principal, _ := auth.Principal(c)
	var request walletRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	amount, currency, key, err := handler.parseMoney(c, request.Amount, request.Currency)
	if err != nil {
		handler.writeError(c, operationDeposit, err)
		return
	}
	requestCtx, cancel := handler.requestContext(c)
	defer cancel()
	reference, err := handler.service.Deposit(requestCtx, settlement.DepositRequest{
		Owner:          principal.ID,
		Amount:         amount,
		Currency:       currency,
		Metadata:       settlement.NewMetadata(request.Metadata).WithReason("wallet_deposit"),
		IdempotencyKey: key,
	})
	if err != nil {
		handler.writeError(c, operationDeposit, err)
		return
	}
	handler.respondWithBalance(c, http.StatusCreated, principal.ID, currency, reference)
}

func (handler *httpHandler) handleWithdraw(c *gin.Context) {
	principal, _ := auth.Principal(c)
	var request walletRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	amount, currency, key, err := handler.parseMoney(c, request.Amount, request.Currency)
	if err != nil {
		handler.writeError(c, operationWithdraw, err)
		return
	}
	requestCtx, cancel := handler.requestContext(c)
	defer cancel()
	reference, err := handler.service.Withdraw(requestCtx, settlement.WithdrawRequest{
		Owner:          principal,
		Amount:         amount,
		Currency:       currency,
		Metadata:       settlement.NewMetadata(request.Metadata).WithReason("wallet_withdraw"),
		IdempotencyKey: key,
	})
	if err != nil {
		handler.writeError(c, operationWithdraw, err)
		return
	}
	handler.respondWithBalance(c, http.StatusOK, principal.ID, currency, reference)
}

func (handler *httpHandler) respondWithBalance(c *gin.Context, status int, owner settlement.UserID, currency settlement.Currency, reference settlement.Reference) {
	balance, err := handler.service.Balance(c.Request.Context(), owner, currency)
	if err != nil {
		handler.writeError(c, operationBalance, err)
		return
	}
	c.JSON(status, gin.H{
		"reference": reference.String(),
		"balance": balancePayload{
			Owner:    owner.String(),
			Currency: currency.String(),
			Balance:  balance.String(),
		},
	})
}

func (handler *httpHandler) handleCheckout(c *gin.Context) {
	principal, _ := auth.Principal(c)
	var request checkoutRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	amount, currency, key, err := handler.parseMoney(c, request.Amount, request.Currency)
	if err != nil {
		handler.writeError(c, operationCheckout, err)
		return
	}
	method, err := settlement.ParsePaymentMethod(request.Method)
	if err != nil {
		handler.writeError(c, operationCheckout, err)
		return
	}
	requestCtx, cancel := handler.requestContext(c)
	defer cancel()

	checkout := settlement.CheckoutRequest{
		Customer:       principal,
		Amount:         amount,
		Currency:       currency,
		Method:         method,
		Metadata:       settlement.NewMetadata(request.Metadata),
		IdempotencyKey: key,
	}
	counterpartyRaw := strings.TrimSpace(request.CounterpartyID)
	if jobRaw := strings.TrimSpace(request.JobID); jobRaw != "" {
		jobID, err := settlement.NewJobID(jobRaw)
		if err != nil {
			handler.writeError(c, operationCheckout, err)
			return
		}
		job, err := handler.directory.GetJob(requestCtx, jobID)
		if err != nil {
			handler.writeError(c, operationCheckout, err)
			return
		}
		checkout.Job = &job
		checkout.Metadata.JobID = job.ID.String()
		if counterpartyRaw == "" {
			counterpartyRaw = job.AssignedProvider.String()
		}
	}
	if counterpartyRaw != "" {
		counterpartyID, err := settlement.NewUserID(counterpartyRaw)
		if err != nil {
			handler.writeError(c, operationCheckout, err)
			return
		}
		counterparty, err := handler.directory.GetParty(requestCtx, counterpartyID)
		if err != nil {
			handler.writeError(c, operationCheckout, err)
			return
		}
		checkout.Counterparty = &counterparty
	}

	payment, err := handler.service.Checkout(requestCtx, checkout)
	if err != nil {
		handler.writeError(c, operationCheckout, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": newPaymentPayload(payment)})
}

func (handler *httpHandler) handleListPayments(c *gin.Context) {
	principal, _ := auth.Principal(c)
	limit, offset, err := pagination(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	requestCtx, cancel := handler.requestContext(c)
	defer cancel()
	payments, total, err := handler.service.ListPayments(requestCtx, principal.ID, limit, offset)
	if err != nil {
		handler.writeError(c, operationListPayments, err)
		return
	}
	payloads := make([]paymentPayload, 0, len(payments))
	for _, payment := range payments {
		payloads = append(payloads, newPaymentPayload(payment))
	}
	c.JSON(http.StatusOK, gin.H{"payments": payloads, "total": total})
}

func (handler *httpHandler) handleGetPayment(c *gin.Context) {
	principal, _ := auth.Principal(c)
	reference, err := settlement.NewReference(c.Param("reference"))
	if err != nil {
		handler.writeError(c, operationGetPayment, err)
		return
	}
	requestCtx, cancel := handler.requestContext(c)
	defer cancel()
	payment, err := handler.service.GetPayment(requestCtx, principal, reference)
	if err != nil {
		handler.writeError(c, operationGetPayment, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": newPaymentPayload(payment)})
}

// Gateway-backed handlers rely on the gateway client's own timeout and retry budget.
func (handler *httpHandler) handleInitializePayment(c *gin.Context) {
	principal, _ := auth.Principal(c)
	reference, err := settlement.NewReference(c.Param("reference"))
	if err != nil {
		handler.writeError(c, operationInitializePayment, err)
		return
	}
	authorization, err := handler.service.InitializeCardPayment(c.Request.Context(), principal, reference)
	if err != nil {
		handler.writeError(c, operationInitializePayment, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reference":         authorization.Reference.String(),
		"authorization_url": authorization.AuthorizationURL,
		"access_code":       authorization.AccessCode,
	})
}

func (handler *httpHandler) handleVerifyPayment(c *gin.Context) {
	principal, _ := auth.Principal(c)
	reference, err := settlement.NewReference(c.Param("reference"))
	if err != nil {
		handler.writeError(c, operationVerifyPayment, err)
		return
	}
	payment, err := handler.service.VerifyPayment(c.Request.Context(), principal, reference)
	if err != nil {
		handler.writeError(c, operationVerifyPayment, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": newPaymentPayload(payment)})
}

func (handler *httpHandler) handleRegisterDestination(c *gin.Context) {
	principal, _ := auth.Principal(c)
	var request destinationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	currency, err := handler.currency(request.Currency)
	if err != nil {
		handler.writeError(c, operationRegisterDestination, err)
		return
	}
	destination, err := handler.service.RegisterPayoutDestination(c.Request.Context(), principal, settlement.DestinationRequest{
		BankCode:      request.BankCode,
		AccountNumber: request.AccountNumber,
		AccountName:   request.AccountName,
		Currency:      currency,
	})
	if err != nil {
		handler.writeError(c, operationRegisterDestination, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"destination": destinationPayload{
		Provider:      destination.Provider,
		RecipientCode: destination.RecipientCode,
		BankCode:      destination.BankCode,
		BankName:      destination.BankName,
		AccountLast4:  destination.AccountLast4,
		AccountName:   destination.AccountName,
		Currency:      destination.Currency.String(),
	}})
}

func (handler *httpHandler) handleRequestPayout(c *gin.Context) {
	principal, _ := auth.Principal(c)
	var request payoutRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	amount, currency, key, err := handler.parseMoney(c, request.Amount, request.Currency)
	if err != nil {
		handler.writeError(c, operationRequestPayout, err)
		return
	}
	payout, err := handler.service.RequestPayout(c.Request.Context(), settlement.PayoutRequest{
		Owner:          principal,
		Amount:         amount,
		Currency:       currency,
		Reason:         request.Reason,
		IdempotencyKey: key,
	})
	if err != nil {
		handler.writeError(c, operationRequestPayout, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payout": newPayoutPayload(payout)})
}

func (handler *httpHandler) handleListPayouts(c *gin.Context) {
	principal, _ := auth.Principal(c)
	limit, offset, err := pagination(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	requestCtx, cancel := handler.requestContext(c)
	defer cancel()
	payouts, total, err := handler.service.ListPayouts(requestCtx, principal.ID, limit, offset)
	if err != nil {
		handler.writeError(c, operationListPayouts, err)
		return
	}
	payloads := make([]payoutPayload, 0, len(payouts))
	for _, payout := range payouts {
		payloads = append(payloads, newPayoutPayload(payout))
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payloads, "total": total})
}

// handleWebhook acknowledges every authentic delivery with 200 so the provider stops
// retrying; failed applications are kept in the audit table.
func (handler *httpHandler) handleWebhook(c *gin.Context) {
	provider := c.Param("provider")
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "unreadable body"))
		return
	}
	if len(rawBody) > maxWebhookBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse(errorCodePayloadTooLarge, fmt.Sprintf("body exceeds %d bytes", maxWebhookBodyBytes)))
		return
	}
	signature := c.GetHeader(signatureHeader)
	if signature == "" {
		signature = c.GetHeader(fallbackSignatureHeader)
	}
	requestCtx, cancel := handler.requestContext(c)
	defer cancel()
	result, err := handler.service.HandleWebhook(requestCtx, provider, rawBody, signature)
	switch {
	case errors.Is(err, settlement.ErrMalformedEvent):
		result.Outcome = settlement.OutcomeIgnored
		result.Note = err.Error()
	case err != nil:
		if errors.Is(err, settlement.ErrInvalidSignature) {
			result.Outcome = settlement.OutcomeRejected
		}
		handler.metrics.ObserveWebhook(provider, result)
		handler.writeError(c, operationWebhook, err)
		return
	}
	handler.metrics.ObserveWebhook(provider, result)
	if result.Outcome == settlement.OutcomeDeferred {
		handler.logger.Error("webhook application failed",
			zap.String("provider", provider),
			zap.String("event", result.Event),
			zap.String("event_id", result.EventID),
			zap.String("reference", result.Reference),
			zap.String("note", result.Note),
		)
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome":         string(result.Outcome),
		"event":           result.Event,
		"reference":       result.Reference,
		"entries_written": result.EntriesWritten,
		"note":            result.Note,
	})
}

func (handler *httpHandler) currency(raw string) (settlement.Currency, error) {
	if strings.TrimSpace(raw) == "" {
		return handler.defaultCurrency, nil
	}
	return settlement.NewCurrency(raw)
}

func (handler *httpHandler) parseMoney(c *gin.Context, rawAmount fmt.Stringer, rawCurrency string) (settlement.Amount, settlement.Currency, *settlement.IdempotencyKey, error) {
	amount, err := settlement.ParseAmount(rawAmount.String())
	if err != nil {
		return 0, settlement.Currency{}, nil, err
	}
	currency, err := handler.currency(rawCurrency)
	if err != nil {
		return 0, settlement.Currency{}, nil, err
	}
	key, err := settlement.OptionalIdempotencyKey(c.GetHeader(idempotencyKeyHeader))
	if err != nil {
		return 0, settlement.Currency{}, nil, err
	}
	return amount, currency, key, nil
}

func queryInt64(c *gin.Context, name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return value, nil
}

func pagination(c *gin.Context) (int, int, error) {
	limit, err := queryInt64(c, "limit", 0)
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt64(c, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	return int(limit), int(offset), nil
}
