package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorCodeInvalidPayload     = "invalid_payload"
	errorCodePayloadTooLarge    = "payload_too_large"
	errorCodeInsufficientFunds  = "insufficient_funds"
	errorCodeDuplicateOperation = "duplicate_operation"
	errorCodeInvalidSignature   = "invalid_signature"
	errorCodeNotFound           = "not_found"
	errorCodeProviderError      = "provider_error"
	errorCodeInternal           = "internal_error"
	errorCodeValidation         = "invalid_request"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{err: settlement.ErrInsufficientFunds, status: http.StatusBadRequest, code: errorCodeInsufficientFunds},
	{err: settlement.ErrDuplicateOperation, status: http.StatusConflict, code: errorCodeDuplicateOperation},
	{err: settlement.ErrInvalidSignature, status: http.StatusUnauthorized, code: errorCodeInvalidSignature},
	{err: settlement.ErrPaymentNotFound, status: http.StatusNotFound, code: errorCodeNotFound},
	{err: settlement.ErrPayoutNotFound, status: http.StatusNotFound, code: errorCodeNotFound},
	{err: settlement.ErrPartyNotFound, status: http.StatusNotFound, code: errorCodeNotFound},
	{err: settlement.ErrJobNotFound, status: http.StatusNotFound, code: errorCodeNotFound},
	{err: settlement.ErrProviderRejected, status: http.StatusBadGateway, code: errorCodeProviderError},
	{err: settlement.ErrProviderUnavailable, status: http.StatusBadGateway, code: errorCodeProviderError},
	{err: settlement.ErrInvalidAmount, status: http.StatusBadRequest, code: "invalid_amount"},
	{err: settlement.ErrInvalidCurrency, status: http.StatusBadRequest, code: "invalid_currency"},
	{err: settlement.ErrInvalidMethod, status: http.StatusBadRequest, code: "invalid_method"},
	{err: settlement.ErrInvalidUserID, status: http.StatusBadRequest, code: "invalid_user_id"},
	{err: settlement.ErrInvalidJobID, status: http.StatusBadRequest, code: "invalid_job_id"},
	{err: settlement.ErrInvalidReference, status: http.StatusBadRequest, code: "invalid_reference"},
	{err: settlement.ErrInvalidIdempotencyKey, status: http.StatusBadRequest, code: "invalid_idempotency_key"},
	{err: settlement.ErrInvalidMetadata, status: http.StatusBadRequest, code: "invalid_metadata"},
	{err: settlement.ErrCounterpartyRequired, status: http.StatusBadRequest, code: "counterparty_required"},
	{err: settlement.ErrCounterpartyMismatch, status: http.StatusBadRequest, code: "counterparty_mismatch"},
	{err: settlement.ErrCounterpartyNotProvider, status: http.StatusBadRequest, code: "counterparty_not_provider"},
	{err: settlement.ErrSelfDealing, status: http.StatusBadRequest, code: "self_dealing"},
	{err: settlement.ErrNotPayoutEligible, status: http.StatusBadRequest, code: "not_payout_eligible"},
	{err: settlement.ErrPayoutDestinationMissing, status: http.StatusBadRequest, code: "payout_destination_missing"},
	{err: settlement.ErrInvalidDestination, status: http.StatusBadRequest, code: "invalid_destination"},
	{err: settlement.ErrPaymentNotInitializable, status: http.StatusBadRequest, code: "payment_not_initializable"},
}

// classifyError returns the HTTP status and stable code for err.
func classifyError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.err) {
			return mapping.status, mapping.code
		}
	}
	if settlement.IsValidationError(err) {
		return http.StatusBadRequest, errorCodeValidation
	}
	return http.StatusInternalServerError, errorCodeInternal
}

func (handler *httpHandler) writeError(c *gin.Context, operation string, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		message = "internal error"
	} else if status == http.StatusBadGateway {
		handler.logger.Warn("gateway failure", zap.String("operation", operation), zap.Error(err))
	}
	c.JSON(status, errorResponse(code, message))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
