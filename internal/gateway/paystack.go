package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"go.uber.org/zap"
)

const (
	defaultBaseURL      = "https://api.paystack.co"
	defaultTimeout      = 20 * time.Second
	defaultRetryBackoff = 250 * time.Millisecond
	maxResponseBytes    = 1 << 20
	pathInitialize      = "/transaction/initialize"
	pathVerify          = "/transaction/verify/"
	pathRecipient       = "/transferrecipient"
	pathTransfer        = "/transfer"
	recipientTypeNUBAN  = "nuban"
	transferSource      = "balance"
)

// Config describes the Paystack-shaped gateway endpoint.
type Config struct {
	BaseURL      string
	SecretKey    string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client implements settlement.Gateway over HTTP.
type Client struct {
	baseURL      string
	secretKey    string
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient validates cfg and returns a gateway client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("%w: gateway secret is empty", settlement.ErrProviderUnavailable)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("gateway base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      baseURL,
		secretKey:    cfg.SecretKey,
		timeout:      timeout,
		maxRetries:   maxRetries,
		retryBackoff: backoff,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializePayload struct {
	Email     string            `json:"email"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	ID        json.Number `json:"id"`
	Status    string      `json:"status"`
	Reference string      `json:"reference"`
	Amount    int64       `json:"amount"`
}

type recipientPayload struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
	Name          string `json:"name"`
	Details       struct {
		AccountName string `json:"account_name"`
		BankName    string `json:"bank_name"`
	} `json:"details"`
}

type transferPayload struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// InitializeTransaction starts a card charge and returns the hosted authorization page.
func (client *Client) InitializeTransaction(ctx context.Context, request settlement.ChargeRequest) (settlement.Authorization, error) {
	payload := initializePayload{
		Email:     request.Email,
		Amount:    request.Amount.Int64(),
		Currency:  request.Currency.String(),
		Reference: request.Reference.String(),
		Metadata:  request.Metadata,
	}
	var data initializeData
	if err := client.do(ctx, http.MethodPost, pathInitialize, payload, &data); err != nil {
		return settlement.Authorization{}, err
	}
	if data.AuthorizationURL == "" {
		return settlement.Authorization{}, fmt.Errorf("%w: authorization url missing", settlement.ErrProviderRejected)
	}
	return settlement.Authorization{
		Reference:        request.Reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
	}, nil
}

// VerifyTransaction asks the gateway for the current state of a charge.
func (client *Client) VerifyTransaction(ctx context.Context, reference settlement.Reference) (settlement.Verification, error) {
	var data verifyData
	if err := client.do(ctx, http.MethodGet, pathVerify+url.PathEscape(reference.String()), nil, &data); err != nil {
		return settlement.Verification{}, err
	}
	return settlement.Verification{
		Reference:         reference,
		Status:            strings.ToLower(strings.TrimSpace(data.Status)),
		Amount:            settlement.Amount(data.Amount),
		ProviderReference: data.ID.String(),
	}, nil
}

// CreateRecipient registers a NUBAN bank account for transfers.
func (client *Client) CreateRecipient(ctx context.Context, request settlement.RecipientRequest) (settlement.Recipient, error) {
	payload := recipientPayload{
		Type:          recipientTypeNUBAN,
		Name:          request.Name,
		AccountNumber: request.AccountNumber,
		BankCode:      request.BankCode,
		Currency:      request.Currency.String(),
	}
	var data recipientData
	if err := client.do(ctx, http.MethodPost, pathRecipient, payload, &data); err != nil {
		return settlement.Recipient{}, err
	}
	if data.RecipientCode == "" {
		return settlement.Recipient{}, fmt.Errorf("%w: recipient code missing", settlement.ErrProviderRejected)
	}
	accountName := data.Details.AccountName
	if accountName == "" {
		accountName = data.Name
	}
	return settlement.Recipient{
		RecipientCode: data.RecipientCode,
		BankName:      data.Details.BankName,
		AccountName:   accountName,
	}, nil
}

// Transfer moves money from the platform balance to a recipient. The reference makes retries safe.
func (client *Client) Transfer(ctx context.Context, request settlement.TransferRequest) (settlement.Transfer, error) {
	payload := transferPayload{
		Source:    transferSource,
		Amount:    request.Amount.Int64(),
		Currency:  request.Currency.String(),
		Recipient: request.RecipientCode,
		Reason:    request.Reason,
		Reference: request.Reference.String(),
	}
	var data transferData
	if err := client.do(ctx, http.MethodPost, pathTransfer, payload, &data); err != nil {
		return settlement.Transfer{}, err
	}
	return settlement.Transfer{TransferCode: data.TransferCode, Status: data.Status}, nil
}

// do sends one request. Transport failures are retried; any HTTP response is final.
func (client *Client) do(ctx context.Context, method string, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode gateway request: %w", err)
		}
		body = encoded
	}
	var lastErr error
	for attempt := 0; attempt <= client.maxRetries; attempt++ {
		if attempt > 0 {
			client.logger.Warn("gateway retry",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			if err := sleepContext(ctx, time.Duration(attempt)*client.retryBackoff); err != nil {
				return fmt.Errorf("%w: %v", settlement.ErrProviderUnavailable, err)
			}
		}
		statusCode, responseBody, err := client.send(ctx, method, path, body)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return decodeEnvelope(statusCode, responseBody, out)
	}
	return fmt.Errorf("%w: %s %s: %v", settlement.ErrProviderUnavailable, method, path, lastErr)
}

func (client *Client) send(ctx context.Context, method string, path string, body []byte) (int, []byte, error) {
	requestCtx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpRequest, err := http.NewRequestWithContext(requestCtx, method, client.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	httpRequest.Header.Set("Authorization", "Bearer "+client.secretKey)
	httpRequest.Header.Set("Accept", "application/json")
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	response, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return 0, nil, err
	}
	defer response.Body.Close()
	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, err
	}
	return response.StatusCode, responseBody, nil
}

func decodeEnvelope(statusCode int, body []byte, out any) error {
	var decoded envelope
	decodeErr := json.Unmarshal(body, &decoded)
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		message := decoded.Message
		if decodeErr != nil || message == "" {
			message = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("%w: status %d: %s", settlement.ErrProviderRejected, statusCode, message)
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: decode response: %v", settlement.ErrProviderRejected, decodeErr)
	}
	if !decoded.Status {
		return fmt.Errorf("%w: %s", settlement.ErrProviderRejected, decoded.Message)
	}
	if out == nil || len(decoded.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", settlement.ErrProviderRejected, err)
	}
	return nil
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
