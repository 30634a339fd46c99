package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const testSecret = "sk_test_secret"

type flakyTransport struct {
	failures atomic.Int32
	next     http.RoundTripper
	calls    atomic.Int32
}

func (transport *flakyTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	transport.calls.Add(1)
	if transport.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return transport.next.RoundTrip(request)
}

func newTestClient(test *testing.T, handler http.HandlerFunc, httpClient *http.Client, maxRetries int) *Client {
	test.Helper()
	server := httptest.NewServer(handler)
	test.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:      server.URL,
		SecretKey:    testSecret,
		Timeout:      2 * time.Second,
		MaxRetries:   maxRetries,
		RetryBackoff: time.Millisecond,
		HTTPClient:   httpClient,
	})
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	return client
}

func mustReference(test *testing.T, raw string) settlement.Reference {
	test.Helper()
	reference, err := settlement.NewReference(raw)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	return reference
}

func mustCurrency(test *testing.T) settlement.Currency {
	test.Helper()
	currency, err := settlement.NewCurrency("NGN")
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return currency
}

func writeEnvelope(writer http.ResponseWriter, statusCode int, status bool, message string, data any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(map[string]any{"status": status, "message": message, "data": data})
}

func TestNewClientRequiresSecret(test *testing.T) {
	test.Parallel()
	if _, err := NewClient(Config{}); !errors.Is(err, settlement.ErrProviderUnavailable) {
		test.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestInitializeTransactionSendsMinorUnits(test *testing.T) {
	test.Parallel()
	var received initializePayload
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != pathInitialize || request.Method != http.MethodPost {
			test.Errorf("unexpected %s %s", request.Method, request.URL.Path)
		}
		if request.Header.Get("Authorization") != "Bearer "+testSecret {
			test.Errorf("missing bearer secret")
		}
		body, _ := io.ReadAll(request.Body)
		_ = json.Unmarshal(body, &received)
		writeEnvelope(writer, http.StatusOK, true, "Authorization URL created", map[string]any{
			"authorization_url": "https://checkout.example.com/abc",
			"access_code":       "abc",
			"reference":         received.Reference,
		})
	}, nil, 0)

	authorization, err := client.InitializeTransaction(context.Background(), settlement.ChargeRequest{
		Reference: mustReference(test, "FIX-ABCDEF012345"),
		Email:     "customer@example.com",
		Amount:    13000,
		Currency:  mustCurrency(test),
		Metadata:  map[string]string{"job_id": "job-1"},
	})
	if err != nil {
		test.Fatalf("initialize: %v", err)
	}
	if authorization.AuthorizationURL != "https://checkout.example.com/abc" || authorization.AccessCode != "abc" {
		test.Fatalf("unexpected authorization %+v", authorization)
	}
	if received.Amount != 13000 || received.Currency != "NGN" || received.Metadata["job_id"] != "job-1" {
		test.Fatalf("unexpected payload %+v", received)
	}
}

func TestVerifyTransaction(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != pathVerify+"FIX-1" {
			test.Errorf("unexpected path %s", request.URL.Path)
		}
		writeEnvelope(writer, http.StatusOK, true, "Verification successful", map[string]any{
			"id":        4099260516,
			"status":    "success",
			"reference": "FIX-1",
			"amount":    13000,
		})
	}, nil, 0)

	verification, err := client.VerifyTransaction(context.Background(), mustReference(test, "FIX-1"))
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if !verification.Succeeded() || verification.Amount != 13000 || verification.ProviderReference != "4099260516" {
		test.Fatalf("unexpected verification %+v", verification)
	}
}

func TestCreateRecipientAndTransfer(test *testing.T) {
	test.Parallel()
	var transfer transferPayload
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case pathRecipient:
			writeEnvelope(writer, http.StatusCreated, true, "Transfer recipient created", map[string]any{
				"recipient_code": "RCP_1",
				"name":           "Ada Artisan",
				"details":        map[string]any{"bank_name": "Test Bank", "account_name": "ADA ARTISAN"},
			})
		case pathTransfer:
			body, _ := io.ReadAll(request.Body)
			_ = json.Unmarshal(body, &transfer)
			writeEnvelope(writer, http.StatusOK, true, "Transfer has been queued", map[string]any{
				"transfer_code": "TRF_1",
				"status":        "pending",
			})
		default:
			test.Errorf("unexpected path %s", request.URL.Path)
		}
	}, nil, 0)

	recipient, err := client.CreateRecipient(context.Background(), settlement.RecipientRequest{
		Name:          "Ada Artisan",
		AccountNumber: "0123456789",
		BankCode:      "058",
		Currency:      mustCurrency(test),
	})
	if err != nil {
		test.Fatalf("recipient: %v", err)
	}
	if recipient.RecipientCode != "RCP_1" || recipient.BankName != "Test Bank" || recipient.AccountName != "ADA ARTISAN" {
		test.Fatalf("unexpected recipient %+v", recipient)
	}

	result, err := client.Transfer(context.Background(), settlement.TransferRequest{
		Reference:     mustReference(test, "payout_0123456789abcdef01"),
		RecipientCode: recipient.RecipientCode,
		Amount:        19000,
		Currency:      mustCurrency(test),
		Reason:        "Artisan payout",
	})
	if err != nil {
		test.Fatalf("transfer: %v", err)
	}
	if result.TransferCode != "TRF_1" || transfer.Amount != 19000 || transfer.Source != transferSource || transfer.Recipient != "RCP_1" {
		test.Fatalf("unexpected transfer %+v %+v", result, transfer)
	}
}

func TestNonSuccessResponsesAreRejectedWithoutRetry(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name       string
		statusCode int
		status     bool
		message    string
	}{
		{name: "http error", statusCode: http.StatusBadRequest, status: false, message: "Insufficient balance"},
		{name: "status false", statusCode: http.StatusOK, status: false, message: "Recipient not found"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			var calls atomic.Int32
			client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
				calls.Add(1)
				writeEnvelope(writer, testCase.statusCode, testCase.status, testCase.message, nil)
			}, nil, 2)
			_, err := client.Transfer(context.Background(), settlement.TransferRequest{
				Reference:     mustReference(test, "payout_1"),
				RecipientCode: "RCP_1",
				Amount:        100,
				Currency:      mustCurrency(test),
			})
			if !errors.Is(err, settlement.ErrProviderRejected) {
				test.Fatalf("expected ErrProviderRejected, got %v", err)
			}
			if calls.Load() != 1 {
				test.Fatalf("expected a single call, got %d", calls.Load())
			}
		})
	}
}

func TestTransportFailuresAreRetried(test *testing.T) {
	test.Parallel()
	transport := &flakyTransport{next: http.DefaultTransport}
	transport.failures.Store(2)
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		writeEnvelope(writer, http.StatusOK, true, "ok", map[string]any{"id": 1, "status": "success", "amount": 100})
	}, &http.Client{Transport: transport}, 2)

	if _, err := client.VerifyTransaction(context.Background(), mustReference(test, "FIX-1")); err != nil {
		test.Fatalf("expected success after retries, got %v", err)
	}
	if transport.calls.Load() != 3 {
		test.Fatalf("expected 3 attempts, got %d", transport.calls.Load())
	}
}

func TestTransportFailuresExhaustRetries(test *testing.T) {
	test.Parallel()
	transport := &flakyTransport{next: http.DefaultTransport}
	transport.failures.Store(10)
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		test.Errorf("server must not be reached")
	}, &http.Client{Transport: transport}, 1)

	_, err := client.VerifyTransaction(context.Background(), mustReference(test, "FIX-1"))
	if !errors.Is(err, settlement.ErrProviderUnavailable) {
		test.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if transport.calls.Load() != 2 {
		test.Fatalf("expected 2 attempts, got %d", transport.calls.Load())
	}
}
