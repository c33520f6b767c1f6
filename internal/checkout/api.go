package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// APIError is a non-2xx answer from the checkout API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("checkout api: %d %s: %s", e.Status, e.Code, e.Message)
}

type errorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

// IntentResponse is the answer to an intent request.
type IntentResponse struct {
	ClientSecret string   `json:"clientSecret"`
	Methods      []string `json:"methods"`
	TestMode     bool     `json:"testMode"`
}

// OrderResponse is the answer to an order request.
type OrderResponse struct {
	ID         string `json:"id"`
	ApproveURL string `json:"approveUrl"`
}

// CaptureResponse is the answer to a capture request.
type CaptureResponse struct {
	Status    string `json:"status"`
	CaptureID string `json:"captureId"`
	Replayed  bool   `json:"replayed"`
}

// ConfigResponse carries the public checkout configuration.
type ConfigResponse struct {
	Currency      string   `json:"currency"`
	Methods       []string `json:"methods"`
	DisplayOrder  []string `json:"displayOrder"`
	WalletCountry string   `json:"walletCountry"`
	Presets       []int64  `json:"presets"`
	Stripe        struct {
		PublishableKey string `json:"publishableKey"`
		Configured     bool   `json:"configured"`
	} `json:"stripe"`
	PayPal struct {
		ClientID   string `json:"clientId"`
		Env        string `json:"env"`
		Configured bool   `json:"configured"`
	} `json:"paypal"`
}

// APIClient calls the checkout API. Calls are never retried.
type APIClient struct {
	rc *resty.Client
}

// NewAPIClient builds a client for baseURL, e.g. http://localhost:8080/api/v1.
func NewAPIClient(baseURL string, httpClient *http.Client, timeout time.Duration) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rc := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &APIClient{rc: rc}
}

// CreateIntent asks for an intent for amountMinor of currency.
func (c *APIClient) CreateIntent(ctx context.Context, amountMinor int64, currency string) (IntentResponse, error) {
	var out IntentResponse
	err := c.post(ctx, "/stripe/intent", map[string]any{"amount": amountMinor, "currency": currency}, &out)
	return out, err
}

// CreateOrder asks for an order for amountMinor of currency.
func (c *APIClient) CreateOrder(ctx context.Context, amountMinor int64, currency string) (OrderResponse, error) {
	var out OrderResponse
	err := c.post(ctx, "/paypal/order", map[string]any{"amount": amountMinor, "currency": currency}, &out)
	return out, err
}

// CaptureOrder captures an approved order.
func (c *APIClient) CaptureOrder(ctx context.Context, orderID string) (CaptureResponse, error) {
	var out CaptureResponse
	err := c.post(ctx, "/paypal/capture", map[string]any{"orderId": orderID}, &out)
	return out, err
}

// Config fetches the public checkout configuration for currency.
func (c *APIClient) Config(ctx context.Context, currency string) (ConfigResponse, error) {
	var (
		out     ConfigResponse
		errBody errorBody
	)
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("currency", currency).
		SetResult(&out).
		SetError(&errBody).
		Get("/checkout/config")
	if err != nil {
		return out, fmt.Errorf("checkout api config: %w", err)
	}
	if resp.IsError() {
		return out, toAPIError(resp, errBody)
	}
	return out, nil
}

func (c *APIClient) post(ctx context.Context, path string, body, out any) error {
	var errBody errorBody
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetBody(body).
		SetResult(out).
		SetError(&errBody).
		Post(path)
	if err != nil {
		return fmt.Errorf("checkout api %s: %w", path, err)
	}
	if resp.IsError() {
		return toAPIError(resp, errBody)
	}
	return nil
}

func toAPIError(resp *resty.Response, body errorBody) *APIError {
	msg := body.Error
	if msg == "" {
		msg = strings.TrimSpace(string(resp.Body()))
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &APIError{Status: resp.StatusCode(), Code: body.Code, Message: msg, Details: body.Details}
}
