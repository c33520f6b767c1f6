package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/noah-isme/edufund-checkout/internal/common"
	"github.com/noah-isme/edufund-checkout/internal/resilience"
)

const (
	payPalTokenPath   = "/v1/oauth2/token"
	payPalOrdersPath  = "/v2/checkout/orders"
	payPalCapturePath = "/v2/checkout/orders/{id}/capture"
)

var orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// PayPalOrders talks to the PayPal Orders v2 REST API. A bearer token is
// fetched per operation unless token caching is enabled.
type PayPalOrders struct {
	creds      Credentials
	httpClient *http.Client
	timeout    time.Duration
	cacheToken bool
	logger     zerolog.Logger
	now        func() time.Time

	mu     sync.Mutex
	cached AccessToken
}

// PayPalOptions configures NewPayPalOrders.
type PayPalOptions struct {
	Credentials Credentials
	HTTPClient  *http.Client
	Timeout     time.Duration
	CacheToken  bool
	Logger      zerolog.Logger
}

// NewPayPalOrders builds the order/capture service.
func NewPayPalOrders(opts PayPalOptions) *PayPalOrders {
	p := &PayPalOrders{
		creds:      opts.Credentials,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		cacheToken: opts.CacheToken,
		logger:     opts.Logger.With().Str("provider", ProviderPayPal).Logger(),
		now:        time.Now,
	}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}
	if p.timeout <= 0 {
		p.timeout = 15 * time.Second
	}
	return p
}

type payPalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payPalPurchaseUnit struct {
	Amount payPalMoney `json:"amount"`
}

type payPalOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []payPalPurchaseUnit `json:"purchase_units"`
}

type payPalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type payPalOrderResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Links  []payPalLink `json:"links"`
}

type payPalCaptureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// AccessToken exchanges the client credentials for a bearer token. The
// exchange is safe to retry.
func (p *PayPalOrders) AccessToken(ctx context.Context) (AccessToken, error) {
	creds, err := p.creds.PayPal()
	if err != nil {
		return AccessToken{}, common.ConfigMissing("PayPal is not configured", err)
	}
	if p.cacheToken {
		p.mu.Lock()
		cached := p.cached
		p.mu.Unlock()
		if cached.Valid(p.now()) {
			return cached, nil
		}
	}

	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.BaseURL + payPalTokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(resilience.Retryable(ctx), oauth2.HTTPClient, p.httpClient)
	tok, err := cc.Token(tokenCtx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return AccessToken{}, p.upstreamError("PayPal OAuth failed", retrieveErr.Response.StatusCode, retrieveErr.Body, err)
		}
		return AccessToken{}, p.unavailable(ctx, "paypal token", err)
	}
	token := AccessToken{Value: tok.AccessToken, Expiry: tok.Expiry}
	if p.cacheToken {
		p.mu.Lock()
		p.cached = token
		p.mu.Unlock()
	}
	return token, nil
}

// CreateOrder opens a CAPTURE intent order for amountMinor in currency and
// returns the buyer approval link.
func (p *PayPalOrders) CreateOrder(ctx context.Context, amountMinor int64, currency string) (OrderRecord, error) {
	if amountMinor <= 0 {
		return OrderRecord{}, common.Validation(ErrAmountNotMinorUnits.Error())
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token, err := p.AccessToken(ctx)
	if err != nil {
		return OrderRecord{}, err
	}
	body := payPalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []payPalPurchaseUnit{{
			Amount: payPalMoney{
				CurrencyCode: strings.ToUpper(NormaliseCurrency(currency)),
				Value:        MinorToMajor(amountMinor),
			},
		}},
	}

	var out payPalOrderResponse
	resp, err := p.rest(token).R().
		SetContext(resilience.Retryable(ctx)).
		// one request id per order makes retried creations idempotent upstream
		SetHeader("PayPal-Request-Id", uuid.NewString()).
		SetBody(body).
		SetResult(&out).
		Post(payPalOrdersPath)
	if err != nil {
		return OrderRecord{}, p.unavailable(ctx, "paypal create order", err)
	}
	if resp.IsError() {
		return OrderRecord{}, p.upstreamError("PayPal create order failed", resp.StatusCode(), resp.Body(), nil)
	}

	order := OrderRecord{ID: out.ID, Status: OrderStatus(out.Status)}
	for _, link := range out.Links {
		if link.Rel == "approve" {
			order.ApproveURL = link.Href
			break
		}
	}
	if order.Status == "" {
		order.Status = OrderStatusCreated
	}
	return order, nil
}

// CaptureOrder captures an approved order with a fresh token. It is never
// retried; any non-2xx answer is returned as an error carrying the provider
// body.
func (p *PayPalOrders) CaptureOrder(ctx context.Context, orderID string) (CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if !orderIDPattern.MatchString(orderID) {
		return CaptureResult{}, common.Validation("orderId required")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token, err := p.AccessToken(ctx)
	if err != nil {
		return CaptureResult{}, err
	}
	resp, err := p.rest(token).R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetPathParam("id", orderID).
		Post(payPalCapturePath)
	if err != nil {
		return CaptureResult{}, p.unavailable(ctx, "paypal capture", err)
	}
	if resp.IsError() {
		return CaptureResult{}, p.upstreamError("PayPal capture failed", resp.StatusCode(), resp.Body(), nil)
	}

	var parsed payPalCaptureResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return CaptureResult{}, p.unavailable(ctx, "paypal capture decode", err)
	}
	result := CaptureResult{
		OrderID: orderID,
		Status:  parsed.Status,
		Raw:     json.RawMessage(append([]byte(nil), resp.Body()...)),
	}
	for _, unit := range parsed.PurchaseUnits {
		if len(unit.Payments.Captures) > 0 {
			result.CaptureID = unit.Payments.Captures[0].ID
			break
		}
	}
	return result, nil
}

func (p *PayPalOrders) rest(token AccessToken) *resty.Client {
	creds, _ := p.creds.PayPal()
	return resty.NewWithClient(p.httpClient).
		SetBaseURL(creds.BaseURL).
		SetAuthToken(token.Value).
		SetHeader("Accept", "application/json")
}

// upstreamError keeps the provider status and body. 4xx answers pass their
// status through; 5xx answers become 502.
func (p *PayPalOrders) upstreamError(prefix string, status int, body []byte, cause error) error {
	text := strings.TrimSpace(string(body))
	p.logger.Warn().Int("status", status).Int("body_bytes", len(body)).Msg(prefix)
	msg := fmt.Sprintf("%s: %d %s", prefix, status, text)
	if cause == nil {
		cause = errors.New(msg)
	}
	var details any = text
	if json.Valid(body) {
		details = json.RawMessage(append([]byte(nil), body...))
	}
	if status >= http.StatusInternalServerError {
		return common.UpstreamUnavailable(msg, http.StatusBadGateway, cause).WithDetails(details)
	}
	return common.UpstreamRejected(msg, status, cause).WithDetails(details)
}

func (p *PayPalOrders) unavailable(ctx context.Context, op string, err error) error {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	p.logger.Error().Err(err).Str("op", op).Msg("paypal_unreachable")
	return common.UpstreamUnavailable("payment provider unavailable, please try again", status, fmt.Errorf("%s: %w", op, err))
}
