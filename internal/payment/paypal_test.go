package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edufund-checkout/internal/common"
	"github.com/noah-isme/edufund-checkout/internal/config"
	"github.com/noah-isme/edufund-checkout/internal/payment"
)

type fakePayPal struct {
	srv          *httptest.Server
	tokenCalls   atomic.Int32
	orderCalls   atomic.Int32
	captureCalls atomic.Int32

	tokenStatus   int
	orderStatus   int
	captureStatus int
	captureBody   string
	lastOrder     atomic.Value
	requestIDs    atomic.Value
}

func newFakePayPal(t *testing.T) *fakePayPal {
	t.Helper()
	f := &fakePayPal{
		tokenStatus:   http.StatusOK,
		orderStatus:   http.StatusCreated,
		captureStatus: http.StatusCreated,
		captureBody:   `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-9","status":"COMPLETED"}]}}]}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if f.tokenStatus != http.StatusOK {
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Client Authentication failed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"A21-token","token_type":"Bearer","expires_in":32400}`))
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		f.orderCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer A21-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.requestIDs.Store(r.Header.Get("PayPal-Request-Id"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastOrder.Store(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.orderStatus)
		if f.orderStatus >= 400 {
			_, _ = w.Write([]byte(`{"name":"INVALID_REQUEST","message":"Request is not well-formed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"CREATED","links":[{"href":"https://example.test/self","rel":"self"},{"href":"https://example.test/approve?token=ORDER-1","rel":"approve"}]}`))
	})
	mux.HandleFunc("/v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		f.captureCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer A21-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.captureStatus)
		_, _ = w.Write([]byte(f.captureBody))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePayPal) config() *config.Config {
	return &config.Config{PayPal: config.PayPalConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Env:          config.PayPalEnvSandbox,
		BaseURL:      f.srv.URL,
	}}
}

func (f *fakePayPal) orders(cacheToken bool) *payment.PayPalOrders {
	return payment.NewPayPalOrders(payment.PayPalOptions{
		Credentials: payment.NewCredentials(f.config()),
		HTTPClient:  f.srv.Client(),
		Timeout:     2 * time.Second,
		CacheToken:  cacheToken,
		Logger:      zerolog.Nop(),
	})
}

func TestPayPalAccessToken(t *testing.T) {
	f := newFakePayPal(t)
	tok, err := f.orders(false).AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A21-token", tok.Value)
	require.True(t, tok.Valid(time.Now()))
}

func TestPayPalTokenFailureCarriesStatusAndBody(t *testing.T) {
	f := newFakePayPal(t)
	f.tokenStatus = http.StatusForbidden

	_, err := f.orders(false).AccessToken(context.Background())
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, common.CodeUpstreamRejected, appErr.Code)
	require.Equal(t, http.StatusForbidden, appErr.HTTPStatus)
	require.Contains(t, appErr.Message, "PayPal OAuth failed: 403")
	require.Contains(t, appErr.Message, "Client Authentication failed")
}

func TestPayPalTokenCaching(t *testing.T) {
	f := newFakePayPal(t)
	orders := f.orders(true)
	for i := 0; i < 3; i++ {
		_, err := orders.AccessToken(context.Background())
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, f.tokenCalls.Load())

	uncached := f.orders(false)
	for i := 0; i < 2; i++ {
		_, err := uncached.AccessToken(context.Background())
		require.NoError(t, err)
	}
	require.EqualValues(t, 3, f.tokenCalls.Load())
}

func TestPayPalCreateOrder(t *testing.T) {
	f := newFakePayPal(t)
	order, err := f.orders(false).CreateOrder(context.Background(), 1999, "")
	require.NoError(t, err)
	require.Equal(t, "ORDER-1", order.ID)
	require.Equal(t, "https://example.test/approve?token=ORDER-1", order.ApproveURL)
	require.Equal(t, payment.OrderStatusCreated, order.Status)

	body := f.lastOrder.Load().(map[string]any)
	require.Equal(t, "CAPTURE", body["intent"])
	units := body["purchase_units"].([]any)
	amount := units[0].(map[string]any)["amount"].(map[string]any)
	require.Equal(t, "USD", amount["currency_code"])
	require.Equal(t, "19.99", amount["value"])
	require.NotEmpty(t, f.requestIDs.Load())
}

func TestPayPalCreateOrderCurrencyUppercased(t *testing.T) {
	f := newFakePayPal(t)
	_, err := f.orders(false).CreateOrder(context.Background(), 100000, "cad")
	require.NoError(t, err)
	amount := f.lastOrder.Load().(map[string]any)["purchase_units"].([]any)[0].(map[string]any)["amount"].(map[string]any)
	require.Equal(t, "CAD", amount["currency_code"])
	require.Equal(t, "1000.00", amount["value"])
}

func TestPayPalCreateOrderRejected(t *testing.T) {
	f := newFakePayPal(t)
	f.orderStatus = http.StatusUnprocessableEntity

	_, err := f.orders(false).CreateOrder(context.Background(), 100, "usd")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, common.CodeUpstreamRejected, appErr.Code)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	require.JSONEq(t, `{"name":"INVALID_REQUEST","message":"Request is not well-formed"}`, string(appErr.Details.(json.RawMessage)))
}

func TestPayPalCaptureOrder(t *testing.T) {
	f := newFakePayPal(t)
	res, err := f.orders(false).CaptureOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", res.Status)
	require.Equal(t, "CAP-9", res.CaptureID)
	require.JSONEq(t, f.captureBody, string(res.Raw))
	require.EqualValues(t, 1, f.captureCalls.Load())
}

func TestPayPalCaptureFailureIsNeverSuccess(t *testing.T) {
	f := newFakePayPal(t)
	f.captureStatus = http.StatusUnprocessableEntity
	f.captureBody = `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED"}]}`

	_, err := f.orders(false).CaptureOrder(context.Background(), "ORDER-1")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	require.Contains(t, appErr.Message, "INSTRUMENT_DECLINED")
}

func TestPayPalCaptureServerErrorNotRetried(t *testing.T) {
	f := newFakePayPal(t)
	f.captureStatus = http.StatusInternalServerError
	f.captureBody = `{"name":"INTERNAL_SERVER_ERROR"}`

	_, err := f.orders(false).CaptureOrder(context.Background(), "ORDER-1")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, common.CodeUpstreamUnavailable, appErr.Code)
	require.Equal(t, http.StatusBadGateway, appErr.HTTPStatus)
	require.EqualValues(t, 1, f.captureCalls.Load())
}

func TestPayPalCaptureValidatesOrderID(t *testing.T) {
	f := newFakePayPal(t)
	_, err := f.orders(false).CaptureOrder(context.Background(), "../../v1/oauth2")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, common.CodeValidation, appErr.Code)
	require.Zero(t, f.captureCalls.Load())
}

func TestPayPalNotConfigured(t *testing.T) {
	orders := payment.NewPayPalOrders(payment.PayPalOptions{Credentials: payment.NewCredentials(&config.Config{PayPal: config.PayPalConfig{ClientID: "id"}})})
	_, err := orders.CreateOrder(context.Background(), 100, "usd")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, common.CodeConfigMissing, appErr.Code)
	require.Contains(t, err.Error(), "PAYPAL_CLIENT_SECRET")
}
