package payment_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edufund-checkout/internal/config"
	"github.com/noah-isme/edufund-checkout/internal/events"
	"github.com/noah-isme/edufund-checkout/internal/payment"
)

type apiFixture struct {
	e        *httpexpect.Expect
	paypal   *fakePayPal
	bus      *events.Bus
	captured atomic.Int32
}

func newAPI(t *testing.T, cfg *config.Config, withStripe bool) *apiFixture {
	t.Helper()
	fx := &apiFixture{paypal: newFakePayPal(t), bus: events.NewBus()}
	if withStripe {
		stripeSrv := fakeStripe(t, func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"pi_e2e","client_secret":"pi_e2e_secret_xyz","amount":` + r.PostForm.Get("amount") + `,"currency":"` + r.PostForm.Get("currency") + `","status":"requires_payment_method"}`))
		})
		cfg.Stripe.SecretKey = "sk_test_e2e"
		cfg.Stripe.PublishableKey = "pk_test_e2e"
		cfg.Stripe.BaseURL = stripeSrv.URL
	}
	if cfg.PayPal.ClientID == "" {
		cfg.PayPal = fx.paypal.config().PayPal
	}
	require.NoError(t, fx.bus.Subscribe(events.TopicOrderCaptured, func(events.Event) { fx.captured.Add(1) }))

	creds := payment.NewCredentials(cfg)
	svc := &payment.Service{
		Intents: payment.NewStripeIntents(payment.StripeOptions{
			Credentials: creds,
			Flags:       cfg.Flags,
			Placeholder: cfg.Stripe.PlaceholderEnabled,
			Logger:      zerolog.Nop(),
		}),
		Orders: payment.NewPayPalOrders(payment.PayPalOptions{
			Credentials: creds,
			HTTPClient:  fx.paypal.srv.Client(),
			Timeout:     2 * time.Second,
			Logger:      zerolog.Nop(),
		}),
		Guard:       payment.NewMemoryCaptureGuard(time.Hour),
		Events:      fx.bus,
		Flags:       cfg.Flags,
		Credentials: creds,
	}
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		payment.NewHandler(svc, creds, cfg.PayPal.Env).Routes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	fx.e = httpexpect.Default(t, srv.URL)
	return fx
}

func TestStripeIntentEndToEnd(t *testing.T) {
	cfg := &config.Config{Flags: config.MethodFlags{Link: true, Klarna: true, ACH: true}}
	fx := newAPI(t, cfg, true)

	obj := fx.e.POST("/api/v1/stripe/intent").
		WithJSON(map[string]any{"amount": 5000, "currency": "usd"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.Value("clientSecret").String().IsEqual("pi_e2e_secret_xyz")
	obj.Value("methods").Array().IsEqual([]string{"card", "link", "klarna", "us_bank_account"})
	obj.NotContainsKey("testMode")
}

func TestStripeIntentRejectsFractionalAmount(t *testing.T) {
	fx := newAPI(t, &config.Config{}, true)

	obj := fx.e.POST("/api/v1/stripe/intent").
		WithJSON(map[string]any{"amount": 19.99, "currency": "usd"}).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object()
	obj.Value("error").String().IsEqual(payment.ErrAmountNotMinorUnits.Error())
	obj.Value("code").String().IsEqual("VALIDATION")
}

func TestStripeIntentNotConfigured(t *testing.T) {
	fx := newAPI(t, &config.Config{}, false)

	fx.e.POST("/api/v1/stripe/intent").
		WithJSON(map[string]any{"amount": 1000}).
		Expect().
		Status(http.StatusServiceUnavailable).
		JSON().Object().
		Value("code").String().IsEqual("CONFIG_MISSING")
}

func TestStripeIntentPlaceholderMode(t *testing.T) {
	cfg := &config.Config{Stripe: config.StripeConfig{PlaceholderEnabled: true}}
	fx := newAPI(t, cfg, false)

	obj := fx.e.POST("/api/v1/stripe/intent").
		WithJSON(map[string]any{"amount": 1000, "currency": "cad"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.Value("testMode").Boolean().IsTrue()
	obj.Value("clientSecret").String().HasPrefix(payment.PlaceholderSecretPrefix)
}

func TestPayPalOrderAndCaptureEndToEnd(t *testing.T) {
	fx := newAPI(t, &config.Config{}, false)

	order := fx.e.POST("/api/v1/paypal/order").
		WithJSON(map[string]any{"amount": 2500, "currency": "usd"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	order.Value("id").String().IsEqual("ORDER-1")
	order.Value("approveUrl").String().NotEmpty()

	first := fx.e.POST("/api/v1/paypal/capture").
		WithJSON(map[string]any{"orderId": "ORDER-1"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	first.Value("status").String().IsEqual("COMPLETED")
	first.Value("captureId").String().IsEqual("CAP-9")
	first.NotContainsKey("replayed")

	fx.e.POST("/api/v1/paypal/capture").
		WithJSON(map[string]any{"orderId": "ORDER-1"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("replayed").Boolean().IsTrue()

	require.EqualValues(t, 1, fx.paypal.captureCalls.Load())
	require.EqualValues(t, 1, fx.captured.Load())
}

func TestPayPalOrderRequiresAmount(t *testing.T) {
	fx := newAPI(t, &config.Config{}, false)

	fx.e.POST("/api/v1/paypal/order").
		WithJSON(map[string]any{"currency": "usd"}).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().
		Value("error").String().IsEqual("amount required")
	require.Zero(t, fx.paypal.orderCalls.Load())
}

func TestPayPalCaptureRequiresOrderID(t *testing.T) {
	fx := newAPI(t, &config.Config{}, false)

	fx.e.POST("/api/v1/paypal/capture").
		WithJSON(map[string]any{}).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().
		Value("error").String().IsEqual("orderId required")
}

func TestPayPalCaptureDeclinePassesProviderBody(t *testing.T) {
	fx := newAPI(t, &config.Config{}, false)
	fx.paypal.captureStatus = http.StatusUnprocessableEntity
	fx.paypal.captureBody = `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED"}]}`

	obj := fx.e.POST("/api/v1/paypal/capture").
		WithJSON(map[string]any{"orderId": "ORDER-1"}).
		Expect().
		Status(http.StatusUnprocessableEntity).
		JSON().Object()
	obj.Value("code").String().IsEqual("UPSTREAM_REJECTED")
	obj.Value("details").Object().Value("name").String().IsEqual("UNPROCESSABLE_ENTITY")
	require.Zero(t, fx.captured.Load())
}

func TestCheckoutQuote(t *testing.T) {
	fx := newAPI(t, &config.Config{}, false)

	obj := fx.e.POST("/api/v1/checkout/quote").
		WithJSON(map[string]any{"amount": "100.00", "coverFees": true}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.Value("fee").String().IsEqual("3.20")
	obj.Value("total").String().IsEqual("103.20")
	obj.Value("totalMinor").Number().IsEqual(10320)

	fx.e.POST("/api/v1/checkout/quote").
		WithJSON(map[string]any{"amount": "-1"}).
		Expect().
		Status(http.StatusBadRequest)
}

func TestCheckoutConfig(t *testing.T) {
	cfg := &config.Config{Flags: config.MethodFlags{Link: true, ACSS: true}}
	fx := newAPI(t, cfg, true)

	obj := fx.e.GET("/api/v1/checkout/config").
		WithQuery("currency", "cad").
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.Value("currency").String().IsEqual("cad")
	obj.Value("methods").Array().IsEqual([]string{"card", "link", "acss_debit"})
	obj.Value("displayOrder").Array().IsEqual([]string{"google_pay", "apple_pay", "link", "acss_debit", "card"})
	obj.Value("walletCountry").String().IsEqual("CA")
	obj.Value("stripe").Object().Value("publishableKey").String().IsEqual("pk_test_e2e")
	obj.Value("paypal").Object().Value("clientId").String().IsEqual("client-id")
	obj.Value("paypal").Object().Value("configured").Boolean().IsTrue()
	obj.NotContainsKey("secretKey")
}
