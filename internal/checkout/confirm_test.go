package checkout_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edufund-checkout/internal/checkout"
	"github.com/noah-isme/edufund-checkout/internal/payment"
)

func TestStripeConfirmerConfirmsWithPublishableKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/pi_123/confirm", r.URL.Path)
		require.Equal(t, "Bearer pk_test_abc", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "pi_123_secret_xyz", r.PostForm.Get("client_secret"))
		require.Equal(t, "pm_card_visa", r.PostForm.Get("payment_method"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","status":"succeeded"}`))
	}))
	defer srv.Close()

	conf, err := checkout.NewStripeConfirmer("pk_test_abc", srv.URL, srv.Client(), 0).
		Confirm(context.Background(), "pi_123_secret_xyz", "pm_card_visa")
	require.NoError(t, err)
	require.Equal(t, "pi_123", conf.IntentID)
	require.Equal(t, "succeeded", conf.Status)
}

func TestStripeConfirmerDecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer srv.Close()

	_, err := checkout.NewStripeConfirmer("pk_test_abc", srv.URL, srv.Client(), 0).
		Confirm(context.Background(), "pi_123_secret_xyz", "pm_card_chargeDeclined")
	var apiErr *checkout.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusPaymentRequired, apiErr.Status)
	require.Equal(t, "card_declined", apiErr.Code)

	out := checkout.OutcomeFromError(checkout.KindStripe, err)
	require.Equal(t, checkout.FailureDeclined, out.Failure)
	require.Equal(t, "Your card was declined.", out.Message)
}

func TestStripeConfirmerRefusesPlaceholder(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer srv.Close()

	_, err := checkout.NewStripeConfirmer("pk", srv.URL, srv.Client(), 0).
		Confirm(context.Background(), payment.PlaceholderSecretPrefix+"abc", "pm_card_visa")
	require.ErrorIs(t, err, checkout.ErrPlaceholderIntent)
	require.Zero(t, calls.Load())
}

func TestIntentIDFromSecret(t *testing.T) {
	id, ok := checkout.IntentIDFromSecret("pi_3Nabc_secret_def")
	require.True(t, ok)
	require.Equal(t, "pi_3Nabc", id)

	_, ok = checkout.IntentIDFromSecret("garbage")
	require.False(t, ok)
}
