package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/noah-isme/edufund-checkout/internal/payment"
)

// DefaultStripeURL is the Stripe API host used by the confirmer.
const DefaultStripeURL = "https://api.stripe.com"

// ErrPlaceholderIntent is returned when asked to confirm a test mode secret.
var ErrPlaceholderIntent = errors.New("checkout: placeholder intent cannot be confirmed")

// Confirmation is an intent's state after a confirm call.
type Confirmation struct {
	IntentID  string
	Status    string
	LastError string
}

// Confirmer confirms an intent with a collected payment method.
type Confirmer interface {
	Confirm(ctx context.Context, clientSecret, paymentMethod string) (Confirmation, error)
}

// StripeConfirmer confirms intents the way a browser would: with the
// publishable key and the client secret, never the secret key.
type StripeConfirmer struct {
	rc *resty.Client
}

// NewStripeConfirmer builds a confirmer. baseURL defaults to DefaultStripeURL.
func NewStripeConfirmer(publishableKey, baseURL string, httpClient *http.Client, timeout time.Duration) *StripeConfirmer {
	if baseURL == "" {
		baseURL = DefaultStripeURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rc := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(publishableKey)
	return &StripeConfirmer{rc: rc}
}

type stripeIntentBody struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Confirm implements Confirmer. It is never retried.
func (c *StripeConfirmer) Confirm(ctx context.Context, clientSecret, paymentMethod string) (Confirmation, error) {
	if payment.IsPlaceholderSecret(clientSecret) {
		return Confirmation{}, ErrPlaceholderIntent
	}
	id, ok := IntentIDFromSecret(clientSecret)
	if !ok {
		return Confirmation{}, errors.New("checkout: malformed client secret")
	}
	var (
		out     stripeIntentBody
		errBody stripeErrorBody
	)
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetFormData(map[string]string{
			"client_secret":  clientSecret,
			"payment_method": paymentMethod,
		}).
		SetResult(&out).
		SetError(&errBody).
		Post("/v1/payment_intents/{id}/confirm")
	if err != nil {
		return Confirmation{}, fmt.Errorf("stripe confirm: %w", err)
	}
	if resp.IsError() {
		msg := errBody.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return Confirmation{}, &APIError{Status: resp.StatusCode(), Code: errBody.Error.Code, Message: msg}
	}
	conf := Confirmation{IntentID: out.ID, Status: out.Status}
	if out.LastPaymentError != nil {
		conf.LastError = out.LastPaymentError.Message
	}
	return conf, nil
}

// IntentIDFromSecret extracts the intent id from a client secret of the
// form pi_xxx_secret_yyy.
func IntentIDFromSecret(secret string) (string, bool) {
	i := strings.Index(secret, "_secret_")
	if i <= 0 {
		return "", false
	}
	return secret[:i], true
}
