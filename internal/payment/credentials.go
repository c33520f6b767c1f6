package payment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/edufund-checkout/internal/config"
)

// ErrNotConfigured is wrapped by credential errors for unconfigured providers.
var ErrNotConfigured = errors.New("payment: provider not configured")

// StripeCredentials are the intent provider keys.
type StripeCredentials struct {
	SecretKey      string
	PublishableKey string
	BaseURL        string
}

// PayPalCredentials are the order provider client credentials.
type PayPalCredentials struct {
	ClientID     string
	ClientSecret string
	Env          string
	BaseURL      string
}

// Credentials resolves provider credentials from configuration loaded once
// at startup. Missing values surface per request, never at boot.
type Credentials struct {
	cfg *config.Config
}

// NewCredentials wraps cfg.
func NewCredentials(cfg *config.Config) Credentials {
	return Credentials{cfg: cfg}
}

// Stripe returns the intent provider credentials or an error naming the
// missing variable.
func (c Credentials) Stripe() (StripeCredentials, error) {
	if c.cfg == nil || c.cfg.Stripe.SecretKey == "" {
		return StripeCredentials{}, fmt.Errorf("%w: missing STRIPE_SECRET_KEY", ErrNotConfigured)
	}
	return StripeCredentials{
		SecretKey:      c.cfg.Stripe.SecretKey,
		PublishableKey: c.cfg.Stripe.PublishableKey,
		BaseURL:        c.cfg.Stripe.BaseURL,
	}, nil
}

// PayPal returns the order provider credentials or an error naming every
// missing variable.
func (c Credentials) PayPal() (PayPalCredentials, error) {
	if c.cfg == nil {
		return PayPalCredentials{}, fmt.Errorf("%w: missing PAYPAL_CLIENT_ID or PAYPAL_CLIENT_SECRET", ErrNotConfigured)
	}
	var missing []string
	if c.cfg.PayPal.ClientID == "" {
		missing = append(missing, "PAYPAL_CLIENT_ID")
	}
	if c.cfg.PayPal.ClientSecret == "" {
		missing = append(missing, "PAYPAL_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return PayPalCredentials{}, fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, " and "))
	}
	return PayPalCredentials{
		ClientID:     c.cfg.PayPal.ClientID,
		ClientSecret: c.cfg.PayPal.ClientSecret,
		Env:          c.cfg.PayPal.Env,
		BaseURL:      c.cfg.PayPalBaseURL(),
	}, nil
}

// Status reports which providers are configured, keyed by provider name.
func (c Credentials) Status() map[string]bool {
	_, stripeErr := c.Stripe()
	_, paypalErr := c.PayPal()
	return map[string]bool{
		ProviderStripe: stripeErr == nil,
		ProviderPayPal: paypalErr == nil,
	}
}
