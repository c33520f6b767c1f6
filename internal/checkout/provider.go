package checkout

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/edufund-checkout/internal/payment"
)

// Donation is the donor's choice in major units. It is converted to minor
// units only when a provider session is opened.
type Donation struct {
	Amount    decimal.Decimal
	Currency  string
	CoverFees bool
}

// MinorTotal is the amount charged, fee included when covered, in minor units.
func (d Donation) MinorTotal() int64 {
	return payment.ToMinorUnits(payment.ComputeTotal(d.Amount, d.CoverFees).Total)
}

// NormalisedCurrency returns the lowercase currency, defaulting to usd.
func (d Donation) NormalisedCurrency() string {
	return payment.NormaliseCurrency(d.Currency)
}

// Session is one provider attempt. Intent fields are set by the Stripe
// provider, order fields by the PayPal provider.
type Session struct {
	Provider Kind

	ClientSecret string
	Methods      []string
	TestMode     bool

	OrderID    string
	ApproveURL string

	// PaymentMethod is set once the donor has picked a method or a wallet
	// produced one.
	PaymentMethod string
}

// Provider is the checkout capability each payment provider implements.
// Begin opens a session; AwaitOutcome completes an authorised session and
// is called at most once per session.
type Provider interface {
	Kind() Kind
	Begin(ctx context.Context, d Donation) (Session, error)
	AwaitOutcome(ctx context.Context, s Session) Outcome
}

// IntentAPI is the part of the checkout API used by StripeProvider.
type IntentAPI interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (IntentResponse, error)
}

// OrderAPI is the part of the checkout API used by PayPalProvider.
type OrderAPI interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency string) (OrderResponse, error)
	CaptureOrder(ctx context.Context, orderID string) (CaptureResponse, error)
}

// StripeProvider opens intents through the API and confirms them with the
// donor's payment method.
type StripeProvider struct {
	API       IntentAPI
	Confirmer Confirmer
}

func (p StripeProvider) Kind() Kind { return KindStripe }

// Begin requests a fresh intent for d.
func (p StripeProvider) Begin(ctx context.Context, d Donation) (Session, error) {
	resp, err := p.API.CreateIntent(ctx, d.MinorTotal(), d.NormalisedCurrency())
	if err != nil {
		return Session{}, err
	}
	return Session{
		Provider:     KindStripe,
		ClientSecret: resp.ClientSecret,
		Methods:      resp.Methods,
		TestMode:     resp.TestMode,
	}, nil
}

// AwaitOutcome confirms the intent with s.PaymentMethod.
func (p StripeProvider) AwaitOutcome(ctx context.Context, s Session) Outcome {
	if s.PaymentMethod == "" || p.Confirmer == nil {
		return SystemFailure(KindStripe)
	}
	conf, err := p.Confirmer.Confirm(ctx, s.ClientSecret, s.PaymentMethod)
	if err != nil {
		return OutcomeFromError(KindStripe, err)
	}
	return OutcomeFromIntentStatus(KindStripe, conf.IntentID, conf.Status, conf.LastError)
}

// PayPalProvider creates orders and captures them after buyer approval.
type PayPalProvider struct {
	API OrderAPI
}

func (p PayPalProvider) Kind() Kind { return KindPayPal }

// Begin creates an order for d.
func (p PayPalProvider) Begin(ctx context.Context, d Donation) (Session, error) {
	resp, err := p.API.CreateOrder(ctx, d.MinorTotal(), d.NormalisedCurrency())
	if err != nil {
		return Session{}, err
	}
	return Session{Provider: KindPayPal, OrderID: resp.ID, ApproveURL: resp.ApproveURL}, nil
}

// AwaitOutcome captures the approved order. Only a COMPLETED capture is a
// success.
func (p PayPalProvider) AwaitOutcome(ctx context.Context, s Session) Outcome {
	res, err := p.API.CaptureOrder(ctx, s.OrderID)
	if err != nil {
		return OutcomeFromError(KindPayPal, err)
	}
	if res.Status != string(payment.OrderStatusCompleted) {
		return Declined(KindPayPal, "")
	}
	ref := res.CaptureID
	if ref == "" {
		ref = s.OrderID
	}
	return Succeeded(KindPayPal, ref)
}
