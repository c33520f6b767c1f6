package payment

import "context"

// Provider names used in metrics, events and configuration status.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

// IntentCreator opens payment intents with the intent-style provider. It
// never moves money; the client confirms the intent.
type IntentCreator interface {
	CreateIntent(ctx context.Context, req DonationRequest) (PaymentIntentRecord, error)
}

// OrderGateway is the order/capture-style provider: an order is created,
// approved by the buyer off-site, then captured.
type OrderGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency string) (OrderRecord, error)
	CaptureOrder(ctx context.Context, orderID string) (CaptureResult, error)
}
