package payment

import (
	"encoding/json"
	"strings"
	"time"
)

// MethodID names a payment method type accepted by the intent provider.
type MethodID string

const (
	MethodCard          MethodID = "card"
	MethodLink          MethodID = "link"
	MethodKlarna        MethodID = "klarna"
	MethodUSBankAccount MethodID = "us_bank_account"
	MethodACSSDebit     MethodID = "acss_debit"
)

// Supported donation currencies. Others are accepted by the intent provider
// with a narrowed method set.
const (
	CurrencyUSD = "usd"
	CurrencyCAD = "cad"

	DefaultCurrency = CurrencyUSD
)

// DonationRequest is a donation amount in minor units of Currency.
type DonationRequest struct {
	Amount    int64
	Currency  string
	CoverFees bool
	Metadata  map[string]string
}

// IntentMode distinguishes real intents from the degraded placeholder.
type IntentMode string

const (
	IntentModeLive            IntentMode = "live"
	IntentModeTestPlaceholder IntentMode = "test_placeholder"
)

// PlaceholderSecretPrefix tags client secrets that can never be confirmed.
const PlaceholderSecretPrefix = "placeholder_test_secret_"

// IsPlaceholderSecret reports whether secret was issued in degraded mode.
func IsPlaceholderSecret(secret string) bool {
	return strings.HasPrefix(secret, PlaceholderSecretPrefix)
}

// PaymentIntentRecord is the server side view of an intent. It is immutable
// once created; a changed amount or currency requires a new intent.
type PaymentIntentRecord struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Methods      []MethodID
	Mode         IntentMode
	Status       string
}

// OrderStatus mirrors the order provider's order lifecycle.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusApproved  OrderStatus = "APPROVED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusVoided    OrderStatus = "VOIDED"
)

// OrderRecord is an order awaiting buyer approval.
type OrderRecord struct {
	ID         string
	ApproveURL string
	Status     OrderStatus
}

// CaptureResult is the outcome of capturing an approved order. Raw keeps the
// provider response as received.
type CaptureResult struct {
	OrderID   string          `json:"orderId"`
	Status    string          `json:"status"`
	CaptureID string          `json:"captureId,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// AccessToken is a bearer token for the order provider. Server only.
type AccessToken struct {
	Value  string
	Expiry time.Time
}

// Valid reports whether the token can still be used, keeping a safety margin
// before expiry.
func (t AccessToken) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return now.Add(30 * time.Second).Before(t.Expiry)
}

// NormaliseCurrency lowercases and trims a currency code, defaulting to usd.
func NormaliseCurrency(currency string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return DefaultCurrency
	}
	return c
}
