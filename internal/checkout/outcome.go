package checkout

import (
	"errors"
	"net/http"
)

// Kind tags a checkout provider.
type Kind string

const (
	KindStripe Kind = "stripe"
	KindPayPal Kind = "paypal"
)

// OutcomeKind is the normalised result of a checkout attempt.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomePending   OutcomeKind = "pending"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// FailureKind separates provider declines, which carry a message the donor
// can act on, from system failures that only warrant a generic retry.
type FailureKind string

const (
	FailureDeclined FailureKind = "declined"
	FailureSystem   FailureKind = "system"
)

// Donor facing messages.
const (
	MessageSucceeded  = "Payment succeeded."
	MessageProcessing = "Your payment is processing."
	MessageDeclined   = "Payment failed. Please try another method."
	MessageSystem     = "Something went wrong. Please try again."
	MessageTestMode   = "Payments are running in test mode and cannot be completed."
)

// Outcome is what the surrounding UI sees. Provider is kept for telemetry
// only; nothing should branch on it.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Failure   FailureKind `json:"failure,omitempty"`
	Message   string      `json:"message,omitempty"`
	Reference string      `json:"reference,omitempty"`
	Provider  Kind        `json:"provider"`
}

// Succeeded builds a success outcome; ref is the intent or capture id.
func Succeeded(provider Kind, ref string) Outcome {
	return Outcome{Kind: OutcomeSucceeded, Message: MessageSucceeded, Reference: ref, Provider: provider}
}

// Pending builds an outcome for payments the provider is still settling.
func Pending(provider Kind, ref string) Outcome {
	return Outcome{Kind: OutcomePending, Message: MessageProcessing, Reference: ref, Provider: provider}
}

// Declined builds a failure carrying the provider's own message.
func Declined(provider Kind, message string) Outcome {
	if message == "" {
		message = MessageDeclined
	}
	return Outcome{Kind: OutcomeFailed, Failure: FailureDeclined, Message: message, Provider: provider}
}

// SystemFailure builds a failure with the generic retry message.
func SystemFailure(provider Kind) Outcome {
	return Outcome{Kind: OutcomeFailed, Failure: FailureSystem, Message: MessageSystem, Provider: provider}
}

// Cancelled builds an outcome for a buyer cancel. It carries no error.
func Cancelled(provider Kind) Outcome {
	return Outcome{Kind: OutcomeCancelled, Provider: provider}
}

// OutcomeFromIntentStatus maps an intent status, as returned by a confirm
// call or a redirect return, to an outcome.
func OutcomeFromIntentStatus(provider Kind, intentID, status, lastError string) Outcome {
	switch status {
	case "succeeded":
		return Succeeded(provider, intentID)
	case "processing", "requires_capture":
		return Pending(provider, intentID)
	case "requires_payment_method":
		return Declined(provider, lastError)
	case "canceled":
		return Cancelled(provider)
	default:
		return SystemFailure(provider)
	}
}

// OutcomeFromError classifies err. Rejections by the server or a provider
// (4xx) are declines, except a 409 for a capture already running, which
// is pending. Everything else is a system failure.
func OutcomeFromError(provider Kind, err error) Outcome {
	if errors.Is(err, ErrPlaceholderIntent) {
		return Outcome{Kind: OutcomeFailed, Failure: FailureSystem, Message: MessageTestMode, Provider: provider}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		// another capture of the same order is still running
		return Pending(provider, "")
	}
	if errors.As(err, &apiErr) && apiErr.Status >= http.StatusBadRequest &&
		apiErr.Status < http.StatusInternalServerError && apiErr.Status != http.StatusTooManyRequests {
		return Declined(provider, apiErr.Message)
	}
	return SystemFailure(provider)
}
