package events

// Topic constants for checkout domain events.
const (
	TopicIntentCreated     = "payment.intent_created"
	TopicOrderCreated      = "paypal.order_created"
	TopicOrderCaptured     = "paypal.order_captured"
	TopicCaptureFailed     = "paypal.capture_failed"
	TopicDonationSucceeded = "donation.succeeded"
	TopicDonationFailed    = "donation.failed"
	TopicDonationCancelled = "donation.cancelled"
)

// DefaultTopics returns every topic the service emits.
func DefaultTopics() []string {
	return []string{
		TopicIntentCreated,
		TopicOrderCreated,
		TopicOrderCaptured,
		TopicCaptureFailed,
		TopicDonationSucceeded,
		TopicDonationFailed,
		TopicDonationCancelled,
	}
}
