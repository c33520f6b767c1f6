package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts intent creation outcomes for the intent provider.
	PaymentIntentTotal *prometheus.CounterVec
	// PayPalOrderTotal counts order creation outcomes.
	PayPalOrderTotal *prometheus.CounterVec
	// PayPalCaptureTotal counts capture outcomes, including replays served by the guard.
	PayPalCaptureTotal *prometheus.CounterVec
	// ProviderCallDuration observes provider call latency in milliseconds.
	ProviderCallDuration *prometheus.HistogramVec
	// CheckoutOutcomeTotal counts normalised checkout outcomes.
	CheckoutOutcomeTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers checkout Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent creation outcomes.",
		}, []string{"currency", "mode", "result"})
		PayPalOrderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paypal_order_total",
			Help:      "Count of PayPal order creation outcomes.",
		}, []string{"currency", "result"})
		PayPalCaptureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paypal_capture_total",
			Help:      "Count of PayPal capture outcomes.",
		}, []string{"result"})
		ProviderCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_ms",
			Help:      "Latency of payment provider calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		}, []string{"provider", "operation"})
		CheckoutOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_outcome_total",
			Help:      "Count of checkout outcomes by provider and kind.",
		}, []string{"provider", "outcome"})

		registerCounterVec(reg, &PaymentIntentTotal)
		registerCounterVec(reg, &PayPalOrderTotal)
		registerCounterVec(reg, &PayPalCaptureTotal)
		registerCounterVec(reg, &CheckoutOutcomeTotal)
		mustRegisterCollector(reg, ProviderCallDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ProviderCallDuration = v
			}
		})
	})
}

func registerCounterVec(reg prometheus.Registerer, target **prometheus.CounterVec) {
	mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			*target = v
		}
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

// Inc increments vec when domain metrics have been registered.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// ObserveProviderCall records the latency of a provider operation.
func ObserveProviderCall(provider, operation string, d time.Duration) {
	if ProviderCallDuration == nil {
		return
	}
	ProviderCallDuration.WithLabelValues(provider, operation).Observe(DurationMillis(d))
}
