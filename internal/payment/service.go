package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/edufund-checkout/internal/common"
	"github.com/noah-isme/edufund-checkout/internal/config"
	"github.com/noah-isme/edufund-checkout/internal/events"
	"github.com/noah-isme/edufund-checkout/internal/obs"
)

// Service coordinates both providers and records telemetry and domain
// events for every provider call.
type Service struct {
	Intents     IntentCreator
	Orders      OrderGateway
	Guard       CaptureGuard
	Events      *events.Bus
	Flags       config.MethodFlags
	Credentials Credentials
}

// Methods returns the eligible method types for currency.
func (s *Service) Methods(currency string) []MethodID {
	return SelectMethods(currency, s.Flags)
}

// CreateIntent opens an intent with the intent provider.
func (s *Service) CreateIntent(ctx context.Context, req DonationRequest) (PaymentIntentRecord, error) {
	if s == nil || s.Intents == nil {
		return PaymentIntentRecord{}, common.ConfigMissing("Stripe is not configured", ErrNotConfigured)
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateIntent")
	defer span.End()

	currency := NormaliseCurrency(req.Currency)
	req.Currency = currency
	start := time.Now()
	result, mode := "error", string(IntentModeLive)
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", ProviderStripe),
			attribute.String("payment.currency", currency),
			attribute.Int64("payment.amount", req.Amount),
			attribute.String("payment.intent.mode", mode),
			attribute.String("payment.intent.result", result),
		)
		obs.ObserveProviderCall(ProviderStripe, "create_intent", time.Since(start))
		obs.Inc(obs.PaymentIntentTotal, currencyLabel(currency), mode, result)
	}()

	rec, err := s.Intents.CreateIntent(ctx, req)
	if err != nil {
		result = resultLabel(err)
		s.fail(ctx, span, err, ProviderStripe, "create_intent")
		return PaymentIntentRecord{}, err
	}
	mode = string(rec.Mode)
	result = "success"
	span.SetAttributes(attribute.String("payment.intent.id", rec.ID))
	s.emit(ctx, events.TopicIntentCreated, rec.ID, map[string]any{
		"amount":   rec.Amount,
		"currency": rec.Currency,
		"methods":  rec.Methods,
		"mode":     rec.Mode,
	})
	return rec, nil
}

// CreateOrder opens an order with the order provider.
func (s *Service) CreateOrder(ctx context.Context, amountMinor int64, currency string) (OrderRecord, error) {
	if s == nil || s.Orders == nil {
		return OrderRecord{}, common.ConfigMissing("PayPal is not configured", ErrNotConfigured)
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateOrder")
	defer span.End()

	currency = NormaliseCurrency(currency)
	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", ProviderPayPal),
			attribute.String("payment.currency", currency),
			attribute.Int64("payment.amount", amountMinor),
			attribute.String("payment.order.result", result),
		)
		obs.ObserveProviderCall(ProviderPayPal, "create_order", time.Since(start))
		obs.Inc(obs.PayPalOrderTotal, currencyLabel(currency), result)
	}()

	order, err := s.Orders.CreateOrder(ctx, amountMinor, currency)
	if err != nil {
		result = resultLabel(err)
		s.fail(ctx, span, err, ProviderPayPal, "create_order")
		return OrderRecord{}, err
	}
	result = "success"
	span.SetAttributes(attribute.String("payment.order.id", order.ID))
	s.emit(ctx, events.TopicOrderCreated, order.ID, map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"status":   order.Status,
	})
	return order, nil
}

// CaptureOrder captures an approved order at most once. replayed is true
// when the stored result of an earlier capture is returned.
func (s *Service) CaptureOrder(ctx context.Context, orderID string) (CaptureResult, bool, error) {
	if s == nil || s.Orders == nil {
		return CaptureResult{}, false, common.ConfigMissing("PayPal is not configured", ErrNotConfigured)
	}
	orderID = strings.TrimSpace(orderID)
	if !orderIDPattern.MatchString(orderID) {
		return CaptureResult{}, false, common.Validation("orderId required")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CaptureOrder",
		trace.WithAttributes(attribute.String("payment.order.id", orderID)))
	defer span.End()

	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("payment.capture.result", result))
		obs.ObserveProviderCall(ProviderPayPal, "capture_order", time.Since(start))
		obs.Inc(obs.PayPalCaptureTotal, result)
	}()

	guard := s.Guard
	if guard == nil {
		guard = passthroughGuard{}
	}
	res, replayed, err := guard.Do(ctx, orderID, func(ctx context.Context) (CaptureResult, error) {
		return s.Orders.CaptureOrder(ctx, orderID)
	})
	if errors.Is(err, ErrCaptureInProgress) {
		result = "in_progress"
		return CaptureResult{}, false, common.NewAppError("CAPTURE_IN_PROGRESS", "capture already in progress for this order", http.StatusConflict, err)
	}
	if err != nil {
		result = resultLabel(err)
		s.fail(ctx, span, err, ProviderPayPal, "capture_order")
		s.emit(ctx, events.TopicCaptureFailed, orderID, map[string]any{"error": publicMessage(err)})
		return CaptureResult{}, false, err
	}
	if replayed {
		result = "replayed"
		return res, true, nil
	}
	result = "success"
	s.emit(ctx, events.TopicOrderCaptured, orderID, map[string]any{
		"status":    res.Status,
		"captureId": res.CaptureID,
	})
	return res, false, nil
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		obs.ReportError(ctx, err, map[string]string{"topic": topic})
	}
}

// fail records err on the span. Provider and system failures are reported;
// donor input errors and provider rejections are not.
func (s *Service) fail(ctx context.Context, span trace.Span, err error, provider, op string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, publicMessage(err))
	appErr, ok := common.AsAppError(err)
	if ok && (appErr.Code == common.CodeValidation || appErr.Code == common.CodeUpstreamRejected) {
		return
	}
	obs.ReportError(ctx, err, map[string]string{"provider": provider, "operation": op})
}

type passthroughGuard struct{}

func (passthroughGuard) Do(ctx context.Context, _ string, capture CaptureFunc) (CaptureResult, bool, error) {
	res, err := capture(ctx)
	return res, false, err
}

func resultLabel(err error) string {
	appErr, ok := common.AsAppError(err)
	if !ok {
		return "error"
	}
	switch appErr.Code {
	case common.CodeValidation:
		return "invalid"
	case common.CodeConfigMissing:
		return "not_configured"
	case common.CodeUpstreamRejected:
		return "rejected"
	case common.CodeUpstreamUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}

func publicMessage(err error) string {
	if appErr, ok := common.AsAppError(err); ok && appErr.Message != "" {
		return appErr.Message
	}
	return "internal error"
}

// currencyLabel keeps metric cardinality bounded.
func currencyLabel(value string) string {
	switch c := strings.TrimSpace(strings.ToLower(value)); c {
	case CurrencyUSD, CurrencyCAD:
		return c
	case "":
		return "unknown"
	default:
		return "other"
	}
}
