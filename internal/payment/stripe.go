package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/noah-isme/edufund-checkout/internal/common"
	"github.com/noah-isme/edufund-checkout/internal/config"
)

// StripeIntents creates payment intents through the Stripe API. The API
// client is built once from explicit configuration; no package level key
// is ever set.
type StripeIntents struct {
	api         *client.API
	credErr     error
	flags       config.MethodFlags
	placeholder bool
	timeout     time.Duration
	logger      zerolog.Logger
}

// StripeOptions configures NewStripeIntents.
type StripeOptions struct {
	Credentials Credentials
	Flags       config.MethodFlags
	Placeholder bool
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// NewStripeIntents builds the intent service. Missing credentials are kept
// and reported on each CreateIntent call.
func NewStripeIntents(opts StripeOptions) *StripeIntents {
	s := &StripeIntents{
		flags:       opts.Flags,
		placeholder: opts.Placeholder,
		timeout:     opts.Timeout,
		logger:      opts.Logger.With().Str("provider", ProviderStripe).Logger(),
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}
	creds, err := opts.Credentials.Stripe()
	if err != nil {
		s.credErr = err
		return s
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        opts.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     stripeLogger{l: s.logger},
	}
	if creds.BaseURL != "" {
		backendCfg.URL = stripe.String(creds.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	s.api = &client.API{}
	s.api.Init(creds.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return s
}

// CreateIntent opens an intent for exactly the methods eligible for the
// request currency. Intent creation is never retried.
func (s *StripeIntents) CreateIntent(ctx context.Context, req DonationRequest) (PaymentIntentRecord, error) {
	if req.Amount <= 0 {
		return PaymentIntentRecord{}, common.Validation(ErrAmountNotMinorUnits.Error())
	}
	currency := NormaliseCurrency(req.Currency)
	methods := SelectMethods(currency, s.flags)

	if s.api == nil {
		if s.placeholder {
			s.logger.Warn().Str("currency", currency).Msg("stripe_not_configured_placeholder_intent")
			return placeholderIntent(req.Amount, currency, methods), nil
		}
		return PaymentIntentRecord{}, common.ConfigMissing("Stripe is not configured", s.credErr)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice(methodStrings(methods)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(false),
		},
		PaymentMethodOptions: &stripe.PaymentIntentPaymentMethodOptionsParams{
			USBankAccount: &stripe.PaymentIntentPaymentMethodOptionsUSBankAccountParams{
				VerificationMethod: stripe.String("automatic"),
			},
			ACSSDebit: &stripe.PaymentIntentPaymentMethodOptionsACSSDebitParams{
				MandateOptions: &stripe.PaymentIntentPaymentMethodOptionsACSSDebitMandateOptionsParams{
					PaymentSchedule: stripe.String("sporadic"),
					TransactionType: stripe.String("personal"),
				},
			},
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s.logger.Debug().Int64("amount", req.Amount).Str("currency", currency).Strs("types", methodStrings(methods)).Msg("stripe_intent_create")
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return PaymentIntentRecord{}, s.mapError(ctx, err)
	}
	return PaymentIntentRecord{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Methods:      methods,
		Mode:         IntentModeLive,
		Status:       string(pi.Status),
	}, nil
}

func (s *StripeIntents) mapError(ctx context.Context, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < http.StatusInternalServerError {
		msg := stripeErr.Msg
		if msg == "" {
			msg = "Stripe error"
		}
		s.logger.Warn().Int("status", stripeErr.HTTPStatusCode).Str("stripe_code", string(stripeErr.Code)).Msg(msg)
		// the provider message is shown to the donor as is
		return common.UpstreamRejected(msg, http.StatusBadRequest, err)
	}
	status := http.StatusBadGateway
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	return common.UpstreamUnavailable("payment provider unavailable, please try again", status, fmt.Errorf("stripe create intent: %w", err))
}

func placeholderIntent(amount int64, currency string, methods []MethodID) PaymentIntentRecord {
	id := uuid.NewString()
	return PaymentIntentRecord{
		ID:           "pi_placeholder_" + id,
		ClientSecret: PlaceholderSecretPrefix + id,
		Amount:       amount,
		Currency:     currency,
		Methods:      methods,
		Mode:         IntentModeTestPlaceholder,
		Status:       "requires_payment_method",
	}
}

// stripeLogger adapts zerolog to stripe.LeveledLoggerInterface.
type stripeLogger struct {
	l zerolog.Logger
}

func (s stripeLogger) Debugf(format string, v ...interface{}) { s.l.Debug().Msgf(format, v...) }
func (s stripeLogger) Infof(format string, v ...interface{})  { s.l.Debug().Msgf(format, v...) }
func (s stripeLogger) Warnf(format string, v ...interface{})  { s.l.Warn().Msgf(format, v...) }
func (s stripeLogger) Errorf(format string, v ...interface{}) { s.l.Error().Msgf(format, v...) }
