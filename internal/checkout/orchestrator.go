package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edufund-checkout/internal/events"
	"github.com/noah-isme/edufund-checkout/internal/obs"
	"github.com/noah-isme/edufund-checkout/internal/payment"
)

// ErrStopped is returned by Snapshot once the event loop has exited.
var ErrStopped = errors.New("checkout: orchestrator stopped")

// State is the orchestrator's position in a checkout attempt.
type State int

const (
	StateIdle State = iota
	StateAwaitingApproval
	StateConfirming
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateConfirming:
		return "confirming"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Mount describes the payment element to render. A new Generation means
// the previous element must be torn down, not updated.
type Mount struct {
	Key        string
	Generation int
	Methods    []string
	TestMode   bool
}

// Renderer receives UI updates. Calls happen on the event loop and must not
// block.
type Renderer interface {
	Mount(m Mount)
	Wallet(currency string, available bool)
	Approval(s Session)
	Outcome(o Outcome)
}

// WalletProbe reports whether the platform can pay with an express wallet.
type WalletProbe interface {
	CanPay(ctx context.Context, currency, country string) (bool, error)
}

// WalletPayment is a payment method produced by the wallet sheet. Complete
// closes the sheet and is called exactly once.
type WalletPayment struct {
	PaymentMethod string
	Complete      func(success bool)
}

// Options configures an Orchestrator. Stripe and PayPal are optional; a
// nil provider disables its flow.
type Options struct {
	Stripe   Provider
	PayPal   Provider
	Wallets  WalletProbe
	Renderer Renderer
	Events   *events.Bus
	Logger   zerolog.Logger
	Timeout  time.Duration
	Currency string
}

// Snapshot is a copy of the orchestrator state.
type Snapshot struct {
	State           State
	Attempt         string
	Donation        Donation
	ElementKey      string
	MountGeneration int
	Methods         []string
	TestMode        bool
	WalletAvailable bool
	OrderID         string
	ApproveURL      string
	IntentError     string
	Outcome         *Outcome
}

// Orchestrator drives a donor's checkout. All state is owned by the
// goroutine running Run; public methods post events to it. Every async
// result is tagged with the attempt that started it and dropped if that
// attempt is no longer active.
type Orchestrator struct {
	opts  Options
	inbox chan func()
	done  chan struct{}
	ctx   context.Context

	donation        Donation
	attempt         string
	intentAttempt   string
	session         *Session
	intentErr       string
	elementKey      string
	mountGen        int
	walletGen       int
	walletAvailable bool
	flow            *Session
	state           State
	outcome         *Outcome
}

// New builds an orchestrator. Call Run to start it.
func New(opts Options) *Orchestrator {
	if opts.Renderer == nil {
		opts.Renderer = nopRenderer{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Orchestrator{
		opts:     opts,
		inbox:    make(chan func(), 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		donation: Donation{Currency: payment.NormaliseCurrency(opts.Currency)},
		attempt:  xid.New().String(),
	}
}

// Run processes events until ctx is done. It must be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer close(o.done)
	o.probeWallet()
	o.refreshIntent()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-o.inbox:
			fn()
		}
	}
}

// SetAmount changes the donation amount in major units.
func (o *Orchestrator) SetAmount(amount decimal.Decimal) {
	o.post(func() {
		if o.donation.Amount.Equal(amount) {
			return
		}
		o.donation.Amount = amount
		o.donationChanged(false)
	})
}

// SetCurrency changes the donation currency.
func (o *Orchestrator) SetCurrency(currency string) {
	currency = payment.NormaliseCurrency(currency)
	o.post(func() {
		if o.donation.Currency == currency {
			return
		}
		o.donation.Currency = currency
		o.donationChanged(true)
	})
}

// SetCoverFees toggles whether the donor covers the processing fee.
func (o *Orchestrator) SetCoverFees(cover bool) {
	o.post(func() {
		if o.donation.CoverFees == cover {
			return
		}
		o.donation.CoverFees = cover
		o.donationChanged(false)
	})
}

// Submit confirms the mounted intent with paymentMethod.
func (o *Orchestrator) Submit(paymentMethod string) {
	o.post(func() {
		if o.opts.Stripe == nil || o.busy() || o.session == nil {
			o.opts.Logger.Debug().Str("state", o.state.String()).Msg("checkout_submit_ignored")
			return
		}
		sess := *o.session
		sess.PaymentMethod = paymentMethod
		o.startConfirm(o.opts.Stripe, sess)
	})
}

// StartPayPal opens an order for the current donation.
func (o *Orchestrator) StartPayPal() {
	o.post(func() {
		if o.opts.PayPal == nil || o.busy() || !o.donation.Amount.IsPositive() {
			o.opts.Logger.Debug().Str("state", o.state.String()).Msg("checkout_paypal_ignored")
			return
		}
		attempt := o.newAttempt()
		o.state = StateAwaitingApproval
		o.outcome = nil
		o.flow = nil
		d := o.donation
		provider := o.opts.PayPal
		o.spawn(func(ctx context.Context) {
			sess, err := provider.Begin(ctx, d)
			o.post(func() { o.orderReady(attempt, sess, err) })
		})
	})
}

// Approve reports the buyer's approval of orderID. Only the first approval
// of the active order triggers a capture.
func (o *Orchestrator) Approve(orderID string) {
	o.post(func() {
		if o.state != StateAwaitingApproval || o.flow == nil || o.flow.OrderID != orderID {
			o.opts.Logger.Debug().Str("order_id", orderID).Str("state", o.state.String()).Msg("checkout_approval_ignored")
			return
		}
		o.startConfirm(o.opts.PayPal, *o.flow)
	})
}

// Cancel handles a buyer cancel. While awaiting approval it ends the attempt
// as cancelled; while confirming it abandons the attempt so a late result
// is not applied.
func (o *Orchestrator) Cancel() {
	o.post(func() {
		switch o.state {
		case StateAwaitingApproval:
			o.finish(o.attempt, Cancelled(KindPayPal))
			o.newAttempt()
		case StateConfirming:
			o.newAttempt()
			o.state = StateIdle
		}
	})
}

// WalletPay pays with a wallet-provided method: a fresh intent is opened
// for the current donation and confirmed. p.Complete is always called once.
func (o *Orchestrator) WalletPay(p WalletPayment) {
	complete := completeOnce(p.Complete)
	ok := o.post(func() {
		if o.opts.Stripe == nil || o.busy() || !o.donation.Amount.IsPositive() {
			complete(false)
			return
		}
		attempt := o.newAttempt()
		o.state = StateConfirming
		o.outcome = nil
		d := o.donation
		provider := o.opts.Stripe
		o.spawn(func(ctx context.Context) {
			var out Outcome
			sess, err := provider.Begin(ctx, d)
			if err != nil {
				out = OutcomeFromError(provider.Kind(), err)
			} else {
				sess.PaymentMethod = p.PaymentMethod
				out = provider.AwaitOutcome(ctx, sess)
			}
			success := out.Kind == OutcomeSucceeded || out.Kind == OutcomePending
			if !o.post(func() {
				complete(success)
				o.finish(attempt, out)
			}) {
				complete(success)
			}
		})
	})
	if !ok {
		complete(false)
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !o.post(func() { reply <- o.snapshot() }) {
		return Snapshot{}, ErrStopped
	}
	select {
	case s := <-reply:
		return s, nil
	case <-o.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (o *Orchestrator) post(fn func()) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.inbox <- fn:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) spawn(fn func(ctx context.Context)) {
	parent := o.ctx
	timeout := o.opts.Timeout
	go func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (o *Orchestrator) newAttempt() string {
	o.attempt = xid.New().String()
	return o.attempt
}

// busy reports whether a payment is in flight or already went through.
func (o *Orchestrator) busy() bool {
	switch o.state {
	case StateAwaitingApproval, StateConfirming:
		return true
	case StateDone:
		return o.outcome != nil && (o.outcome.Kind == OutcomeSucceeded || o.outcome.Kind == OutcomePending)
	default:
		return false
	}
}

func (o *Orchestrator) donationChanged(currencyChanged bool) {
	o.newAttempt()
	o.state = StateIdle
	o.outcome = nil
	o.flow = nil
	// the mounted intent no longer matches the donation
	o.session = nil
	o.elementKey = ""
	if currencyChanged {
		o.probeWallet()
	}
	o.refreshIntent()
}

func (o *Orchestrator) refreshIntent() {
	if o.opts.Stripe == nil || !o.donation.Amount.IsPositive() {
		return
	}
	id := xid.New().String()
	o.intentAttempt = id
	d := o.donation
	provider := o.opts.Stripe
	o.spawn(func(ctx context.Context) {
		sess, err := provider.Begin(ctx, d)
		o.post(func() { o.intentReady(id, sess, err) })
	})
}

func (o *Orchestrator) intentReady(id string, sess Session, err error) {
	if id != o.intentAttempt {
		o.opts.Logger.Debug().Str("intent_attempt", id).Msg("checkout_stale_intent_dropped")
		return
	}
	if err != nil {
		o.session = nil
		o.intentErr = OutcomeFromError(KindStripe, err).Message
		o.opts.Logger.Warn().Err(err).Msg("checkout_intent_failed")
		return
	}
	o.intentErr = ""
	o.session = &sess
	if sess.ClientSecret == o.elementKey {
		return
	}
	o.elementKey = sess.ClientSecret
	o.mountGen++
	o.opts.Renderer.Mount(Mount{
		Key:        sess.ClientSecret,
		Generation: o.mountGen,
		Methods:    sess.Methods,
		TestMode:   sess.TestMode,
	})
}

func (o *Orchestrator) probeWallet() {
	o.walletAvailable = false
	if o.opts.Wallets == nil {
		return
	}
	o.walletGen++
	gen := o.walletGen
	currency := o.donation.NormalisedCurrency()
	probe := o.opts.Wallets
	o.spawn(func(ctx context.Context) {
		ok, err := probe.CanPay(ctx, currency, payment.WalletCountry(currency))
		if err != nil {
			ok = false
		}
		o.post(func() {
			if gen != o.walletGen {
				return
			}
			o.walletAvailable = ok
			o.opts.Renderer.Wallet(currency, ok)
		})
	})
}

func (o *Orchestrator) orderReady(attempt string, sess Session, err error) {
	if attempt != o.attempt {
		o.opts.Logger.Debug().Str("attempt", attempt).Msg("checkout_stale_order_dropped")
		return
	}
	if err != nil {
		o.opts.Logger.Warn().Err(err).Msg("checkout_order_failed")
		o.finish(attempt, OutcomeFromError(KindPayPal, err))
		return
	}
	o.flow = &sess
	o.opts.Renderer.Approval(sess)
}

func (o *Orchestrator) startConfirm(provider Provider, sess Session) {
	attempt := o.attempt
	o.state = StateConfirming
	o.outcome = nil
	o.spawn(func(ctx context.Context) {
		out := provider.AwaitOutcome(ctx, sess)
		o.post(func() { o.finish(attempt, out) })
	})
}

func (o *Orchestrator) finish(attempt string, out Outcome) {
	if attempt != o.attempt {
		o.opts.Logger.Debug().Str("attempt", attempt).Str("outcome", string(out.Kind)).Msg("checkout_stale_outcome_dropped")
		return
	}
	o.state = StateDone
	o.outcome = &out
	o.opts.Renderer.Outcome(out)
	obs.Inc(obs.CheckoutOutcomeTotal, string(out.Provider), string(out.Kind))
	o.opts.Logger.Info().
		Str("attempt", attempt).
		Str("provider", string(out.Provider)).
		Str("outcome", string(out.Kind)).
		Str("failure", string(out.Failure)).
		Msg("checkout_outcome")

	topic := outcomeTopic(out.Kind)
	if o.opts.Events == nil || topic == "" {
		return
	}
	if _, err := o.opts.Events.Emit(o.ctx, topic, attempt, out); err != nil {
		o.opts.Logger.Warn().Err(err).Str("topic", topic).Msg("checkout_outcome_emit_failed")
	}
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		State:           o.state,
		Attempt:         o.attempt,
		Donation:        o.donation,
		ElementKey:      o.elementKey,
		MountGeneration: o.mountGen,
		WalletAvailable: o.walletAvailable,
		IntentError:     o.intentErr,
	}
	if o.session != nil {
		s.Methods = append([]string(nil), o.session.Methods...)
		s.TestMode = o.session.TestMode
	}
	if o.flow != nil {
		s.OrderID = o.flow.OrderID
		s.ApproveURL = o.flow.ApproveURL
	}
	if o.outcome != nil {
		out := *o.outcome
		s.Outcome = &out
	}
	return s
}

func outcomeTopic(kind OutcomeKind) string {
	switch kind {
	case OutcomeSucceeded:
		return events.TopicDonationSucceeded
	case OutcomeFailed:
		return events.TopicDonationFailed
	case OutcomeCancelled:
		return events.TopicDonationCancelled
	default:
		return ""
	}
}

func completeOnce(fn func(bool)) func(bool) {
	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			if fn != nil {
				fn(success)
			}
		})
	}
}

type nopRenderer struct{}

func (nopRenderer) Mount(Mount)         {}
func (nopRenderer) Wallet(string, bool) {}
func (nopRenderer) Approval(Session)    {}
func (nopRenderer) Outcome(Outcome)     {}
