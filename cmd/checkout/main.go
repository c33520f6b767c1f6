package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edufund-checkout/internal/checkout"
	"github.com/noah-isme/edufund-checkout/internal/events"
	"github.com/noah-isme/edufund-checkout/internal/obs"
)

func main() {
	var (
		apiURL        = flag.String("api", "http://localhost:8080/api/v1", "checkout API base URL")
		provider      = flag.String("provider", "stripe", "payment provider: stripe or paypal")
		amountRaw     = flag.String("amount", "100.00", "donation amount in major units")
		currency      = flag.String("currency", "usd", "donation currency")
		coverFees     = flag.Bool("cover-fees", false, "add the processing fee to the donation")
		paymentMethod = flag.String("payment-method", "pm_card_visa", "Stripe payment method used to confirm")
		publishable   = flag.String("stripe-publishable-key", "", "Stripe publishable key; fetched from the API when empty")
		stripeURL     = flag.String("stripe-url", checkout.DefaultStripeURL, "Stripe API base URL")
		timeout       = flag.Duration("timeout", 30*time.Second, "overall timeout for the payment")
		verbose       = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger := obs.NewLoggerTo(os.Stderr, "console", level)

	amount, err := decimal.NewFromString(strings.TrimSpace(*amountRaw))
	if err != nil || !amount.IsPositive() {
		fmt.Fprintf(os.Stderr, "invalid -amount %q\n", *amountRaw)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := run(ctx, runConfig{
		API:            checkout.NewAPIClient(*apiURL, nil, 15*time.Second),
		Provider:       checkout.Kind(strings.ToLower(strings.TrimSpace(*provider))),
		Amount:         amount,
		Currency:       *currency,
		CoverFees:      *coverFees,
		PaymentMethod:  *paymentMethod,
		PublishableKey: *publishable,
		StripeURL:      *stripeURL,
		Timeout:        *timeout,
		In:             os.Stdin,
		Out:            os.Stdout,
		Logger:         logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "checkout:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "outcome: %s (%s)", out.Kind, out.Provider)
	if out.Reference != "" {
		fmt.Fprintf(os.Stdout, " ref=%s", out.Reference)
	}
	if out.Message != "" {
		fmt.Fprintf(os.Stdout, " - %s", out.Message)
	}
	fmt.Fprintln(os.Stdout)
	if out.Kind != checkout.OutcomeSucceeded {
		os.Exit(1)
	}
}

type runConfig struct {
	API            *checkout.APIClient
	Provider       checkout.Kind
	Amount         decimal.Decimal
	Currency       string
	CoverFees      bool
	PaymentMethod  string
	PublishableKey string
	StripeURL      string
	Timeout        time.Duration
	In             io.Reader
	Out            io.Writer
	Logger         zerolog.Logger
}

func run(ctx context.Context, cfg runConfig) (checkout.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	render := newTerminal(cfg.Out)
	bus := events.NewBus()
	opts := checkout.Options{
		Renderer: render,
		Events:   bus,
		Logger:   cfg.Logger,
		Currency: cfg.Currency,
	}
	switch cfg.Provider {
	case checkout.KindStripe:
		key := cfg.PublishableKey
		if key == "" {
			conf, err := cfg.API.Config(ctx, cfg.Currency)
			if err != nil {
				return checkout.Outcome{}, fmt.Errorf("fetch checkout config: %w", err)
			}
			key = conf.Stripe.PublishableKey
		}
		opts.Stripe = checkout.StripeProvider{
			API:       cfg.API,
			Confirmer: checkout.NewStripeConfirmer(key, cfg.StripeURL, nil, 15*time.Second),
		}
	case checkout.KindPayPal:
		opts.PayPal = checkout.PayPalProvider{API: cfg.API}
	default:
		return checkout.Outcome{}, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	o := checkout.New(opts)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	o.SetCoverFees(cfg.CoverFees)
	o.SetAmount(cfg.Amount)

	if cfg.Provider == checkout.KindStripe {
		if err := waitForMount(ctx, o, render); err != nil {
			return checkout.Outcome{}, err
		}
		o.Submit(cfg.PaymentMethod)
	} else {
		o.StartPayPal()
		select {
		case sess := <-render.approvals:
			fmt.Fprintf(cfg.Out, "approve the order at %s\npress Enter once approved, or type c to cancel: ", sess.ApproveURL)
			line, _ := bufio.NewReader(cfg.In).ReadString('\n')
			if strings.EqualFold(strings.TrimSpace(line), "c") {
				o.Cancel()
			} else {
				o.Approve(sess.OrderID)
			}
		case out := <-render.outcomes:
			return out, nil
		case <-ctx.Done():
			return checkout.Outcome{}, ctx.Err()
		}
	}

	select {
	case out := <-render.outcomes:
		return out, nil
	case <-ctx.Done():
		return checkout.Outcome{}, ctx.Err()
	}
}

// waitForMount blocks until an intent is mounted or the intent request
// failed.
func waitForMount(ctx context.Context, o *checkout.Orchestrator, render *terminal) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-render.mounts:
			return nil
		case <-ticker.C:
			snap, err := o.Snapshot(ctx)
			if err != nil {
				return err
			}
			if snap.IntentError != "" {
				return fmt.Errorf("create intent: %s", snap.IntentError)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type terminal struct {
	out       io.Writer
	mounts    chan checkout.Mount
	approvals chan checkout.Session
	outcomes  chan checkout.Outcome
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{
		out:       out,
		mounts:    make(chan checkout.Mount, 4),
		approvals: make(chan checkout.Session, 1),
		outcomes:  make(chan checkout.Outcome, 1),
	}
}

func (t *terminal) Mount(m checkout.Mount) {
	fmt.Fprintf(t.out, "intent ready, methods: %s\n", strings.Join(m.Methods, ", "))
	if m.TestMode {
		fmt.Fprintln(t.out, checkout.MessageTestMode)
	}
	select {
	case t.mounts <- m:
	default:
	}
}

func (t *terminal) Wallet(string, bool) {}

func (t *terminal) Approval(s checkout.Session) {
	select {
	case t.approvals <- s:
	default:
	}
}

func (t *terminal) Outcome(o checkout.Outcome) {
	select {
	case t.outcomes <- o:
	default:
	}
}
