package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edufund-checkout/internal/common"
)

var maxQuoteAmount = decimal.NewFromInt(1_000_000)

// Handler exposes the checkout endpoints.
type Handler struct {
	Svc         *Service
	Credentials Credentials
	PayPalEnv   string
	Validate    *validator.Validate
}

// NewHandler wires a Handler with a shared validator.
func NewHandler(svc *Service, creds Credentials, paypalEnv string) *Handler {
	return &Handler{
		Svc:         svc,
		Credentials: creds,
		PayPalEnv:   paypalEnv,
		Validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers the handlers on r. POST routes are wrapped with mw.
func (h *Handler) Routes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Get("/checkout/config", h.Config)
	r.Group(func(r chi.Router) {
		r.Use(mw...)
		r.Post("/checkout/quote", h.Quote)
		r.Post("/stripe/intent", h.Intent)
		r.Post("/paypal/order", h.Order)
		r.Post("/paypal/capture", h.Capture)
	})
}

type intentRequest struct {
	Amount   json.RawMessage   `json:"amount"`
	Currency string            `json:"currency" validate:"omitempty,alpha,len=3"`
	Metadata map[string]string `json:"metadata" validate:"omitempty,max=20,dive,keys,max=40,endkeys,max=500"`
}

type intentResponse struct {
	ClientSecret string   `json:"clientSecret"`
	Methods      []string `json:"methods"`
	TestMode     bool     `json:"testMode,omitempty"`
}

type orderRequest struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,alpha,len=3"`
}

type orderResponse struct {
	ID         string `json:"id"`
	ApproveURL string `json:"approveUrl,omitempty"`
}

type captureRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

type captureResponse struct {
	Status    string `json:"status"`
	CaptureID string `json:"captureId,omitempty"`
	Replayed  bool   `json:"replayed,omitempty"`
}

type quoteRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	CoverFees bool            `json:"coverFees"`
}

type quoteResponse struct {
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	Total      string `json:"total"`
	TotalMinor int64  `json:"totalMinor"`
	CoverFees  bool   `json:"coverFees"`
}

type configResponse struct {
	Currency      string          `json:"currency"`
	Methods       []string        `json:"methods"`
	DisplayOrder  []string        `json:"displayOrder"`
	WalletCountry string          `json:"walletCountry"`
	Presets       []int64         `json:"presets"`
	Stripe        stripeConfigOut `json:"stripe"`
	PayPal        paypalConfigOut `json:"paypal"`
}

type stripeConfigOut struct {
	PublishableKey string `json:"publishableKey,omitempty"`
	Configured     bool   `json:"configured"`
}

type paypalConfigOut struct {
	ClientID   string `json:"clientId,omitempty"`
	Env        string `json:"env"`
	Configured bool   `json:"configured"`
}

// Intent handles POST /stripe/intent.
func (h *Handler) Intent(w http.ResponseWriter, r *http.Request) {
	var payload intentRequest
	if !h.decode(w, r, &payload) {
		return
	}
	amount, err := ParseMinorAmount(payload.Amount)
	if err != nil {
		common.WriteError(w, common.Validation(err.Error()))
		return
	}
	rec, err := h.Svc.CreateIntent(r.Context(), DonationRequest{
		Amount:   amount,
		Currency: payload.Currency,
		Metadata: payload.Metadata,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, intentResponse{
		ClientSecret: rec.ClientSecret,
		Methods:      methodStrings(rec.Methods),
		TestMode:     rec.Mode == IntentModeTestPlaceholder,
	})
}

// Order handles POST /paypal/order.
func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	var payload orderRequest
	if !h.decode(w, r, &payload) {
		return
	}
	if len(payload.Amount) == 0 || string(payload.Amount) == "null" {
		common.WriteError(w, common.Validation("amount required"))
		return
	}
	amount, err := ParseMinorAmount(payload.Amount)
	if err != nil {
		common.WriteError(w, common.Validation(err.Error()))
		return
	}
	order, err := h.Svc.CreateOrder(r.Context(), amount, payload.Currency)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, orderResponse{ID: order.ID, ApproveURL: order.ApproveURL})
}

// Capture handles POST /paypal/capture.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var payload captureRequest
	if !h.decode(w, r, &payload) {
		return
	}
	res, replayed, err := h.Svc.CaptureOrder(r.Context(), payload.OrderID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, captureResponse{
		Status:    res.Status,
		CaptureID: res.CaptureID,
		Replayed:  replayed,
	})
}

// Quote handles POST /checkout/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var payload quoteRequest
	if !h.decode(w, r, &payload) {
		return
	}
	if !payload.Amount.IsPositive() || payload.Amount.GreaterThan(maxQuoteAmount) {
		common.WriteError(w, common.Validation("amount must be a positive number"))
		return
	}
	q := ComputeTotal(payload.Amount, payload.CoverFees)
	common.JSON(w, http.StatusOK, quoteResponse{
		Amount:     q.Base.StringFixed(2),
		Fee:        q.Fee.StringFixed(2),
		Total:      q.Total.StringFixed(2),
		TotalMinor: ToMinorUnits(q.Total),
		CoverFees:  payload.CoverFees,
	})
}

// Config handles GET /checkout/config. Only public identifiers are exposed.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	currency := NormaliseCurrency(r.URL.Query().Get("currency"))
	methods := h.Svc.Methods(currency)
	out := configResponse{
		Currency:      currency,
		Methods:       methodStrings(methods),
		DisplayOrder:  DisplayOrder(currency, methods),
		WalletCountry: WalletCountry(currency),
		Presets:       PresetAmounts,
		PayPal:        paypalConfigOut{Env: h.PayPalEnv},
	}
	if creds, err := h.Credentials.Stripe(); err == nil {
		out.Stripe = stripeConfigOut{PublishableKey: creds.PublishableKey, Configured: true}
	}
	if creds, err := h.Credentials.PayPal(); err == nil {
		out.PayPal.ClientID = creds.ClientID
		out.PayPal.Configured = true
	}
	common.JSON(w, http.StatusOK, out)
}

// decode reads a JSON body into dst and runs struct validation. It writes
// the error response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "payment service not configured", nil)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
		case errors.Is(err, io.EOF):
			common.WriteError(w, common.Validation("request body required"))
		default:
			common.WriteError(w, common.Validation("invalid payload"))
		}
		return false
	}
	if h.Validate == nil {
		return true
	}
	if err := h.Validate.Struct(dst); err != nil {
		common.WriteError(w, common.Validation(validationMessage(err)))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid payload"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	if fe.Tag() == "required" {
		return field + " required"
	}
	return field + " is invalid"
}
