package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/quickbuy/internal/checkout"
	"github.com/ariefcatur/quickbuy/internal/logger"
)

const (
	actionProceed = "proceed"
	actionCancel  = "cancel"

	msgInvalidAction = "Invalid payment action."

	pathLogin   = "/login"
	pathCart    = "/cart"
	pathCatalog = "/catalog"
)

type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	Cancel(ctx context.Context, buyerID string) error
	Quote(address string, subtotal decimal.Decimal) (courier, total decimal.Decimal)
}

// Sessions is the slice of the session manager the handlers need.
type Sessions interface {
	BuyerID(r *http.Request) (string, error)
	AddFlash(w http.ResponseWriter, r *http.Request, msg string) error
}

type CheckoutHandler struct {
	Service  CheckoutService
	Sessions Sessions
	Log      *logger.Logger
}

// paymentForm field order decides which message the buyer sees first.
type paymentForm struct {
	Method  string `validate:"required,oneof=instant_eft cod payfast"`
	Address string `validate:"required"`
	Amount  string `validate:"required,numeric"`
}

var formMessages = map[string]string{
	"Method":  checkout.MsgInvalidMethod,
	"Address": checkout.MsgMissingAddress,
	"Amount":  checkout.MsgInvalidAmount,
}

var validate = validator.New()

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/payment", h.payment)
	r.Get("/checkout/quote", h.quote)
}

func (h *CheckoutHandler) payment(w http.ResponseWriter, r *http.Request) {
	buyerID, err := h.Sessions.BuyerID(r)
	if err != nil {
		http.Redirect(w, r, pathLogin, http.StatusSeeOther)
		return
	}
	ctx := h.Log.WithField(r.Context(), "buyer_id", buyerID)

	if err := r.ParseForm(); err != nil {
		h.fail(w, r.WithContext(ctx), checkout.MsgGeneric)
		return
	}

	switch action := strings.TrimSpace(r.PostFormValue("payment_action")); action {
	case actionCancel:
		if err := h.Service.Cancel(ctx, buyerID); err != nil {
			h.fail(w, r.WithContext(ctx), checkout.AsFailure(err).Message)
			return
		}
		http.Redirect(w, r, pathCatalog, http.StatusSeeOther)
	case actionProceed:
		h.proceed(w, r.WithContext(ctx), buyerID)
	default:
		h.fail(w, r.WithContext(ctx), msgInvalidAction)
	}
}

func (h *CheckoutHandler) proceed(w http.ResponseWriter, r *http.Request, buyerID string) {
	form := paymentForm{
		Method:  strings.TrimSpace(r.PostFormValue("payment_method")),
		Address: strings.TrimSpace(r.PostFormValue("delivery_address")),
		Amount:  strings.TrimSpace(r.PostFormValue("amount")),
	}
	if msg := formError(validate.Struct(form)); msg != "" {
		h.fail(w, r, msg)
		return
	}
	amount, err := decimal.NewFromString(form.Amount)
	if err != nil {
		h.fail(w, r, checkout.MsgInvalidAmount)
		return
	}

	res, err := h.Service.Checkout(r.Context(), checkout.Request{
		BuyerID:         buyerID,
		DeliveryAddress: form.Address,
		Method:          checkout.Method(form.Method),
		Amount:          amount,
	})
	if err != nil {
		h.fail(w, r, checkout.AsFailure(err).Message)
		return
	}

	dest := checkout.ConfirmationPath(res.Method, res.OrderID, res.PaymentID)
	if dest == "" {
		h.fail(w, r, checkout.MsgInvalidMethod)
		return
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

func formError(err error) string {
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if msg, ok := formMessages[verrs[0].StructField()]; ok {
			return msg
		}
	}
	return checkout.MsgGeneric
}

// fail flashes msg and sends the buyer back to the cart.
func (h *CheckoutHandler) fail(w http.ResponseWriter, r *http.Request, msg string) {
	if err := h.Sessions.AddFlash(w, r, msg); err != nil {
		h.Log.Error(r.Context(), "session.flash_failed", err)
	}
	http.Redirect(w, r, pathCart, http.StatusSeeOther)
}

type quoteResp struct {
	CourierCost string `json:"courier_cost"`
	Total       string `json:"total"`
	Display     string `json:"display"`
}

func (h *CheckoutHandler) quote(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, checkout.MsgMissingAddress)
		return
	}
	subtotal, err := decimal.NewFromString(r.URL.Query().Get("subtotal"))
	if err != nil || subtotal.IsNegative() {
		writeError(w, http.StatusBadRequest, checkout.MsgInvalidAmount)
		return
	}
	courier, total := h.Service.Quote(address, subtotal)
	writeJSON(w, http.StatusOK, quoteResp{
		CourierCost: courier.StringFixed(2),
		Total:       total.StringFixed(2),
		Display:     "R" + total.StringFixed(2),
	})
}
