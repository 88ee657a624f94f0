// Package api exposes the settlement HTTP surface.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketcore/internal/common/api"
	"marketcore/internal/common/database"
	"marketcore/internal/common/errs"
	"marketcore/internal/common/middleware"
	"marketcore/internal/settlement"
)

// Handler handles settlement HTTP requests.
type Handler struct {
	service *settlement.Service
	logger  *slog.Logger
}

// NewHandler creates a new settlement handler.
func NewHandler(service *settlement.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the settlement routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/pay", h.SubmitPayment)
	r.Put("/payment-state", h.UpdatePaymentState)
	r.Get("/payments", h.ListPayments)
	r.Get("/payments/{code}", h.GetPayment)
	r.Post("/payments/{code}/finalize", h.FinalizeEscrow)
	r.Get("/orders/{id}/payment", h.GetOrderPayment)

	return r
}

// payResponse is intentionally vague on failure: submission errors carry
// internal pricing detail that buyers must not see. The full typed error
// goes to the log instead.
type payResponse struct {
	Success     bool   `json:"success"`
	PaymentCode string `json:"payment_code,omitempty"`
	Error       string `json:"error,omitempty"`
}

const genericPayError = "The payment could not be processed. Please try again later."

// SubmitPayment handles POST /pay.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req settlement.SubmitPaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, payResponse{Success: false, Error: genericPayError})
		return
	}
	req.ShopID = middleware.GetShopID(r.Context())

	rec, err := h.service.SubmitPayment(r.Context(), &req)
	if err != nil {
		h.logger.Error("payment submission failed",
			"order_id", req.OrderID,
			"payment_type", req.Type,
			"error_kind", errs.KindOf(err),
			"error", err,
		)
		// Failures ride the 2xx path with a generic message; no-store keeps
		// the idempotency layer from replaying them, so a buyer retrying a
		// transient fault gets a fresh submission.
		w.Header().Set("Cache-Control", "no-store")
		api.WriteJSON(w, http.StatusOK, payResponse{Success: false, Error: genericPayError})
		return
	}

	api.WriteJSON(w, http.StatusOK, payResponse{Success: true, PaymentCode: rec.PaymentCode})
}

// UpdatePaymentStateRequest is the API request for a state transition.
type UpdatePaymentStateRequest struct {
	PaymentCode string `json:"payment_code" validate:"required"`
	State       string `json:"state" validate:"required,oneof=Pending Paid Rejected Refunded"`
	TxHash      string `json:"tx_hash,omitempty"`
}

// stateResponse carries the typed failure reason verbatim: state updates
// come from operators and payment backends, which need the real cause.
type stateResponse struct {
	Success bool   `json:"success"`
	State   string `json:"state,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// UpdatePaymentState handles PUT /payment-state.
func (h *Handler) UpdatePaymentState(w http.ResponseWriter, r *http.Request) {
	var req UpdatePaymentStateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	rec, err := h.service.TransitionState(r.Context(), req.PaymentCode, settlement.PaymentState(req.State), req.TxHash)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.WriteJSON(w, api.StatusForKind(err), stateResponse{Success: false, Reason: err.Error()})
		return
	}

	api.WriteJSON(w, http.StatusOK, stateResponse{Success: true, State: string(rec.State)})
}

// GetPayment handles GET /payments/{code}.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.InternalError(w, "failed to load payment")
		return
	}

	api.WriteData(w, http.StatusOK, rec)
}

// GetOrderPayment handles GET /orders/{id}/payment, returning the most
// recent payment record for the order.
func (h *Handler) GetOrderPayment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetPaymentByOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "no payment for order")
			return
		}
		api.InternalError(w, "failed to load payment")
		return
	}

	api.WriteData(w, http.StatusOK, rec)
}

// ListPayments handles GET /payments, newest first, scoped to the caller's
// shop when one is set.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	p := api.GetPaginationParams(r, 50, 200)
	recs, err := h.service.ListPayments(r.Context(), middleware.GetShopID(r.Context()), p.Limit, p.Offset)
	if err != nil {
		api.InternalError(w, "failed to list payments")
		return
	}
	if recs == nil {
		recs = []*settlement.PaymentRecord{}
	}

	api.WriteData(w, http.StatusOK, recs)
}

// FinalizeEscrow handles POST /payments/{code}/finalize.
func (h *Handler) FinalizeEscrow(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.FinalizeEscrow(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.WriteJSON(w, api.StatusForKind(err), stateResponse{Success: false, Reason: err.Error()})
		return
	}

	api.WriteJSON(w, http.StatusOK, stateResponse{Success: true, State: string(rec.State)})
}
