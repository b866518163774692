// Package handler exposes the promotion engine over HTTP: catalog accessors,
// coupon pre-validation, the order-completion hook, and the administrative
// usage reset.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/usage"
)

// Handler wires the engine's operations to HTTP routes.
type Handler struct {
	catalog  *discount.Catalog
	matcher  *discount.Matcher
	recorder *discount.Recorder
	ledger   usage.Ledger
}

// New constructs a Handler with the required domain dependencies.
func New(
	catalog *discount.Catalog,
	matcher *discount.Matcher,
	recorder *discount.Recorder,
	ledger usage.Ledger,
) *Handler {
	return &Handler{
		catalog:  catalog,
		matcher:  matcher,
		recorder: recorder,
		ledger:   ledger,
	}
}

// Routes mounts all API routes on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/discounts", h.listDiscounts)
	r.Get("/discounts/{id}", h.getDiscount)
	r.Post("/discounts/{id}/usage/clear", h.clearUsage)
	r.Post("/coupons/check", h.checkCoupon)
	r.Post("/orders/completed", h.orderCompleted)
	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}
