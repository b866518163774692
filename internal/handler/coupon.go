package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/usage"
)

type checkCouponRequest struct {
	Code       string `json:"code"`
	CustomerID int64  `json:"customerId,omitempty"`
	Email      string `json:"email,omitempty"`
}

type checkCouponResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// couponReasons are the business failures CouponAvailable reports to buyers.
// Anything else is an infrastructure error.
var couponReasons = []error{
	discount.ErrCouponNotValid,
	discount.ErrCouponLimitReached,
	discount.ErrCouponOutOfDate,
	discount.ErrCouponGroupNotEligible,
	discount.ErrCouponSignInRequired,
	discount.ErrCouponPerUserLimit,
	discount.ErrCouponPerEmailLimit,
}

func (h *Handler) checkCoupon(w http.ResponseWriter, r *http.Request) {
	var req checkCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	o := &order.Order{CouponCode: req.Code, Email: req.Email}
	if req.CustomerID != 0 {
		o.Customer = &order.Customer{ID: req.CustomerID, Email: req.Email}
	}

	err := h.matcher.CouponAvailable(r.Context(), o)
	if err == nil {
		writeJSON(w, http.StatusOK, checkCouponResponse{Available: true})
		return
	}

	for _, reason := range couponReasons {
		if errors.Is(err, reason) {
			writeJSON(w, http.StatusOK, checkCouponResponse{Available: false, Reason: reason.Error()})
			return
		}
	}

	h.internalError(w, r, err)
}

type orderCompletedRequest struct {
	OrderID    string `json:"orderId"`
	CouponCode string `json:"couponCode,omitempty"`
	CustomerID int64  `json:"customerId,omitempty"`
	Email      string `json:"email,omitempty"`
}

type limitConflictResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Scope   string `json:"scope"`
	Uses    uint32 `json:"uses"`
	Limit   uint32 `json:"limit"`
}

func (h *Handler) orderCompleted(w http.ResponseWriter, r *http.Request) {
	var req orderCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	o := &order.Order{ID: req.OrderID, CouponCode: req.CouponCode, Email: req.Email}
	if req.CustomerID != 0 {
		o.Customer = &order.Customer{ID: req.CustomerID, Email: req.Email}
	}

	err := h.recorder.OnOrderCompleted(r.Context(), o)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// An over-limit redemption is a policy decision for the caller, so it
	// gets the counts instead of a blanket failure.
	var limitErr *usage.LimitError
	if errors.As(err, &limitErr) {
		writeJSON(w, http.StatusConflict, limitConflictResponse{
			Code:    http.StatusConflict,
			Message: limitErr.Error(),
			Scope:   string(limitErr.Scope),
			Uses:    limitErr.Uses,
			Limit:   limitErr.Limit,
		})
		return
	}

	h.internalError(w, r, err)
}
