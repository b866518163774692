package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/promo-engine/internal/domain/discount"
)

type discountResponse struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Code           string     `json:"code,omitempty"`
	Enabled        bool       `json:"enabled"`
	StopProcessing bool       `json:"stopProcessing"`
	ExcludeOnSale  bool       `json:"excludeOnSale"`
	SortOrder      int        `json:"sortOrder"`
	DateFrom       *time.Time `json:"dateFrom,omitempty"`
	DateTo         *time.Time `json:"dateTo,omitempty"`
	TotalUseLimit  uint32     `json:"totalUseLimit"`
	TotalUses      uint32     `json:"totalUses"`
	PerUserLimit   uint32     `json:"perUserLimit"`
	PerEmailLimit  uint32     `json:"perEmailLimit"`
	PercentOff     string     `json:"percentOff"`
	AmountOff      string     `json:"amountOff"`
}

func toDiscountResponse(d *discount.Discount) discountResponse {
	return discountResponse{
		ID:             d.ID,
		Name:           d.Name,
		Code:           d.Code,
		Enabled:        d.Enabled,
		StopProcessing: d.StopProcessing,
		ExcludeOnSale:  d.ExcludeOnSale,
		SortOrder:      d.SortOrder,
		DateFrom:       d.DateFrom,
		DateTo:         d.DateTo,
		TotalUseLimit:  d.TotalUseLimit,
		TotalUses:      d.TotalUses,
		PerUserLimit:   d.PerUserLimit,
		PerEmailLimit:  d.PerEmailLimit,
		PercentOff:     d.PercentOff.String(),
		AmountOff:      d.AmountOff.String(),
	}
}

func (h *Handler) listDiscounts(w http.ResponseWriter, r *http.Request) {
	snap, err := h.catalog.Snapshot(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	all := snap.All()
	out := make([]discountResponse, len(all))
	for i, d := range all {
		out[i] = toDiscountResponse(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid discount id")
		return
	}

	snap, err := h.catalog.Snapshot(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	d := snap.ByID(id)
	if d == nil {
		writeError(w, http.StatusNotFound, "discount not found")
		return
	}
	writeJSON(w, http.StatusOK, toDiscountResponse(d))
}

func (h *Handler) clearUsage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid discount id")
		return
	}

	if err := h.ledger.ClearUsageHistory(r.Context(), id); err != nil {
		h.internalError(w, r, err)
		return
	}

	// Matches against the reset discount must not see the old counters.
	h.catalog.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}
