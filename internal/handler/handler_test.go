package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/storage/memory"
)

type staticSource struct {
	rows []discount.CatalogRow
}

func (s *staticSource) LoadAll(_ context.Context) ([]discount.CatalogRow, error) {
	return s.rows, nil
}

type stubGroups struct{}

func (stubGroups) GroupIDs(_ context.Context, _ int64) ([]int64, error) { return nil, nil }

type stubCategories struct{}

func (stubCategories) RelatedCategoryIDs(_ context.Context, _ int64) ([]int64, error) {
	return nil, nil
}

func newTestServer(t *testing.T, discounts ...discount.Discount) (*httptest.Server, *memory.Ledger) {
	t.Helper()

	ledger := memory.NewLedger()
	rows := make([]discount.CatalogRow, 0, len(discounts))
	for _, d := range discounts {
		rows = append(rows, discount.CatalogRow{Discount: d})
		ledger.SetLimits(d.ID, memory.Limits{
			Total:    d.TotalUseLimit,
			PerUser:  d.PerUserLimit,
			PerEmail: d.PerEmailLimit,
		})
	}

	catalog := discount.NewCatalog(&staticSource{rows: rows}, time.Minute)
	matcher := discount.NewMatcher(catalog, ledger, stubGroups{}, stubCategories{}, nil)
	recorder := discount.NewRecorder(catalog, ledger)

	h := New(catalog, matcher, recorder, ledger)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, ledger
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

func TestListAndGetDiscounts(t *testing.T) {
	srv, _ := newTestServer(t,
		discount.Discount{ID: 1, Name: "spring sale", Enabled: true, AllGroups: true, AllCategories: true, AllPurchasables: true},
		discount.Discount{ID: 2, Name: "vip", Code: "VIP", Enabled: true, AllGroups: true, AllCategories: true, AllPurchasables: true},
	)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/discounts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []discountResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 2)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/discounts/2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var one discountResponse
	require.NoError(t, json.Unmarshal(body, &one))
	assert.Equal(t, "VIP", one.Code)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/discounts/99", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/discounts/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckCoupon(t *testing.T) {
	srv, _ := newTestServer(t, discount.Discount{
		ID: 1, Code: "SAVE10", Enabled: true,
		AllGroups: true, AllCategories: true, AllPurchasables: true,
		PerUserLimit: 1,
	})

	tests := []struct {
		name          string
		body          string
		wantStatus    int
		wantAvailable bool
		wantReason    string
	}{
		{
			name:       "missing code",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown code",
			body:       `{"code":"NOPE"}`,
			wantStatus: http.StatusOK,
			wantReason: "coupon not valid",
		},
		{
			name:       "per-user limit without sign-in",
			body:       `{"code":"SAVE10"}`,
			wantStatus: http.StatusOK,
			wantReason: "coupon requires a signed-in customer",
		},
		{
			name:          "available for signed-in customer",
			body:          `{"code":"save10","customerId":7}`,
			wantStatus:    http.StatusOK,
			wantAvailable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/coupons/check", tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var out checkCouponResponse
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, tt.wantAvailable, out.Available)
			assert.Equal(t, tt.wantReason, out.Reason)
		})
	}
}

func TestOrderCompleted(t *testing.T) {
	srv, ledger := newTestServer(t, discount.Discount{
		ID: 1, Code: "SAVE10", Enabled: true,
		AllGroups: true, AllCategories: true, AllPurchasables: true,
		PerUserLimit: 1,
	})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/orders/completed",
		`{"orderId":"o1","couponCode":"SAVE10","customerId":7,"email":"a@example.com"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	uses, err := ledger.UsesByCustomer(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), uses)

	// Same order again: idempotent, still no content.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/orders/completed",
		`{"orderId":"o1","couponCode":"SAVE10","customerId":7,"email":"a@example.com"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// A new order for the same customer hits the per-user ceiling.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/orders/completed",
		`{"orderId":"o2","couponCode":"SAVE10","customerId":7,"email":"a@example.com"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var conflict limitConflictResponse
	require.NoError(t, json.Unmarshal(body, &conflict))
	assert.Equal(t, "customer", conflict.Scope)
	assert.Equal(t, uint32(1), conflict.Uses)
	assert.Equal(t, uint32(1), conflict.Limit)

	// No coupon on the order: nothing to record.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/orders/completed", `{"orderId":"o3"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestClearUsage(t *testing.T) {
	srv, ledger := newTestServer(t, discount.Discount{
		ID: 1, Code: "SAVE10", Enabled: true,
		AllGroups: true, AllCategories: true, AllPurchasables: true,
		PerUserLimit: 1,
	})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/orders/completed",
		`{"orderId":"o1","couponCode":"SAVE10","customerId":7}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/discounts/1/usage/clear", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	uses, err := ledger.UsesByCustomer(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Zero(t, uses)
}
