// Package memory provides an in-memory usage ledger with the same atomicity
// semantics as the PostgreSQL implementation. It backs package tests and
// local development without a database.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/xenking/promo-engine/internal/domain/usage"
)

// Limits holds the usage ceilings the ledger enforces for one discount.
// A zero value means unlimited for that scope.
type Limits struct {
	Total    uint32
	PerUser  uint32
	PerEmail uint32
}

type customerKey struct {
	customerID int64
	discountID int64
}

type emailKey struct {
	email      string
	discountID int64
}

// Ledger is a mutex-guarded usage.Ledger. All counters for one redemption
// move together: the limit checks run before any mutation, so a rejected
// redemption leaves every counter untouched.
type Ledger struct {
	mu         sync.Mutex
	limits     map[int64]Limits
	total      map[int64]uint32
	byCustomer map[customerKey]uint32
	byEmail    map[emailKey]uint32
	// orders maps redeemed order IDs to their discount, guarding against
	// double dispatch of the completion transition.
	orders map[string]int64
}

var _ usage.Ledger = (*Ledger)(nil)

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		limits:     make(map[int64]Limits),
		total:      make(map[int64]uint32),
		byCustomer: make(map[customerKey]uint32),
		byEmail:    make(map[emailKey]uint32),
		orders:     make(map[string]int64),
	}
}

// SetLimits registers the usage ceilings for a discount.
func (l *Ledger) SetLimits(discountID int64, lim Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[discountID] = lim
}

// TotalUses returns the discount-wide redemption count.
func (l *Ledger) TotalUses(_ context.Context, discountID int64) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total[discountID], nil
}

// UsesByCustomer returns the per-customer redemption count.
func (l *Ledger) UsesByCustomer(_ context.Context, customerID, discountID int64) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byCustomer[customerKey{customerID, discountID}], nil
}

// UsesByEmail returns the per-email redemption count. Emails compare
// case-insensitively.
func (l *Ledger) UsesByEmail(_ context.Context, email string, discountID int64) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byEmail[emailKey{strings.ToLower(email), discountID}], nil
}

// RecordRedemption implements the atomic check-and-increment. Recording the
// same order twice is a no-op.
func (l *Ledger) RecordRedemption(_ context.Context, p usage.RedemptionParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.orders[p.OrderID]; done {
		return nil
	}

	lim := l.limits[p.DiscountID]
	total := l.total[p.DiscountID]
	if lim.Total > 0 && total >= lim.Total {
		return &usage.LimitError{
			DiscountID: p.DiscountID,
			Scope:      usage.ScopeTotal,
			Uses:       total,
			Limit:      lim.Total,
		}
	}

	ck := customerKey{p.CustomerID, p.DiscountID}
	trackCustomer := lim.PerUser > 0 && p.CustomerID != 0
	if trackCustomer && l.byCustomer[ck] >= lim.PerUser {
		return &usage.LimitError{
			DiscountID: p.DiscountID,
			Scope:      usage.ScopeCustomer,
			Uses:       l.byCustomer[ck],
			Limit:      lim.PerUser,
		}
	}

	ek := emailKey{strings.ToLower(p.Email), p.DiscountID}
	trackEmail := lim.PerEmail > 0 && p.Email != ""
	if trackEmail && l.byEmail[ek] >= lim.PerEmail {
		return &usage.LimitError{
			DiscountID: p.DiscountID,
			Scope:      usage.ScopeEmail,
			Uses:       l.byEmail[ek],
			Limit:      lim.PerEmail,
		}
	}

	// All checks passed; commit every counter together.
	l.total[p.DiscountID] = total + 1
	if trackCustomer {
		l.byCustomer[ck]++
	}
	if trackEmail {
		l.byEmail[ek]++
	}
	l.orders[p.OrderID] = p.DiscountID

	return nil
}

// ClearUsageHistory removes every per-customer and per-email record for the
// discount and resets its total counter. Redemption markers stay, so orders
// recorded before the reset remain deduplicated.
func (l *Ledger) ClearUsageHistory(_ context.Context, discountID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total[discountID] = 0
	for k := range l.byCustomer {
		if k.discountID == discountID {
			delete(l.byCustomer, k)
		}
	}
	for k := range l.byEmail {
		if k.discountID == discountID {
			delete(l.byEmail, k)
		}
	}
	return nil
}
