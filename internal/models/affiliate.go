package models

import (
	"encoding/json"
	"time"
)

// AffiliateAccount tracks a referral relationship between an affiliate and a
// seller, plus the running settlement counters. cumulative_paid_out never
// exceeds cumulative_settled.
type AffiliateAccount struct {
	AffiliateID        string          `json:"affiliate_id" db:"affiliate_id"`
	SellerID           string          `json:"seller_id" db:"seller_id"`
	CommissionRateBps  int64           `json:"commission_rate_bps" db:"commission_rate_bps"`
	CumulativeSettled  int64           `json:"cumulative_settled" db:"cumulative_settled"`
	CumulativePaidOut  int64           `json:"cumulative_paid_out" db:"cumulative_paid_out"`
	PayoutDetails      json.RawMessage `json:"-" db:"payout_details"` // opaque bank details
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// PayoutStatus is the lifecycle of a payout request.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
)

// PayoutRequest records a sweep-all payout. The amount is computed from the
// available balance at acceptance time, never supplied by the caller. At
// most one pending request may exist per affiliate; the store enforces this
// with a partial unique index, not application locking.
type PayoutRequest struct {
	ID             string       `json:"id" db:"id"`
	AffiliateID    string       `json:"affiliate_id" db:"affiliate_id"`
	Amount         int64        `json:"amount" db:"amount"` // minor units
	Currency       string       `json:"currency" db:"currency"`
	Status         PayoutStatus `json:"status" db:"status"`
	IdempotencyKey string       `json:"idempotency_key" db:"idempotency_key"`
	RequestedAt    time.Time    `json:"requested_at" db:"requested_at"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Balance is the derived view of an affiliate's funds. It is recomputed from
// the ledger and payout history on every call; no mutable counter backs it.
type Balance struct {
	AffiliateID string `json:"affiliate_id"`
	Available   int64  `json:"available"` // settled minus swept, minor units
	Pending     int64  `json:"pending"`   // settled-delay not yet elapsed
	Reserved    int64  `json:"reserved"`  // held by pending payout requests
	Currency    string `json:"currency"`
}
