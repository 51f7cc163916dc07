package models

import (
	"encoding/json"
	"time"
)

// TransactionStatus is the closed lifecycle enum for a platform transaction.
// Values mirror the processor's terminology so webhook payloads map 1:1.
type TransactionStatus string

const (
	StatusRequiresAction TransactionStatus = "requires_action"
	StatusUncaptured     TransactionStatus = "uncaptured"
	StatusSucceeded      TransactionStatus = "succeeded"
	StatusRefunded       TransactionStatus = "refunded"
	StatusDisputed       TransactionStatus = "disputed"
	StatusFailed         TransactionStatus = "failed"
)

// statusTransitions is the lifecycle reachability graph. A status with an
// empty set is terminal. failed is only reachable before capture; a captured
// transaction can only move to refunded or disputed.
var statusTransitions = map[TransactionStatus][]TransactionStatus{
	StatusRequiresAction: {StatusUncaptured, StatusSucceeded, StatusFailed},
	StatusUncaptured:     {StatusSucceeded, StatusFailed},
	StatusSucceeded:      {StatusRefunded, StatusDisputed},
	StatusRefunded:       {StatusDisputed},
	StatusDisputed:       {},
	StatusFailed:         {},
}

// ValidStatus reports whether s is a member of the lifecycle enum.
func ValidStatus(s TransactionStatus) bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransition reports whether the lifecycle graph allows moving from
// current to proposed. A same-status proposal is not a transition; callers
// treat it as an idempotent replay.
func CanTransition(current, proposed TransactionStatus) bool {
	for _, next := range statusTransitions[current] {
		if next == proposed {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are reachable from s.
func Terminal(s TransactionStatus) bool {
	return len(statusTransitions[s]) == 0
}

// Transaction is the platform's durable record of a buyer payment. Rows are
// created on the first processor event for a reference and mutated only by
// the reconciliation engine; they are never deleted.
type Transaction struct {
	ID                string            `json:"id" db:"id"`
	ProcessorRef      string            `json:"processor_ref" db:"processor_ref"`
	Amount            int64             `json:"amount" db:"amount"` // minor units
	Currency          string            `json:"currency" db:"currency"`
	SellerID          string            `json:"seller_id" db:"seller_id"`
	CustomerID        *string           `json:"customer_id,omitempty" db:"customer_id"`
	PayLinkID         string            `json:"pay_link_id" db:"pay_link_id"`
	AffiliateID       *string           `json:"affiliate_id,omitempty" db:"affiliate_id"`
	CommissionRateBps int64             `json:"commission_rate_bps" db:"commission_rate_bps"`
	Status            TransactionStatus `json:"status" db:"status"`
	Captured          bool              `json:"captured" db:"captured"`
	Disputed          bool              `json:"disputed" db:"disputed"`
	RefundAmount      int64             `json:"refund_amount" db:"refund_amount"`
	LastEventSeq      int64             `json:"last_event_seq" db:"last_event_seq"`
	RawPayload        json.RawMessage   `json:"-" db:"raw_payload"`
	SucceededAt       *time.Time        `json:"succeeded_at,omitempty" db:"succeeded_at"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	LastReconciledAt  *time.Time        `json:"last_reconciled_at,omitempty" db:"last_reconciled_at"`
}

// Commission returns the affiliate's share of the still-captured portion of
// the transaction, in minor units, rounded down.
func (t *Transaction) Commission() int64 {
	net := t.Amount - t.RefundAmount
	if net < 0 {
		net = 0
	}
	return net * t.CommissionRateBps / 10000
}
