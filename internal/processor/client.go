package processor

import (
	"context"

	"github.com/payloop/backend/internal/models"
)

// TransactionState is the processor's authoritative view of a charge,
// returned by the query API during batch reconciliation.
type TransactionState struct {
	ProcessorRef string
	Status       models.TransactionStatus
	RefundAmount int64 // minor units
}

// Client is the processor's read-only query API. Batch reconciliation uses
// it as the correctness backstop when webhook delivery was lossy.
type Client interface {
	GetTransactionState(ctx context.Context, processorRef string) (TransactionState, error)
}

// PayoutOutcome is the synchronous answer from the payout rail.
type PayoutOutcome string

const (
	OutcomeAccepted  PayoutOutcome = "accepted"
	OutcomeRejected  PayoutOutcome = "rejected"
	OutcomeAmbiguous PayoutOutcome = "ambiguous"
)

// PayoutInstruction asks the external rail to move funds to an affiliate.
// The idempotency key makes redelivered instructions safe on the rail side.
type PayoutInstruction struct {
	AffiliateID    string
	Amount         int64 // minor units
	Currency       string
	PayoutDetails  []byte // opaque bank details blob
	IdempotencyKey string
}

// PayoutExecutor executes affiliate payouts. Execute returns the synchronous
// outcome; an ambiguous result must later be resolved through
// GetPayoutOutcome, never by blindly re-executing.
type PayoutExecutor interface {
	Execute(ctx context.Context, instr PayoutInstruction) (PayoutOutcome, error)
	GetPayoutOutcome(ctx context.Context, idempotencyKey string) (PayoutOutcome, error)
}
