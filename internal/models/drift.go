package models

import (
	"encoding/json"
	"time"
)

// ReconciliationDrift records a disagreement between the local ledger and
// the processor's authoritative state at a point in time. Drift entries are
// consumed by operational tooling and never auto-resolved.
type ReconciliationDrift struct {
	ID             string            `json:"id" db:"id"`
	ProcessorRef   string            `json:"processor_ref" db:"processor_ref"`
	LocalStatus    TransactionStatus `json:"local_status" db:"local_status"`
	ProcessorState TransactionStatus `json:"processor_state" db:"processor_state"`
	BeforeSnapshot json.RawMessage   `json:"before_snapshot" db:"before_snapshot"`
	AfterSnapshot  json.RawMessage   `json:"after_snapshot" db:"after_snapshot"`
	DetectedAt     time.Time         `json:"detected_at" db:"detected_at"`
}

// QuarantinedEvent is a processor event that could not be applied: an
// unresolvable reference, an invalid amount, or an unknown type. It is
// recorded for operator review and excluded from the ledger.
type QuarantinedEvent struct {
	ID           string          `json:"id" db:"id"`
	ProcessorRef string          `json:"processor_ref" db:"processor_ref"`
	Reason       string          `json:"reason" db:"reason"`
	RawPayload   json.RawMessage `json:"raw_payload" db:"raw_payload"`
	ReceivedAt   time.Time       `json:"received_at" db:"received_at"`
}
