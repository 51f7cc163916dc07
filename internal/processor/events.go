package processor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/payloop/backend/internal/models"
)

// EventKind is the closed set of processor event types the platform
// understands. Payloads are converted into this tagged form at the boundary
// so downstream logic never probes raw JSON for field presence.
type EventKind string

const (
	EventPaymentCreated        EventKind = "payment_intent.created"
	EventPaymentRequiresAction EventKind = "payment_intent.requires_action"
	EventPaymentUncaptured     EventKind = "payment_intent.amount_capturable_updated"
	EventPaymentSucceeded      EventKind = "payment_intent.succeeded"
	EventPaymentFailed         EventKind = "payment_intent.payment_failed"
	EventChargeRefunded        EventKind = "charge.refunded"
	EventDisputeCreated        EventKind = "charge.dispute.created"
)

var kindToStatus = map[EventKind]models.TransactionStatus{
	EventPaymentCreated:        models.StatusRequiresAction,
	EventPaymentRequiresAction: models.StatusRequiresAction,
	EventPaymentUncaptured:     models.StatusUncaptured,
	EventPaymentSucceeded:      models.StatusSucceeded,
	EventPaymentFailed:         models.StatusFailed,
	EventChargeRefunded:        models.StatusRefunded,
	EventDisputeCreated:        models.StatusDisputed,
}

// ErrMalformedEvent marks an event that failed boundary validation. Such
// events are quarantined rather than applied.
var ErrMalformedEvent = errors.New("malformed processor event")

// Event is a boundary-validated processor event. Seq carries the processor's
// own causal sequence marker; local receipt order is meaningless.
type Event struct {
	ProcessorRef string
	Kind         EventKind
	Amount       int64 // minor units; for refund events, the refunded amount
	Currency     string
	Seq          int64

	// Attribution metadata the processor echoes back from link checkout.
	PayLinkID   string
	SellerID    string
	CustomerID  string
	AffiliateID string

	Raw json.RawMessage
}

// TargetStatus returns the ledger status this event drives toward.
func (e Event) TargetStatus() models.TransactionStatus {
	return kindToStatus[e.Kind]
}

type wireEvent struct {
	ProcessorRef       string `json:"processorRef"`
	Type               string `json:"type"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	OccurredAtSequence int64  `json:"occurredAtSequence"`
	Metadata           struct {
		PayLinkID   string `json:"payLinkId"`
		SellerID    string `json:"sellerId"`
		CustomerID  string `json:"customerId"`
		AffiliateID string `json:"affiliateId"`
	} `json:"metadata"`
}

// ParseEvent converts a raw webhook payload into a typed Event. A payload
// with an unknown type, missing reference, non-positive amount, or missing
// sequence marker fails with ErrMalformedEvent and must be quarantined.
func ParseEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	kind := EventKind(w.Type)
	if _, ok := kindToStatus[kind]; !ok {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, w.Type)
	}
	if w.ProcessorRef == "" {
		return Event{}, fmt.Errorf("%w: missing processorRef", ErrMalformedEvent)
	}
	if w.Amount <= 0 {
		return Event{}, fmt.Errorf("%w: invalid amount %d", ErrMalformedEvent, w.Amount)
	}
	if w.OccurredAtSequence <= 0 {
		return Event{}, fmt.Errorf("%w: missing occurredAtSequence", ErrMalformedEvent)
	}

	return Event{
		ProcessorRef: w.ProcessorRef,
		Kind:         kind,
		Amount:       w.Amount,
		Currency:     w.Currency,
		Seq:          w.OccurredAtSequence,
		PayLinkID:    w.Metadata.PayLinkID,
		SellerID:     w.Metadata.SellerID,
		CustomerID:   w.Metadata.CustomerID,
		AffiliateID:  w.Metadata.AffiliateID,
		Raw:          json.RawMessage(raw),
	}, nil
}
