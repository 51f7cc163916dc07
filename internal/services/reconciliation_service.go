package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/payloop/backend/internal/config"
	"github.com/payloop/backend/internal/models"
	"github.com/payloop/backend/internal/processor"
)

// driftQueue is the redis list operational tooling consumes drift
// notifications from.
const driftQueue = "drift_queue"

// ReconcileResult summarises a batch reconciliation run.
type ReconcileResult struct {
	Checked     int `json:"checked"`
	Matched     int `json:"matched"`
	Corrected   int `json:"corrected"`
	QueryErrors int `json:"query_errors"`
}

// ReconciliationService keeps the local ledger in agreement with the
// processor. Events drive the fast path; the batch pass against the
// processor query API is the correctness backstop for lost or duplicated
// webhook deliveries.
type ReconciliationService struct {
	db     *sql.DB
	redis  *redis.Client
	ledger *LedgerService
	client processor.Client
	cfg    *config.SettlementConfig
}

func NewReconciliationService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, client processor.Client, cfg *config.SettlementConfig) *ReconciliationService {
	return &ReconciliationService{
		db:     db,
		redis:  redisClient,
		ledger: ledger,
		client: client,
		cfg:    cfg,
	}
}

// IngestRaw decodes one webhook payload at the boundary and applies it.
// Malformed payloads are quarantined, not applied, and do not fail the call:
// the processor treats our 2xx as delivery, and the quarantine table is the
// operator's queue.
func (s *ReconciliationService) IngestRaw(ctx context.Context, raw []byte) error {
	ev, err := processor.ParseEvent(raw)
	if err != nil {
		if errors.Is(err, processor.ErrMalformedEvent) {
			return s.quarantine("", err.Error(), raw)
		}
		return err
	}
	_, err = s.ApplyEvent(ctx, ev)
	return err
}

// ApplyEvent applies a typed processor event through the ledger's monotonic
// upsert. Replays and out-of-order deliveries are no-ops; an event whose
// reference cannot be attributed is quarantined.
func (s *ReconciliationService) ApplyEvent(ctx context.Context, ev processor.Event) (*models.Transaction, error) {
	var fields UpsertFields

	if ev.AffiliateID != "" {
		rate, err := s.commissionRate(ev.AffiliateID)
		if err != nil {
			if err == sql.ErrNoRows {
				if qerr := s.quarantine(ev.ProcessorRef,
					fmt.Sprintf("unresolvable affiliate %s", ev.AffiliateID), ev.Raw); qerr != nil {
					return nil, qerr
				}
				return nil, nil
			}
			return nil, err
		}
		fields.CommissionRateBps = rate
	}

	tx, err := s.ledger.UpsertTransaction(ev.ProcessorRef, upsertFromEvent(ev, fields))
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStaleEvent) {
			// Late or out-of-order delivery; the ledger already moved past it.
			log.Printf("[RECONCILE] Event %s seq %d for %s discarded: %v",
				ev.Kind, ev.Seq, ev.ProcessorRef, err)
			return tx, nil
		}
		return nil, err
	}
	return tx, nil
}

// ApplyBatch applies a slice of raw event payloads, continuing past
// per-event failures so one poison payload cannot block its siblings.
func (s *ReconciliationService) ApplyBatch(ctx context.Context, raws [][]byte) (applied int, failed int) {
	for _, raw := range raws {
		if err := s.IngestRaw(ctx, raw); err != nil {
			log.Printf("[RECONCILE] Batch event failed: %v", err)
			failed++
			continue
		}
		applied++
	}
	return applied, failed
}

// Reconcile re-fetches authoritative state for every transaction touched in
// the window and corrects the ledger where it disagrees, recording a drift
// entry with before/after snapshots. Query failures skip the transaction;
// the next run picks it up again.
func (s *ReconciliationService) Reconcile(ctx context.Context, window time.Duration) (*ReconcileResult, error) {
	if window <= 0 {
		window = s.cfg.ReconcileWindow
	}
	cutoff := time.Now().Add(-window)

	transactions, err := s.ledger.ListTouchedSince(cutoff)
	if err != nil {
		return nil, fmt.Errorf("list window: %w", err)
	}

	result := &ReconcileResult{}
	for i := range transactions {
		local := &transactions[i]
		result.Checked++

		state, err := s.client.GetTransactionState(ctx, local.ProcessorRef)
		if err != nil {
			log.Printf("[RECONCILE] WARNING: query failed for %s: %v", local.ProcessorRef, err)
			result.QueryErrors++
			continue
		}

		if state.Status == local.Status && state.RefundAmount == local.RefundAmount {
			result.Matched++
			continue
		}

		if err := s.correctDrift(ctx, local, state); err != nil {
			log.Printf("[RECONCILE] WARNING: correction failed for %s: %v", local.ProcessorRef, err)
			result.QueryErrors++
			continue
		}
		result.Corrected++
	}

	log.Printf("[RECONCILE] Run complete: checked=%d matched=%d corrected=%d errors=%d",
		result.Checked, result.Matched, result.Corrected, result.QueryErrors)
	return result, nil
}

func (s *ReconciliationService) correctDrift(ctx context.Context, local *models.Transaction, state processor.TransactionState) error {
	before, _ := json.Marshal(local)

	corrected, err := s.ledger.UpsertTransaction(local.ProcessorRef, UpsertFields{
		Status:        state.Status,
		RefundAmount:  state.RefundAmount,
		Authoritative: true,
	})
	if err != nil {
		return fmt.Errorf("apply correction: %w", err)
	}
	after, _ := json.Marshal(corrected)

	drift := models.ReconciliationDrift{
		ID:             uuid.New().String(),
		ProcessorRef:   local.ProcessorRef,
		LocalStatus:    local.Status,
		ProcessorState: state.Status,
		BeforeSnapshot: before,
		AfterSnapshot:  after,
		DetectedAt:     time.Now(),
	}
	if _, err := s.db.Exec(`
		INSERT INTO reconciliation_drifts
		(id, processor_ref, local_status, processor_state, before_snapshot, after_snapshot, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		drift.ID, drift.ProcessorRef, drift.LocalStatus, drift.ProcessorState,
		[]byte(drift.BeforeSnapshot), []byte(drift.AfterSnapshot), drift.DetectedAt); err != nil {
		return fmt.Errorf("record drift: %w", err)
	}

	log.Printf("[RECONCILE] Drift on %s: local=%s processor=%s, corrected",
		local.ProcessorRef, local.Status, state.Status)
	s.notifyDrift(ctx, &drift)
	return nil
}

// notifyDrift pushes the drift onto the ops queue. Best effort: the durable
// record is the drift table.
func (s *ReconciliationService) notifyDrift(ctx context.Context, drift *models.ReconciliationDrift) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(drift)
	if err != nil {
		return
	}
	if err := s.redis.RPush(ctx, driftQueue, data).Err(); err != nil {
		log.Printf("[RECONCILE] Failed to enqueue drift notification: %v", err)
	}
}

// ListDrifts returns the most recent drift records for operational tooling.
func (s *ReconciliationService) ListDrifts(limit int) ([]models.ReconciliationDrift, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, processor_ref, local_status, processor_state, before_snapshot, after_snapshot, detected_at
		FROM reconciliation_drifts
		ORDER BY detected_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drifts := []models.ReconciliationDrift{}
	for rows.Next() {
		var d models.ReconciliationDrift
		var before, after []byte
		if err := rows.Scan(&d.ID, &d.ProcessorRef, &d.LocalStatus, &d.ProcessorState,
			&before, &after, &d.DetectedAt); err != nil {
			return nil, err
		}
		d.BeforeSnapshot = before
		d.AfterSnapshot = after
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

func (s *ReconciliationService) quarantine(processorRef, reason string, raw []byte) error {
	log.Printf("[RECONCILE] Quarantined event (ref=%q): %s", processorRef, reason)
	_, err := s.db.Exec(`
		INSERT INTO quarantined_events (id, processor_ref, reason, raw_payload, received_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), processorRef, reason, raw, time.Now())
	return err
}

func (s *ReconciliationService) commissionRate(affiliateID string) (int64, error) {
	var rate int64
	err := s.db.QueryRow(`
		SELECT commission_rate_bps FROM affiliate_accounts WHERE affiliate_id = $1`,
		affiliateID).Scan(&rate)
	return rate, err
}

func upsertFromEvent(ev processor.Event, base UpsertFields) UpsertFields {
	base.Status = ev.TargetStatus()
	base.EventSeq = ev.Seq
	base.Currency = ev.Currency
	base.SellerID = ev.SellerID
	base.CustomerID = ev.CustomerID
	base.PayLinkID = ev.PayLinkID
	base.AffiliateID = ev.AffiliateID
	base.RawPayload = ev.Raw
	if ev.Kind == processor.EventChargeRefunded {
		base.RefundAmount = ev.Amount
	} else {
		base.Amount = ev.Amount
	}
	return base
}
