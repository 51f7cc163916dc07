package services

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/payloop/backend/internal/models"
)

const transactionColumns = `id, processor_ref, amount, currency, seller_id, customer_id,
	       pay_link_id, affiliate_id, commission_rate_bps, status, captured, disputed,
	       refund_amount, last_event_seq, succeeded_at, created_at, last_reconciled_at`

// LedgerService is the durable transaction store. Rows are appended on the
// first event for a processor reference and updated through monotonic state
// transitions only; nothing is ever deleted.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// UpsertFields carries everything an event or reconciliation correction may
// change on a transaction. Authoritative is set only by batch reconciliation:
// the processor's answer then wins even where the lifecycle graph would
// reject the move.
type UpsertFields struct {
	Status            models.TransactionStatus
	EventSeq          int64
	Amount            int64
	Currency          string
	SellerID          string
	CustomerID        string
	PayLinkID         string
	AffiliateID       string
	CommissionRateBps int64
	RefundAmount      int64
	RawPayload        json.RawMessage
	Authoritative     bool
}

// UpsertTransaction creates the transaction on first sight of processorRef,
// otherwise applies a monotonic state transition. Out-of-order deliveries
// (sequence at or behind the last applied one) return ErrStaleEvent;
// unreachable transitions return ErrInvalidTransition. Both are no-ops on
// the stored row, so webhook redelivery can never resurrect a terminal
// transaction.
func (s *LedgerService) UpsertTransaction(processorRef string, fields UpsertFields) (*models.Transaction, error) {
	if !models.ValidStatus(fields.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, fields.Status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := s.lockByProcessorRef(tx, processorRef)
	if err == sql.ErrNoRows {
		created, err := s.insertTransaction(tx, processorRef, fields)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return created, nil
	}
	if err != nil {
		return nil, err
	}

	if !fields.Authoritative && fields.EventSeq > 0 && fields.EventSeq <= current.LastEventSeq {
		log.Printf("[LEDGER] Stale event for %s: seq %d <= %d, ignored",
			processorRef, fields.EventSeq, current.LastEventSeq)
		return current, ErrStaleEvent
	}

	// Authoritative corrections fall through to applyTransition even on a
	// same-status answer: the refund amount may still disagree.
	if fields.Status == current.Status && !fields.Authoritative {
		// Idempotent replay of the current state; only advance the sequence
		// marker so later replays short-circuit on the seq check.
		if fields.EventSeq > current.LastEventSeq {
			if _, err := tx.Exec(`UPDATE transactions SET last_event_seq = $1 WHERE processor_ref = $2`,
				fields.EventSeq, processorRef); err != nil {
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			current.LastEventSeq = fields.EventSeq
		}
		return current, nil
	}

	if !fields.Authoritative && !models.CanTransition(current.Status, fields.Status) {
		log.Printf("[LEDGER] Rejected transition %s -> %s for %s (not reachable)",
			current.Status, fields.Status, processorRef)
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, fields.Status)
	}

	updated, err := s.applyTransition(tx, current, fields)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *LedgerService) insertTransaction(tx *sql.Tx, processorRef string, fields UpsertFields) (*models.Transaction, error) {
	now := time.Now()
	t := &models.Transaction{
		ID:                uuid.New().String(),
		ProcessorRef:      processorRef,
		Amount:            fields.Amount,
		Currency:          fields.Currency,
		SellerID:          fields.SellerID,
		PayLinkID:         fields.PayLinkID,
		CommissionRateBps: fields.CommissionRateBps,
		Status:            fields.Status,
		LastEventSeq:      fields.EventSeq,
		RawPayload:        fields.RawPayload,
		CreatedAt:         now,
	}
	if fields.CustomerID != "" {
		t.CustomerID = &fields.CustomerID
	}
	if fields.AffiliateID != "" {
		t.AffiliateID = &fields.AffiliateID
	}
	if fields.Status == models.StatusSucceeded {
		t.Captured = true
		t.SucceededAt = &now
	}
	if fields.Status == models.StatusDisputed {
		t.Disputed = true
	}
	if fields.RefundAmount > 0 {
		// A refund arriving before the creation event: the amount is still
		// unknown, but the refunded portion must survive for the batch pass.
		t.RefundAmount = fields.RefundAmount
		if t.Amount > 0 && t.RefundAmount > t.Amount {
			t.RefundAmount = t.Amount
		}
	}

	_, err := tx.Exec(`
		INSERT INTO transactions
		(id, processor_ref, amount, currency, seller_id, customer_id, pay_link_id,
		 affiliate_id, commission_rate_bps, status, captured, disputed, refund_amount,
		 last_event_seq, raw_payload, succeeded_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.ProcessorRef, t.Amount, t.Currency, t.SellerID, t.CustomerID, t.PayLinkID,
		t.AffiliateID, t.CommissionRateBps, t.Status, t.Captured, t.Disputed, t.RefundAmount,
		t.LastEventSeq, []byte(t.RawPayload), t.SucceededAt, t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *LedgerService) applyTransition(tx *sql.Tx, current *models.Transaction, fields UpsertFields) (*models.Transaction, error) {
	updated := *current
	updated.Status = fields.Status
	updated.LastEventSeq = fields.EventSeq
	if fields.EventSeq <= current.LastEventSeq {
		updated.LastEventSeq = current.LastEventSeq
	}
	now := time.Now()
	updated.LastReconciledAt = &now

	switch fields.Status {
	case models.StatusSucceeded:
		updated.Captured = true
		if updated.SucceededAt == nil {
			updated.SucceededAt = &now
		}
	case models.StatusRefunded:
		refund := fields.RefundAmount
		if refund <= 0 || refund > updated.Amount {
			refund = updated.Amount
		}
		updated.RefundAmount = refund
	case models.StatusDisputed:
		updated.Disputed = true
	case models.StatusFailed:
		// A failed transaction carries no refund; the graph only reaches
		// failed before capture, so refund_amount is already zero.
		updated.RefundAmount = 0
	}

	// Reconciliation corrections carry no payload; keep the stored one
	// rather than blanking the audit trail.
	var rawPayload interface{}
	if len(fields.RawPayload) > 0 {
		rawPayload = []byte(fields.RawPayload)
	}

	_, err := tx.Exec(`
		UPDATE transactions
		SET status = $1, captured = $2, disputed = $3, refund_amount = $4,
		    last_event_seq = $5, raw_payload = COALESCE($6, raw_payload),
		    succeeded_at = $7, last_reconciled_at = $8
		WHERE processor_ref = $9`,
		updated.Status, updated.Captured, updated.Disputed, updated.RefundAmount,
		updated.LastEventSeq, rawPayload, updated.SucceededAt,
		updated.LastReconciledAt, updated.ProcessorRef)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *LedgerService) lockByProcessorRef(tx *sql.Tx, processorRef string) (*models.Transaction, error) {
	row := tx.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE processor_ref = $1
		FOR UPDATE`, processorRef)
	return scanTransaction(row)
}

// GetTransaction fetches a transaction by platform id.
func (s *LedgerService) GetTransaction(id string) (*models.Transaction, error) {
	row := s.db.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// GetByProcessorRef fetches a transaction by its external reference.
func (s *LedgerService) GetByProcessorRef(processorRef string) (*models.Transaction, error) {
	row := s.db.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE processor_ref = $1`, processorRef)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// ListByAffiliate returns transactions attributed to the affiliate, newest
// first, using keyset pagination. The cursor is an opaque composite of
// creation time and id, so concurrent inserts never skip or duplicate rows
// the way an offset would.
func (s *LedgerService) ListByAffiliate(affiliateID string, statusFilter models.TransactionStatus, cursor string, limit int) ([]models.Transaction, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	conditions = append(conditions, fmt.Sprintf("affiliate_id = $%d", argIndex))
	args = append(args, affiliateID)
	argIndex++

	if statusFilter != "" {
		if !models.ValidStatus(statusFilter) {
			return nil, "", fmt.Errorf("unknown status filter %q", statusFilter)
		}
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, statusFilter)
		argIndex++
	}

	if cursor != "" {
		createdAt, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		conditions = append(conditions, fmt.Sprintf("(created_at, id) < ($%d, $%d)", argIndex, argIndex+1))
		args = append(args, createdAt, id)
		argIndex += 2
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at DESC, id DESC
		LIMIT $` + strconv.Itoa(argIndex)
	args = append(args, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, "", err
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(transactions) > limit {
		transactions = transactions[:limit]
		last := transactions[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return transactions, nextCursor, nil
}

// ListTouchedSince returns transactions created or reconciled after the
// cutoff; the batch reconciliation window.
func (s *LedgerService) ListTouchedSince(cutoff time.Time) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE created_at >= $1 OR last_reconciled_at >= $1
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

func encodeCursor(createdAt time.Time, id string) string {
	return base64.URLEncoding.EncodeToString(
		[]byte(fmt.Sprintf("%d:%s", createdAt.UnixNano(), id)))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor")
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor")
	}
	return time.Unix(0, nanos), parts[1], nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var customerID, affiliateID sql.NullString
	var succeededAt, reconciledAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.ProcessorRef, &t.Amount, &t.Currency, &t.SellerID, &customerID,
		&t.PayLinkID, &affiliateID, &t.CommissionRateBps, &t.Status, &t.Captured,
		&t.Disputed, &t.RefundAmount, &t.LastEventSeq, &succeededAt, &t.CreatedAt,
		&reconciledAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		t.CustomerID = &customerID.String
	}
	if affiliateID.Valid {
		t.AffiliateID = &affiliateID.String
	}
	if succeededAt.Valid {
		t.SucceededAt = &succeededAt.Time
	}
	if reconciledAt.Valid {
		t.LastReconciledAt = &reconciledAt.Time
	}
	return &t, nil
}
