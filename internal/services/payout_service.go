package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/payloop/backend/internal/config"
	"github.com/payloop/backend/internal/models"
	"github.com/payloop/backend/internal/processor"
)

const payoutIdemPrefix = "payout:idem:"

// PayoutService coordinates sweep-all affiliate payouts with at-most-once
// execution. The pending row is durably recorded before the rail is invoked,
// and the "no other pending request" check rides on a partial unique index,
// so concurrent requests cannot double-sweep even across processes.
type PayoutService struct {
	db       *sql.DB
	redis    *redis.Client
	balance  *BalanceService
	executor processor.PayoutExecutor
	cfg      *config.SettlementConfig
}

func NewPayoutService(db *sql.DB, redisClient *redis.Client, balance *BalanceService, executor processor.PayoutExecutor, cfg *config.SettlementConfig) *PayoutService {
	return &PayoutService{
		db:       db,
		redis:    redisClient,
		balance:  balance,
		executor: executor,
		cfg:      cfg,
	}
}

// RequestPayout sweeps the affiliate's entire available balance.
//
// Replays of the same idempotency key return the original request. A second
// request while one is pending fails with ErrConflict. A zero or negative
// availability is a successful no-op: nothing is stored, nothing is paid.
// An ambiguous rail outcome leaves the request pending for
// ResolvePendingPayouts; it is never blindly re-executed.
func (s *PayoutService) RequestPayout(ctx context.Context, affiliateID, idempotencyKey string) (*models.PayoutRequest, error) {
	if idempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	if existing := s.cachedRequest(ctx, idempotencyKey); existing != nil {
		return existing, nil
	}

	var payoutDetails []byte
	err := s.db.QueryRow(`
		SELECT payout_details FROM affiliate_accounts WHERE affiliate_id = $1`,
		affiliateID).Scan(&payoutDetails)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("affiliate %s: %w", affiliateID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	bal, err := s.balance.GetBalance(affiliateID)
	if err != nil {
		return nil, fmt.Errorf("compute balance: %w", err)
	}
	if bal.Available <= 0 {
		log.Printf("[PAYOUT] Nothing to sweep for %s (available=%d)", affiliateID, bal.Available)
		return &models.PayoutRequest{
			AffiliateID: affiliateID,
			Amount:      0,
			Currency:    bal.Currency,
			Status:      models.PayoutCompleted,
			RequestedAt: time.Now(),
		}, nil
	}

	req := &models.PayoutRequest{
		ID:             uuid.New().String(),
		AffiliateID:    affiliateID,
		Amount:         bal.Available,
		Currency:       bal.Currency,
		Status:         models.PayoutPending,
		IdempotencyKey: idempotencyKey,
		RequestedAt:    time.Now(),
	}

	// Check-and-create in one statement: the partial unique index on
	// (affiliate_id) WHERE status = 'pending' makes the race between two
	// concurrent requests lose cleanly with a unique violation, and the
	// availability recheck inside the INSERT rejects a sweep amount that
	// another request already paid out between computation and insert.
	cutoff := time.Now().Add(-s.cfg.SettlementDelay)
	result, err := s.db.Exec(`
		INSERT INTO payout_requests
		(id, affiliate_id, amount, currency, status, idempotency_key, requested_at)
		SELECT $1, $2, $3, $4, 'pending', $5, $6
		WHERE (
			SELECT COALESCE(SUM((amount - refund_amount) * commission_rate_bps / 10000), 0)
			FROM transactions
			WHERE affiliate_id = $2
			  AND status IN ('succeeded', 'refunded')
			  AND succeeded_at <= $7
		) - (
			SELECT COALESCE(SUM(amount), 0)
			FROM payout_requests
			WHERE affiliate_id = $2 AND status IN ('pending', 'completed')
		) >= $3`,
		req.ID, req.AffiliateID, req.Amount, req.Currency,
		req.IdempotencyKey, req.RequestedAt, cutoff)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if strings.Contains(pqErr.Constraint, "idempotency") {
				return s.getByIdempotencyKey(idempotencyKey)
			}
			return nil, ErrConflict
		}
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		// The available balance moved between computation and insert:
		// a completed payout no longer holds the pending index, so only
		// this recheck stops a second sweep of the same funds.
		log.Printf("[PAYOUT] Availability recheck failed for %s, sweep of %d aborted", affiliateID, req.Amount)
		return nil, ErrConflict
	}

	s.cacheRequest(ctx, req)

	outcome, err := s.executor.Execute(ctx, processor.PayoutInstruction{
		AffiliateID:    affiliateID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		PayoutDetails:  payoutDetails,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		log.Printf("[PAYOUT] Executor error for %s: %v", req.ID, err)
		outcome = processor.OutcomeAmbiguous
	}

	return s.finalize(req, outcome)
}

// ResolvePendingPayouts queries the rail's authoritative outcome for pending
// requests older than the grace period and finalizes the decided ones.
// Still-ambiguous requests stay pending for the next sweep.
func (s *PayoutService) ResolvePendingPayouts(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.PendingResolveAfter
	}
	cutoff := time.Now().Add(-olderThan)

	rows, err := s.db.Query(`
		SELECT id, affiliate_id, amount, currency, status, idempotency_key, requested_at, resolved_at
		FROM payout_requests
		WHERE status = 'pending' AND requested_at < $1
		ORDER BY requested_at ASC`, cutoff)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var stale []models.PayoutRequest
	for rows.Next() {
		req, err := scanPayoutRequest(rows)
		if err != nil {
			return 0, err
		}
		stale = append(stale, *req)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	resolved := 0
	for i := range stale {
		req := &stale[i]
		outcome, err := s.executor.GetPayoutOutcome(ctx, req.IdempotencyKey)
		if err != nil {
			log.Printf("[PAYOUT] Outcome query failed for %s: %v", req.ID, err)
			continue
		}
		if outcome == processor.OutcomeAmbiguous {
			continue
		}
		if _, err := s.finalize(req, outcome); err != nil {
			log.Printf("[PAYOUT] Failed to finalize %s: %v", req.ID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// GetPayoutRequest fetches a payout request by id.
func (s *PayoutService) GetPayoutRequest(id string) (*models.PayoutRequest, error) {
	row := s.db.QueryRow(`
		SELECT id, affiliate_id, amount, currency, status, idempotency_key, requested_at, resolved_at
		FROM payout_requests WHERE id = $1`, id)
	req, err := scanPayoutRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return req, err
}

func (s *PayoutService) finalize(req *models.PayoutRequest, outcome processor.PayoutOutcome) (*models.PayoutRequest, error) {
	switch outcome {
	case processor.OutcomeAccepted:
		if err := s.complete(req); err != nil {
			return nil, err
		}
	case processor.OutcomeRejected:
		if err := s.fail(req); err != nil {
			return nil, err
		}
	default:
		// Unknown outcome: the row stays pending and only a reconciliation
		// sweep may settle it. Retrying the rail here risks double payment.
		log.Printf("[PAYOUT] Ambiguous outcome for %s, leaving pending", req.ID)
	}
	return req, nil
}

// complete marks the request completed and rolls the affiliate counters
// forward in the same database transaction. The GREATEST clause keeps
// cumulative_paid_out <= cumulative_settled even when a post-payout
// refund shrank the recomputed settled total.
func (s *PayoutService) complete(req *models.PayoutRequest) error {
	settled, err := s.balance.SettledTotal(req.AffiliateID)
	if err != nil {
		return fmt.Errorf("settled total: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.Exec(`
		UPDATE payout_requests SET status = 'completed', resolved_at = $1
		WHERE id = $2 AND status = 'pending'`, now, req.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("payout %s is no longer pending", req.ID)
	}

	_, err = tx.Exec(`
		UPDATE affiliate_accounts
		SET cumulative_paid_out = cumulative_paid_out + $1,
		    cumulative_settled = GREATEST(cumulative_settled, $2, cumulative_paid_out + $1),
		    updated_at = $3
		WHERE affiliate_id = $4`,
		req.Amount, settled, now, req.AffiliateID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	req.Status = models.PayoutCompleted
	req.ResolvedAt = &now
	log.Printf("[PAYOUT] Completed %s: swept %d %s for %s", req.ID, req.Amount, req.Currency, req.AffiliateID)
	return nil
}

func (s *PayoutService) fail(req *models.PayoutRequest) error {
	now := time.Now()
	_, err := s.db.Exec(`
		UPDATE payout_requests SET status = 'failed', resolved_at = $1
		WHERE id = $2 AND status = 'pending'`, now, req.ID)
	if err != nil {
		return err
	}
	req.Status = models.PayoutFailed
	req.ResolvedAt = &now
	log.Printf("[PAYOUT] Failed %s: rail rejected sweep for %s", req.ID, req.AffiliateID)
	return nil
}

func (s *PayoutService) getByIdempotencyKey(key string) (*models.PayoutRequest, error) {
	row := s.db.QueryRow(`
		SELECT id, affiliate_id, amount, currency, status, idempotency_key, requested_at, resolved_at
		FROM payout_requests WHERE idempotency_key = $1`, key)
	req, err := scanPayoutRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return req, err
}

// cachedRequest consults the redis idempotency cache. Best effort: a cache
// miss falls through to the unique column on the table.
func (s *PayoutService) cachedRequest(ctx context.Context, key string) *models.PayoutRequest {
	if s.redis == nil {
		return nil
	}
	id, err := s.redis.Get(ctx, payoutIdemPrefix+key).Result()
	if err != nil {
		return nil
	}
	req, err := s.GetPayoutRequest(id)
	if err != nil {
		return nil
	}
	return req
}

func (s *PayoutService) cacheRequest(ctx context.Context, req *models.PayoutRequest) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, payoutIdemPrefix+req.IdempotencyKey, req.ID, s.cfg.IdempotencyTTL).Err(); err != nil {
		log.Printf("[PAYOUT] Failed to cache idempotency key: %v", err)
	}
}

func scanPayoutRequest(row rowScanner) (*models.PayoutRequest, error) {
	var req models.PayoutRequest
	var resolvedAt sql.NullTime
	err := row.Scan(&req.ID, &req.AffiliateID, &req.Amount, &req.Currency,
		&req.Status, &req.IdempotencyKey, &req.RequestedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Time
	}
	return &req, nil
}
