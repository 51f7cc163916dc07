package services

import (
	"database/sql"
	"time"

	"github.com/payloop/backend/internal/config"
	"github.com/payloop/backend/internal/models"
)

// BalanceService derives affiliate balances from the transaction ledger and
// payout history. Nothing here is cached or counted incrementally: every
// call recomputes from the source rows, so the balance can never drift from
// the ledger.
type BalanceService struct {
	db  *sql.DB
	cfg *config.SettlementConfig
}

func NewBalanceService(db *sql.DB, cfg *config.SettlementConfig) *BalanceService {
	return &BalanceService{db: db, cfg: cfg}
}

// GetBalance computes the affiliate's available, pending, and reserved
// funds in minor units.
//
// A transaction is settled-attributable once it succeeded and the settlement
// delay has elapsed; refunds subtract their refunded portion; disputed
// transactions are excluded outright, whatever their age. Available is the
// settled total minus everything already swept into a payout request
// (pending requests hold their amount until resolved).
func (s *BalanceService) GetBalance(affiliateID string) (*models.Balance, error) {
	cutoff := time.Now().Add(-s.cfg.SettlementDelay)

	settled, currency, err := s.settledAsOf(affiliateID, cutoff)
	if err != nil {
		return nil, err
	}

	var pending int64
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM((amount - refund_amount) * commission_rate_bps / 10000), 0)
		FROM transactions
		WHERE affiliate_id = $1
		  AND status IN ('succeeded', 'refunded')
		  AND succeeded_at > $2`, affiliateID, cutoff).Scan(&pending)
	if err != nil {
		return nil, err
	}

	var swept, reserved int64
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0),
		       COALESCE(SUM(CASE WHEN status = 'pending' THEN amount ELSE 0 END), 0)
		FROM payout_requests
		WHERE affiliate_id = $1 AND status IN ('pending', 'completed')`,
		affiliateID).Scan(&swept, &reserved)
	if err != nil {
		return nil, err
	}

	return &models.Balance{
		AffiliateID: affiliateID,
		Available:   settled - swept,
		Pending:     pending,
		Reserved:    reserved,
		Currency:    currency,
	}, nil
}

// SettledTotal returns the affiliate's cumulative settled commission as of
// now, before payout subtraction. The payout coordinator records it on the
// affiliate account when a payout completes.
func (s *BalanceService) SettledTotal(affiliateID string) (int64, error) {
	settled, _, err := s.settledAsOf(affiliateID, time.Now().Add(-s.cfg.SettlementDelay))
	return settled, err
}

func (s *BalanceService) settledAsOf(affiliateID string, cutoff time.Time) (int64, string, error) {
	var settled int64
	var currency sql.NullString
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM((amount - refund_amount) * commission_rate_bps / 10000), 0),
		       MAX(currency)
		FROM transactions
		WHERE affiliate_id = $1
		  AND status IN ('succeeded', 'refunded')
		  AND succeeded_at <= $2`, affiliateID, cutoff).Scan(&settled, &currency)
	if err != nil {
		return 0, "", err
	}
	cur := s.cfg.DefaultCurrency
	if currency.Valid && currency.String != "" {
		cur = currency.String
	}
	return settled, cur, nil
}
