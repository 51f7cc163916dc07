package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/payloop/backend/internal/models"
)

// AffiliateService manages affiliate accounts: the referral relationship,
// the commission rate, and the cumulative settlement counters the payout
// coordinator rolls forward.
type AffiliateService struct {
	db *sql.DB
}

func NewAffiliateService(db *sql.DB) *AffiliateService {
	return &AffiliateService{db: db}
}

// EnrollRequest is the request body for enrolling an affiliate under a
// seller.
type EnrollRequest struct {
	AffiliateID       string          `json:"affiliateId" validate:"required,max=64"`
	CommissionRateBps int64           `json:"commissionRateBps" validate:"required,gt=0,lte=10000"`
	PayoutDetails     json.RawMessage `json:"payoutDetails" validate:"required"`
}

// Enroll creates the affiliate account under the seller. Re-enrolling an
// existing affiliate is a no-op; rates are not silently rewritten.
func (s *AffiliateService) Enroll(sellerID string, req EnrollRequest) (*models.AffiliateAccount, error) {
	now := time.Now()
	result, err := s.db.Exec(`
		INSERT INTO affiliate_accounts
		(affiliate_id, seller_id, commission_rate_bps, cumulative_settled, cumulative_paid_out, payout_details, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $5, $5)
		ON CONFLICT (affiliate_id) DO NOTHING`,
		req.AffiliateID, sellerID, req.CommissionRateBps, []byte(req.PayoutDetails), now)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		log.Printf("[AFFILIATE] Enroll replay for %s, returning existing account", req.AffiliateID)
	}
	return s.GetAccount(req.AffiliateID)
}

// GetAccount fetches an affiliate account.
func (s *AffiliateService) GetAccount(affiliateID string) (*models.AffiliateAccount, error) {
	var acc models.AffiliateAccount
	var details []byte
	err := s.db.QueryRow(`
		SELECT affiliate_id, seller_id, commission_rate_bps, cumulative_settled,
		       cumulative_paid_out, payout_details, created_at, updated_at
		FROM affiliate_accounts
		WHERE affiliate_id = $1`, affiliateID).Scan(
		&acc.AffiliateID, &acc.SellerID, &acc.CommissionRateBps, &acc.CumulativeSettled,
		&acc.CumulativePaidOut, &details, &acc.CreatedAt, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	acc.PayoutDetails = details
	return &acc, nil
}
