package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/payloop/backend/internal/models"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/viper"
)

// PayLinkService creates and serves seller pay links. QR images are rendered
// on demand and cached in redis; the checkout page itself is served by the
// external storefront.
type PayLinkService struct {
	db      *sql.DB
	redis   *redis.Client
	baseURL string
}

func NewPayLinkService(db *sql.DB, redisClient *redis.Client) *PayLinkService {
	viper.SetDefault("paylink.base_url", "https://pay.payloop.example")
	return &PayLinkService{
		db:      db,
		redis:   redisClient,
		baseURL: viper.GetString("paylink.base_url"),
	}
}

// CreateLink stores a new pay link for the seller.
func (s *PayLinkService) CreateLink(sellerID string, req models.CreatePayLinkRequest) (*models.PayLink, error) {
	link := &models.PayLink{
		ID:        uuid.New().String(),
		SellerID:  sellerID,
		Title:     req.Title,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Active:    true,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO pay_links (id, seller_id, title, amount, currency, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		link.ID, link.SellerID, link.Title, link.Amount, link.Currency, link.Active, link.CreatedAt)
	if err != nil {
		return nil, err
	}
	return link, nil
}

// ListLinks returns the seller's links, newest first.
func (s *PayLinkService) ListLinks(sellerID string) ([]models.PayLink, error) {
	rows, err := s.db.Query(`
		SELECT id, seller_id, title, amount, currency, active, created_at
		FROM pay_links
		WHERE seller_id = $1
		ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []models.PayLink{}
	for rows.Next() {
		var l models.PayLink
		if err := rows.Scan(&l.ID, &l.SellerID, &l.Title, &l.Amount, &l.Currency, &l.Active, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// GetLink fetches a pay link by id.
func (s *PayLinkService) GetLink(id string) (*models.PayLink, error) {
	var l models.PayLink
	err := s.db.QueryRow(`
		SELECT id, seller_id, title, amount, currency, active, created_at
		FROM pay_links WHERE id = $1`, id).Scan(
		&l.ID, &l.SellerID, &l.Title, &l.Amount, &l.Currency, &l.Active, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// LinkQR renders the link's checkout URL as a PNG QR code, caching the image
// for a day.
func (s *PayLinkService) LinkQR(ctx context.Context, linkID string) ([]byte, error) {
	cacheKey := fmt.Sprintf("qr:link:%s", linkID)
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			return data, nil
		}
	}

	link, err := s.GetLink(linkID)
	if err != nil {
		return nil, err
	}

	checkoutURL := fmt.Sprintf("%s/l/%s", s.baseURL, link.ID)
	qr, err := qrcode.New(checkoutURL, qrcode.Medium)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, err
	}

	if s.redis != nil {
		s.redis.Set(ctx, cacheKey, buf.Bytes(), 24*time.Hour)
	}
	s.persistQR(link.ID, buf.Bytes())
	return buf.Bytes(), nil
}

// persistQR writes the rendered image under the static directory so the file
// server can serve later fetches without hitting this service. Best effort.
func (s *PayLinkService) persistQR(linkID string, data []byte) {
	dir := viper.GetString("paylink.qr_dir")
	if dir == "" {
		dir = "./static/link-qr"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, linkID+".png"), data, 0o644); err != nil {
		log.Printf("[PAYLINK] Failed to persist QR for %s: %v", linkID, err)
	}
}
