package models

import "time"

// PayLink is a shareable payment page a seller creates. Buyers landing on a
// link pay through the external processor; resulting transactions carry the
// link id for attribution.
type PayLink struct {
	ID        string    `json:"id" db:"id"`
	SellerID  string    `json:"seller_id" db:"seller_id"`
	Title     string    `json:"title" db:"title"`
	Amount    int64     `json:"amount" db:"amount"` // minor units
	Currency  string    `json:"currency" db:"currency"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreatePayLinkRequest is the request body for link creation.
type CreatePayLinkRequest struct {
	Title    string `json:"title" validate:"required,max=140"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Currency string `json:"currency" validate:"required,len=3"`
}
