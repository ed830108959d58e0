package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCurrency is stamped on every rate row that arrives without an
// explicit currency code.
const DefaultCurrency = "THB"

// DefaultAdults is the occupancy assumed when the source omits it.
const DefaultAdults = 2

// Rate is one price quote for one owning entity, one check-in date, one adult
// count. Exactly one of PropertyID/CompetitorID is set.
type Rate struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	PropertyID   *uuid.UUID `json:"property_id,omitempty" db:"property_id"`
	CompetitorID *uuid.UUID `json:"competitor_id,omitempty" db:"competitor_id"`
	CheckInDate  time.Time  `json:"check_in_date" db:"check_in_date"`
	CheckOutDate time.Time  `json:"check_out_date" db:"check_out_date"`
	PriceAmount  float64    `json:"price_amount" db:"price_amount"`
	Currency     string     `json:"currency" db:"currency"`
	RoomType     *string    `json:"room_type,omitempty" db:"room_type"`
	Adults       int        `json:"adults" db:"adults"`
	ScrapedAt    time.Time  `json:"scraped_at" db:"scraped_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// RateFilter narrows a rate query to one owner and an optional date window.
type RateFilter struct {
	Owner Owner
	From  *time.Time
	To    *time.Time
}
