package models

import (
	"time"

	"github.com/google/uuid"
)

// Property is a hotel owned by a dashboard user.
type Property struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Name      string     `json:"name" db:"name"`
	Location  *string    `json:"location,omitempty" db:"location"`
	Currency  string     `json:"currency" db:"currency"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Competitor is a rival hotel tracked against one property. Ownership is
// resolved transitively: competitor -> property -> user.
type Competitor struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	PropertyID uuid.UUID  `json:"property_id" db:"property_id"`
	Name       string     `json:"name" db:"name"`
	BookingURL *string    `json:"booking_url,omitempty" db:"booking_url"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}
