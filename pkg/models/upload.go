package models

import (
	"time"

	"github.com/google/uuid"
)

// Upload is the audit record of one CSV file ingested for one property or one
// competitor. The backing file lives in blob storage at FilePath.
type Upload struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	PropertyID   *uuid.UUID `json:"property_id,omitempty" db:"property_id"`
	CompetitorID *uuid.UUID `json:"competitor_id,omitempty" db:"competitor_id"`
	FileName     string     `json:"file_name" db:"file_name"`
	FilePath     string     `json:"file_path" db:"file_path"`
	RecordCount  int        `json:"record_count" db:"record_count"`
	UploadedAt   time.Time  `json:"uploaded_at" db:"uploaded_at"`
}
