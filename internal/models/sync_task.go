package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncTask is one pending write of a booking snapshot to an external mirror.
type SyncTask struct {
	BookingID  uuid.UUID `json:"booking_id"`
	EventType  string    `json:"event_type"`
	Payload    []byte    `json:"payload"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
