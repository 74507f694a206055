package models

import (
	"time"
)

// PaymentSchedule statuses. A row is claimed by a sweep by moving it from
// scheduled to processing; processed and failed are terminal.
const (
	ScheduleStatusScheduled  = "scheduled"
	ScheduleStatusProcessing = "processing"
	ScheduleStatusProcessed  = "processed"
	ScheduleStatusFailed     = "failed"
)

// PaymentTypeRemainingBalance is the only payment type the capture sweeper
// handles: the deferred service-amount leg of a booking.
const PaymentTypeRemainingBalance = "remaining_balance"

// PaymentSchedule represents a deferred capture obligation for the
// service-amount leg of a booking. At most one non-terminal row exists per
// booking.
type PaymentSchedule struct {
	ID              string     `json:"id" db:"id"`
	BookingID       string     `json:"booking_id" db:"booking_id"`
	PaymentType     string     `json:"payment_type" db:"payment_type"`
	ScheduledAt     time.Time  `json:"scheduled_at" db:"scheduled_at"`
	Amount          int64      `json:"amount" db:"amount"` // in cents
	Status          string     `json:"status" db:"status"`
	AuthorizationID string     `json:"authorization_id" db:"authorization_id"`
	RetryCount      int        `json:"retry_count" db:"retry_count"`
	ProcessedAt     *time.Time `json:"processed_at" db:"processed_at"`
	FailureReason   string     `json:"failure_reason" db:"failure_reason"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}
