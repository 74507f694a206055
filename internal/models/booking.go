package models

import (
	"fmt"
	"time"
)

// Booking statuses
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusDeclined  = "declined"
	BookingStatusCancelled = "cancelled"
	BookingStatusCompleted = "completed"
	BookingStatusNoShow    = "no_show"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

// Booking represents one scheduled service purchase. Monetary amounts are in
// the smallest currency unit (cents). ServiceFeeAmount is the platform cut
// and is never refunded after acceptance; the remainder is the service amount
// owed to the provider.
type Booking struct {
	ID         string `json:"id" db:"id"`
	CustomerID string `json:"customer_id" db:"customer_id"`
	ProviderID string `json:"provider_id" db:"provider_id"`

	TotalAmount      int64  `json:"total_amount" db:"total_amount"`
	ServiceFeeAmount int64  `json:"service_fee_amount" db:"service_fee_amount"`
	Currency         string `json:"currency" db:"currency"`

	ScheduledDate      time.Time `json:"scheduled_date" db:"scheduled_date"`
	ScheduledStartTime string    `json:"scheduled_start_time" db:"scheduled_start_time"` // "15:04"

	Status        string `json:"status" db:"status"`
	PaymentStatus string `json:"payment_status" db:"payment_status"`

	ServiceFeeCharged         bool       `json:"service_fee_charged" db:"service_fee_charged"`
	ServiceFeeChargedAt       *time.Time `json:"service_fee_charged_at" db:"service_fee_charged_at"`
	RemainingBalanceCharged   bool       `json:"remaining_balance_charged" db:"remaining_balance_charged"`
	RemainingBalanceChargedAt *time.Time `json:"remaining_balance_charged_at" db:"remaining_balance_charged_at"`

	CancellationFee int64 `json:"cancellation_fee" db:"cancellation_fee"`
	RefundAmount    int64 `json:"refund_amount" db:"refund_amount"`

	// Gateway references. Customer and payment method together are the
	// payment-intent-equivalent record created at purchase time.
	GatewayCustomerID      string `json:"gateway_customer_id" db:"gateway_customer_id"`
	GatewayPaymentMethodID string `json:"gateway_payment_method_id" db:"gateway_payment_method_id"`
	ServiceFeeChargeID     string `json:"service_fee_charge_id" db:"service_fee_charge_id"`
	RemainingChargeID      string `json:"remaining_charge_id" db:"remaining_charge_id"`
	RemainingAuthID        string `json:"remaining_auth_id" db:"remaining_auth_id"`

	Version   int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ServiceAmount is the provider leg: everything above the platform fee.
func (b *Booking) ServiceAmount() int64 {
	return b.TotalAmount - b.ServiceFeeAmount
}

// ServiceInstant combines the scheduled date and start time into the moment
// the service is due to begin, in UTC.
func (b *Booking) ServiceInstant() (time.Time, error) {
	start, err := time.Parse("15:04", b.ScheduledStartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid scheduled start time %q: %w", b.ScheduledStartTime, err)
	}
	d := b.ScheduledDate
	return time.Date(d.Year(), d.Month(), d.Day(), start.Hour(), start.Minute(), 0, 0, time.UTC), nil
}

// EverAccepted reports whether the booking reached acceptance at any point:
// either the platform fee was charged or the status moved past pending.
func (b *Booking) EverAccepted() bool {
	switch b.Status {
	case BookingStatusConfirmed, BookingStatusCompleted, BookingStatusNoShow:
		return true
	}
	return b.ServiceFeeCharged
}
