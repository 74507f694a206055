package models

import (
	"time"
)

// FinancialTransaction types and legs
const (
	TransactionTypeCharge = "charge"
	TransactionTypeRefund = "refund"

	LegServiceFee       = "service_fee"
	LegRemainingBalance = "remaining_balance"
)

// FinancialTransaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
)

// FinancialTransaction is an append-only ledger entry recording one monetary
// event against a booking, independent of any gateway-specific record. The
// only permitted mutation after creation is the pending -> completed flip
// when a deferred capture finalizes.
type FinancialTransaction struct {
	ID               string     `json:"id" db:"id"`
	BookingID        string     `json:"booking_id" db:"booking_id"`
	Type             string     `json:"type" db:"type"`
	Leg              string     `json:"leg" db:"leg"`
	Amount           int64      `json:"amount" db:"amount"` // in cents
	Currency         string     `json:"currency" db:"currency"`
	Status           string     `json:"status" db:"status"`
	GatewayReference string     `json:"gateway_reference" db:"gateway_reference"`
	Description      string     `json:"description" db:"description"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time `json:"completed_at" db:"completed_at"`
}

// Payout statuses
const (
	PayoutStatusPending  = "pending"
	PayoutStatusExported = "exported"
)

// BusinessPayoutTransaction summarizes the net amount owed to the service
// provider for one booking's captured payment. Created at most once per
// booking, guarded by a pre-insert existence check.
type BusinessPayoutTransaction struct {
	ID                string    `json:"id" db:"id"`
	BookingID         string    `json:"booking_id" db:"booking_id"`
	ProviderID        string    `json:"provider_id" db:"provider_id"`
	GrossAmount       int64     `json:"gross_amount" db:"gross_amount"`
	PlatformFeeAmount int64     `json:"platform_fee_amount" db:"platform_fee_amount"`
	NetPaymentAmount  int64     `json:"net_payment_amount" db:"net_payment_amount"`
	Currency          string    `json:"currency" db:"currency"`
	Status            string    `json:"status" db:"status"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
