package services

import (
	"context"
	"errors"
	"time"

	"github.com/servana/backend/internal/gateway"
	"github.com/servana/backend/internal/models"
)

var (
	// ErrBookingNotFound: the referenced booking does not exist. Not retried.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrMissingPaymentMethod: the booking has no payment-intent-equivalent
	// record to charge against. Not retried.
	ErrMissingPaymentMethod = errors.New("booking has no payment method on file")
)

// Outcome error codes. Gateway failures are surfaced as tagged results, not
// errors, so callers can branch without exception-style control flow.
const (
	ErrCodePaymentFailed     = "payment_failed"
	ErrCodePartialLegFailure = "partial_leg_failure"
	ErrCodeRefundFailed      = "refund_failed"
)

// LedgerStore is the persistence capability the orchestrator and sweeper
// consume. Implemented by store.Store; substituted with a fake in tests.
type LedgerStore interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBookingPayment(ctx context.Context, b *models.Booking) error

	CreateSchedule(ctx context.Context, sched *models.PaymentSchedule) error
	ActiveSchedule(ctx context.Context, bookingID string) (*models.PaymentSchedule, error)
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]models.PaymentSchedule, error)
	ClaimSchedule(ctx context.Context, id string) (bool, error)
	MarkScheduleProcessed(ctx context.Context, id string) error
	MarkScheduleFailed(ctx context.Context, id, reason string) error

	CreateTransaction(ctx context.Context, tx *models.FinancialTransaction) error
	CompleteTransaction(ctx context.Context, bookingID, leg string) error
	HasRefundTransaction(ctx context.Context, bookingID, leg string) (bool, error)
	CreatePayoutIfAbsent(ctx context.Context, p *models.BusinessPayoutTransaction) (bool, error)
}

// Notifier enqueues payment lifecycle events for the downstream notification
// service. Implementations must tolerate being called with a nil receiver;
// a missing notifier downgrades events to log lines.
type Notifier interface {
	PaymentEvent(ctx context.Context, event string, bookingID string, amount int64)
}

// PaymentOutcome is the tagged result of an orchestrator operation. Success
// is false whenever the gateway rejected a leg; the booking's persisted state
// tells the caller where the operation stopped.
type PaymentOutcome struct {
	Success                 bool   `json:"success"`
	BookingID               string `json:"booking_id"`
	BookingStatus           string `json:"booking_status"`
	PaymentStatus           string `json:"payment_status"`
	ServiceFeeCharged       bool   `json:"service_fee_charged"`
	RemainingBalanceCharged bool   `json:"remaining_balance_charged"`
	ScheduleID              string `json:"schedule_id,omitempty"`
	RefundAmount            int64  `json:"refund_amount"`
	CancellationFee         int64  `json:"cancellation_fee"`
	ErrorCode               string `json:"error_code,omitempty"`
	Error                   string `json:"error,omitempty"`
}

func outcomeFor(b *models.Booking) *PaymentOutcome {
	return &PaymentOutcome{
		Success:                 true,
		BookingID:               b.ID,
		BookingStatus:           b.Status,
		PaymentStatus:           b.PaymentStatus,
		ServiceFeeCharged:       b.ServiceFeeCharged,
		RemainingBalanceCharged: b.RemainingBalanceCharged,
		RefundAmount:            b.RefundAmount,
		CancellationFee:         b.CancellationFee,
	}
}

func failedOutcome(b *models.Booking, code string, err error) *PaymentOutcome {
	out := outcomeFor(b)
	out.Success = false
	out.ErrorCode = code
	if err != nil {
		out.Error = err.Error()
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && gwErr.Code != "" {
			out.Error = gwErr.Message
		}
	}
	return out
}
