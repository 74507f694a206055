package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/servana/backend/internal/audit"
	"github.com/servana/backend/internal/config"
	"github.com/servana/backend/internal/gateway"
	"github.com/servana/backend/internal/models"
	"github.com/servana/backend/internal/store"
)

// Sweeper captures due manual-capture authorizations. Each due row is
// claimed with a conditional status flip before any gateway call, so
// overlapping sweep runs never double-capture.
type Sweeper struct {
	store   LedgerStore
	gateway gateway.PaymentGateway
	notify  Notifier
	audit   *audit.Logger
	cfg     *config.PaymentsConfig
}

func NewSweeper(ledger LedgerStore, gw gateway.PaymentGateway, notify Notifier, cfg *config.PaymentsConfig) *Sweeper {
	if cfg == nil {
		cfg = config.LoadPaymentsConfig()
	}
	return &Sweeper{
		store:   ledger,
		gateway: gw,
		notify:  notify,
		audit:   audit.NewLogger(),
		cfg:     cfg,
	}
}

// SweepResult is the terminal disposition of one claimed schedule row.
type SweepResult struct {
	ScheduleID string `json:"schedule_id"`
	BookingID  string `json:"booking_id"`
	Status     string `json:"status"` // captured, failed, skipped
	Amount     int64  `json:"amount,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// SweepSummary aggregates one sweep run.
type SweepSummary struct {
	Total    int           `json:"total"`
	Captured int           `json:"captured"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Results  []SweepResult `json:"results"`
}

// SweepDueCaptures processes every schedule row due at now, up to limit.
// Row-level failures are recorded on the row and never abort the batch.
func (s *Sweeper) SweepDueCaptures(ctx context.Context, now time.Time, limit int) (*SweepSummary, error) {
	if limit <= 0 {
		limit = s.cfg.SweepBatchLimit
	}
	due, err := s.store.DueSchedules(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Total: len(due)}
	if len(due) > 0 {
		log.Printf("[SWEEP] Processing %d due captures", len(due))
	}

	for i := range due {
		result := s.processSchedule(ctx, &due[i], now)
		summary.Results = append(summary.Results, result)
		switch result.Status {
		case "captured":
			summary.Captured++
		case "failed":
			summary.Failed++
		default:
			summary.Skipped++
		}
	}
	return summary, nil
}

func (s *Sweeper) processSchedule(ctx context.Context, sched *models.PaymentSchedule, now time.Time) SweepResult {
	result := SweepResult{ScheduleID: sched.ID, BookingID: sched.BookingID, Amount: sched.Amount}

	booking, err := s.store.GetBooking(ctx, sched.BookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			result.Status = "failed"
			result.Reason = "booking not found"
			s.markFailed(ctx, sched.ID, result.Reason)
			return result
		}
		result.Status = "skipped"
		result.Reason = err.Error()
		return result
	}

	if booking.Status != models.BookingStatusConfirmed {
		// Declined or cancelled since scheduling; the row should already have
		// been resolved, but a race can leave it behind.
		result.Status = "skipped"
		result.Reason = "booking is " + booking.Status
		s.markFailed(ctx, sched.ID, result.Reason)
		return result
	}

	if booking.RemainingBalanceCharged {
		result.Status = "skipped"
		result.Reason = "balance already charged"
		if err := s.store.MarkScheduleProcessed(ctx, sched.ID); err != nil {
			log.Printf("[SWEEP] Failed to resolve schedule %s: %v", sched.ID, err)
		}
		return result
	}

	claimed, err := s.store.ClaimSchedule(ctx, sched.ID)
	if err != nil {
		result.Status = "skipped"
		result.Reason = err.Error()
		return result
	}
	if !claimed {
		// Another sweep run got here first.
		result.Status = "skipped"
		result.Reason = "claimed by concurrent run"
		return result
	}

	authID := sched.AuthorizationID
	if authID == "" {
		authID = booking.RemainingAuthID
	}
	if authID == "" {
		result.Status = "failed"
		result.Reason = "no authorization on record"
		s.markFailed(ctx, sched.ID, result.Reason)
		return result
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	auth, err := s.gateway.Retrieve(gctx, authID)
	cancel()
	if err != nil {
		result.Status = "failed"
		result.Reason = err.Error()
		s.audit.LogError(booking.ID, models.LegRemainingBalance, err)
		s.markFailed(ctx, sched.ID, result.Reason)
		return result
	}

	switch auth.Status {
	case gateway.StatusSucceeded:
		// Captured out of band; settle the books without touching the gateway.
		if err := s.settleCapture(ctx, booking, sched, auth.ID, now); err != nil {
			result.Status = "failed"
			result.Reason = err.Error()
			return result
		}
		result.Status = "skipped"
		result.Reason = "already captured"
		return result

	case gateway.StatusCanceled, gateway.StatusRequiresPaymentMethod:
		result.Status = "failed"
		result.Reason = "authorization is " + auth.Status
		s.markFailed(ctx, sched.ID, result.Reason)
		return result
	}

	gctx, cancel = context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	captured, err := s.gateway.Capture(gctx, authID)
	cancel()
	if err != nil {
		result.Status = "failed"
		result.Reason = err.Error()
		s.audit.LogError(booking.ID, models.LegRemainingBalance, err)
		s.markFailed(ctx, sched.ID, result.Reason)
		return result
	}
	if captured.Status != gateway.StatusSucceeded {
		result.Status = "failed"
		result.Reason = "capture ended in state " + captured.Status
		s.markFailed(ctx, sched.ID, result.Reason)
		return result
	}

	s.audit.LogCapture(booking.ID, sched.ID, captured.ID, sched.Amount, captured.Status)
	if err := s.settleCapture(ctx, booking, sched, captured.ID, now); err != nil {
		result.Status = "failed"
		result.Reason = err.Error()
		return result
	}
	if s.notify != nil {
		s.notify.PaymentEvent(ctx, "booking_payment.captured", booking.ID, sched.Amount)
	}
	result.Status = "captured"
	return result
}

// settleCapture flips the booking to fully paid, completes the pending
// balance transaction, records the payout, and closes the schedule row.
func (s *Sweeper) settleCapture(ctx context.Context, booking *models.Booking, sched *models.PaymentSchedule, gatewayRef string, now time.Time) error {
	chargedAt := now
	booking.RemainingBalanceCharged = true
	booking.RemainingBalanceChargedAt = &chargedAt
	booking.PaymentStatus = models.PaymentStatusPaid
	if err := s.store.UpdateBookingPayment(ctx, booking); err != nil {
		// The money already moved; a stale booking row must not strand the
		// claimed schedule in processing. Re-invoked acceptance reconciles
		// the flags from the gateway's view of the authorization.
		log.Printf("[SWEEP] Failed to update booking %s after capture: %v", booking.ID, err)
	}
	if err := s.store.CompleteTransaction(ctx, booking.ID, models.LegRemainingBalance); err != nil {
		log.Printf("[SWEEP] Failed to complete balance transaction for %s: %v", booking.ID, err)
	}
	if _, err := s.store.CreatePayoutIfAbsent(ctx, &models.BusinessPayoutTransaction{
		BookingID:         booking.ID,
		ProviderID:        booking.ProviderID,
		GrossAmount:       booking.TotalAmount,
		PlatformFeeAmount: booking.ServiceFeeAmount,
		NetPaymentAmount:  booking.TotalAmount - booking.ServiceFeeAmount,
		Currency:          booking.Currency,
	}); err != nil {
		log.Printf("[SWEEP] Failed to create payout for %s: %v", booking.ID, err)
	}
	if err := s.store.MarkScheduleProcessed(ctx, sched.ID); err != nil {
		return err
	}
	log.Printf("[SWEEP] Captured %d for booking %s (schedule %s, ref %s)", sched.Amount, booking.ID, sched.ID, gatewayRef)
	return nil
}

func (s *Sweeper) markFailed(ctx context.Context, scheduleID, reason string) {
	if err := s.store.MarkScheduleFailed(ctx, scheduleID, reason); err != nil {
		log.Printf("[SWEEP] Failed to mark schedule %s failed: %v", scheduleID, err)
	}
}
