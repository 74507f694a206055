package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/servana/backend/internal/audit"
	"github.com/servana/backend/internal/config"
	"github.com/servana/backend/internal/gateway"
	"github.com/servana/backend/internal/models"
	"github.com/servana/backend/internal/store"
)

// PaymentService is the payment orchestrator: it decides and executes the
// two-leg charge/authorize split at acceptance time and unwinds it on decline
// or cancellation. The ledger store records what this system decided; the
// gateway is always re-read before moving money again, so every operation is
// safe under at-least-once trigger delivery.
type PaymentService struct {
	store   LedgerStore
	gateway gateway.PaymentGateway
	notify  Notifier
	audit   *audit.Logger
	cfg     *config.PaymentsConfig
	now     func() time.Time
}

func NewPaymentService(ledger LedgerStore, gw gateway.PaymentGateway, notify Notifier, cfg *config.PaymentsConfig) *PaymentService {
	if cfg == nil {
		cfg = config.LoadPaymentsConfig()
	}
	return &PaymentService{
		store:   ledger,
		gateway: gw,
		notify:  notify,
		audit:   audit.NewLogger(),
		cfg:     cfg,
		now:     time.Now,
	}
}

func (ps *PaymentService) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, ps.cfg.GatewayTimeout)
}

func (ps *PaymentService) loadBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := ps.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return booking, nil
}

// AcceptBooking charges the platform fee immediately and, depending on how
// far out the service instant is, either charges the service amount as well
// or holds it as a manual-capture authorization to be captured by the
// sweeper. Re-invoking acceptance is safe: a fee leg that already succeeded
// is never charged again.
func (ps *PaymentService) AcceptBooking(ctx context.Context, bookingID, actorID string) (*PaymentOutcome, error) {
	booking, err := ps.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.GatewayCustomerID == "" || booking.GatewayPaymentMethodID == "" {
		return nil, ErrMissingPaymentMethod
	}

	serviceInstant, err := booking.ServiceInstant()
	if err != nil {
		return nil, err
	}
	now := ps.now()

	log.Printf("[PAYMENT] Accept booking %s by %s, service at %s (%.1fh away)",
		booking.ID, actorID, serviceInstant.Format(time.RFC3339), serviceInstant.Sub(now).Hours())

	if booking.ServiceFeeChargeID != "" {
		gctx, cancel := ps.gatewayCtx(ctx)
		feeCharge, err := ps.gateway.Retrieve(gctx, booking.ServiceFeeChargeID)
		cancel()
		if err != nil {
			ps.audit.LogError(booking.ID, models.LegServiceFee, err)
			return failedOutcome(booking, ErrCodePaymentFailed, err), nil
		}
		if feeCharge.Status == gateway.StatusSucceeded {
			return ps.resumeAcceptance(ctx, booking, serviceInstant, now)
		}
		// The earlier fee attempt never succeeded; charge it fresh below.
	}

	feeCharge, err := ps.chargeLeg(ctx, booking, models.LegServiceFee, booking.ServiceFeeAmount)
	if err != nil {
		// Fee failure aborts the whole operation; no partial state committed.
		ps.audit.LogError(booking.ID, models.LegServiceFee, err)
		return failedOutcome(booking, ErrCodePaymentFailed, err), nil
	}
	chargedAt := now
	booking.ServiceFeeCharged = true
	booking.ServiceFeeChargedAt = &chargedAt
	booking.ServiceFeeChargeID = feeCharge.ID
	ps.audit.LogCharge(booking.ID, models.LegServiceFee, feeCharge.ID, booking.ServiceFeeAmount, feeCharge.Status)
	// The fee row is written here, at the moment the money moved. Every retry
	// re-enters through resumeAcceptance and never touches the fee leg again,
	// so the ledger keeps one row per real charge.
	ps.recordCharge(ctx, booking, models.LegServiceFee, booking.ServiceFeeAmount, feeCharge.ID, models.TransactionStatusCompleted)

	return ps.settleServiceLeg(ctx, booking, serviceInstant, now)
}

// resumeAcceptance handles the re-entrant path: the fee leg is already
// settled at the gateway. If the service leg has a record, this is read-only
// reconciliation; if it has none, the earlier call failed between legs and
// only leg two is executed.
func (ps *PaymentService) resumeAcceptance(ctx context.Context, booking *models.Booking, serviceInstant, now time.Time) (*PaymentOutcome, error) {
	if booking.RemainingBalanceCharged {
		// Both legs resolved; nothing to do.
		return outcomeFor(booking), nil
	}

	if booking.RemainingAuthID != "" {
		gctx, cancel := ps.gatewayCtx(ctx)
		auth, err := ps.gateway.Retrieve(gctx, booking.RemainingAuthID)
		cancel()
		if err != nil {
			ps.audit.LogError(booking.ID, models.LegRemainingBalance, err)
			return failedOutcome(booking, ErrCodePaymentFailed, err), nil
		}

		switch auth.Status {
		case gateway.StatusSucceeded:
			// Captured out of band; reconcile flags without moving money.
			chargedAt := now
			booking.RemainingBalanceCharged = true
			booking.RemainingBalanceChargedAt = &chargedAt
			booking.PaymentStatus = models.PaymentStatusPaid
			booking.Status = models.BookingStatusConfirmed
			if err := ps.store.UpdateBookingPayment(ctx, booking); err != nil {
				return nil, err
			}
			if err := ps.store.CompleteTransaction(ctx, booking.ID, models.LegRemainingBalance); err != nil {
				log.Printf("[PAYMENT] Failed to complete balance transaction for %s: %v", booking.ID, err)
			}
			if sched, err := ps.store.ActiveSchedule(ctx, booking.ID); err == nil {
				if err := ps.store.MarkScheduleProcessed(ctx, sched.ID); err != nil {
					log.Printf("[PAYMENT] Failed to resolve schedule %s: %v", sched.ID, err)
				}
			}
			if err := ps.createPayout(ctx, booking); err != nil {
				log.Printf("[PAYMENT] Failed to create payout for %s: %v", booking.ID, err)
			}
			return outcomeFor(booking), nil

		case gateway.StatusRequiresCapture:
			// Hold is still live; capture stays with the sweeper even if the
			// window has since closed, because the schedule row is already due.
			booking.PaymentStatus = models.PaymentStatusPartial
			booking.Status = models.BookingStatusConfirmed
			if err := ps.store.UpdateBookingPayment(ctx, booking); err != nil {
				return nil, err
			}
			out := outcomeFor(booking)
			if _, err := ps.store.ActiveSchedule(ctx, booking.ID); errors.Is(err, store.ErrNotFound) {
				// The earlier call died before the schedule row was written;
				// the pending balance row is missing for the same reason.
				sched, err := ps.createSchedule(ctx, booking, serviceInstant)
				if err != nil {
					return nil, err
				}
				ps.recordCharge(ctx, booking, models.LegRemainingBalance, booking.ServiceAmount(), booking.RemainingAuthID, models.TransactionStatusPending)
				out.ScheduleID = sched.ID
			}
			return out, nil

		default:
			// canceled / requires_payment_method: the hold is dead and can
			// never be captured. Re-authorize the leg below.
			log.Printf("[PAYMENT] Authorization %s for booking %s is %s, re-authorizing",
				booking.RemainingAuthID, booking.ID, auth.Status)
			booking.RemainingAuthID = ""
		}
	}

	// Fee charged, service leg unresolved: the partial-leg retry.
	return ps.settleServiceLeg(ctx, booking, serviceInstant, now)
}

// settleServiceLeg executes leg two: charge immediately inside the capture
// window, otherwise authorize with manual capture and schedule the capture
// for serviceInstant minus the lead time.
func (ps *PaymentService) settleServiceLeg(ctx context.Context, booking *models.Booking, serviceInstant, now time.Time) (*PaymentOutcome, error) {
	serviceAmount := booking.ServiceAmount()
	withinWindow := serviceInstant.Sub(now) <= ps.cfg.CaptureLeadTime

	if withinWindow {
		charge, err := ps.chargeLeg(ctx, booking, models.LegRemainingBalance, serviceAmount)
		if err != nil {
			return ps.commitPartial(ctx, booking, err)
		}
		chargedAt := now
		booking.RemainingBalanceCharged = true
		booking.RemainingBalanceChargedAt = &chargedAt
		booking.RemainingChargeID = charge.ID
		booking.PaymentStatus = models.PaymentStatusPaid
		booking.Status = models.BookingStatusConfirmed
		ps.audit.LogCharge(booking.ID, models.LegRemainingBalance, charge.ID, serviceAmount, charge.Status)

		if err := ps.store.UpdateBookingPayment(ctx, booking); err != nil {
			return nil, err
		}
		ps.recordCharge(ctx, booking, models.LegRemainingBalance, serviceAmount, charge.ID, models.TransactionStatusCompleted)
		if err := ps.createPayout(ctx, booking); err != nil {
			log.Printf("[PAYMENT] Failed to create payout for %s: %v", booking.ID, err)
		}
		if ps.notify != nil {
			ps.notify.PaymentEvent(ctx, "booking_payment.paid", booking.ID, booking.TotalAmount)
		}
		return outcomeFor(booking), nil
	}

	gctx, cancel := ps.gatewayCtx(ctx)
	auth, err := ps.gateway.CreateManualCaptureAuthorization(gctx, gateway.ChargeRequest{
		Amount:          serviceAmount,
		Currency:        ps.currency(booking),
		CustomerID:      booking.GatewayCustomerID,
		PaymentMethodID: booking.GatewayPaymentMethodID,
		Description:     fmt.Sprintf("Service balance for booking %s", booking.ID),
		Metadata:        legMetadata(booking.ID, models.LegRemainingBalance),
		IdempotencyKey:  idempotencyKey(booking.ID, models.LegRemainingBalance),
	})
	cancel()
	if err != nil {
		return ps.commitPartial(ctx, booking, err)
	}
	if auth.Status != gateway.StatusRequiresCapture && auth.Status != gateway.StatusSucceeded {
		return ps.commitPartial(ctx, booking, &gateway.Error{
			Op:      "create_authorization",
			Code:    auth.FailureCode,
			Message: fmt.Sprintf("authorization ended in state %s: %s", auth.Status, auth.FailureMessage),
		})
	}

	booking.RemainingAuthID = auth.ID
	booking.PaymentStatus = models.PaymentStatusPartial
	booking.Status = models.BookingStatusConfirmed
	ps.audit.LogCharge(booking.ID, models.LegRemainingBalance, auth.ID, serviceAmount, auth.Status)

	if err := ps.store.UpdateBookingPayment(ctx, booking); err != nil {
		return nil, err
	}
	sched, err := ps.createSchedule(ctx, booking, serviceInstant)
	if err != nil {
		return nil, err
	}
	ps.recordCharge(ctx, booking, models.LegRemainingBalance, serviceAmount, auth.ID, models.TransactionStatusPending)
	if ps.notify != nil {
		ps.notify.PaymentEvent(ctx, "booking_payment.accepted", booking.ID, booking.ServiceFeeAmount)
	}

	out := outcomeFor(booking)
	out.ScheduleID = sched.ID
	return out, nil
}

// commitPartial persists the fee-leg-only state after a service-leg failure.
// The booking is deliberately left in payment_status=partial rather than
// rolled back; re-invoking acceptance resumes at leg two.
func (ps *PaymentService) commitPartial(ctx context.Context, booking *models.Booking, cause error) (*PaymentOutcome, error) {
	ps.audit.LogError(booking.ID, models.LegRemainingBalance, cause)
	booking.PaymentStatus = models.PaymentStatusPartial
	if err := ps.store.UpdateBookingPayment(ctx, booking); err != nil {
		return nil, err
	}
	return failedOutcome(booking, ErrCodePartialLegFailure, cause), nil
}

func (ps *PaymentService) chargeLeg(ctx context.Context, booking *models.Booking, leg string, amount int64) (*gateway.Charge, error) {
	gctx, cancel := ps.gatewayCtx(ctx)
	defer cancel()

	charge, err := ps.gateway.AuthorizeAndConfirm(gctx, gateway.ChargeRequest{
		Amount:          amount,
		Currency:        ps.currency(booking),
		CustomerID:      booking.GatewayCustomerID,
		PaymentMethodID: booking.GatewayPaymentMethodID,
		Description:     fmt.Sprintf("%s for booking %s", legLabel(leg), booking.ID),
		Metadata:        legMetadata(booking.ID, leg),
		IdempotencyKey:  idempotencyKey(booking.ID, leg),
	})
	if err != nil {
		return nil, err
	}
	if charge.Status != gateway.StatusSucceeded {
		return nil, &gateway.Error{
			Op:      "authorize_and_confirm",
			Code:    charge.FailureCode,
			Message: fmt.Sprintf("charge ended in state %s: %s", charge.Status, charge.FailureMessage),
		}
	}
	return charge, nil
}

func (ps *PaymentService) createSchedule(ctx context.Context, booking *models.Booking, serviceInstant time.Time) (*models.PaymentSchedule, error) {
	// The uniqueness invariant: supersede any lingering scheduled row before
	// creating a fresh one.
	if old, err := ps.store.ActiveSchedule(ctx, booking.ID); err == nil {
		if err := ps.store.MarkScheduleFailed(ctx, old.ID, "superseded by re-authorization"); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	sched := &models.PaymentSchedule{
		BookingID:       booking.ID,
		PaymentType:     models.PaymentTypeRemainingBalance,
		ScheduledAt:     serviceInstant.Add(-ps.cfg.CaptureLeadTime),
		Amount:          booking.ServiceAmount(),
		Status:          models.ScheduleStatusScheduled,
		AuthorizationID: booking.RemainingAuthID,
	}
	if err := ps.store.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

func (ps *PaymentService) recordCharge(ctx context.Context, booking *models.Booking, leg string, amount int64, gatewayRef, status string) {
	err := ps.store.CreateTransaction(ctx, &models.FinancialTransaction{
		BookingID:        booking.ID,
		Type:             models.TransactionTypeCharge,
		Leg:              leg,
		Amount:           amount,
		Currency:         ps.currency(booking),
		Status:           status,
		GatewayReference: gatewayRef,
		Description:      fmt.Sprintf("%s for booking %s", legLabel(leg), booking.ID),
	})
	if err != nil {
		log.Printf("[PAYMENT] Failed to record %s transaction for %s: %v", leg, booking.ID, err)
	}
}

func (ps *PaymentService) createPayout(ctx context.Context, booking *models.Booking) error {
	created, err := ps.store.CreatePayoutIfAbsent(ctx, &models.BusinessPayoutTransaction{
		BookingID:         booking.ID,
		ProviderID:        booking.ProviderID,
		GrossAmount:       booking.TotalAmount,
		PlatformFeeAmount: booking.ServiceFeeAmount,
		NetPaymentAmount:  booking.TotalAmount - booking.ServiceFeeAmount,
		Currency:          ps.currency(booking),
	})
	if err != nil {
		return err
	}
	if created {
		log.Printf("[PAYMENT] Payout recorded for booking %s, provider %s", booking.ID, booking.ProviderID)
	}
	return nil
}

// DeclineBooking unwinds both legs of a booking the provider rejected:
// outstanding authorizations are cancelled, captured charges are refunded in
// full. One leg's gateway error never blocks processing the other leg.
func (ps *PaymentService) DeclineBooking(ctx context.Context, bookingID, actorID, reason string) (*PaymentOutcome, error) {
	booking, err := ps.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	log.Printf("[PAYMENT] Decline booking %s by %s: %s", booking.ID, actorID, reason)

	var legErrs []string
	if booking.ServiceFeeChargeID != "" {
		if err := ps.releaseLeg(ctx, booking, models.LegServiceFee, booking.ServiceFeeChargeID, booking.ServiceFeeAmount, "booking declined"); err != nil {
			ps.audit.LogError(booking.ID, models.LegServiceFee, err)
			legErrs = append(legErrs, fmt.Sprintf("%s: %v", models.LegServiceFee, err))
		}
	}
	serviceLegID := booking.RemainingChargeID
	if serviceLegID == "" {
		serviceLegID = booking.RemainingAuthID
	}
	if serviceLegID != "" {
		if err := ps.releaseLeg(ctx, booking, models.LegRemainingBalance, serviceLegID, booking.ServiceAmount(), "booking declined"); err != nil {
			ps.audit.LogError(booking.ID, models.LegRemainingBalance, err)
			legErrs = append(legErrs, fmt.Sprintf("%s: %v", models.LegRemainingBalance, err))
		}
	}

	booking.Status = models.BookingStatusDeclined
	booking.ServiceFeeCharged = false
	booking.ServiceFeeChargedAt = nil
	booking.RemainingBalanceCharged = false
	booking.RemainingBalanceChargedAt = nil
	booking.PaymentStatus = models.PaymentStatusPending
	if err := ps.store.UpdateBookingPayment(ctx, booking); err != nil {
		return nil, err
	}
	if ps.notify != nil {
		ps.notify.PaymentEvent(ctx, "booking_payment.declined", booking.ID, 0)
	}

	out := outcomeFor(booking)
	if len(legErrs) > 0 {
		out.Success = false
		out.ErrorCode = ErrCodeRefundFailed
		out.Error = strings.Join(legErrs, "; ")
	}
	return out, nil
}

// releaseLeg re-reads the gateway's view of one leg and releases it:
// a live hold is cancelled, a captured charge is refunded in full. The refund
// guard keeps redelivered decline events from refunding twice.
func (ps *PaymentService) releaseLeg(ctx context.Context, booking *models.Booking, leg, gatewayID string, amount int64, scheduleReason string) error {
	gctx, cancel := ps.gatewayCtx(ctx)
	current, err := ps.gateway.Retrieve(gctx, gatewayID)
	cancel()
	if err != nil {
		return err
	}

	switch current.Status {
	case gateway.StatusRequiresCapture, gateway.StatusProcessing:
		gctx, cancel := ps.gatewayCtx(ctx)
		_, err := ps.gateway.Cancel(gctx, gatewayID)
		cancel()
		if err != nil {
			return err
		}
		log.Printf("[PAYMENT] Cancelled %s authorization %s for booking %s", leg, gatewayID, booking.ID)
		if leg == models.LegRemainingBalance {
			ps.resolveScheduleFailed(ctx, booking.ID, scheduleReason)
		}

	case gateway.StatusSucceeded:
		refunded, err := ps.store.HasRefundTransaction(ctx, booking.ID, leg)
		if err != nil {
			return err
		}
		if !refunded {
			gctx, cancel := ps.gatewayCtx(ctx)
			refund, err := ps.gateway.Refund(gctx, gatewayID, 0)
			cancel()
			if err != nil {
				return err
			}
			ps.audit.LogRefund(booking.ID, leg, refund.ID, amount, refund.Status)
			ps.recordRefund(ctx, booking, leg, amount, refund.ID, "full refund: "+scheduleReason)
		}
		if leg == models.LegRemainingBalance {
			// Captured out of band; the schedule row is settled, not failed.
			if sched, err := ps.store.ActiveSchedule(ctx, booking.ID); err == nil {
				if err := ps.store.MarkScheduleProcessed(ctx, sched.ID); err != nil {
					log.Printf("[PAYMENT] Failed to resolve schedule %s: %v", sched.ID, err)
				}
			}
		}

	case gateway.StatusCanceled:
		// Already released; nothing to move.
		if leg == models.LegRemainingBalance {
			ps.resolveScheduleFailed(ctx, booking.ID, scheduleReason)
		}
	}
	return nil
}

func (ps *PaymentService) resolveScheduleFailed(ctx context.Context, bookingID, reason string) {
	sched, err := ps.store.ActiveSchedule(ctx, bookingID)
	if err != nil {
		return
	}
	if err := ps.store.MarkScheduleFailed(ctx, sched.ID, reason); err != nil {
		log.Printf("[PAYMENT] Failed to resolve schedule %s: %v", sched.ID, err)
	}
}

func (ps *PaymentService) recordRefund(ctx context.Context, booking *models.Booking, leg string, amount int64, gatewayRef, description string) {
	err := ps.store.CreateTransaction(ctx, &models.FinancialTransaction{
		BookingID:        booking.ID,
		Type:             models.TransactionTypeRefund,
		Leg:              leg,
		Amount:           amount,
		Currency:         ps.currency(booking),
		Status:           models.TransactionStatusCompleted,
		GatewayReference: gatewayRef,
		Description:      description,
	})
	if err != nil {
		log.Printf("[PAYMENT] Failed to record refund transaction for %s: %v", booking.ID, err)
	}
}

// CancelBooking applies the cancellation policy. The platform fee is never
// refunded once the booking was accepted; the service amount is refunded only
// when cancellation happens outside the capture window.
func (ps *PaymentService) CancelBooking(ctx context.Context, bookingID, actorID, reason string) (*PaymentOutcome, error) {
	booking, err := ps.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	serviceInstant, err := booking.ServiceInstant()
	if err != nil {
		return nil, err
	}
	now := ps.now()

	log.Printf("[PAYMENT] Cancel booking %s by %s: %s", booking.ID, actorID, reason)

	if !booking.EverAccepted() {
		// Nothing was captured. Release any hold left on the fee leg.
		if booking.ServiceFeeChargeID != "" {
			if err := ps.releaseLeg(ctx, booking, models.LegServiceFee, booking.ServiceFeeChargeID, booking.ServiceFeeAmount, "booking cancelled"); err != nil {
				ps.audit.LogError(booking.ID, models.LegServiceFee, err)
			}
		}
		booking.Status = models.BookingStatusCancelled
		booking.CancellationFee = 0
		booking.RefundAmount = 0
		if err := ps.store.UpdateBookingPayment(ctx, booking); err != nil {
			return nil, err
		}
		return outcomeFor(booking), nil
	}

	if serviceInstant.Sub(now) <= ps.cfg.CaptureLeadTime {
		// Inside the window nothing is refunded; the customer forfeits the
		// full amount.
		booking.Status = models.BookingStatusCancelled
		booking.CancellationFee = booking.TotalAmount
		booking.RefundAmount = 0
		if err := ps.store.UpdateBookingPayment(ctx, booking); err != nil {
			return nil, err
		}
		if ps.notify != nil {
			ps.notify.PaymentEvent(ctx, "booking_payment.cancelled", booking.ID, 0)
		}
		return outcomeFor(booking), nil
	}

	serviceAmount := booking.ServiceAmount()
	refundedAmount := serviceAmount
	refunded, err := ps.store.HasRefundTransaction(ctx, booking.ID, models.LegRemainingBalance)
	if err != nil {
		return nil, err
	}
	if !refunded {
		refundedAmount, err = ps.refundServiceLeg(ctx, booking, serviceAmount)
		if err != nil {
			ps.audit.LogError(booking.ID, models.LegRemainingBalance, err)
			return failedOutcome(booking, ErrCodeRefundFailed, err), nil
		}
	}

	booking.Status = models.BookingStatusCancelled
	booking.CancellationFee = booking.ServiceFeeAmount
	booking.RefundAmount = refundedAmount
	if err := ps.store.UpdateBookingPayment(ctx, booking); err != nil {
		return nil, err
	}
	if ps.notify != nil && refundedAmount > 0 {
		ps.notify.PaymentEvent(ctx, "booking_payment.refunded", booking.ID, refundedAmount)
	}
	return outcomeFor(booking), nil
}

// refundServiceLeg returns the service amount to the customer against
// whichever gateway record actually holds the funds: the immediate charge,
// or the authorization (captured or still held). It reports the amount that
// actually went back; zero when no service-leg record exists to release.
func (ps *PaymentService) refundServiceLeg(ctx context.Context, booking *models.Booking, serviceAmount int64) (int64, error) {
	if booking.RemainingChargeID != "" {
		gctx, cancel := ps.gatewayCtx(ctx)
		refund, err := ps.gateway.Refund(gctx, booking.RemainingChargeID, serviceAmount)
		cancel()
		if err != nil {
			return 0, err
		}
		ps.audit.LogRefund(booking.ID, models.LegRemainingBalance, refund.ID, serviceAmount, refund.Status)
		ps.recordRefund(ctx, booking, models.LegRemainingBalance, serviceAmount, refund.ID, "cancellation refund")
		return serviceAmount, nil
	}

	if booking.RemainingAuthID == "" {
		// Nothing was ever charged or held for this leg.
		return 0, nil
	}

	gctx, cancel := ps.gatewayCtx(ctx)
	auth, err := ps.gateway.Retrieve(gctx, booking.RemainingAuthID)
	cancel()
	if err != nil {
		return 0, err
	}

	switch auth.Status {
	case gateway.StatusRequiresCapture:
		gctx, cancel := ps.gatewayCtx(ctx)
		_, err := ps.gateway.Cancel(gctx, booking.RemainingAuthID)
		cancel()
		if err != nil {
			return 0, err
		}
		ps.resolveScheduleFailed(ctx, booking.ID, "booking cancelled")
		// Record the release so a redelivered cancel sees the guard.
		ps.recordRefund(ctx, booking, models.LegRemainingBalance, auth.Amount, booking.RemainingAuthID, "authorization released on cancellation")
		return auth.Amount, nil

	case gateway.StatusSucceeded:
		// Captured by the sweeper in the meantime; refund the capture.
		gctx, cancel := ps.gatewayCtx(ctx)
		refund, err := ps.gateway.Refund(gctx, booking.RemainingAuthID, serviceAmount)
		cancel()
		if err != nil {
			return 0, err
		}
		ps.audit.LogRefund(booking.ID, models.LegRemainingBalance, refund.ID, serviceAmount, refund.Status)
		ps.recordRefund(ctx, booking, models.LegRemainingBalance, serviceAmount, refund.ID, "cancellation refund")
		if sched, err := ps.store.ActiveSchedule(ctx, booking.ID); err == nil {
			if err := ps.store.MarkScheduleProcessed(ctx, sched.ID); err != nil {
				log.Printf("[PAYMENT] Failed to resolve schedule %s: %v", sched.ID, err)
			}
		}
		return serviceAmount, nil
	}
	// canceled / requires_payment_method: the hold is already dead.
	return 0, nil
}

func (ps *PaymentService) currency(booking *models.Booking) string {
	if booking.Currency != "" {
		return booking.Currency
	}
	return ps.cfg.DefaultCurrency
}

func legLabel(leg string) string {
	if leg == models.LegServiceFee {
		return "Platform service fee"
	}
	return "Service balance"
}

func legMetadata(bookingID, leg string) map[string]string {
	return map[string]string{
		"booking_id": bookingID,
		"leg":        leg,
	}
}

func idempotencyKey(bookingID, leg string) string {
	return fmt.Sprintf("booking-%s-%s", bookingID, leg)
}
