package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/servana/backend/internal/models"
)

var (
	// ErrNotFound is returned for point lookups that match no row.
	ErrNotFound = errors.New("record not found")
	// ErrStaleBooking is returned when a conditional booking update loses an
	// optimistic-lock race; the caller should re-read and retry.
	ErrStaleBooking = errors.New("booking was modified concurrently")
)

// Store is the ledger store: the single source of truth for what this system
// has decided about a booking's payments. All mutations that race with a
// concurrent sweep or trigger redelivery are conditional updates.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const bookingColumns = `id, customer_id, provider_id, total_amount, service_fee_amount, currency,
	       scheduled_date, scheduled_start_time, status, payment_status,
	       service_fee_charged, service_fee_charged_at,
	       remaining_balance_charged, remaining_balance_charged_at,
	       cancellation_fee, refund_amount,
	       gateway_customer_id, gateway_payment_method_id,
	       service_fee_charge_id, remaining_charge_id, remaining_auth_id,
	       version, created_at, updated_at`

// GetBooking loads one booking by id.
func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1`, id)

	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return b, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID, &b.CustomerID, &b.ProviderID, &b.TotalAmount, &b.ServiceFeeAmount, &b.Currency,
		&b.ScheduledDate, &b.ScheduledStartTime, &b.Status, &b.PaymentStatus,
		&b.ServiceFeeCharged, &b.ServiceFeeChargedAt,
		&b.RemainingBalanceCharged, &b.RemainingBalanceChargedAt,
		&b.CancellationFee, &b.RefundAmount,
		&b.GatewayCustomerID, &b.GatewayPaymentMethodID,
		&b.ServiceFeeChargeID, &b.RemainingChargeID, &b.RemainingAuthID,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBookingPayment persists the payment-owned fields of a booking with an
// optimistic version check. On success the in-memory version is advanced.
func (s *Store) UpdateBookingPayment(ctx context.Context, b *models.Booking) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, payment_status = $2,
		    service_fee_charged = $3, service_fee_charged_at = $4,
		    remaining_balance_charged = $5, remaining_balance_charged_at = $6,
		    cancellation_fee = $7, refund_amount = $8,
		    service_fee_charge_id = $9, remaining_charge_id = $10, remaining_auth_id = $11,
		    version = version + 1, updated_at = $12
		WHERE id = $13 AND version = $14`,
		b.Status, b.PaymentStatus,
		b.ServiceFeeCharged, b.ServiceFeeChargedAt,
		b.RemainingBalanceCharged, b.RemainingBalanceChargedAt,
		b.CancellationFee, b.RefundAmount,
		b.ServiceFeeChargeID, b.RemainingChargeID, b.RemainingAuthID,
		time.Now(), b.ID, b.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrStaleBooking
	}

	b.Version++
	return nil
}

// CreateSchedule inserts a new deferred-capture obligation. The caller is
// responsible for ensuring no other non-terminal row exists for the booking.
func (s *Store) CreateSchedule(ctx context.Context, sched *models.PaymentSchedule) error {
	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	now := time.Now()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_schedules
		(id, booking_id, payment_type, scheduled_at, amount, status, authorization_id, retry_count, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sched.ID, sched.BookingID, sched.PaymentType, sched.ScheduledAt, sched.Amount,
		sched.Status, sched.AuthorizationID, sched.RetryCount, sched.FailureReason,
		sched.CreatedAt, sched.UpdatedAt)
	return err
}

const scheduleColumns = `id, booking_id, payment_type, scheduled_at, amount, status,
	       authorization_id, retry_count, processed_at, failure_reason, created_at, updated_at`

func scanSchedule(row rowScanner) (*models.PaymentSchedule, error) {
	var sched models.PaymentSchedule
	err := row.Scan(
		&sched.ID, &sched.BookingID, &sched.PaymentType, &sched.ScheduledAt, &sched.Amount,
		&sched.Status, &sched.AuthorizationID, &sched.RetryCount, &sched.ProcessedAt,
		&sched.FailureReason, &sched.CreatedAt, &sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ActiveSchedule returns the booking's still-scheduled remaining-balance row,
// or ErrNotFound.
func (s *Store) ActiveSchedule(ctx context.Context, bookingID string) (*models.PaymentSchedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM payment_schedules
		WHERE booking_id = $1 AND payment_type = $2 AND status = $3
		LIMIT 1`,
		bookingID, models.PaymentTypeRemainingBalance, models.ScheduleStatusScheduled)

	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sched, err
}

// DueSchedules returns scheduled remaining-balance rows due at or before now,
// oldest first, limited to limit.
func (s *Store) DueSchedules(ctx context.Context, now time.Time, limit int) ([]models.PaymentSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM payment_schedules
		WHERE status = $1 AND payment_type = $2 AND scheduled_at <= $3
		ORDER BY scheduled_at ASC
		LIMIT $4`,
		models.ScheduleStatusScheduled, models.PaymentTypeRemainingBalance, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []models.PaymentSchedule{}
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// ClaimSchedule atomically moves a row from scheduled to processing. Two
// concurrent sweeps cannot both claim the same row: exactly one sees true.
func (s *Store) ClaimSchedule(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_schedules
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		models.ScheduleStatusProcessing, time.Now(), id, models.ScheduleStatusScheduled)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

// MarkScheduleProcessed terminally resolves a schedule row as captured or
// otherwise settled. A no-op if the row already reached a terminal status.
func (s *Store) MarkScheduleProcessed(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_schedules
		SET status = $1, processed_at = $2, updated_at = $3
		WHERE id = $4 AND status IN ($5, $6)`,
		models.ScheduleStatusProcessed, now, now, id,
		models.ScheduleStatusScheduled, models.ScheduleStatusProcessing)
	return err
}

// MarkScheduleFailed terminally resolves a schedule row as failed, recording
// the reason and bumping retry_count for whatever external re-queue policy
// applies.
func (s *Store) MarkScheduleFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_schedules
		SET status = $1, failure_reason = $2, retry_count = retry_count + 1, updated_at = $3
		WHERE id = $4 AND status IN ($5, $6)`,
		models.ScheduleStatusFailed, reason, time.Now(), id,
		models.ScheduleStatusScheduled, models.ScheduleStatusProcessing)
	return err
}

// CreateTransaction appends one financial transaction to the ledger.
func (s *Store) CreateTransaction(ctx context.Context, tx *models.FinancialTransaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.CreatedAt = time.Now()
	if tx.Status == models.TransactionStatusCompleted && tx.CompletedAt == nil {
		tx.CompletedAt = &tx.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO financial_transactions
		(id, booking_id, type, leg, amount, currency, status, gateway_reference, description, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.BookingID, tx.Type, tx.Leg, tx.Amount, tx.Currency, tx.Status,
		tx.GatewayReference, tx.Description, tx.CreatedAt, tx.CompletedAt)
	return err
}

// CompleteTransaction flips the booking's pending charge transaction for one
// leg to completed. Missing rows are not an error: the transaction may have
// been completed by a competing sweep.
func (s *Store) CompleteTransaction(ctx context.Context, bookingID, leg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE financial_transactions
		SET status = $1, completed_at = $2
		WHERE booking_id = $3 AND leg = $4 AND type = $5 AND status = $6`,
		models.TransactionStatusCompleted, time.Now(),
		bookingID, leg, models.TransactionTypeCharge, models.TransactionStatusPending)
	return err
}

// HasRefundTransaction reports whether a refund was already recorded for the
// booking's leg. The refund guard against double-refunding.
func (s *Store) HasRefundTransaction(ctx context.Context, bookingID, leg string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM financial_transactions
			WHERE booking_id = $1 AND leg = $2 AND type = $3
		)`, bookingID, leg, models.TransactionTypeRefund).Scan(&exists)
	return exists, err
}

// CreatePayoutIfAbsent inserts the provider payout record unless one already
// exists for the booking. Returns whether a row was created.
func (s *Store) CreatePayoutIfAbsent(ctx context.Context, p *models.BusinessPayoutTransaction) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM business_payout_transactions
			WHERE booking_id = $1
		)`, p.BookingID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = models.PayoutStatusPending
	}
	p.CreatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO business_payout_transactions
		(id, booking_id, provider_id, gross_amount, platform_fee_amount, net_payment_amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.BookingID, p.ProviderID, p.GrossAmount, p.PlatformFeeAmount,
		p.NetPaymentAmount, p.Currency, p.Status, p.CreatedAt)
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetPayout loads the provider payout record for a booking.
func (s *Store) GetPayout(ctx context.Context, bookingID string) (*models.BusinessPayoutTransaction, error) {
	var p models.BusinessPayoutTransaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, booking_id, provider_id, gross_amount, platform_fee_amount, net_payment_amount, currency, status, created_at
		FROM business_payout_transactions
		WHERE booking_id = $1`, bookingID).Scan(
		&p.ID, &p.BookingID, &p.ProviderID, &p.GrossAmount, &p.PlatformFeeAmount,
		&p.NetPaymentAmount, &p.Currency, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkPayoutExported records that the payout row was handed to the banking
// rail exporter.
func (s *Store) MarkPayoutExported(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE business_payout_transactions
		SET status = $1
		WHERE id = $2 AND status = $3`,
		models.PayoutStatusExported, id, models.PayoutStatusPending)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payout %s not in pending state", id)
	}
	return nil
}
