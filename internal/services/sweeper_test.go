package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/servana/backend/internal/audit"
	"github.com/servana/backend/internal/gateway"
	"github.com/servana/backend/internal/models"
	"github.com/servana/backend/internal/store"
)

func newTestSweeper(st *MockLedgerStore, gw *MockGateway, nt *MockNotifier) *Sweeper {
	var notifier Notifier
	if nt != nil {
		notifier = nt
	}
	return &Sweeper{
		store:   st,
		gateway: gw,
		notify:  notifier,
		audit:   audit.NewLogger(),
		cfg:     testConfig(),
	}
}

func dueSchedule(id, bookingID, authID string) models.PaymentSchedule {
	return models.PaymentSchedule{
		ID:              id,
		BookingID:       bookingID,
		PaymentType:     models.PaymentTypeRemainingBalance,
		ScheduledAt:     testNow.Add(-time.Hour),
		Amount:          10560,
		Status:          models.ScheduleStatusScheduled,
		AuthorizationID: authID,
	}
}

func confirmedBooking(id string) *models.Booking {
	b := fixtureBooking(24)
	b.ID = id
	b.Status = models.BookingStatusConfirmed
	b.PaymentStatus = models.PaymentStatusPartial
	b.ServiceFeeCharged = true
	b.ServiceFeeChargeID = "pi_fee"
	b.RemainingAuthID = "pi_auth"
	return b
}

func TestSweepDueCaptures_CapturesDueAuthorization(t *testing.T) {
	st := new(MockLedgerStore)
	gw := new(MockGateway)
	nt := new(MockNotifier)
	sw := newTestSweeper(st, gw, nt)

	booking := confirmedBooking("bk_1")
	st.On("DueSchedules", mock.Anything, testNow, 100).
		Return([]models.PaymentSchedule{dueSchedule("sched_1", "bk_1", "pi_auth")}, nil)
	st.On("GetBooking", mock.Anything, "bk_1").Return(booking, nil)
	st.On("ClaimSchedule", mock.Anything, "sched_1").Return(true, nil)
	gw.On("Retrieve", mock.Anything, "pi_auth").
		Return(&gateway.Charge{ID: "pi_auth", Status: gateway.StatusRequiresCapture, Amount: 10560}, nil)
	gw.On("Capture", mock.Anything, "pi_auth").
		Return(&gateway.Charge{ID: "pi_auth", Status: gateway.StatusSucceeded, Amount: 10560, AmountCaptured: 10560}, nil)
	st.On("UpdateBookingPayment", mock.Anything, mock.MatchedBy(func(b *models.Booking) bool {
		return b.RemainingBalanceCharged && b.PaymentStatus == models.PaymentStatusPaid
	})).Return(nil)
	st.On("CompleteTransaction", mock.Anything, "bk_1", models.LegRemainingBalance).Return(nil)
	st.On("CreatePayoutIfAbsent", mock.Anything, mock.MatchedBy(func(p *models.BusinessPayoutTransaction) bool {
		return p.BookingID == "bk_1" && p.NetPaymentAmount == 10560
	})).Return(true, nil)
	st.On("MarkScheduleProcessed", mock.Anything, "sched_1").Return(nil)
	nt.On("PaymentEvent", mock.Anything, "booking_payment.captured", "bk_1", int64(10560)).Return()

	summary, err := sw.SweepDueCaptures(context.Background(), testNow, 0)

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Captured)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, "captured", summary.Results[0].Status)
	st.AssertExpectations(t)
	gw.AssertExpectations(t)
	nt.AssertExpectations(t)
}

func TestSweepDueCaptures_SkipsAlreadyChargedBooking(t *testing.T) {
	st := new(MockLedgerStore)
	gw := new(MockGateway)
	sw := newTestSweeper(st, gw, nil)

	booking := confirmedBooking("bk_1")
	booking.RemainingBalanceCharged = true
	booking.PaymentStatus = models.PaymentStatusPaid

	st.On("DueSchedules", mock.Anything, testNow, 100).
		Return([]models.PaymentSchedule{dueSchedule("sched_1", "bk_1", "pi_auth")}, nil)
	st.On("GetBooking", mock.Anything, "bk_1").Return(booking, nil)
	st.On("MarkScheduleProcessed", mock.Anything, "sched_1").Return(nil)

	summary, err := sw.SweepDueCaptures(context.Background(), testNow, 0)

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	gw.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestSweepDueCaptures_SkipsRowClaimedByConcurrentRun(t *testing.T) {
	st := new(MockLedgerStore)
	gw := new(MockGateway)
	sw := newTestSweeper(st, gw, nil)

	st.On("DueSchedules", mock.Anything, testNow, 100).
		Return([]models.PaymentSchedule{dueSchedule("sched_1", "bk_1", "pi_auth")}, nil)
	st.On("GetBooking", mock.Anything, "bk_1").Return(confirmedBooking("bk_1"), nil)
	st.On("ClaimSchedule", mock.Anything, "sched_1").Return(false, nil)

	summary, err := sw.SweepDueCaptures(context.Background(), testNow, 0)

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, "claimed by concurrent run", summary.Results[0].Reason)
	gw.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
}

func TestSweepDueCaptures_DeadAuthorizationFailsRow(t *testing.T) {
	st := new(MockLedgerStore)
	gw := new(MockGateway)
	sw := newTestSweeper(st, gw, nil)

	st.On("DueSchedules", mock.Anything, testNow, 100).
		Return([]models.PaymentSchedule{dueSchedule("sched_1", "bk_1", "pi_auth")}, nil)
	st.On("GetBooking", mock.Anything, "bk_1").Return(confirmedBooking("bk_1"), nil)
	st.On("ClaimSchedule", mock.Anything, "sched_1").Return(true, nil)
	gw.On("Retrieve", mock.Anything, "pi_auth").
		Return(&gateway.Charge{ID: "pi_auth", Status: gateway.StatusCanceled}, nil)
	st.On("MarkScheduleFailed", mock.Anything, "sched_1", "authorization is canceled").Return(nil)

	summary, err := sw.SweepDueCaptures(context.Background(), testNow, 0)

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	gw.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestSweepDueCaptures_CaptureFailureDoesNotAbortBatch(t *testing.T) {
	st := new(MockLedgerStore)
	gw := new(MockGateway)
	sw := newTestSweeper(st, gw, nil)

	first := confirmedBooking("bk_1")
	second := confirmedBooking("bk_2")
	second.RemainingAuthID = "pi_auth_2"

	st.On("DueSchedules", mock.Anything, testNow, 100).Return([]models.PaymentSchedule{
		dueSchedule("sched_1", "bk_1", "pi_auth"),
		dueSchedule("sched_2", "bk_2", "pi_auth_2"),
	}, nil)

	st.On("GetBooking", mock.Anything, "bk_1").Return(first, nil)
	st.On("ClaimSchedule", mock.Anything, "sched_1").Return(true, nil)
	gw.On("Retrieve", mock.Anything, "pi_auth").
		Return(&gateway.Charge{ID: "pi_auth", Status: gateway.StatusRequiresCapture}, nil)
	gw.On("Capture", mock.Anything, "pi_auth").
		Return(nil, &gateway.Error{Op: "capture", Code: "card_declined", Message: "Card declined at capture."})
	st.On("MarkScheduleFailed", mock.Anything, "sched_1", mock.Anything).Return(nil)

	st.On("GetBooking", mock.Anything, "bk_2").Return(second, nil)
	st.On("ClaimSchedule", mock.Anything, "sched_2").Return(true, nil)
	gw.On("Retrieve", mock.Anything, "pi_auth_2").
		Return(&gateway.Charge{ID: "pi_auth_2", Status: gateway.StatusRequiresCapture}, nil)
	gw.On("Capture", mock.Anything, "pi_auth_2").
		Return(&gateway.Charge{ID: "pi_auth_2", Status: gateway.StatusSucceeded, AmountCaptured: 10560}, nil)
	st.On("UpdateBookingPayment", mock.Anything, mock.Anything).Return(nil)
	st.On("CompleteTransaction", mock.Anything, "bk_2", models.LegRemainingBalance).Return(nil)
	st.On("CreatePayoutIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	st.On("MarkScheduleProcessed", mock.Anything, "sched_2").Return(nil)

	summary, err := sw.SweepDueCaptures(context.Background(), testNow, 0)

	assert.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Captured)
	assert.Equal(t, 1, summary.Failed)
	st.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestSweepDueCaptures_StaleBookingStillClosesSchedule(t *testing.T) {
	st := new(MockLedgerStore)
	gw := new(MockGateway)
	sw := newTestSweeper(st, gw, nil)

	st.On("DueSchedules", mock.Anything, testNow, 100).
		Return([]models.PaymentSchedule{dueSchedule("sched_1", "bk_1", "pi_auth")}, nil)
	st.On("GetBooking", mock.Anything, "bk_1").Return(confirmedBooking("bk_1"), nil)
	st.On("ClaimSchedule", mock.Anything, "sched_1").Return(true, nil)
	gw.On("Retrieve", mock.Anything, "pi_auth").
		Return(&gateway.Charge{ID: "pi_auth", Status: gateway.StatusRequiresCapture, Amount: 10560}, nil)
	gw.On("Capture", mock.Anything, "pi_auth").
		Return(&gateway.Charge{ID: "pi_auth", Status: gateway.StatusSucceeded, AmountCaptured: 10560}, nil)
	// A concurrent update bumped the booking version between claim and settle.
	st.On("UpdateBookingPayment", mock.Anything, mock.Anything).Return(store.ErrStaleBooking)
	st.On("CompleteTransaction", mock.Anything, "bk_1", models.LegRemainingBalance).Return(nil)
	st.On("CreatePayoutIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	st.On("MarkScheduleProcessed", mock.Anything, "sched_1").Return(nil)

	summary, err := sw.SweepDueCaptures(context.Background(), testNow, 0)

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Captured)
	// The captured row reaches a terminal state even when the booking row
	// could not be updated.
	st.AssertCalled(t, "MarkScheduleProcessed", mock.Anything, "sched_1")
	st.AssertNotCalled(t, "MarkScheduleFailed", mock.Anything, mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestSweepDueCaptures_ReconcilesOutOfBandCapture(t *testing.T) {
	st := new(MockLedgerStore)
	gw := new(MockGateway)
	sw := newTestSweeper(st, gw, nil)

	st.On("DueSchedules", mock.Anything, testNow, 100).
		Return([]models.PaymentSchedule{dueSchedule("sched_1", "bk_1", "pi_auth")}, nil)
	st.On("GetBooking", mock.Anything, "bk_1").Return(confirmedBooking("bk_1"), nil)
	st.On("ClaimSchedule", mock.Anything, "sched_1").Return(true, nil)
	gw.On("Retrieve", mock.Anything, "pi_auth").
		Return(&gateway.Charge{ID: "pi_auth", Status: gateway.StatusSucceeded, AmountCaptured: 10560}, nil)
	st.On("UpdateBookingPayment", mock.Anything, mock.MatchedBy(func(b *models.Booking) bool {
		return b.RemainingBalanceCharged && b.PaymentStatus == models.PaymentStatusPaid
	})).Return(nil)
	st.On("CompleteTransaction", mock.Anything, "bk_1", models.LegRemainingBalance).Return(nil)
	st.On("CreatePayoutIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	st.On("MarkScheduleProcessed", mock.Anything, "sched_1").Return(nil)

	summary, err := sw.SweepDueCaptures(context.Background(), testNow, 0)

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, "already captured", summary.Results[0].Reason)
	gw.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestSweepDueCaptures_RetiresRowForDeclinedBooking(t *testing.T) {
	st := new(MockLedgerStore)
	gw := new(MockGateway)
	sw := newTestSweeper(st, gw, nil)

	booking := confirmedBooking("bk_1")
	booking.Status = models.BookingStatusDeclined

	st.On("DueSchedules", mock.Anything, testNow, 100).
		Return([]models.PaymentSchedule{dueSchedule("sched_1", "bk_1", "pi_auth")}, nil)
	st.On("GetBooking", mock.Anything, "bk_1").Return(booking, nil)
	st.On("MarkScheduleFailed", mock.Anything, "sched_1", "booking is declined").Return(nil)

	summary, err := sw.SweepDueCaptures(context.Background(), testNow, 0)

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	gw.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestSweepDueCaptures_EmptyBatch(t *testing.T) {
	st := new(MockLedgerStore)
	gw := new(MockGateway)
	sw := newTestSweeper(st, gw, nil)

	st.On("DueSchedules", mock.Anything, testNow, 25).Return([]models.PaymentSchedule{}, nil)

	summary, err := sw.SweepDueCaptures(context.Background(), testNow, 25)

	assert.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Empty(t, summary.Results)
}
