package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/servana/backend/internal/gateway"
	"github.com/servana/backend/internal/models"
)

type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockLedgerStore) UpdateBookingPayment(ctx context.Context, b *models.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockLedgerStore) CreateSchedule(ctx context.Context, s *models.PaymentSchedule) error {
	args := m.Called(ctx, s)
	if s.ID == "" {
		s.ID = "sched-generated"
	}
	return args.Error(0)
}

func (m *MockLedgerStore) ActiveSchedule(ctx context.Context, bookingID string) (*models.PaymentSchedule, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentSchedule), args.Error(1)
}

func (m *MockLedgerStore) DueSchedules(ctx context.Context, now time.Time, limit int) ([]models.PaymentSchedule, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PaymentSchedule), args.Error(1)
}

func (m *MockLedgerStore) ClaimSchedule(ctx context.Context, scheduleID string) (bool, error) {
	args := m.Called(ctx, scheduleID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerStore) MarkScheduleProcessed(ctx context.Context, scheduleID string) error {
	args := m.Called(ctx, scheduleID)
	return args.Error(0)
}

func (m *MockLedgerStore) MarkScheduleFailed(ctx context.Context, scheduleID, reason string) error {
	args := m.Called(ctx, scheduleID, reason)
	return args.Error(0)
}

func (m *MockLedgerStore) CreateTransaction(ctx context.Context, tx *models.FinancialTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockLedgerStore) CompleteTransaction(ctx context.Context, bookingID, leg string) error {
	args := m.Called(ctx, bookingID, leg)
	return args.Error(0)
}

func (m *MockLedgerStore) HasRefundTransaction(ctx context.Context, bookingID, leg string) (bool, error) {
	args := m.Called(ctx, bookingID, leg)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerStore) CreatePayoutIfAbsent(ctx context.Context, p *models.BusinessPayoutTransaction) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) AuthorizeAndConfirm(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Charge), args.Error(1)
}

func (m *MockGateway) CreateManualCaptureAuthorization(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Charge), args.Error(1)
}

func (m *MockGateway) Capture(ctx context.Context, chargeID string) (*gateway.Charge, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Charge), args.Error(1)
}

func (m *MockGateway) Cancel(ctx context.Context, chargeID string) (*gateway.Charge, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Charge), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, chargeID string, amount int64) (*gateway.Refund, error) {
	args := m.Called(ctx, chargeID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}

func (m *MockGateway) Retrieve(ctx context.Context, chargeID string) (*gateway.Charge, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Charge), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PaymentEvent(ctx context.Context, event, bookingID string, amount int64) {
	m.Called(ctx, event, bookingID, amount)
}
