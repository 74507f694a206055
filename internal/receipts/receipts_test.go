package receipts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/servana/backend/internal/models"
)

func paidBooking() *models.Booking {
	chargedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:                        "bk_1",
		TotalAmount:               12000,
		ServiceFeeAmount:          1440,
		Currency:                  "usd",
		Status:                    models.BookingStatusConfirmed,
		PaymentStatus:             models.PaymentStatusPaid,
		ServiceFeeCharged:         true,
		RemainingBalanceCharged:   true,
		RemainingBalanceChargedAt: &chargedAt,
	}
}

func TestService_Issue(t *testing.T) {
	t.Run("paid booking gets a token and QR image", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		svc := NewService(redisClient, time.Hour)

		redisMock.Regexp().ExpectSet(`receipt:.+`, `.+`, time.Hour).SetVal("OK")

		token, qrImage, err := svc.Issue(context.Background(), paidBooking())

		assert.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.NotEmpty(t, qrImage)
		assert.NoError(t, redisMock.ExpectationsWereMet())

		// The token itself decodes to the receipt payload.
		raw, err := base64.URLEncoding.DecodeString(token)
		assert.NoError(t, err)
		var receipt Receipt
		assert.NoError(t, json.Unmarshal(raw, &receipt))
		assert.Equal(t, "bk_1", receipt.BookingID)
		assert.Equal(t, int64(10560), receipt.ServiceAmount)
		assert.NotEmpty(t, receipt.Nonce)
	})

	t.Run("unpaid booking is refused", func(t *testing.T) {
		redisClient, _ := redismock.NewClientMock()
		svc := NewService(redisClient, time.Hour)

		booking := paidBooking()
		booking.PaymentStatus = models.PaymentStatusPartial

		_, _, err := svc.Issue(context.Background(), booking)
		assert.ErrorIs(t, err, ErrReceiptNotAvailable)
	})
}

func TestService_Redeem(t *testing.T) {
	receipt := Receipt{
		BookingID:        "bk_1",
		TotalAmount:      12000,
		ServiceFeeAmount: 1440,
		ServiceAmount:    10560,
		Currency:         "usd",
		PaidAt:           1770800000,
		Nonce:            "n",
	}
	payload, _ := json.Marshal(receipt)
	token := base64.URLEncoding.EncodeToString(payload)
	key := "receipt:" + token

	t.Run("valid token redeems once", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		svc := NewService(redisClient, time.Hour)

		redisMock.ExpectGet(key).SetVal(string(payload))
		redisMock.ExpectDel(key).SetVal(1)

		got, err := svc.Redeem(context.Background(), token)

		assert.NoError(t, err)
		assert.Equal(t, "bk_1", got.BookingID)
		assert.Equal(t, int64(12000), got.TotalAmount)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired token", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		svc := NewService(redisClient, time.Hour)

		redisMock.ExpectGet(key).RedisNil()

		_, err := svc.Redeem(context.Background(), token)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid or expired")
	})
}
