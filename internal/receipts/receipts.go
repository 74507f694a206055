package receipts

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/servana/backend/internal/models"
)

var ErrReceiptNotAvailable = errors.New("receipt available only for fully paid bookings")

// Receipt is the verifiable payment summary behind a receipt token.
type Receipt struct {
	BookingID        string `json:"booking_id"`
	TotalAmount      int64  `json:"total_amount"`
	ServiceFeeAmount int64  `json:"service_fee_amount"`
	ServiceAmount    int64  `json:"service_amount"`
	Currency         string `json:"currency"`
	PaidAt           int64  `json:"paid_at"`
	Nonce            string `json:"nonce"`
}

// Service issues one-time QR receipt tokens for fully paid bookings. The
// token lives in Redis with a TTL and is deleted on first redemption.
type Service struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewService(rdb *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{redis: rdb, ttl: ttl}
}

// Issue creates a receipt token and its QR image for a paid booking. The
// returned image is a base64-encoded PNG.
func (s *Service) Issue(ctx context.Context, booking *models.Booking) (string, string, error) {
	if booking.PaymentStatus != models.PaymentStatusPaid {
		return "", "", ErrReceiptNotAvailable
	}

	paidAt := time.Now().Unix()
	if booking.RemainingBalanceChargedAt != nil {
		paidAt = booking.RemainingBalanceChargedAt.Unix()
	}
	receipt := Receipt{
		BookingID:        booking.ID,
		TotalAmount:      booking.TotalAmount,
		ServiceFeeAmount: booking.ServiceFeeAmount,
		ServiceAmount:    booking.ServiceAmount(),
		Currency:         booking.Currency,
		PaidAt:           paidAt,
		Nonce:            generateNonce(),
	}

	jsonData, err := json.Marshal(receipt)
	if err != nil {
		return "", "", err
	}

	token := base64.URLEncoding.EncodeToString(jsonData)
	key := fmt.Sprintf("receipt:%s", token)
	if err := s.redis.Set(ctx, key, jsonData, s.ttl).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(token, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}
	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return token, qrImage, nil
}

// Redeem verifies a receipt token and burns it.
func (s *Service) Redeem(ctx context.Context, token string) (*Receipt, error) {
	key := fmt.Sprintf("receipt:%s", token)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired receipt token")
	}
	if err != nil {
		return nil, err
	}

	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return &receipt, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
