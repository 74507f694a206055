package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// EventQueueKey is the Redis list the downstream notification worker drains.
const EventQueueKey = "payment_events"

// PaymentEventMessage is the queued payload for one lifecycle event.
type PaymentEventMessage struct {
	Event     string    `json:"event"`
	BookingID string    `json:"booking_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisNotifier enqueues payment lifecycle events onto a Redis list. Delivery
// is best-effort: a queue failure is logged and never propagated, because
// notifications must not block money movement.
type RedisNotifier struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{redis: rdb, now: time.Now}
}

func (n *RedisNotifier) PaymentEvent(ctx context.Context, event, bookingID string, amount int64) {
	if n == nil || n.redis == nil {
		return
	}
	msg := PaymentEventMessage{
		Event:     event,
		BookingID: bookingID,
		Amount:    amount,
		Timestamp: n.now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal event %s for booking %s: %v", event, bookingID, err)
		return
	}
	if err := n.redis.RPush(ctx, EventQueueKey, payload).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to enqueue event %s for booking %s: %v", event, bookingID, err)
	}
}
