package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is one structured audit record for a money movement decision.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	BookingID string    `json:"booking_id"`
	Leg       string    `json:"leg,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger emits audit events for every charge, capture, cancel and refund.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogCharge(bookingID, leg, gatewayRef string, amount int64, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CHARGE",
		BookingID: bookingID,
		Leg:       leg,
		Amount:    amount,
		Status:    status,
		Details:   map[string]string{"gateway_reference": gatewayRef},
	})
}

func (a *Logger) LogCapture(bookingID, scheduleID, gatewayRef string, amount int64, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CAPTURE",
		BookingID: bookingID,
		Amount:    amount,
		Status:    status,
		Details: map[string]string{
			"schedule_id":       scheduleID,
			"gateway_reference": gatewayRef,
		},
	})
}

func (a *Logger) LogRefund(bookingID, leg, gatewayRef string, amount int64, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "REFUND",
		BookingID: bookingID,
		Leg:       leg,
		Amount:    amount,
		Status:    status,
		Details:   map[string]string{"gateway_reference": gatewayRef},
	})
}

func (a *Logger) LogError(bookingID, leg string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		BookingID: bookingID,
		Leg:       leg,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
