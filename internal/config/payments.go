package config

import (
	"os"
	"strconv"
	"time"
)

// PaymentsConfig holds the tunables of the payment lifecycle engine.
type PaymentsConfig struct {
	// CaptureLeadTime is the cutoff relative to the service instant: bookings
	// accepted inside this window are charged in full immediately, deferred
	// captures come due this long before the service, and cancellations
	// inside the window forfeit the whole amount.
	CaptureLeadTime time.Duration
	// SweepBatchLimit caps how many due schedules one sweep considers.
	SweepBatchLimit int
	// GatewayTimeout bounds each payment processor call.
	GatewayTimeout time.Duration
	// ReceiptTokenTTL bounds how long a receipt QR token stays redeemable.
	ReceiptTokenTTL time.Duration
	// DefaultCurrency applies when a booking row carries no currency.
	DefaultCurrency string
}

func LoadPaymentsConfig() *PaymentsConfig {
	return &PaymentsConfig{
		CaptureLeadTime: getEnvAsDuration("PAYMENTS_CAPTURE_LEAD_TIME", 24*time.Hour),
		SweepBatchLimit: getEnvAsInt("PAYMENTS_SWEEP_BATCH_LIMIT", 100),
		GatewayTimeout:  getEnvAsDuration("PAYMENTS_GATEWAY_TIMEOUT", 15*time.Second),
		ReceiptTokenTTL: getEnvAsDuration("PAYMENTS_RECEIPT_TOKEN_TTL", 24*time.Hour),
		DefaultCurrency: getEnv("PAYMENTS_DEFAULT_CURRENCY", "usd"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
