package gateway

import (
	"context"
	"fmt"
)

// Charge statuses as reported by the payment processor.
const (
	StatusSucceeded             = "succeeded"
	StatusRequiresCapture       = "requires_capture"
	StatusCanceled              = "canceled"
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusProcessing            = "processing"
)

// Charge is the processor's view of a charge or authorization.
type Charge struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountCaptured int64  `json:"amount_captured"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// Refund is the processor's record of a full or partial refund.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// ChargeRequest carries everything needed to move money for one booking leg.
// IdempotencyKey must be stable across retries of the same logical operation.
type ChargeRequest struct {
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Description     string
	Metadata        map[string]string
	IdempotencyKey  string
}

// PaymentGateway abstracts the external payment processor. Implementations
// must be safe for concurrent use; every call carries a bounded timeout via
// ctx.
type PaymentGateway interface {
	// AuthorizeAndConfirm creates and confirms an immediate charge.
	AuthorizeAndConfirm(ctx context.Context, req ChargeRequest) (*Charge, error)
	// CreateManualCaptureAuthorization reserves funds without transferring
	// them; the hold requires a later Capture or Cancel.
	CreateManualCaptureAuthorization(ctx context.Context, req ChargeRequest) (*Charge, error)
	Capture(ctx context.Context, id string) (*Charge, error)
	Cancel(ctx context.Context, id string) (*Charge, error)
	// Refund reverses a captured charge. amount == 0 means a full refund.
	Refund(ctx context.Context, chargeID string, amount int64) (*Refund, error)
	Retrieve(ctx context.Context, id string) (*Charge, error)
}

// Error is a rejection from the processor. It carries enough context for the
// caller to decide whether re-invoking the operation is worthwhile.
type Error struct {
	Op         string
	Code       string
	Message    string
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s failed: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("gateway %s failed: %s", e.Op, e.Message)
}
