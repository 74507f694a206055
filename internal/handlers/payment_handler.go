package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/servana/backend/internal/services"
	"github.com/servana/backend/internal/store"
)

// PaymentHandler exposes the booking payment lifecycle over HTTP. The
// orchestrator does the money movement; this layer only decodes, validates,
// and maps outcomes to status codes.
type PaymentHandler struct {
	orchestrator *services.PaymentService
	store        services.LedgerStore
	validator    *services.ValidationHelper
}

func NewPaymentHandler(orchestrator *services.PaymentService, ledger services.LedgerStore) *PaymentHandler {
	return &PaymentHandler{
		orchestrator: orchestrator,
		store:        ledger,
		validator:    services.NewValidationHelper(),
	}
}

type lifecycleRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil // empty body is allowed for lifecycle calls
		}
		return errors.New("invalid request body")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}

func actorFrom(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value("userID").(string)
	return userID, ok && userID != ""
}

// writeOutcome maps a payment outcome to a response. Failed outcomes carry
// the booking's persisted state plus a machine-readable code, so the client
// can decide whether re-invoking is worthwhile.
func writeOutcome(w http.ResponseWriter, out *services.PaymentOutcome) {
	status := http.StatusOK
	if !out.Success {
		switch out.ErrorCode {
		case services.ErrCodePaymentFailed, services.ErrCodePartialLegFailure:
			status = http.StatusPaymentRequired
		case services.ErrCodeRefundFailed:
			status = http.StatusBadGateway
		default:
			status = http.StatusInternalServerError
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(out)
}

func (h *PaymentHandler) handleOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrBookingNotFound):
		services.SendOutcomeError(w, "Booking not found", "booking_not_found", http.StatusNotFound)
	case errors.Is(err, services.ErrMissingPaymentMethod):
		services.SendOutcomeError(w, "Booking has no payment method on file", "missing_payment_method", http.StatusBadRequest)
	case errors.Is(err, store.ErrStaleBooking):
		services.SendOutcomeError(w, "Booking was modified concurrently, retry", "version_conflict", http.StatusConflict)
	default:
		services.SendErrorResponse(w, "Payment operation failed", http.StatusInternalServerError, nil)
	}
}

// AcceptBooking accepts a pending booking and runs the two-leg charge
// @Summary Accept booking
// @Description Charge the platform fee and charge or authorize the service amount
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param bookingID path string true "Booking ID"
// @Success 200 {object} services.PaymentOutcome
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.PaymentOutcome
// @Failure 404 {object} services.ErrorResponse
// @Router /bookings/{bookingID}/accept [post]
func (h *PaymentHandler) AcceptBooking(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	bookingID := chi.URLParam(r, "bookingID")

	out, err := h.orchestrator.AcceptBooking(r.Context(), bookingID, actorID)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	writeOutcome(w, out)
}

// DeclineBooking declines a booking and unwinds its payments
// @Summary Decline booking
// @Description Cancel outstanding authorizations and refund captured charges
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param bookingID path string true "Booking ID"
// @Param request body lifecycleRequest false "Decline reason"
// @Success 200 {object} services.PaymentOutcome
// @Failure 404 {object} services.ErrorResponse
// @Router /bookings/{bookingID}/decline [post]
func (h *PaymentHandler) DeclineBooking(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	bookingID := chi.URLParam(r, "bookingID")

	var req lifecycleRequest
	if err := decodeBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	out, err := h.orchestrator.DeclineBooking(r.Context(), bookingID, actorID, req.Reason)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	writeOutcome(w, out)
}

// CancelBooking cancels a booking under the cancellation policy
// @Summary Cancel booking
// @Description Apply the cancellation policy and refund where eligible
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param bookingID path string true "Booking ID"
// @Param request body lifecycleRequest false "Cancellation reason"
// @Success 200 {object} services.PaymentOutcome
// @Failure 404 {object} services.ErrorResponse
// @Router /bookings/{bookingID}/cancel [post]
func (h *PaymentHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	bookingID := chi.URLParam(r, "bookingID")

	var req lifecycleRequest
	if err := decodeBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	out, err := h.orchestrator.CancelBooking(r.Context(), bookingID, actorID, req.Reason)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	writeOutcome(w, out)
}

// GetPaymentState returns the booking's payment flags and any pending capture
// @Summary Get payment state
// @Description Current payment flags, amounts, and pending capture schedule
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param bookingID path string true "Booking ID"
// @Success 200 {object} object{booking_id=string,payment_status=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /bookings/{bookingID}/payment [get]
func (h *PaymentHandler) GetPaymentState(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	booking, err := h.store.GetBooking(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			services.SendErrorResponse(w, "Booking not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to load booking", http.StatusInternalServerError, nil)
		return
	}

	resp := map[string]any{
		"booking_id":                booking.ID,
		"status":                    booking.Status,
		"payment_status":            booking.PaymentStatus,
		"total_amount":              booking.TotalAmount,
		"service_fee_amount":        booking.ServiceFeeAmount,
		"service_amount":            booking.ServiceAmount(),
		"currency":                  booking.Currency,
		"service_fee_charged":       booking.ServiceFeeCharged,
		"remaining_balance_charged": booking.RemainingBalanceCharged,
		"cancellation_fee":          booking.CancellationFee,
		"refund_amount":             booking.RefundAmount,
	}
	if sched, err := h.store.ActiveSchedule(r.Context(), booking.ID); err == nil {
		resp["pending_capture"] = map[string]any{
			"schedule_id":  sched.ID,
			"scheduled_at": sched.ScheduledAt,
			"amount":       sched.Amount,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
