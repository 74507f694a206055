package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/servana/backend/internal/receipts"
	"github.com/servana/backend/internal/services"
	"github.com/servana/backend/internal/store"
)

type ReceiptHandler struct {
	receipts  *receipts.Service
	store     services.LedgerStore
	validator *services.ValidationHelper
}

func NewReceiptHandler(svc *receipts.Service, ledger services.LedgerStore) *ReceiptHandler {
	return &ReceiptHandler{
		receipts:  svc,
		store:     ledger,
		validator: services.NewValidationHelper(),
	}
}

// IssueReceipt issues a one-time QR receipt for a paid booking
// @Summary Issue receipt
// @Description Generate a redeemable QR receipt token for a fully paid booking
// @Tags receipts
// @Produce json
// @Security BearerAuth
// @Param bookingID path string true "Booking ID"
// @Success 200 {object} object{token=string,qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /bookings/{bookingID}/receipt [get]
func (h *ReceiptHandler) IssueReceipt(w http.ResponseWriter, r *http.Request) {
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

	token, qrImage, err := h.receipts.Issue(r.Context(), booking)
	if err != nil {
		if errors.Is(err, receipts.ErrReceiptNotAvailable) {
			services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to issue receipt", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"token":   token,
		"qrImage": qrImage,
	})
}

// RedeemReceipt verifies and burns a receipt token
// @Summary Redeem receipt
// @Description Verify a scanned receipt token; it can be redeemed only once
// @Tags receipts
// @Accept json
// @Produce json
// @Param request body object{token=string} true "Receipt token"
// @Success 200 {object} receipts.Receipt
// @Failure 400 {object} services.ErrorResponse
// @Router /receipts/redeem [post]
func (h *ReceiptHandler) RedeemReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token" validate:"required"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	receipt, err := h.receipts.Redeem(r.Context(), req.Token)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}
