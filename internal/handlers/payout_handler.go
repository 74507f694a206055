package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/servana/backend/internal/payouts"
	"github.com/servana/backend/internal/services"
)

type PayoutHandler struct {
	exporter  *payouts.Exporter
	validator *services.ValidationHelper
}

func NewPayoutHandler(exporter *payouts.Exporter) *PayoutHandler {
	return &PayoutHandler{
		exporter:  exporter,
		validator: services.NewValidationHelper(),
	}
}

// ExportPayout renders a booking's provider payout as a pacs.008 message
// @Summary Export payout
// @Description Build the ISO 20022 credit transfer for a booking's provider payout
// @Tags payouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param bookingID path string true "Booking ID"
// @Param request body payouts.ExportRequest true "Provider settlement details"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payouts/{bookingID}/export [post]
func (h *PayoutHandler) ExportPayout(w http.ResponseWriter, r *http.Request) {
	var req payouts.ExportRequest
	if err := decodeBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	req.BookingID = chi.URLParam(r, "bookingID")
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	xmlData, err := h.exporter.Export(r.Context(), req)
	if err != nil {
		if errors.Is(err, payouts.ErrPayoutNotFound) {
			services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "exported",
		"messageType": "pacs.008.001.08",
		"xml":         xmlData,
	})
}
