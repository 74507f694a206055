package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/servana/backend/internal/services"
)

// SweepHandler triggers the scheduled capture sweep. It sits behind the
// internal job secret, not user auth; the scheduler is the only caller.
type SweepHandler struct {
	sweeper   *services.Sweeper
	validator *services.ValidationHelper
}

func NewSweepHandler(sweeper *services.Sweeper) *SweepHandler {
	return &SweepHandler{
		sweeper:   sweeper,
		validator: services.NewValidationHelper(),
	}
}

type sweepRequest struct {
	Now   string `json:"now" validate:"omitempty,rfc3339"`
	Limit int    `json:"limit" validate:"gte=0,lte=1000"`
}

// RunSweep captures all due manual-capture authorizations
// @Summary Run capture sweep
// @Description Claim and capture every payment schedule row that is due
// @Tags internal
// @Accept json
// @Produce json
// @Param request body sweepRequest false "Optional sweep overrides"
// @Success 200 {object} services.SweepSummary
// @Failure 400 {object} services.ErrorResponse
// @Router /internal/jobs/capture-sweep [post]
func (h *SweepHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := decodeBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	now := time.Now().UTC()
	if req.Now != "" {
		parsed, err := time.Parse(time.RFC3339, req.Now)
		if err != nil {
			services.SendErrorResponse(w, "now must be RFC3339", http.StatusBadRequest, nil)
			return
		}
		now = parsed
	}

	summary, err := h.sweeper.SweepDueCaptures(r.Context(), now, req.Limit)
	if err != nil {
		services.SendErrorResponse(w, "Sweep failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
