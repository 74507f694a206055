package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/servana/backend/internal/config"
	"github.com/servana/backend/internal/middleware"
	"github.com/servana/backend/internal/services"
)

func newSweepHandler(st *stubStore) *SweepHandler {
	cfg := &config.PaymentsConfig{
		CaptureLeadTime: 24 * time.Hour,
		SweepBatchLimit: 100,
		GatewayTimeout:  5 * time.Second,
		DefaultCurrency: "usd",
	}
	return NewSweepHandler(services.NewSweeper(st, &stubGateway{}, nil, cfg))
}

func TestSweepHandler_RunSweep(t *testing.T) {
	t.Run("empty body sweeps with defaults", func(t *testing.T) {
		h := newSweepHandler(&stubStore{})

		req := httptest.NewRequest("POST", "/internal/jobs/capture-sweep", nil)
		w := httptest.NewRecorder()
		h.RunSweep(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var summary services.SweepSummary
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
		assert.Zero(t, summary.Total)
	})

	t.Run("explicit now and limit", func(t *testing.T) {
		h := newSweepHandler(&stubStore{})

		body := strings.NewReader(`{"now":"2026-03-10T10:00:00Z","limit":25}`)
		req := httptest.NewRequest("POST", "/internal/jobs/capture-sweep", body)
		w := httptest.NewRecorder()
		h.RunSweep(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("malformed now is rejected", func(t *testing.T) {
		h := newSweepHandler(&stubStore{})

		body := strings.NewReader(`{"now":"tomorrow"}`)
		req := httptest.NewRequest("POST", "/internal/jobs/capture-sweep", body)
		w := httptest.NewRecorder()
		h.RunSweep(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("limit above cap is rejected", func(t *testing.T) {
		h := newSweepHandler(&stubStore{})

		body := strings.NewReader(`{"limit":5000}`)
		req := httptest.NewRequest("POST", "/internal/jobs/capture-sweep", body)
		w := httptest.NewRecorder()
		h.RunSweep(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSweepEndpoint_JobSecret(t *testing.T) {
	h := newSweepHandler(&stubStore{})
	guarded := middleware.JobSecretMiddleware("s3cret")(http.HandlerFunc(h.RunSweep))

	t.Run("wrong secret is forbidden", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/internal/jobs/capture-sweep", nil)
		req.Header.Set(middleware.JobSecretHeader, "guess")
		w := httptest.NewRecorder()
		guarded.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("correct secret passes", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/internal/jobs/capture-sweep", nil)
		req.Header.Set(middleware.JobSecretHeader, "s3cret")
		w := httptest.NewRecorder()
		guarded.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unconfigured secret disables the endpoint", func(t *testing.T) {
		open := middleware.JobSecretMiddleware("")(http.HandlerFunc(h.RunSweep))
		req := httptest.NewRequest("POST", "/internal/jobs/capture-sweep", nil)
		w := httptest.NewRecorder()
		open.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
