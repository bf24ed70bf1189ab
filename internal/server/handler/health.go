package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// PriceCounter reports how many mandi price records the store holds. Used to
// surface ingestion liveness on the status endpoint.
type PriceCounter interface {
	Count(ctx context.Context) (int64, error)
}

// HealthHandler serves the health-check and status endpoints.
type HealthHandler struct {
	prices PriceCounter
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. prices may be nil, in which case
// the status endpoint omits the record count.
func NewHealthHandler(prices PriceCounter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{prices: prices, logger: logHandler(logger, "health")}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status reports liveness plus the number of ingested mandi price records.
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.prices != nil {
		count, err := h.prices.Count(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: price count failed",
				slog.String("error", err.Error()),
			)
		} else {
			resp["mandi_price_records"] = count
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
