package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// BandPreviewer computes a price band without opening a negotiation.
type BandPreviewer interface {
	PreviewBand(ctx context.Context, commodity, state, district string, grade domain.QualityGrade) domain.PriceBand
}

// RegionPriceLister reads the freshest mandi prices for a region.
type RegionPriceLister interface {
	ListByRegion(ctx context.Context, state, district string, limit int) ([]domain.MarketPriceRecord, error)
}

// PriceHandler serves price-band and mandi-price HTTP endpoints.
type PriceHandler struct {
	bands  BandPreviewer
	prices RegionPriceLister
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler with the given collaborators.
func NewPriceHandler(bands BandPreviewer, prices RegionPriceLister, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		bands:  bands,
		prices: prices,
		logger: logHandler(logger, "prices"),
	}
}

// PreviewBand computes the floor/target/stretch band for a commodity in a
// region without opening a negotiation. Useful for buyer-side UI hints.
// GET /api/prices/band?commodity=wheat&state=punjab&district=ludhiana&grade=B
func (h *PriceHandler) PreviewBand(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	commodity := q.Get("commodity")
	if commodity == "" {
		writeError(w, http.StatusBadRequest, "commodity query parameter required")
		return
	}

	grade := domain.QualityGrade(q.Get("grade"))
	band := h.bands.PreviewBand(r.Context(), commodity, q.Get("state"), q.Get("district"), grade)

	writeJSON(w, http.StatusOK, band)
}

// listPricesResponse wraps the regional price listing.
type listPricesResponse struct {
	Prices []domain.MarketPriceRecord `json:"prices"`
}

// ListByRegion returns the freshest mandi price records for a region.
// GET /api/prices?state=punjab&district=ludhiana&limit=20
func (h *PriceHandler) ListByRegion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		writeError(w, http.StatusBadRequest, "state query parameter required")
		return
	}

	opts := parseListOpts(r)
	records, err := h.prices.ListByRegion(r.Context(), state, q.Get("district"), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list prices failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list prices")
		return
	}

	if records == nil {
		records = []domain.MarketPriceRecord{}
	}

	writeJSON(w, http.StatusOK, listPricesResponse{Prices: records})
}
