package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/khetibazaar/mandicore/internal/domain"
	"github.com/khetibazaar/mandicore/internal/negotiation"
)

// NegotiationService defines the methods that the negotiation handler
// requires from the service layer.
type NegotiationService interface {
	Create(ctx context.Context, p negotiation.CreateParams) (domain.Negotiation, error)
	Counter(ctx context.Context, id string, actor domain.ActorRole, expectedVersion int64, newPrice, newQuantity float64) (domain.Negotiation, error)
	Respond(ctx context.Context, id string, expectedVersion int64, decision domain.Decision) (domain.Negotiation, error)
	Get(ctx context.Context, id string) (domain.Negotiation, error)
	ListForParticipant(ctx context.Context, participantID string, role domain.ActorRole, opts domain.ListOpts) ([]domain.Negotiation, error)
	ClassifyOffer(ctx context.Context, id string, price float64) (domain.Classification, error)
}

// NegotiationHandler serves negotiation HTTP endpoints.
type NegotiationHandler struct {
	svc    NegotiationService
	logger *slog.Logger
}

// NewNegotiationHandler creates a NegotiationHandler with the given service
// and logger.
func NewNegotiationHandler(svc NegotiationService, logger *slog.Logger) *NegotiationHandler {
	return &NegotiationHandler{
		svc:    svc,
		logger: logHandler(logger, "negotiation"),
	}
}

// createRequest is the JSON body for opening a negotiation.
type createRequest struct {
	BuyerID      string  `json:"buyer_id"`
	FarmerID     string  `json:"farmer_id"`
	ProductID    string  `json:"product_id"`
	Commodity    string  `json:"commodity"`
	State        string  `json:"state"`
	District     string  `json:"district"`
	QualityGrade string  `json:"quality_grade"`
	OfferedPrice float64 `json:"offered_price"`
	Quantity     float64 `json:"quantity"`
}

// Create opens a negotiation from a buyer's opening offer.
// POST /api/negotiations
func (h *NegotiationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.BuyerID == "" || req.FarmerID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "buyer_id, farmer_id and product_id are required")
		return
	}

	n, err := h.svc.Create(r.Context(), negotiation.CreateParams{
		BuyerID:      req.BuyerID,
		FarmerID:     req.FarmerID,
		ProductID:    req.ProductID,
		Commodity:    req.Commodity,
		State:        req.State,
		District:     req.District,
		QualityGrade: domain.QualityGrade(req.QualityGrade),
		OfferedPrice: req.OfferedPrice,
		Quantity:     req.Quantity,
	})
	if err != nil {
		h.writeServiceError(w, r, "create negotiation", err)
		return
	}

	writeJSON(w, http.StatusCreated, n)
}

// Get returns a single negotiation by its ID.
// GET /api/negotiations/{id}
func (h *NegotiationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing negotiation id")
		return
	}

	n, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get negotiation", err)
		return
	}

	writeJSON(w, http.StatusOK, n)
}

// listResponse wraps the list negotiations response.
type listResponse struct {
	Negotiations []domain.Negotiation `json:"negotiations"`
}

// List returns negotiations for a participant in a given role.
// GET /api/negotiations?participant_id=...&role=buyer&limit=50&offset=0
func (h *NegotiationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	participantID := q.Get("participant_id")
	role := domain.ActorRole(q.Get("role"))

	if participantID == "" {
		writeError(w, http.StatusBadRequest, "participant_id query parameter required")
		return
	}
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "role must be buyer or farmer")
		return
	}

	negotiations, err := h.svc.ListForParticipant(r.Context(), participantID, role, parseListOpts(r))
	if err != nil {
		h.writeServiceError(w, r, "list negotiations", err)
		return
	}

	if negotiations == nil {
		negotiations = []domain.Negotiation{}
	}

	writeJSON(w, http.StatusOK, listResponse{Negotiations: negotiations})
}

// counterRequest is the JSON body for a counter-offer.
type counterRequest struct {
	Actor    string  `json:"actor"`
	Version  int64   `json:"version"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Counter applies a counter-offer from either participant.
// POST /api/negotiations/{id}/counter
func (h *NegotiationHandler) Counter(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing negotiation id")
		return
	}

	var req counterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	n, err := h.svc.Counter(r.Context(), id, domain.ActorRole(req.Actor), req.Version, req.Price, req.Quantity)
	if err != nil {
		h.writeServiceError(w, r, "counter negotiation", err)
		return
	}

	writeJSON(w, http.StatusOK, n)
}

// respondRequest is the JSON body for accepting or rejecting.
type respondRequest struct {
	Decision string `json:"decision"`
	Version  int64  `json:"version"`
}

// Respond applies a terminal accept or reject decision.
// POST /api/negotiations/{id}/respond
func (h *NegotiationHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing negotiation id")
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	n, err := h.svc.Respond(r.Context(), id, req.Version, domain.Decision(req.Decision))
	if err != nil {
		h.writeServiceError(w, r, "respond negotiation", err)
		return
	}

	writeJSON(w, http.StatusOK, n)
}

// classifyRequest is the JSON body for offer classification.
type classifyRequest struct {
	Price float64 `json:"price"`
}

// Classify grades a candidate price against the negotiation's frozen band.
// POST /api/negotiations/{id}/classify
func (h *NegotiationHandler) Classify(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing negotiation id")
		return
	}

	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	c, err := h.svc.ClassifyOffer(r.Context(), id, req.Price)
	if err != nil {
		h.writeServiceError(w, r, "classify offer", err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// writeServiceError maps domain errors onto HTTP status codes, logging the
// ones that indicate a server-side failure.
func (h *NegotiationHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "negotiation not found")
	case errors.Is(err, domain.ErrBelowFloorPrice),
		errors.Is(err, domain.ErrQuantityTooLow),
		errors.Is(err, domain.ErrInvalidActorRole),
		errors.Is(err, domain.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNegotiationClosed),
		errors.Is(err, domain.ErrStaleNegotiationState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPriceDataUnavailable):
		writeError(w, http.StatusServiceUnavailable, "price data unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
