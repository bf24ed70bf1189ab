package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/khetibazaar/mandicore/internal/domain"
	"github.com/khetibazaar/mandicore/internal/negotiation"
)

// stubService returns canned results so the handler's decoding, routing and
// error mapping can be exercised without a real service.
type stubService struct {
	negotiation  domain.Negotiation
	list         []domain.Negotiation
	classify     domain.Classification
	err          error
	lastCreate   negotiation.CreateParams
	lastCounterV int64
}

func (s *stubService) Create(ctx context.Context, p negotiation.CreateParams) (domain.Negotiation, error) {
	s.lastCreate = p
	return s.negotiation, s.err
}

func (s *stubService) Counter(ctx context.Context, id string, actor domain.ActorRole, expectedVersion int64, newPrice, newQuantity float64) (domain.Negotiation, error) {
	s.lastCounterV = expectedVersion
	return s.negotiation, s.err
}

func (s *stubService) Respond(ctx context.Context, id string, expectedVersion int64, decision domain.Decision) (domain.Negotiation, error) {
	return s.negotiation, s.err
}

func (s *stubService) Get(ctx context.Context, id string) (domain.Negotiation, error) {
	return s.negotiation, s.err
}

func (s *stubService) ListForParticipant(ctx context.Context, participantID string, role domain.ActorRole, opts domain.ListOpts) ([]domain.Negotiation, error) {
	return s.list, s.err
}

func (s *stubService) ClassifyOffer(ctx context.Context, id string, price float64) (domain.Classification, error) {
	return s.classify, s.err
}

// newTestMux mirrors the server's negotiation routes so path parameters
// resolve the same way they do in production.
func newTestMux(svc *stubService) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewNegotiationHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/negotiations", h.Create)
	mux.HandleFunc("GET /api/negotiations", h.List)
	mux.HandleFunc("GET /api/negotiations/{id}", h.Get)
	mux.HandleFunc("POST /api/negotiations/{id}/counter", h.Counter)
	mux.HandleFunc("POST /api/negotiations/{id}/respond", h.Respond)
	mux.HandleFunc("POST /api/negotiations/{id}/classify", h.Classify)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateHandler(t *testing.T) {
	svc := &stubService{negotiation: domain.Negotiation{ID: "n1", Status: domain.StatusPending}}
	mux := newTestMux(svc)

	body := `{
		"buyer_id": "b1", "farmer_id": "f1", "product_id": "p1",
		"commodity": "wheat", "state": "punjab", "district": "ludhiana",
		"quality_grade": "B", "offered_price": 24.5, "quantity": 100
	}`
	rec := doRequest(t, mux, http.MethodPost, "/api/negotiations", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if svc.lastCreate.Commodity != "wheat" || svc.lastCreate.OfferedPrice != 24.5 {
		t.Errorf("decoded params = %+v", svc.lastCreate)
	}

	var got domain.Negotiation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "n1" {
		t.Errorf("response id = %q, want n1", got.ID)
	}
}

func TestCreateHandler_MissingIDs(t *testing.T) {
	mux := newTestMux(&stubService{})

	rec := doRequest(t, mux, http.MethodPost, "/api/negotiations", `{"buyer_id": "b1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateHandler_BadJSON(t *testing.T) {
	mux := newTestMux(&stubService{})

	rec := doRequest(t, mux, http.MethodPost, "/api/negotiations", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetHandler_PathValue(t *testing.T) {
	svc := &stubService{negotiation: domain.Negotiation{ID: "abc-123"}}
	mux := newTestMux(svc)

	rec := doRequest(t, mux, http.MethodGet, "/api/negotiations/abc-123", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListHandler_RequiresParticipantAndRole(t *testing.T) {
	mux := newTestMux(&stubService{})

	rec := doRequest(t, mux, http.MethodGet, "/api/negotiations?role=buyer", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing participant_id: status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/negotiations?participant_id=b1&role=trader", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad role: status = %d, want 400", rec.Code)
	}
}

func TestListHandler_EmptyListIsNotNull(t *testing.T) {
	mux := newTestMux(&stubService{list: nil})

	rec := doRequest(t, mux, http.MethodGet, "/api/negotiations?participant_id=b1&role=buyer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"negotiations":[]`) {
		t.Errorf("empty list rendered as %s, want []", rec.Body.String())
	}
}

func TestCounterHandler_DecodesVersion(t *testing.T) {
	svc := &stubService{negotiation: domain.Negotiation{ID: "n1"}}
	mux := newTestMux(svc)

	body := `{"actor": "farmer", "version": 3, "price": 26, "quantity": 100}`
	rec := doRequest(t, mux, http.MethodPost, "/api/negotiations/n1/counter", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if svc.lastCounterV != 3 {
		t.Errorf("expected version = %d, want 3", svc.lastCounterV)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"below floor", domain.ErrBelowFloorPrice, http.StatusBadRequest},
		{"quantity too low", domain.ErrQuantityTooLow, http.StatusBadRequest},
		{"invalid role", domain.ErrInvalidActorRole, http.StatusBadRequest},
		{"invalid decision", domain.ErrInvalidDecision, http.StatusBadRequest},
		{"closed", domain.ErrNegotiationClosed, http.StatusConflict},
		{"stale version", domain.ErrStaleNegotiationState, http.StatusConflict},
		{"price data down", domain.ErrPriceDataUnavailable, http.StatusServiceUnavailable},
		{"unexpected", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(&stubService{err: tt.err})

			rec := doRequest(t, mux, http.MethodPost, "/api/negotiations/n1/respond",
				`{"decision": "accept", "version": 1}`)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestClassifyHandler(t *testing.T) {
	svc := &stubService{classify: domain.Classification{Band: domain.OfferFair, Message: "within the fair range"}}
	mux := newTestMux(svc)

	rec := doRequest(t, mux, http.MethodPost, "/api/negotiations/n1/classify", `{"price": 27.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"band":"FAIR"`) {
		t.Errorf("body = %s, want FAIR classification", rec.Body.String())
	}
}
