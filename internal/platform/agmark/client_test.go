package agmark

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

const samplePage = `{
	"total": 3,
	"count": 3,
	"records": [
		{
			"state": "Punjab", "district": "Ludhiana", "market": "Khanna",
			"commodity": "Wheat", "variety": "Dara", "grade": "FAQ",
			"arrival_date": "24/07/2026",
			"min_price": "2250", "max_price": "2480", "modal_price": "2400"
		},
		{
			"state": "Punjab", "district": "Ludhiana", "market": "Khanna",
			"commodity": "Paddy", "variety": "Common", "grade": "FAQ",
			"arrival_date": "24/07/2026",
			"min_price": "NR", "max_price": "", "modal_price": "2100"
		},
		{
			"state": "Punjab", "district": "Ludhiana", "market": "Khanna",
			"commodity": "Maize", "variety": "Local", "grade": "FAQ",
			"arrival_date": "24/07/2026",
			"min_price": "1700", "max_price": "1900", "modal_price": "NR"
		}
	]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-resource", "test-key")
}

func TestGetRecords(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(samplePage))
	})

	records, err := c.GetRecords(context.Background(), 100, 200)
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0].ModalPrice != "2400" {
		t.Errorf("modal price = %q, want 2400", records[0].ModalPrice)
	}

	want := map[string]string{
		"api-key": "test-key",
		"format":  "json",
		"limit":   "100",
		"offset":  "200",
	}
	for k, v := range want {
		if got := gotQuery.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
}

func TestGetPrices_AppliesStateFilter(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(samplePage))
	}).WithStateFilter("Punjab")

	if _, err := c.GetPrices(context.Background(), 50, 0); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if got := gotQuery.Get("filters[state]"); got != "Punjab" {
		t.Errorf("state filter = %q, want Punjab", got)
	}
}

func TestGetPrices_NoFilterLeavesQueryUnfiltered(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(samplePage))
	})

	if _, err := c.GetPrices(context.Background(), 50, 0); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if gotQuery.Has("filters[state]") {
		t.Errorf("unexpected state filter %q", gotQuery.Get("filters[state]"))
	}
}

func TestGetPrices_SkipsUnparsableModal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	})

	records, err := c.GetPrices(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	// The maize row has modal_price "NR" and is dropped.
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	wheat := records[0]
	if wheat.State != "punjab" || wheat.Commodity != "wheat" {
		t.Errorf("names not normalized: %+v", wheat)
	}
	if wheat.ModalPrice != 2400 || wheat.MinPrice != 2250 {
		t.Errorf("prices = modal %v min %v", wheat.ModalPrice, wheat.MinPrice)
	}
	if wheat.Source != "agmarknet" || !wheat.IsVerified {
		t.Errorf("source = %q verified = %v", wheat.Source, wheat.IsVerified)
	}
	wantDate := time.Date(2026, time.July, 24, 0, 0, 0, 0, time.UTC)
	if !wheat.ReportDate.Equal(wantDate) {
		t.Errorf("report date = %v, want %v", wheat.ReportDate, wantDate)
	}

	// The paddy row survives with its advisory min/max zeroed.
	paddy := records[1]
	if paddy.ModalPrice != 2100 || paddy.MinPrice != 0 || paddy.MaxPrice != 0 {
		t.Errorf("paddy prices = %+v", paddy)
	}
}

func TestToDomainRecord_BadDateFallsBackToNow(t *testing.T) {
	rec := APIRecord{
		State: "Punjab", District: "Ludhiana", Market: "Khanna",
		Commodity: "Wheat", ArrivalDate: "not-a-date", ModalPrice: "2400",
	}

	now := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	got, err := rec.ToDomainRecord(now)
	if err != nil {
		t.Fatalf("ToDomainRecord: %v", err)
	}
	if !got.ReportDate.Equal(now) {
		t.Errorf("report date = %v, want fallback %v", got.ReportDate, now)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}

	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})

		_, err := c.GetRecords(context.Background(), 10, 0)
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestGetRecordsByState_SetsFilter(t *testing.T) {
	var gotFilter string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("filters[state]")
		w.Write([]byte(`{"total":0,"count":0,"records":[]}`))
	})

	if _, err := c.GetRecordsByState(context.Background(), "Punjab", 10, 0); err != nil {
		t.Fatalf("GetRecordsByState: %v", err)
	}
	if gotFilter != "Punjab" {
		t.Errorf("filters[state] = %q, want Punjab", gotFilter)
	}
}
