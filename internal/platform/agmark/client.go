// Package agmark is the REST client for the AGMARKNET open-data feed, which
// publishes daily wholesale mandi prices per state, district, market, and
// commodity. Prices on the wire are rupees per quintal.
package agmark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// reportDateLayout is the date format used by the feed, e.g. "24/07/2026".
const reportDateLayout = "02/01/2006"

// Client is the REST client for the AGMARKNET price resource.
type Client struct {
	baseURL     string
	resourceID  string
	apiKey      string
	stateFilter string
	httpClient  *http.Client
}

// NewClient creates a new feed client.
//
// baseURL is the API root, e.g. "https://api.data.gov.in". resourceID
// identifies the daily price resource; apiKey is the caller's access key.
func NewClient(baseURL, resourceID, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		resourceID: resourceID,
		apiKey:     apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIRecord mirrors one price row as the feed returns it. All numeric
// fields arrive as strings.
type APIRecord struct {
	State        string `json:"state"`
	District     string `json:"district"`
	Market       string `json:"market"`
	Commodity    string `json:"commodity"`
	Variety      string `json:"variety"`
	Grade        string `json:"grade"`
	ArrivalDate  string `json:"arrival_date"`
	MinPrice     string `json:"min_price"`
	MaxPrice     string `json:"max_price"`
	ModalPrice   string `json:"modal_price"`
}

// apiResponse is the envelope around a page of records.
type apiResponse struct {
	Total   int         `json:"total"`
	Count   int         `json:"count"`
	Records []APIRecord `json:"records"`
}

// ToDomainRecord converts an API row to a domain record. Rows whose modal
// price does not parse as a positive number are reported as an error so the
// pipeline can count and skip them.
func (r *APIRecord) ToDomainRecord(now time.Time) (domain.MarketPriceRecord, error) {
	modal, err := strconv.ParseFloat(r.ModalPrice, 64)
	if err != nil || modal <= 0 {
		return domain.MarketPriceRecord{}, fmt.Errorf("agmark: bad modal price %q for %s/%s", r.ModalPrice, r.Market, r.Commodity)
	}

	// Min and max are advisory; a parse failure zeroes them rather than
	// dropping the row.
	minPrice, _ := strconv.ParseFloat(r.MinPrice, 64)
	maxPrice, _ := strconv.ParseFloat(r.MaxPrice, 64)

	reportDate, err := time.Parse(reportDateLayout, r.ArrivalDate)
	if err != nil {
		reportDate = now
	}

	return domain.MarketPriceRecord{
		State:       domain.NormalizeName(r.State),
		District:    domain.NormalizeName(r.District),
		Market:      r.Market,
		Commodity:   domain.NormalizeName(r.Commodity),
		Variety:     r.Variety,
		Grade:       r.Grade,
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
		ModalPrice:  modal,
		ReportDate:  reportDate,
		Source:      "agmarknet",
		IsVerified:  true,
		LastUpdated: now,
	}, nil
}

// WithStateFilter restricts GetPrices to records from a single state,
// matching the feed's own state spelling. An empty state leaves the client
// unfiltered. Returns the client for chaining at construction.
func (c *Client) WithStateFilter(state string) *Client {
	c.stateFilter = state
	return c
}

// GetRecords returns one page of price records.
func (c *Client) GetRecords(ctx context.Context, limit, offset int) ([]APIRecord, error) {
	params := url.Values{}
	params.Set("api-key", c.apiKey)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	path := fmt.Sprintf("/resource/%s?%s", url.PathEscape(c.resourceID), params.Encode())

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("agmark: get records: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("agmark: decode records: %w", err)
	}

	return resp.Records, nil
}

// GetPrices returns one page of records converted to domain form, honoring
// the configured state filter. Rows whose modal price does not parse are
// skipped.
func (c *Client) GetPrices(ctx context.Context, limit, offset int) ([]domain.MarketPriceRecord, error) {
	var apiRecords []APIRecord
	var err error
	if c.stateFilter != "" {
		apiRecords, err = c.GetRecordsByState(ctx, c.stateFilter, limit, offset)
	} else {
		apiRecords, err = c.GetRecords(ctx, limit, offset)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]domain.MarketPriceRecord, 0, len(apiRecords))
	for i := range apiRecords {
		rec, err := apiRecords[i].ToDomainRecord(now)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// GetRecordsByState returns one page of price records filtered to a state.
func (c *Client) GetRecordsByState(ctx context.Context, state string, limit, offset int) ([]APIRecord, error) {
	params := url.Values{}
	params.Set("api-key", c.apiKey)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("filters[state]", state)

	path := fmt.Sprintf("/resource/%s?%s", url.PathEscape(c.resourceID), params.Encode())

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("agmark: get records for state %s: %w", state, err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("agmark: decode records: %w", err)
	}

	return resp.Records, nil
}

// doGet sends a GET request to the feed API.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps failing status codes to domain errors where a
// sentinel exists.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
