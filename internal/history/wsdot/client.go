// Package wsdot implements a history.Source backed by the WSDOT ferries
// vessel history API.
package wsdot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/ferrycast/ferrycast/internal/history"
	"github.com/ferrycast/ferrycast/internal/resilience"
)

const (
	// ProviderName identifies this history provider.
	ProviderName = "wsdot"

	// DefaultBaseURL is the vessels API base URL.
	DefaultBaseURL = "https://www.wsdot.wa.gov/ferries/api/vessels/rest"

	dateFormat = "2006-01-02"
)

// ClientConfig holds configuration for the WSDOT client.
type ClientConfig struct {
	// APIKey is the WSDOT access code (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to the public API).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client fetches vessel trip history from the WSDOT API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new WSDOT client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Vessels lists the fleet.
func (c *Client) Vessels(ctx context.Context) ([]history.Vessel, error) {
	var wire []wireVessel
	if err := c.get(ctx, fmt.Sprintf("%s/vesselbasics", c.baseURL), &wire); err != nil {
		return nil, err
	}

	vessels := make([]history.Vessel, 0, len(wire))
	for _, v := range wire {
		vessels = append(vessels, history.Vessel{ID: v.VesselID, Name: v.VesselName})
	}
	return vessels, nil
}

// TripHistory returns all recorded trips for a vessel in the date range.
func (c *Client) TripHistory(ctx context.Context, vesselID int, r history.DateRange) ([]history.VesselTrip, error) {
	endpoint := fmt.Sprintf("%s/vesselhistory/%d/%s/%s",
		c.baseURL, vesselID, r.From.Format(dateFormat), r.To.Format(dateFormat))

	var wire []wireTrip
	if err := c.get(ctx, endpoint, &wire); err != nil {
		return nil, err
	}

	trips := make([]history.VesselTrip, 0, len(wire))
	for i := range wire {
		trips = append(trips, c.toTrip(vesselID, &wire[i]))
	}

	c.logger.Debug().
		Int("vessel_id", vesselID).
		Int("trips", len(trips)).
		Msg("fetched vessel history")

	return trips, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	q.Set("apiaccesscode", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// toTrip converts a wire record to the domain model. Unparseable timestamps
// become zero values; the pipeline treats those as missing fields.
func (c *Client) toTrip(vesselID int, w *wireTrip) history.VesselTrip {
	trip := history.VesselTrip{
		VesselID:          vesselID,
		VesselName:        w.Vessel,
		DepartingTerminal: w.Departing,
		ArrivingTerminal:  w.Arriving,
		ScheduledDepart:   parseTime(w.ScheduledDepart),
		ActualDepart:      parseTime(w.ActualDepart),
		EstimatedArrival:  parseTime(w.EstArrival),
	}
	if !trip.EstimatedArrival.IsZero() {
		trip.ArrivalProxySource = "eta"
	}
	return trip
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Wire structures for the WSDOT API.

type wireVessel struct {
	VesselID   int    `json:"VesselID"`
	VesselName string `json:"VesselName"`
}

type wireTrip struct {
	VesselID        int    `json:"VesselID"`
	Vessel          string `json:"Vessel"`
	Departing       string `json:"Departing"`
	Arriving        string `json:"Arriving"`
	ScheduledDepart string `json:"ScheduledDepart"`
	ActualDepart    string `json:"ActualDepart"`
	EstArrival      string `json:"EstArrival"`
}
