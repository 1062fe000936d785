package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ScheduledEvent is one booked interval on the owner's calendar.
type ScheduledEvent struct {
	URI       string    `json:"uri"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// OneOffEventRequest describes a single-use bookable slot to provision.
type OneOffEventRequest struct {
	Name            string
	HostURI         string
	Date            string // YYYY-MM-DD
	DurationMinutes int
	Location        string
}

// CalendlyClient talks to the Calendly REST API.
type CalendlyClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
}

// NewCalendlyClient constructs a client against the public Calendly API.
func NewCalendlyClient(apiKey string) *CalendlyClient {
	return &CalendlyClient{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		BaseURL:    "https://api.calendly.com",
	}
}

// ListScheduledEvents returns the owner's active events between minStart and maxStart.
func (c *CalendlyClient) ListScheduledEvents(ctx context.Context, userURI string, minStart, maxStart time.Time) ([]ScheduledEvent, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("calendly api key missing")
	}
	if userURI == "" {
		return nil, fmt.Errorf("calendly user uri missing")
	}

	q := url.Values{}
	q.Set("user", userURI)
	q.Set("status", "active")
	q.Set("min_start_time", minStart.UTC().Format(time.RFC3339))
	q.Set("max_start_time", maxStart.UTC().Format(time.RFC3339))
	q.Set("count", "100")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/scheduled_events?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendly list events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("calendly list events: status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Collection []ScheduledEvent `json:"collection"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("calendly list events: decode: %w", err)
	}
	return out.Collection, nil
}

// CreateOneOffEventType provisions a one-off bookable slot and returns its
// public scheduling URL.
func (c *CalendlyClient) CreateOneOffEventType(ctx context.Context, r OneOffEventRequest) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("calendly api key missing")
	}
	if r.HostURI == "" {
		return "", fmt.Errorf("calendly host uri missing")
	}

	body := map[string]any{
		"name":     r.Name,
		"host":     r.HostURI,
		"duration": r.DurationMinutes,
		"date_setting": map[string]any{
			"type":       "date_range",
			"start_date": r.Date,
			"end_date":   r.Date,
		},
		"location": map[string]any{
			"kind":     "custom",
			"location": r.Location,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/one_off_event_types", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendly create event type: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("calendly create event type: status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Resource struct {
			SchedulingURL string `json:"scheduling_url"`
		} `json:"resource"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("calendly create event type: decode: %w", err)
	}
	if out.Resource.SchedulingURL == "" {
		return "", fmt.Errorf("calendly create event type: no scheduling url in response")
	}
	return out.Resource.SchedulingURL, nil
}
