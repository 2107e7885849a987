// Package remote is the HTTPS client for the hosted data service. The
// service speaks PostgREST: one resource path per table, JSON bodies,
// upserts via the Prefer header and row filters as query parameters.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kimhsiao/tourly/backend/internal/models"
)

// TokenProvider returns the current bearer token. An empty token falls
// back to the API key.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken returns a TokenProvider for a fixed token.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Token   TokenProvider
	Timeout time.Duration
}

// StatusError is a non-2xx response from the service.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client calls the remote data service.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	token   TokenProvider
}

// New creates a client. BaseURL is the service root; requests go to
// BaseURL + "/rest/v1/<table>".
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		token:   cfg.Token,
	}
}

// reviewRow is the wire shape of a review.
type reviewRow struct {
	ID           string `json:"id"`
	AttractionID string `json:"attraction_id"`
	Author       string `json:"author"`
	Rating       int    `json:"rating"`
	Comment      string `json:"comment"`
	CreatedAt    string `json:"created_at"`
}

type itineraryRow struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	IsPublic     bool    `json:"is_public"`
	CreatedBy    string  `json:"created_by"`
	AutoSort     bool    `json:"auto_sort"`
	ScheduleMode bool    `json:"schedule_mode"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	DeletedAt    *string `json:"deleted_at,omitempty"`
}

type linkRow struct {
	ID           string  `json:"id"`
	ItineraryID  string  `json:"itinerary_id"`
	AttractionID string  `json:"attraction_id"`
	StartTime    *string `json:"start_time"`
	EndTime      *string `json:"end_time"`
	Price        float64 `json:"price"`
	Notes        string  `json:"notes"`
	SortOrder    int     `json:"sort_order"`
	CreatedAt    string  `json:"created_at"`
}

type attractionRow struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Location    string  `json:"location"`
	Description string  `json:"description"`
	Rating      float64 `json:"rating"`
	Price       float64 `json:"price"`
	UpdatedAt   string  `json:"updated_at"`
}

func millisToRFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func rfc3339ToMillis(s string) int64 {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// CreateReview inserts a review. Replays of an already-stored review are
// accepted as success.
func (c *Client) CreateReview(ctx context.Context, r models.Review) error {
	row := reviewRow{
		ID:           r.ID,
		AttractionID: r.AttractionID,
		Author:       r.Author,
		Rating:       r.Rating,
		Comment:      r.Comment,
		CreatedAt:    millisToRFC3339(r.CreatedAt),
	}
	return c.do(ctx, http.MethodPost, "reviews", nil, row, "resolution=ignore-duplicates", nil)
}

// UpsertItinerary inserts or overwrites an itinerary.
func (c *Client) UpsertItinerary(ctx context.Context, it models.Itinerary) error {
	row := itineraryRow{
		ID:           it.ID,
		Name:         it.Name,
		Description:  it.Description,
		IsPublic:     it.IsPublic,
		CreatedBy:    it.CreatedBy,
		AutoSort:     it.AutoSort,
		ScheduleMode: it.ScheduleMode,
		CreatedAt:    millisToRFC3339(it.CreatedAt),
		UpdatedAt:    millisToRFC3339(it.UpdatedAt),
	}
	return c.do(ctx, http.MethodPost, "itineraries", nil, row, "resolution=merge-duplicates", nil)
}

// SoftDeleteItinerary marks an itinerary deleted.
func (c *Client) SoftDeleteItinerary(ctx context.Context, id string) error {
	q := url.Values{"id": {"eq." + id}}
	body := map[string]string{"deleted_at": time.Now().UTC().Format(time.RFC3339Nano)}
	return c.do(ctx, http.MethodPatch, "itineraries", q, body, "", nil)
}

// UpsertLink inserts or overwrites an itinerary link.
func (c *Client) UpsertLink(ctx context.Context, l models.ItineraryLink) error {
	row := linkRow{
		ID:           l.ID,
		ItineraryID:  l.ItineraryID,
		AttractionID: l.AttractionID,
		StartTime:    l.StartTime,
		EndTime:      l.EndTime,
		Price:        l.Price,
		Notes:        l.Notes,
		SortOrder:    l.SortOrder,
		CreatedAt:    millisToRFC3339(l.CreatedAt),
	}
	return c.do(ctx, http.MethodPost, "itinerary_attractions", nil, row, "resolution=merge-duplicates", nil)
}

// SoftDeleteLink marks a link deleted.
func (c *Client) SoftDeleteLink(ctx context.Context, linkID string) error {
	q := url.Values{"id": {"eq." + linkID}}
	body := map[string]string{"deleted_at": time.Now().UTC().Format(time.RFC3339Nano)}
	return c.do(ctx, http.MethodPatch, "itinerary_attractions", q, body, "", nil)
}

// UpdateLinkOrder writes changed positions and the itinerary's auto-sort
// flag. Each position is one PATCH; the first failure stops the update and
// the whole mutation is retried later, which is safe because positions are
// absolute.
func (c *Client) UpdateLinkOrder(ctx context.Context, itineraryID string, autoSort bool, positions []models.LinkPosition) error {
	for _, p := range positions {
		q := url.Values{"id": {"eq." + p.LinkID}, "itinerary_id": {"eq." + itineraryID}}
		if err := c.do(ctx, http.MethodPatch, "itinerary_attractions", q,
			map[string]int{"sort_order": p.SortOrder}, "", nil); err != nil {
			return err
		}
	}
	q := url.Values{"id": {"eq." + itineraryID}}
	return c.do(ctx, http.MethodPatch, "itineraries", q, map[string]bool{"auto_sort": autoSort}, "", nil)
}

// FetchAttractions reads the full attraction catalog.
func (c *Client) FetchAttractions(ctx context.Context) ([]models.Attraction, error) {
	q := url.Values{"select": {"*"}, "order": {"name.asc"}}
	var rows []attractionRow
	if err := c.do(ctx, http.MethodGet, "attractions", q, nil, "", &rows); err != nil {
		return nil, err
	}

	out := make([]models.Attraction, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Attraction{
			ID:          r.ID,
			Name:        r.Name,
			Category:    r.Category,
			Location:    r.Location,
			Description: r.Description,
			Rating:      r.Rating,
			Price:       r.Price,
			UpdatedAt:   rfc3339ToMillis(r.UpdatedAt),
		})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, in interface{}, prefer string, out interface{}) error {
	path := "/rest/v1/" + table
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", table, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", table, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tourly-core/1.0")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	bearer := c.apiKey
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("get access token: %w", err)
		}
		if token != "" {
			bearer = token
		}
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", table, err)
		}
	}
	return nil
}
