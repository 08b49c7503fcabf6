package gatherlinesdk

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
)

// Client is a minimal Gatherline HTTP API client.
type Client struct {
	BaseURL     string
	EventID     string
	LinkToken   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, eventID string) *Client {
	return &Client{
		BaseURL: baseURL,
		EventID: eventID,
		Timeout: 10 * time.Second,
	}
}

// Event represents the API event model (partial).
type Event struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Locked     bool   `json:"locked"`
	GuestCount int    `json:"guest_count"`
	Venue      string `json:"venue,omitempty"`
}

// Readiness is the freeze gate verdict.
type Readiness struct {
	Ready      bool `json:"ready"`
	Unassigned int  `json:"unassigned"`
	Declined   int  `json:"declined"`
}

// Item represents a planned item with its optional assignment.
type Item struct {
	ID         string      `json:"id"`
	TeamID     string      `json:"team_id"`
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	Critical   bool        `json:"critical"`
	Status     string      `json:"status"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

// Assignment is a person's commitment to an item.
type Assignment struct {
	ItemID   string `json:"item_id"`
	PersonID string `json:"person_id"`
	Response string `json:"response"`
}

// Conflict represents a detected planning conflict.
type Conflict struct {
	ID       string `json:"id"`
	EventID  string `json:"event_id"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
	Summary  string `json:"summary,omitempty"`
}

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	EventID    string `json:"event_id"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedAuditEntries wraps audit listings with cursors.
type PaginatedAuditEntries struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// GetEvent fetches the event.
func (c *Client) GetEvent(ctx context.Context) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodGet, c.eventPath(""), nil, &resp)
	return resp, err
}

// Transition moves the event to a new stage. A reason is required when
// unfreezing.
func (c *Client) Transition(ctx context.Context, status, reason string) (Event, error) {
	body := map[string]any{"status": status}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, c.eventPath("transition"), body, &resp)
	return resp, err
}

// Readiness reports whether the event may freeze.
func (c *Client) Readiness(ctx context.Context) (Readiness, error) {
	var resp Readiness
	err := c.do(ctx, http.MethodGet, c.eventPath("readiness"), nil, &resp)
	return resp, err
}

// Items lists items, optionally filtered by status.
func (c *Client) Items(ctx context.Context, status string) ([]Item, error) {
	endpoint := c.eventPath("items")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Item
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AssignItem assigns an item to a person.
func (c *Client) AssignItem(ctx context.Context, itemID, personID string) (Item, error) {
	var resp Item
	endpoint := c.eventPath(fmt.Sprintf("items/%s/assign", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"person_id": personID}, &resp)
	return resp, err
}

// Respond records the caller's answer to their assignment.
func (c *Client) Respond(ctx context.Context, itemID, response string) (Assignment, error) {
	var resp Assignment
	endpoint := c.eventPath(fmt.Sprintf("items/%s/respond", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"response": response}, &resp)
	return resp, err
}

// Conflicts lists conflicts, optionally filtered by status.
func (c *Client) Conflicts(ctx context.Context, status string) ([]Conflict, error) {
	endpoint := c.eventPath("conflicts")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Conflict
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AuditLog returns a page of the audit log.
func (c *Client) AuditLog(ctx context.Context, limit int, cursor string) (PaginatedAuditEntries, error) {
	endpoint := c.eventPath("audit")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedAuditEntries
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.LinkToken != "":
		req.Header.Set("X-Link-Token", c.LinkToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) eventPath(p string) string {
	event := url.PathEscape(c.EventID)
	if p == "" {
		return fmt.Sprintf("v0/events/%s", event)
	}
	return fmt.Sprintf("v0/events/%s/%s", event, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
