// Package remote implements the HTTP client for the remote calendar service.
// It provides a [Client] with methods aligned to the sync orchestrator's
// needs, a 3-attempt exponential-backoff [Retry] helper, and a classified
// [Error] type so callers can distinguish auth, not-found, validation, and
// transient failures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bikegriffith/chronos-calendar/internal/model"
)

// ListOptions narrows an event fetch.
type ListOptions struct {
	// UpdatedMin requests only events modified at or after this instant.
	// Nil fetches the full window.
	UpdatedMin *time.Time

	// ShowDeleted includes deletion tombstones (status "cancelled") so
	// server-side deletes can be mirrored into the cache.
	ShowDeleted bool
}

// Client talks to the remote calendar API over HTTPS with a bearer token.
// All methods follow nextPageToken pagination transparently and retry
// transient failures. Create one with [NewClient].
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client for the calendar service at baseURL.
func NewClient(baseURL, token string, logger *slog.Logger) (*Client, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("server URL %q must be a valid http or https URL", baseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}, nil
}

// Ping validates connectivity and the token.
func (c *Client) Ping(ctx context.Context) error {
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.do(ctx, http.MethodHead, "/v1/ping", nil, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("ping calendar service: %w", err)
	}
	return nil
}

// calendarsPage is one page of the calendar list response.
type calendarsPage struct {
	Calendars     []model.Calendar `json:"calendars"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

// ListCalendars fetches every calendar the account can see.
func (c *Client) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	var out []model.Calendar
	pageToken := ""
	for {
		q := url.Values{}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page calendarsPage
		err := Retry(ctx, defaultMaxAttempts, func() error {
			page = calendarsPage{}
			return c.do(ctx, http.MethodGet, "/v1/calendars", q, nil, &page)
		})
		if err != nil {
			return nil, fmt.Errorf("list calendars: %w", err)
		}

		out = append(out, page.Calendars...)
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// eventsPage is one page of an event list response.
type eventsPage struct {
	Events        []model.Event `json:"events"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

// ListEvents fetches all events of one calendar whose interval overlaps r,
// narrowed by opts.
func (c *Client) ListEvents(ctx context.Context, calendarID string, r model.Range, opts ListOptions) ([]model.Event, error) {
	var out []model.Event
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("timeMin", r.Start.UTC().Format(time.RFC3339))
		q.Set("timeMax", r.End.UTC().Format(time.RFC3339))
		if opts.UpdatedMin != nil {
			q.Set("updatedMin", opts.UpdatedMin.UTC().Format(time.RFC3339))
		}
		if opts.ShowDeleted {
			q.Set("showDeleted", "true")
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page eventsPage
		err := Retry(ctx, defaultMaxAttempts, func() error {
			page = eventsPage{}
			return c.do(ctx, http.MethodGet, "/v1/calendars/"+url.PathEscape(calendarID)+"/events", q, nil, &page)
		})
		if err != nil {
			return nil, fmt.Errorf("list events for %s: %w", calendarID, err)
		}

		out = append(out, page.Events...)
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// CreateEvent creates a new event and returns the server's authoritative copy
// (with its assigned id and normalised times).
func (c *Client) CreateEvent(ctx context.Context, calendarID string, draft model.EventDraft) (model.Event, error) {
	var ev model.Event
	err := Retry(ctx, defaultMaxAttempts, func() error {
		ev = model.Event{}
		return c.do(ctx, http.MethodPost, "/v1/calendars/"+url.PathEscape(calendarID)+"/events", nil, draft, &ev)
	})
	if err != nil {
		return model.Event{}, fmt.Errorf("create event %q in %s: %w", draft.Title, calendarID, err)
	}
	return ev, nil
}

// UpdateEvent applies a partial update and returns the server's authoritative
// copy.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventPatch) (model.Event, error) {
	path := "/v1/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID)
	var ev model.Event
	err := Retry(ctx, defaultMaxAttempts, func() error {
		ev = model.Event{}
		return c.do(ctx, http.MethodPatch, path, nil, patch, &ev)
	})
	if err != nil {
		return model.Event{}, fmt.Errorf("update event %s/%s: %w", calendarID, eventID, err)
	}
	return ev, nil
}

// DeleteEvent removes an event. A missing event surfaces as a not-found
// [Error]; the flush path treats that as success.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	path := "/v1/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID)
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("delete event %s/%s: %w", calendarID, eventID, err)
	}
	return nil
}

// do performs one authenticated request and decodes the JSON response into
// out (when non-nil). Non-2xx statuses are mapped to classified [Error]s.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return c.classify(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// classify maps a non-2xx response to an [Error], pulling the message from
// the standard {"error": {"message": ...}} body when present.
func (c *Client) classify(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	kind := KindTransient
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = KindAuth
	case resp.StatusCode == http.StatusNotFound:
		kind = KindNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		kind = KindInvalid
	}

	c.logger.Debug("remote API error",
		"status", resp.StatusCode,
		"kind", kind.String(),
		"message", body.Error.Message,
	)
	return &Error{Kind: kind, Status: resp.StatusCode, Message: body.Error.Message}
}
