// Package irm is the client for the remote incident-management API. It owns
// transport concerns end to end: request shaping, cursor pagination, and
// retrying rate limits and transient network failures. Errors that survive the
// retry budget are fatal to the caller's report run.
package irm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"reportline/internal/domain"
	"reportline/internal/normalize"
)

const (
	apiBasePath    = "/api/plugins/grafana-irm-app/resources/api/v1"
	defaultTimeout = 30 * time.Second
	pageLimit      = 100
)

// Client calls the IRM plugin RPC endpoints.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	Log        *slog.Logger
	// Sleep is the backoff wait; overridable in tests.
	Sleep func(time.Duration)

	apiCalls atomic.Int64
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Log:        slog.Default(),
		Sleep:      time.Sleep,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// APICallCount returns the number of HTTP requests issued so far.
func (c *Client) APICallCount() int64 { return c.apiCalls.Load() }

// QueryIncidentPreviews fetches every incident preview page for the query.
// includeMembership asks the provider to attach assignment summaries.
func (c *Client) QueryIncidentPreviews(ctx context.Context, query domain.Raw, includeMembership bool) ([]domain.Raw, error) {
	payload := domain.Raw{
		"query":                    defaultQuery(query),
		"includeMembershipPreview": includeMembership,
	}
	return c.collectPages(ctx, "IncidentsService.QueryIncidentPreviews", payload, "incidentPreviews", "previews")
}

// QueryIncidents fetches every incident page for the query.
func (c *Client) QueryIncidents(ctx context.Context, query domain.Raw) ([]domain.Raw, error) {
	payload := domain.Raw{"query": defaultQuery(query)}
	return c.collectPages(ctx, "IncidentsService.QueryIncidents", payload, "incidents")
}

// GetIncident fetches full incident details by id.
func (c *Client) GetIncident(ctx context.Context, id string) (domain.Raw, error) {
	var resp domain.Raw
	if err := c.post(ctx, "IncidentsService.GetIncident", domain.Raw{"incidentID": id}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// QueryActivityPages fetches the full activity history for an incident,
// newest first, following the pagination cursor to the end.
func (c *Client) QueryActivityPages(ctx context.Context, incidentID string) ([]domain.Raw, error) {
	var all []domain.Raw
	cursor := ""
	pages := 0
	for {
		query := domain.Raw{
			"incidentID":     incidentID,
			"limit":          pageLimit,
			"orderDirection": "DESC",
		}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var resp domain.Raw
		if err := c.post(ctx, "ActivityService.QueryActivity", domain.Raw{"query": query}, &resp); err != nil {
			return nil, err
		}
		items := firstList(resp, "activityItems", "items", "activities")
		all = append(all, items...)
		pages++

		hasMore, next := nextCursor(resp)
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	if pages > 1 {
		c.Log.Debug("fetched activity pages", "incident", incidentID, "items", len(all), "pages", pages)
	}
	return all, nil
}

func (c *Client) collectPages(ctx context.Context, path string, payload domain.Raw, listKeys ...string) ([]domain.Raw, error) {
	var all []domain.Raw
	pages := 0
	for {
		var resp domain.Raw
		if err := c.post(ctx, path, payload, &resp); err != nil {
			return nil, err
		}
		all = append(all, firstList(resp, listKeys...)...)
		pages++

		hasMore, next := nextCursor(resp)
		if !hasMore || next == "" {
			break
		}
		payload["cursor"] = domain.Raw{"nextValue": next}
	}
	if pages > 1 {
		c.Log.Debug("fetched pages", "endpoint", path, "items", len(all), "pages", pages)
	}
	return all, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.retries(); attempt++ {
		err := c.doPost(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		delay, retryable := c.retryDelay(err, attempt)
		if !retryable || attempt == c.retries()-1 {
			return err
		}
		c.Log.Warn("request failed, retrying", "endpoint", path, "attempt", attempt+1, "delay", delay, "err", err)
		c.sleep(delay)
	}
	return lastErr
}

// retryDelay decides whether an error is retryable and after how long.
// Rate limits honor Retry-After; other HTTP errors are final; transport
// errors back off exponentially.
func (c *Client) retryDelay(err error, attempt int) (time.Duration, bool) {
	backoff := c.BaseDelay * (1 << attempt)
	if apiErr, ok := err.(*APIError); ok {
		if apiErr.StatusCode != http.StatusTooManyRequests {
			return 0, false
		}
		if secs, convErr := strconv.Atoi(apiErr.RetryAfter); convErr == nil && secs > 0 {
			return time.Duration(secs) * time.Second, true
		}
		return backoff, true
	}
	return backoff, true
}

func (c *Client) doPost(ctx context.Context, path string, payload, out any) error {
	c.apiCalls.Add(1)
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return err
	}
	url := c.BaseURL + apiBasePath + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	return c.HTTPClient
}

func (c *Client) retries() int {
	if c.MaxRetries <= 0 {
		return 1
	}
	return c.MaxRetries
}

func (c *Client) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}

func defaultQuery(query domain.Raw) domain.Raw {
	merged := domain.Raw{
		"limit":          pageLimit,
		"orderDirection": "DESC",
		"orderBy":        "createdAt",
	}
	for k, v := range query {
		merged[k] = v
	}
	return merged
}

func firstList(resp domain.Raw, keys ...string) []domain.Raw {
	for _, key := range keys {
		if items := normalize.List(resp, key); len(items) > 0 {
			return items
		}
	}
	return nil
}

func nextCursor(resp domain.Raw) (bool, string) {
	cursor := normalize.Map(resp, "cursor")
	if cursor == nil {
		return false, ""
	}
	hasMore, _ := cursor["hasMore"].(bool)
	next, _ := cursor["nextValue"].(string)
	return hasMore, next
}
