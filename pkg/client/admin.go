package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/coordinator"
	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/server"
	"github.com/NicolasHaas/screenshare/pkg/version"
)

// APIError is a non-2xx admin API response.
type APIError struct {
	Status int
	server.APIError
}

func (e *APIError) Error() string {
	if e.Origin != "" {
		return fmt.Sprintf("%s (%d %s, origin %s)", e.APIError.Error, e.Status, e.Code, e.Origin)
	}
	return fmt.Sprintf("%s (%d %s)", e.APIError.Error, e.Status, e.Code)
}

// AdminClient talks to the host's admin API.
type AdminClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewAdminClient creates a client for the admin API at baseURL
// (e.g. "http://127.0.0.1:25581") authenticating with token.
func NewAdminClient(baseURL, token string) (*AdminClient, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: admin url: %w", err)
	}
	return &AdminClient{
		base:  u,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *AdminClient) WithHTTPClient(hc *http.Client) *AdminClient {
	c.http = hc
	return c
}

func (c *AdminClient) newRequest(ctx context.Context, method, path string, q url.Values) (*http.Request, error) {
	u := c.base.JoinPath(path)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", version.UserAgent())
	return req, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, q url.Values, out any) error {
	req, err := c.newRequest(ctx, method, path, q)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &apiErr.APIError); err != nil || apiErr.Code == "" {
		apiErr.APIError = server.APIError{Error: strings.TrimSpace(string(body)), Code: http.StatusText(resp.StatusCode)}
	}
	return apiErr
}

// Info returns the host's configuration and counters.
func (c *AdminClient) Info(ctx context.Context) (server.Info, error) {
	var info server.Info
	err := c.do(ctx, http.MethodGet, "/api/v1/info", nil, &info)
	return info, err
}

// Sessions lists active sessions.
func (c *AdminClient) Sessions(ctx context.Context) ([]model.Session, error) {
	var out []model.Session
	err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &out)
	return out, err
}

func requesterQuery(requester string) url.Values {
	if requester == "" {
		return nil
	}
	return url.Values{"requester": {requester}}
}

// Start relocates user (a name or UUID) to the target endpoint. An empty
// requester is attributed to the token.
func (c *AdminClient) Start(ctx context.Context, user, requester string) (coordinator.Result, error) {
	var res coordinator.Result
	err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(user), requesterQuery(requester), &res)
	return res, err
}

// End returns user to where their session started.
func (c *AdminClient) End(ctx context.Context, user, requester string) (coordinator.Result, error) {
	var res coordinator.Result
	err := c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(user), requesterQuery(requester), &res)
	return res, err
}

// Users lists online users whose name starts with prefix.
func (c *AdminClient) Users(ctx context.Context, prefix string) ([]model.User, error) {
	var out []model.User
	var q url.Values
	if prefix != "" {
		q = url.Values{"prefix": {prefix}}
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/users", q, &out)
	return out, err
}

// HistoryQuery filters History. Zero values mean no filter.
type HistoryQuery struct {
	User   string
	Kind   model.EventKind
	Limit  int
	Offset int
}

// History lists journal events, newest first.
func (c *AdminClient) History(ctx context.Context, hq HistoryQuery) ([]model.Event, error) {
	q := url.Values{}
	if hq.User != "" {
		q.Set("user", hq.User)
	}
	if hq.Kind != "" {
		q.Set("kind", string(hq.Kind))
	}
	if hq.Limit > 0 {
		q.Set("limit", strconv.Itoa(hq.Limit))
	}
	if hq.Offset > 0 {
		q.Set("offset", strconv.Itoa(hq.Offset))
	}
	var out []model.Event
	err := c.do(ctx, http.MethodGet, "/api/v1/history", q, &out)
	return out, err
}

// Events streams coordinator events to fn until ctx is done or the host
// closes the stream. The returned error is nil when ctx ended the stream.
func (c *AdminClient) Events(ctx context.Context, fn func(model.Event)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/events", nil)
	if err != nil {
		return err
	}
	// The shared client's timeout would cut the stream.
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("client: events: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev model.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("client: decode event: %w", err)
		}
		fn(ev)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("client: events: %w", err)
	}
	return nil
}
