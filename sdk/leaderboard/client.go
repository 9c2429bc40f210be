// Package leaderboard is a Go client for the leaderboardd HTTP API.
package leaderboard

import (
	"bytes"
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

	"nhooyr.io/websocket"

	board "emojiboard/native/leaderboard"
)

// Client wraps the leaderboardd REST endpoints.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuthToken attaches a bearer token to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a client pointed at the supplied base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmedURL := strings.TrimSpace(baseURL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	parsed, err := url.Parse(trimmedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("baseURL must be http or https")
	}
	client := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// GateStatus mirrors GET /v1/gate.
type GateStatus struct {
	CanUpdate        bool   `json:"canUpdate"`
	CurrentDay       int64  `json:"currentDay"`
	LastUpdateDay    int64  `json:"lastUpdateDay"`
	LastUpdateTime   string `json:"lastUpdateTime,omitempty"`
	UpdateInProgress bool   `json:"updateInProgress"`
	Forced           bool   `json:"forced"`
	PeriodLength     string `json:"periodLength"`
	NextPeriodStart  string `json:"nextPeriodStart"`
}

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank    int    `json:"rank"`
	Address string `json:"address"`
	Score   uint64 `json:"score"`
}

// Leaderboard mirrors GET /v1/leaderboard.
type Leaderboard struct {
	Period  int64   `json:"period"`
	Entries []Entry `json:"entries"`
}

// Event is a leaderboard update notification.
type Event struct {
	Sequence     uint64 `json:"sequence"`
	Updater      string `json:"updater"`
	Period       int64  `json:"period"`
	Timestamp    int64  `json:"timestamp"`
	RewardAmount string `json:"rewardAmount"`
	Entries      uint64 `json:"entries"`
	Digest       string `json:"digest"`
}

// UpdateResult mirrors POST /v1/leaderboard/update.
type UpdateResult struct {
	Period       int64  `json:"period"`
	RewardAmount string `json:"rewardAmount"`
	Balance      string `json:"balance"`
	Entries      int    `json:"entries"`
	Cost         uint64 `json:"cost"`
	Event        Event  `json:"event"`
}

// Balance mirrors GET /v1/rewards/{address}.
type Balance struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Supply mirrors GET /v1/rewards/supply and POST /v1/admin/fund.
type Supply struct {
	Supply   string `json:"supply"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// APIError is a non-2xx response. It unwraps to the matching gate sentinel
// so callers can use errors.Is with the leaderboard errors.
type APIError struct {
	Status    int
	Code      string `json:"code"`
	Message   string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("leaderboardd %d", e.Status)
	}
	return fmt.Sprintf("leaderboardd %d: %s", e.Status, e.Message)
}

// Unwrap maps the error code back to the gate sentinel.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "not_eligible":
		return board.ErrNotEligible
	case "not_authorized":
		return board.ErrNotAuthorized
	case "superseded":
		return board.ErrUpdateSuperseded
	case "resource_exceeded":
		return errors.Join(board.ErrAggregationFailed, board.ErrResourceExceeded)
	case "invalid_data":
		return errors.Join(board.ErrAggregationFailed, board.ErrInvalidData)
	case "aggregation_failed":
		return board.ErrAggregationFailed
	case "insufficient_supply":
		return board.ErrInsufficientSupply
	default:
		return nil
	}
}

// Gate returns the full gate status.
func (c *Client) Gate(ctx context.Context) (*GateStatus, error) {
	var out GateStatus
	if err := c.do(ctx, http.MethodGet, "/v1/gate", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CanUpdate reports whether an update would be accepted now.
func (c *Client) CanUpdate(ctx context.Context) (bool, error) {
	var out struct {
		CanUpdate bool `json:"canUpdate"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/gate/can-update", nil, nil, &out); err != nil {
		return false, err
	}
	return out.CanUpdate, nil
}

// CurrentDay returns the current period index.
func (c *Client) CurrentDay(ctx context.Context) (int64, error) {
	var out struct {
		CurrentDay int64 `json:"currentDay"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/gate/current-day", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.CurrentDay, nil
}

// LastUpdateDay returns the period of the last update or override.
func (c *Client) LastUpdateDay(ctx context.Context) (int64, error) {
	var out struct {
		LastUpdateDay int64 `json:"lastUpdateDay"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/gate/last-update-day", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.LastUpdateDay, nil
}

// Leaderboard returns the ranked board; limit zero returns every entry.
func (c *Client) Leaderboard(ctx context.Context, limit int) (*Leaderboard, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out Leaderboard
	if err := c.do(ctx, http.MethodGet, "/v1/leaderboard", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export downloads the board as parquet into w.
func (c *Client) Export(ctx context.Context, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/leaderboard/export.parquet", nil, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// Balance returns the cumulative reward of address.
func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	var out Balance
	if err := c.do(ctx, http.MethodGet, "/v1/rewards/"+url.PathEscape(strings.TrimSpace(address)), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supply returns the remaining reward pool.
func (c *Client) Supply(ctx context.Context) (*Supply, error) {
	var out Supply
	if err := c.do(ctx, http.MethodGet, "/v1/rewards/supply", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns update events from the last periods periods, newest first.
func (c *Client) Events(ctx context.Context, periods int64, limit int) ([]Event, error) {
	query := url.Values{}
	if periods > 0 {
		query.Set("periods", strconv.FormatInt(periods, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/events", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// UpdateLeaderboard triggers the recomputation as the token's subject.
// ceiling zero selects the server default.
func (c *Client) UpdateLeaderboard(ctx context.Context, ceiling uint64) (*UpdateResult, error) {
	var out UpdateResult
	if err := c.do(ctx, http.MethodPost, "/v1/leaderboard/update", nil, map[string]uint64{"ceiling": ceiling}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForceUpdateDay reopens the gate for the current period.
func (c *Client) ForceUpdateDay(ctx context.Context) (*GateStatus, error) {
	var out GateStatus
	if err := c.do(ctx, http.MethodPost, "/v1/admin/force-update-day", nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForceReset clears a stuck update and reopens the gate.
func (c *Client) ForceReset(ctx context.Context) (*GateStatus, error) {
	var out GateStatus
	if err := c.do(ctx, http.MethodPost, "/v1/admin/force-reset", nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fund adds amount base units to the reward pool.
func (c *Client) Fund(ctx context.Context, amount string) (*Supply, error) {
	var out Supply
	if err := c.do(ctx, http.MethodPost, "/v1/admin/fund", nil, map[string]string{"amount": strings.TrimSpace(amount)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivityRecord is one activity observation submitted for scoring.
type ActivityRecord struct {
	Participant string    `json:"participant"`
	Kind        string    `json:"kind"`
	Quantity    uint64    `json:"quantity"`
	OccurredAt  time.Time `json:"occurredAt,omitempty"`
}

// IngestActivity stores records and returns their assigned IDs.
func (c *Client) IngestActivity(ctx context.Context, records []ActivityRecord) ([]string, error) {
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/activity", nil, map[string][]ActivityRecord{"records": records}, &out); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

// Watch streams update events, replaying those after cursor first. It returns
// when ctx is cancelled, the server closes the stream, or fn fails.
func (c *Client) Watch(ctx context.Context, cursor string, fn func(Event) error) error {
	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimSuffix(wsURL.Path, "/") + "/v1/events/stream"
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		wsURL.RawQuery = url.Values{"cursor": []string{cursor}}.Encode()
	}
	// websocket.Dial refuses clients with a Timeout; ctx bounds the stream.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	opts := &websocket.DialOptions{HTTPClient: &streamClient}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL.String(), opts)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, payload any) (*http.Request, error) {
	target := *c.baseURL
	target.Path = strings.TrimSuffix(target.Path, "/") + endpoint
	target.RawQuery = query.Encode()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, query, payload)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
