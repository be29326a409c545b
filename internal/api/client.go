// Package api is the HTTP client for the external POS backend. The terminal
// is a pure client of this API: mutations are replayed against it by the
// synchronizer, reads are attempted against it by the read path selector.
package api

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

	"tillpoint-offline-sync/internal/model"
)

// StatusError is a non-200 response from the backend. It carries the status
// code so the synchronizer can classify server-class failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Rejection reports whether the backend refused the request outright (4xx).
// 5xx responses are treated like network faults: the backend may recover.
func (e *StatusError) Rejection() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsRejection reports whether err is a server-class 4xx rejection.
func IsRejection(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Rejection()
}

// Client talks to the POS backend REST API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a backend client. timeout bounds every request; a request
// exceeding it is classified as a network-class failure.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken replaces the bearer token, e.g. after a re-login.
func (c *Client) SetToken(token string) { c.token = token }

// Host returns the backend host:port, used by the connectivity probe.
func (c *Client) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host += ":443"
		default:
			host += ":80"
		}
	}
	return host
}

// VerifyToken performs the lightweight auth check preceding a sync pass.
func (c *Client) VerifyToken(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/auth/verify", nil)
	return err
}

// MutationResult is the backend's answer to an accepted mutation: the raw
// body (merged over the local record) and the server-assigned id if present.
type MutationResult struct {
	ID   int64
	Body json.RawMessage
}

// CreateOrder replays a create-order mutation.
func (c *Client) CreateOrder(ctx context.Context, payload json.RawMessage) (*MutationResult, error) {
	return c.mutate(ctx, http.MethodPost, "/orders", payload)
}

// UpdateOrderStatus replays an update-order-status mutation.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, payload json.RawMessage) (*MutationResult, error) {
	return c.mutate(ctx, http.MethodPatch, "/orders/"+url.PathEscape(orderID)+"/status", payload)
}

// CreateReceipt replays a create-receipt mutation.
func (c *Client) CreateReceipt(ctx context.Context, payload json.RawMessage) (*MutationResult, error) {
	return c.mutate(ctx, http.MethodPost, "/receipts", payload)
}

// CreateBillRequest replays a create-bill-request mutation.
func (c *Client) CreateBillRequest(ctx context.Context, payload json.RawMessage) (*MutationResult, error) {
	return c.mutate(ctx, http.MethodPost, "/bill-requests", payload)
}

// DeleteOrder removes an order server-side. Admin-only, online-only; never
// queued.
func (c *Client) DeleteOrder(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil)
	return err
}

// ListOrders fetches the live order list.
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	if err := c.getJSON(ctx, "/orders", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMenuItems fetches the full menu.
func (c *Client) ListMenuItems(ctx context.Context) ([]model.MenuItem, error) {
	var out []model.MenuItem
	if err := c.getJSON(ctx, "/items", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTables fetches the dining table list.
func (c *Client) ListTables(ctx context.Context) ([]model.Table, error) {
	var out []model.Table
	if err := c.getJSON(ctx, "/tables", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStaff fetches the users/waiters list.
func (c *Client) ListStaff(ctx context.Context) ([]model.Staff, error) {
	var out []model.Staff
	if err := c.getJSON(ctx, "/users", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DashboardStats fetches a dashboard payload, e.g. "stats" or "sales/daily".
// The body is kept opaque for caching.
func (c *Client) DashboardStats(ctx context.Context, section string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/dashboard/"+section, nil)
}

func (c *Client) mutate(ctx context.Context, method, path string, payload json.RawMessage) (*MutationResult, error) {
	body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	return &MutationResult{ID: extractServerID(body), Body: body}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(UnwrapData(body), out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// UnwrapData accepts either a bare JSON payload or a {success, data}
// envelope and returns the payload part.
func UnwrapData(body json.RawMessage) json.RawMessage {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 {
		return envelope.Data
	}
	return body
}

func (c *Client) do(ctx context.Context, method, path string, payload json.RawMessage) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// extractServerID pulls the server-assigned id out of a mutation response
// body, tolerating an envelope and string-typed numbers.
func extractServerID(body json.RawMessage) int64 {
	var envelope struct {
		ID   json.RawMessage `json:"id"`
		Data struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0
	}
	raw := envelope.ID
	if len(raw) == 0 {
		raw = envelope.Data.ID
	}
	if len(raw) == 0 {
		return 0
	}
	text := strings.Trim(string(raw), `"`)
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
