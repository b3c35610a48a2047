package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/syncboard/internal/ledger"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/syncclient"
)

// DefaultTimeout bounds client requests without a context deadline.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response outside the ops endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to a Server.
//
// Client implements syncclient.Fetcher.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ syncclient.Fetcher = (*Client)(nil)

// NewClient creates a client for the server at baseURL. A nil hc uses a
// client with DefaultTimeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// FetchRoom returns the authoritative room. A missing room wraps
// syncclient.ErrRoomNotFound.
func (c *Client) FetchRoom(ctx context.Context, roomID string) (*room.Room, error) {
	var r room.Room
	err := c.do(ctx, http.MethodGet, roomPath(roomID, ""), nil, &r)
	if IsNotFound(err) {
		return nil, fmt.Errorf("room %s: %w", roomID, syncclient.ErrRoomNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Execute invokes a ledger operation remotely. Rejections come back as a
// failed Response, not as an error.
func (c *Client) Execute(ctx context.Context, roomID string, op ledger.Operation, args any) (ledger.Response, error) {
	body := OpsRequest{Operation: op}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return ledger.Response{}, fmt.Errorf("encode operationArgs: %w", err)
		}
		body.Args = raw
	}

	resp, err := c.send(ctx, http.MethodPost, roomPath(roomID, "/ops"), body)
	if err != nil {
		return ledger.Response{}, err
	}
	defer resp.Body.Close()

	var out ledger.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ledger.Response{}, fmt.Errorf("decode ops response (http %d): %w", resp.StatusCode, err)
	}
	return out, nil
}

// CreateRoom creates a room.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (room.Room, error) {
	var r room.Room
	err := c.do(ctx, http.MethodPost, "/rooms", req, &r)
	return r, err
}

// GetRoom returns the room.
func (c *Client) GetRoom(ctx context.Context, roomID string) (room.Room, error) {
	var r room.Room
	err := c.do(ctx, http.MethodGet, roomPath(roomID, ""), nil, &r)
	return r, err
}

// Join seats participantID. A nil seat picks the first free one.
func (c *Client) Join(ctx context.Context, roomID, participantID string, seat *int) (room.Room, error) {
	var r room.Room
	err := c.do(ctx, http.MethodPost, roomPath(roomID, "/join"), JoinRequest{ParticipantID: participantID, Seat: seat}, &r)
	return r, err
}

// SetStatus changes the room status.
func (c *Client) SetStatus(ctx context.Context, roomID string, status room.Status) (room.Room, error) {
	var r room.Room
	err := c.do(ctx, http.MethodPut, roomPath(roomID, "/status"), StatusRequest{Status: status}, &r)
	return r, err
}

// UpdateTemplate replaces the room's template.
func (c *Client) UpdateTemplate(ctx context.Context, roomID string, req TemplateRequest) (room.Room, error) {
	var r room.Room
	err := c.do(ctx, http.MethodPut, roomPath(roomID, "/template"), req, &r)
	return r, err
}

// DeleteRoom deletes the room.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodDelete, roomPath(roomID, ""), nil, nil)
}

// FindByCode resolves a join code.
func (c *Client) FindByCode(ctx context.Context, code string) (room.Room, error) {
	var r room.Room
	err := c.do(ctx, http.MethodGet, "/codes/"+url.PathEscape(code), nil, &r)
	return r, err
}

// History returns the room's history in sequence order.
func (c *Client) History(ctx context.Context, roomID string) ([]room.HistoryEntry, error) {
	var entries []room.HistoryEntry
	err := c.do(ctx, http.MethodGet, roomPath(roomID, "/history"), nil, &entries)
	return entries, err
}

// Settlements returns the room's settlements in sequence order.
func (c *Client) Settlements(ctx context.Context, roomID string) ([]room.Settlement, error) {
	var settlements []room.Settlement
	err := c.do(ctx, http.MethodGet, roomPath(roomID, "/settlements"), nil, &settlements)
	return settlements, err
}

func roomPath(roomID, suffix string) string {
	return "/rooms/" + url.PathEscape(roomID) + suffix
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
	}
	return &APIError{Status: resp.StatusCode, Message: payload.Error}
}
