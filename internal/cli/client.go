package cli

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
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx answer from the server. Anything else returned
// by the client is a transport failure.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func playerPath(player string, parts ...string) string {
	p := "/v1/players/" + url.PathEscape(player)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Client) Catalog(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/catalog", nil, &out, "")
	return out, err
}

func (c *Client) OpenSession(ctx context.Context, player string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, playerPath(player, "session"), nil, &out, "")
	return out, err
}

func (c *Client) CloseSession(ctx context.Context, player string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodDelete, playerPath(player, "session"), nil, &out, "")
	return out, err
}

func (c *Client) State(ctx context.Context, player string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, playerPath(player, "state"), nil, &out, "")
	return out, err
}

func (c *Client) Click(ctx context.Context, player string, times int, idem string) (map[string]any, error) {
	var out map[string]any
	path := playerPath(player, "click") + "?times=" + strconv.Itoa(times)
	err := c.jsonRequest(ctx, http.MethodPost, path, nil, &out, idem)
	return out, err
}

func (c *Client) Buy(ctx context.Context, player, upgrade, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, playerPath(player, "upgrades", url.PathEscape(upgrade), "buy"), nil, &out, idem)
	return out, err
}

func (c *Client) Quote(ctx context.Context, player, upgrade string, n int) (map[string]any, error) {
	var out map[string]any
	path := playerPath(player, "upgrades", url.PathEscape(upgrade), "quote") + "?n=" + strconv.Itoa(n)
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) Save(ctx context.Context, player string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, playerPath(player, "save"), nil, &out, "")
	return out, err
}

func (c *Client) Do(ctx context.Context, method, path string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, body, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
