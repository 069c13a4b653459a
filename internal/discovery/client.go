// Package discovery announces the server to a server-browser service over HTTP.
package discovery

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
)

// ErrNotRegistered means the browser no longer knows our listing id.
var ErrNotRegistered = errors.New("server not registered")

type Listing struct {
	InstanceID string   `json:"instance_id"`
	Name       string   `json:"name"`
	Addr       string   `json:"addr"`
	Protocol   string   `json:"protocol"`
	Players    int      `json:"players"`
	MaxPlayers int      `json:"max_players"`
	Tick       uint64   `json:"tick"`
	Names      []string `json:"names,omitempty"`
}

type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

func NewClient(endpoint, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RegisterServer creates a listing and returns the id the browser assigned.
func (c *Client) RegisterServer(ctx context.Context, l Listing) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/servers", l, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("register: empty id in response")
	}
	return out.ID, nil
}

func (c *Client) UpdateServer(ctx context.Context, id string, l Listing) error {
	return c.do(ctx, http.MethodPut, "/servers/"+url.PathEscape(id), l, nil)
}

func (c *Client) UnregisterServer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/servers/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode == http.StatusNotFound && method != http.MethodPost:
		return ErrNotRegistered
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
