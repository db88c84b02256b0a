// Package apiclient is the single request client every page and widget
// uses to reach the marketplace API.
//
// Calls that act for a signed-in user take a TokenSource. The client
// attaches its access token as a bearer token; on 401 it tries one refresh
// and one retry, and when that is not possible it clears the session
// tokens and returns ErrUnauthorized.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardauction/internal/metrics"
)

// Tokens is the token set issued at login.
type Tokens struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenSource is the session-side holder of a user's tokens.
type TokenSource interface {
	Tokens(ctx context.Context) (Tokens, error)
	SaveTokens(ctx context.Context, t Tokens) error
	ClearTokens(ctx context.Context) error
}

// Client talks to the marketplace API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func New(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request is kept as plain bytes so it can be replayed after a refresh.
type request struct {
	group       string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

func jsonRequest(group, method, path string, payload any) (request, error) {
	r := request{group: group, method: method, path: path}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return r, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		r.body = b
		r.contentType = "application/json"
	}
	return r, nil
}

// FilePart is an uploaded file forwarded as a multipart field.
type FilePart struct {
	Field    string
	Filename string
	Data     []byte
}

func formRequest(group, method, path string, fields map[string]string, files ...FilePart) (request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return request{}, err
		}
	}
	for _, f := range files {
		if len(f.Data) == 0 {
			continue
		}
		part, err := w.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return request{}, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return request{}, err
		}
	}
	if err := w.Close(); err != nil {
		return request{}, err
	}
	return request{
		group:       group,
		method:      method,
		path:        path,
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, nil
}

// do sends r, refreshing once on 401 when ts is set, and decodes a 2xx
// body into out when out is non-nil.
func (c *Client) do(ctx context.Context, ts TokenSource, r request, out any) error {
	var tokens Tokens
	if ts != nil {
		t, err := ts.Tokens(ctx)
		if err != nil {
			return fmt.Errorf("load session tokens: %w", err)
		}
		tokens = t
	}

	status, body, err := c.send(ctx, r, tokens.AccessToken)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && ts != nil {
		status, body, err = c.retryAfterRefresh(ctx, ts, r, tokens)
		if err != nil {
			return err
		}
	}

	if status == http.StatusUnauthorized {
		if ts != nil {
			if err := ts.ClearTokens(ctx); err != nil {
				c.log.Warn("clear session tokens", "err", err)
			}
		}
		return &APIError{Status: status, Detail: decodeDetail(status, body)}
	}

	if status < 200 || status > 299 {
		return &APIError{Status: status, Detail: decodeDetail(status, body)}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

func (c *Client) retryAfterRefresh(ctx context.Context, ts TokenSource, r request, tokens Tokens) (int, []byte, error) {
	if tokens.RefreshToken == "" {
		return http.StatusUnauthorized, nil, nil
	}

	fresh, err := c.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		c.log.Info("token refresh failed", "group", r.group, "err", err)
		return http.StatusUnauthorized, nil, nil
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tokens.RefreshToken
	}
	if err := ts.SaveTokens(ctx, fresh); err != nil {
		return 0, nil, fmt.Errorf("save refreshed tokens: %w", err)
	}
	return c.send(ctx, r, fresh.AccessToken)
}

func (c *Client) send(ctx context.Context, r request, accessToken string) (int, []byte, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s %s: %w", r.method, r.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveUpstream(r.group, 0, time.Since(start))
		return 0, nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream(r.group, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s %s: %w", r.method, r.path, err)
	}
	return resp.StatusCode, data, nil
}
