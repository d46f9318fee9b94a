// Package gateway is the HTTP transport between the zerobin client and a zerobin server.
// Requests carry only envelope text and paste options; there is no field able to hold a key.
package gateway

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

	"zerobin/pkg/domain"
)

const (
	DefaultTimeout  = 30 * time.Second
	maxResponseSize = 8 << 20
)

// Client talks to one server origin. It never retries.
type Client struct {
	origin     string
	httpClient *http.Client
	userAgent  string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New validates origin (scheme and host, no fragment) and returns a client for it.
func New(origin string, opts ...Option) (*Client, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin %q: scheme must be http or https", origin)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin %q: missing host", origin)
	}
	if u.Fragment != "" || u.RawQuery != "" {
		return nil, fmt.Errorf("origin %q: must not carry a query or fragment", origin)
	}
	// Share URLs are /{id} at the root of the origin.
	if strings.Trim(u.Path, "/") != "" {
		return nil, fmt.Errorf("origin %q: must not carry a path", origin)
	}
	c := &Client{
		origin:     strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "zerobin-client/1",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Origin() string {
	return c.origin
}

func (c *Client) SubmitPaste(ctx context.Context, req domain.PasteSubmit) (*domain.PasteCreated, error) {
	var out domain.PasteCreated
	if err := c.do(ctx, http.MethodPost, "/", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &ProtocolError{Reason: "response has no paste id"}
	}
	return &out, nil
}

func (c *Client) SubmitComment(ctx context.Context, req domain.CommentSubmit) (*domain.CommentCreated, error) {
	req.Comment = true
	var out domain.CommentCreated
	if err := c.do(ctx, http.MethodPost, "/", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &ProtocolError{Reason: "response has no comment id"}
	}
	return &out, nil
}

// FetchPaste retrieves the stored envelope and metadata. A burn-after-read paste is gone
// on the server once this returns.
func (c *Client) FetchPaste(ctx context.Context, id string) (*domain.Paste, error) {
	var out domain.Paste
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id, token string) error {
	return c.do(ctx, http.MethodGet, "/delete/"+url.PathEscape(id)+"/"+url.PathEscape(token), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.origin+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseErrorResponse(resp)
	}
	if result == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(result); err != nil {
		return &ProtocolError{Reason: "malformed response body", Err: err}
	}
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp domain.ErrResp
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &ServerError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &ServerError{StatusCode: resp.StatusCode}
}
