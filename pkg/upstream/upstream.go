// Package upstream performs timeout-bounded calls to the content API and
// classifies their failures.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "cmsgateway/1.0 (+content proxy)"

	// maxBinaryBytes bounds proxied assets held in memory.
	maxBinaryBytes = 20 << 20
)

// Binary is a fetched asset.
type Binary struct {
	Body        []byte
	ContentType string
}

type Client struct {
	client    *http.Client
	userAgent string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:    &http.Client{},
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchJSON decodes the response body into v and returns the response headers.
// A single attempt is made; no retries.
func (c *Client) FetchJSON(ctx context.Context, url string, timeout time.Duration, v any) (http.Header, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.do(ctx, url, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if ctxErr := classifyTransport(ctx, url, err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Kind: KindParse, URL: url, Err: err}
	}

	return resp.Header, nil
}

// FetchBinary reads the whole asset into memory together with its declared content type.
func (c *Client) FetchBinary(ctx context.Context, url string, timeout time.Duration) (*Binary, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.do(ctx, url, "image/*")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBinaryBytes+1))
	if err != nil {
		if ctxErr := classifyTransport(ctx, url, err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Kind: KindNetwork, URL: url, Err: err}
	}
	if len(body) > maxBinaryBytes {
		return nil, &Error{Kind: KindParse, URL: url, Err: fmt.Errorf("asset exceeds %d bytes", maxBinaryBytes)}
	}

	return &Binary{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// do sends the GET request and returns the response only for 2xx statuses.
func (c *Client) do(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: url, Err: err}
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if terr := classifyTransport(ctx, url, err); terr != nil {
			return nil, terr
		}
		return nil, &Error{Kind: KindNetwork, URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		resp.Body.Close()
		return nil, &Error{Kind: KindHTTP, Status: resp.StatusCode, URL: url}
	}

	return resp, nil
}

// classifyTransport returns a timeout error when err was caused by the deadline.
func classifyTransport(ctx context.Context, url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
