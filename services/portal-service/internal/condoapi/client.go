package condoapi

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

	"github.com/cenkalti/backoff/v5"
	"github.com/smartcondo/condo-portal/libs/auth"
	"github.com/smartcondo/condo-portal/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"

	maxResponseBytes = 4 << 20
)

// Client talks to the condo backend REST API. It keeps no credentials of its own:
// every call carries the caller's session explicitly.
type Client struct {
	base           *url.URL
	http           *http.Client
	maxTries       uint
	initialBackoff time.Duration
}

type Options struct {
	BaseURL        string
	Timeout        time.Duration
	MaxTries       uint
	InitialBackoff time.Duration
	// Transport defaults to http.DefaultTransport. It is always wrapped by otelhttp.
	Transport http.RoundTripper
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("condoapi: invalid base url %q", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		maxTries:       opts.MaxTries,
		initialBackoff: opts.InitialBackoff,
	}, nil
}

func (c *Client) resolve(path string, q url.Values) string {
	ref := &url.URL{Path: strings.TrimPrefix(path, "/")}
	if len(q) > 0 {
		ref.RawQuery = q.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

// get retries transport failures, 429 and 5xx with exponential backoff.
func (c *Client) get(ctx context.Context, sess auth.Session, path string, q url.Values, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.do(ctx, sess, http.MethodGet, path, q, nil, "", out)
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
	return err
}

// post is never retried; the idempotency key lets the backend drop replays.
func (c *Client) post(ctx context.Context, sess auth.Session, path string, body any, idempotencyKey string, out any) error {
	return c.do(ctx, sess, http.MethodPost, path, nil, body, idempotencyKey, out)
}

func (c *Client) patch(ctx context.Context, sess auth.Session, path string, body any, out any) error {
	return c.do(ctx, sess, http.MethodPatch, path, nil, body, "", out)
}

// delete expects an empty or ignorable body, usually a 204.
func (c *Client) delete(ctx context.Context, sess auth.Session, path string) error {
	return c.do(ctx, sess, http.MethodDelete, path, nil, nil, "", nil)
}

func (c *Client) do(ctx context.Context, sess auth.Session, method, path string, q url.Values, body any, idempotencyKey string, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("condoapi: encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, q), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess.Valid() {
		req.Header.Set("Authorization", sess.Header())
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}
	if id := httpx.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(httpx.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("condoapi: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Detail: detailFrom(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := decodeEnvelope(data, out); err != nil {
		return fmt.Errorf("condoapi: decode %s %s: %w", method, path, err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
