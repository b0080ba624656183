// Package httpsource implements source.Backend against the dashboard's REST
// services.
package httpsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
)

const maxErrorBody = 512

// Client talks to one upstream base URL with a bearer token obtained from
// the session service.
type Client struct {
	base       *url.URL
	token      string
	http       *http.Client
	maxRetries int
}

// New creates a Client. timeout applies to every request.
func New(baseURL, token string, timeout time.Duration, maxRetries int) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpsource: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("httpsource: base url must be absolute: %q", baseURL)
	}
	return &Client{
		base:       u,
		token:      token,
		http:       &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}, nil
}

// ListPrimary implements source.Backend.
func (c *Client) ListPrimary(ctx context.Context, collection string, params source.Params) ([]record.Raw, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	body, status, err := c.get(ctx, collection, c.endpoint(collection), q)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []record.Raw{}, nil
	}
	return c.decodeList(collection, body)
}

// ListSecondary implements source.Backend.
func (c *Client) ListSecondary(ctx context.Context, collection string, ids []string) ([]record.Raw, error) {
	q := url.Values{}
	if len(ids) > 0 {
		q.Set("ids", strings.Join(ids, ","))
	}
	body, status, err := c.get(ctx, collection, c.endpoint(collection), q)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []record.Raw{}, nil
	}
	return c.decodeList(collection, body)
}

// GetDetail implements source.Backend. A 404 is a miss, not an error.
func (c *Client) GetDetail(ctx context.Context, collection, key string) (record.Raw, error) {
	body, status, err := c.get(ctx, collection, c.endpoint(collection, key), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	r, err := record.DecodeOne(body)
	if err != nil {
		return nil, &source.FetchError{Source: collection, Err: fmt.Errorf("decode detail %s: %w", key, err)}
	}
	return r, nil
}

func (c *Client) endpoint(collection string, key ...string) string {
	u := *c.base
	plain := []string{u.Path, collection}
	escaped := []string{u.EscapedPath(), collection}
	for _, k := range key {
		plain = append(plain, k)
		escaped = append(escaped, url.PathEscape(k))
	}
	u.Path = strings.Join(plain, "/")
	u.RawPath = strings.Join(escaped, "/")
	return u.String()
}

// get performs a GET and returns the body of a 2xx or 404 response. Any
// other status becomes a *source.FetchError.
func (c *Client) get(ctx context.Context, collection, endpoint string, q url.Values) ([]byte, int, error) {
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, &source.FetchError{Source: collection, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := doWithRetry(ctx, c.http, req, c.maxRetries)
	if err != nil {
		return nil, 0, &source.FetchError{Source: collection, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, resp.StatusCode, &source.FetchError{
			Source: collection,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &source.FetchError{Source: collection, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) decodeList(collection string, body []byte) ([]record.Raw, error) {
	records, err := record.Decode(body)
	if err != nil {
		return nil, &source.FetchError{Source: collection, Err: fmt.Errorf("decode: %w", err)}
	}
	return records, nil
}

var _ source.Backend = (*Client)(nil)
