// Package cdn talks to the content-delivery origin.
//
// All content on the origin is addressed by an opaque hex identifier sharded
// into a two-level directory path: the first two and next two hex characters
// form intermediate directories, limiting per-directory file counts.
package cdn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
)

// Sentinel errors for transport failures.
var (
	// ErrFetch is returned when a network, transport, or HTTP-status
	// failure prevents retrieving content.
	ErrFetch = errors.New("casc: fetch failed")

	// ErrNotFound is returned when the origin has no content for a key.
	ErrNotFound = errors.New("casc: not found")
)

// ProgressFunc receives byte-level progress during a full download.
// total is zero when the origin did not report a content length.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(done, total int64)

// Client fetches indices, archive ranges, and loose blobs from a CDN origin.
//
// Client is stateless beyond its configuration; methods are safe for
// concurrent use, each fetch using its own connection from the pool.
type Client struct {
	baseURL   string
	client    *nethttp.Client
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a Client for the given origin base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("casc: cdn base url is empty")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// url builds the sharded origin URL {base}/{kind}/{id[0:2]}/{id[2:4]}/{id}{suffix}.
func (c *Client) url(kind, id, suffix string) (string, error) {
	if len(id) < 4 {
		return "", fmt.Errorf("casc: id %q is too short to shard", id)
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s%s", c.baseURL, kind, id[0:2], id[2:4], id, suffix), nil
}

// DownloadIndex fetches the index file for the named archive in full.
//
// Index files are small; the body is buffered in memory. Any failure,
// including a missing index, is reported as [ErrFetch]: during
// initialization a missing index is as fatal as an unreachable origin.
func (c *Client) DownloadIndex(ctx context.Context, id string) ([]byte, error) {
	u, err := c.url("data", id, ".index")
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, u)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrFetch, u, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != nethttp.StatusOK {
		return nil, fmt.Errorf("%w: get %s: %s", ErrFetch, u, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrFetch, u, err)
	}
	return data, nil
}

// OpenRange fetches [offset, offset+size-1] of the named archive and returns
// a stream of exactly size bytes. The caller must close the stream to release
// the underlying connection.
func (c *Client) OpenRange(ctx context.Context, id string, offset, size uint32) (io.ReadCloser, error) {
	if size == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	u, err := c.url("data", id, "")
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, u)
	if err != nil {
		return nil, err
	}
	end := int64(offset) + int64(size) - 1
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, end))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrFetch, u, err)
	}
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		// ok
	case nethttp.StatusOK:
		drainAndClose(resp.Body)
		return nil, fmt.Errorf("%w: %s does not support range requests", ErrFetch, u)
	default:
		status := resp.Status
		drainAndClose(resp.Body)
		return nil, fmt.Errorf("%w: range %d-%d of %s: %s", ErrFetch, offset, end, u, status)
	}

	return &rangeReadCloser{
		body:   resp.Body,
		reader: io.LimitReader(resp.Body, int64(size)),
	}, nil
}

// FetchData downloads the blob addressed directly by the given hex key,
// buffering the whole payload before returning.
func (c *Client) FetchData(ctx context.Context, hexKey string, progress ProgressFunc) ([]byte, error) {
	u, err := c.url("data", hexKey, "")
	if err != nil {
		return nil, err
	}
	return c.fetchAll(ctx, u, progress)
}

// FetchConfig downloads the config blob addressed by the given hex key.
func (c *Client) FetchConfig(ctx context.Context, hexKey string, progress ProgressFunc) ([]byte, error) {
	u, err := c.url("config", hexKey, "")
	if err != nil {
		return nil, err
	}
	return c.fetchAll(ctx, u, progress)
}

// fetchAll performs a full download of u, reporting progress per read and
// honoring ctx between reads. The whole payload is held in memory.
func (c *Client) fetchAll(ctx context.Context, u string, progress ProgressFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, u)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrFetch, u, err)
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case nethttp.StatusOK:
		// ok
	case nethttp.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	default:
		return nil, fmt.Errorf("%w: get %s: %s", ErrFetch, u, resp.Status)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}

	chunk := make([]byte, 32*1024)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrFetch, u, err)
		}
	}
	return buf.Bytes(), nil
}

// newRequest creates a GET request with configured headers.
func (c *Client) newRequest(ctx context.Context, u string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, u, nethttp.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// drainAndClose discards any unread body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body) //nolint:errcheck // best-effort drain for connection reuse
	_ = body.Close()
}

// rangeReadCloser limits a response body to the requested range length and
// drains the remainder on close to enable connection reuse.
type rangeReadCloser struct {
	body   io.ReadCloser
	reader io.Reader
}

func (r *rangeReadCloser) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *rangeReadCloser) Close() error {
	_, _ = io.Copy(io.Discard, r.body) //nolint:errcheck // best-effort drain for connection reuse
	return r.body.Close()
}
