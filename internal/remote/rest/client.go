// Package rest implements the remote ports over the bookkeeping server's
// HTTP/JSON API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bookkeep/internal/core"
	"bookkeep/internal/remote"
)

var _ remote.Backend = (*Client)(nil)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", baseURL)
	}
	c := &Client{base: u, http: newHTTPClientWithPooling(timeout)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) CreateRecord(ctx context.Context, r core.Record) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	path := fmt.Sprintf("/books/%d/records", r.BookID)
	if err := c.doJSON(ctx, "create record", http.MethodPost, path, nil, toDTO(r), &out); err != nil {
		return 0, err
	}
	if out.ID <= 0 {
		return 0, fmt.Errorf("create record: server returned invalid id %d", out.ID)
	}
	return out.ID, nil
}

func (c *Client) UpdateRecord(ctx context.Context, r core.Record) error {
	path := fmt.Sprintf("/books/%d/records/%d", r.BookID, r.ID)
	return c.doJSON(ctx, "update record", http.MethodPut, path, nil, toDTO(r), nil)
}

func (c *Client) UploadAttachment(ctx context.Context, recordID, bookID int64, up remote.Upload) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, up.FileName))
	ct := up.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	if _, err := io.Copy(part, up.Body); err != nil {
		return "", fmt.Errorf("upload attachment: read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}

	var out statusResponse
	path := fmt.Sprintf("/books/%d/records/%d/attachments", bookID, recordID)
	if err := c.do(ctx, "upload attachment", http.MethodPost, path, nil, &buf, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) DeleteAttachment(ctx context.Context, recordID, bookID int64, name string) (string, error) {
	var out statusResponse
	path := fmt.Sprintf("/books/%d/records/%d/attachments/%s", bookID, recordID, url.PathEscape(name))
	if err := c.do(ctx, "delete attachment", http.MethodDelete, path, nil, nil, "", &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) ListRecordsByFilter(ctx context.Context, f remote.Filter) ([]core.Record, error) {
	q := url.Values{}
	if f.RecordID > 0 {
		q.Set("id", strconv.FormatInt(f.RecordID, 10))
	}
	if !f.From.IsZero() {
		q.Set("from", f.From.String())
	}
	if !f.To.IsZero() {
		q.Set("to", f.To.String())
	}

	var out []recordDTO
	path := fmt.Sprintf("/books/%d/records", f.BookID)
	if err := c.doJSON(ctx, "list records", http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}

	recs := make([]core.Record, 0, len(out))
	for _, dto := range out {
		r, err := dto.record()
		if err != nil {
			return nil, fmt.Errorf("list records: decode record %d: %w", dto.ID, err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func (c *Client) FetchCategoryValues(ctx context.Context, bookID int64, key remote.TaxonomyKey) ([]string, error) {
	q := url.Values{}
	if key.Scope != "" {
		q.Set("scope", string(key.Scope))
	}
	var out struct {
		Values []string `json:"values"`
	}
	path := fmt.Sprintf("/books/%d/taxonomy/%s", bookID, url.PathEscape(string(key.Dimension)))
	if err := c.doJSON(ctx, "fetch taxonomy", http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

// FetchAttachment streams the attachment. The caller closes the reader.
func (c *Client) FetchAttachment(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, http.MethodGet, "/attachments/"+url.PathEscape(name), nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	if err := checkStatus("fetch attachment", resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	ct := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
		ct = "application/json"
	}
	return c.do(ctx, op, method, path, q, body, ct, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body io.Reader, contentType string, out any) error {
	start := time.Now()
	resp, err := c.send(ctx, method, path, q, body, contentType)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	slog.DebugContext(ctx, "API request completed",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	// path segments are escaped by the callers.
	target := c.base.String() + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &remote.StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// newHTTPClientWithPooling keeps connections to the API warm across the
// bursts of calls a save makes.
func newHTTPClientWithPooling(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
