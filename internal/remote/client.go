package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/marcus/coursesync/internal/models"
)

// Client is an HTTP client for coursesync-server.
type Client struct {
	BaseURL string
	UserID  string
	HTTP    *http.Client

	// last list response per URL, replayed on 304 Not Modified
	mu    sync.Mutex
	lists map[string]listEntry
}

type listEntry struct {
	etag string
	docs []models.Document
}

var _ DataSource = (*Client)(nil)

// NewClient creates a new remote client.
func NewClient(baseURL, userID string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		UserID:  userID,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// --- Wire types (mirrors internal/docserver, independently defined) ---

type createRequest struct {
	Fields map[string]any `json:"fields"`
}

type createResponse struct {
	ID string `json:"id"`
}

type incrementRequest struct {
	Field string `json:"field"`
	Delta int64  `json:"delta"`
}

type incrementResponse struct {
	Value int64 `json:"value"`
}

type listResponse struct {
	Documents []models.Document `json:"documents"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateDocument adds a document to a collection.
func (c *Client) CreateDocument(ctx context.Context, collectionPath string, fields map[string]any) (string, error) {
	if !IsCollectionPath(collectionPath) {
		return "", fmt.Errorf("%w: %q is not a collection", ErrBadPath, collectionPath)
	}
	var resp createResponse
	if err := c.do(ctx, "POST", docsURL(collectionPath), createRequest{Fields: fields}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// SetDocument writes a document at an explicit path, replacing any prior fields.
func (c *Client) SetDocument(ctx context.Context, path string, fields map[string]any) error {
	if !IsDocumentPath(path) {
		return fmt.Errorf("%w: %q is not a document", ErrBadPath, path)
	}
	return c.do(ctx, "PUT", docsURL(path), createRequest{Fields: fields}, nil)
}

// GetDocument fetches a single document.
func (c *Client) GetDocument(ctx context.Context, path string) (*models.Document, error) {
	if !IsDocumentPath(path) {
		return nil, fmt.Errorf("%w: %q is not a document", ErrBadPath, path)
	}
	var doc models.Document
	if err := c.do(ctx, "GET", docsURL(path), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// IncrementField atomically adds delta to a numeric field on the server.
func (c *Client) IncrementField(ctx context.Context, path, field string, delta int64) (int64, error) {
	if !IsDocumentPath(path) {
		return 0, fmt.Errorf("%w: %q is not a document", ErrBadPath, path)
	}
	var resp incrementResponse
	if err := c.do(ctx, "PATCH", docsURL(path), incrementRequest{Field: field, Delta: delta}, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// ListCollection fetches every document in a collection. Repeat calls send
// the previous ETag and reuse the previous result when the server answers
// 304 Not Modified.
func (c *Client) ListCollection(ctx context.Context, collectionPath, orderBy string) ([]models.Document, error) {
	if !IsCollectionPath(collectionPath) {
		return nil, fmt.Errorf("%w: %q is not a collection", ErrBadPath, collectionPath)
	}
	u := docsURL(collectionPath)
	if orderBy != "" {
		u += "?" + url.Values{"order_by": {orderBy}}.Encode()
	}

	c.mu.Lock()
	prev, cached := c.lists[u]
	c.mu.Unlock()

	req, err := c.newRequest(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	if cached {
		req.Header.Set("If-None-Match", prev.etag)
	}
	resp, respBody, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotModified && cached {
		return slices.Clone(prev.docs), nil
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, respBody)
	}

	var lr listResponse
	if err := json.Unmarshal(respBody, &lr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		c.mu.Lock()
		if c.lists == nil {
			c.lists = make(map[string]listEntry)
		}
		c.lists[u] = listEntry{etag: etag, docs: slices.Clone(lr.Documents)}
		c.mu.Unlock()
	}
	return lr.Documents, nil
}

func docsURL(path string) string {
	return "/v1/docs/" + strings.Trim(path, "/")
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, respBody, err := c.send(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserID != "" {
		req.Header.Set("X-User-ID", c.UserID)
	}
	return req, nil
}

// send performs req and reads the whole body.
func (c *Client) send(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, respBody, nil
}

func decodeError(status int, body []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	se := &StatusError{StatusCode: status, Code: apiErr.Error.Code, Message: apiErr.Error.Message}
	if se.Code == "" {
		se.Message = strings.TrimSpace(string(body))
	}

	switch status {
	case http.StatusUnauthorized:
		return errors.Join(ErrUnauthorized, se)
	case http.StatusForbidden:
		return errors.Join(ErrForbidden, se)
	case http.StatusNotFound:
		return errors.Join(ErrNotFound, se)
	}
	return se
}
