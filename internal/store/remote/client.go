// Package remote stores the chat history as encrypted, sharded blobs in a
// GitHub repository through the contents API.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIBase is the public GitHub REST endpoint.
const DefaultAPIBase = "https://api.github.com"

const userAgent = "relaychat"

// ErrConflict is returned when a write names a revision that is no longer
// current.
var ErrConflict = errors.New("remote: revision conflict")

// Revision identifies one version of a remote object (the git blob SHA).
// The zero value means the object does not exist yet.
type Revision string

// Object is a fetched remote file.
type Object struct {
	Path     string
	Revision Revision
	Content  []byte
}

// APIError is a non-success response other than 404 or a revision conflict.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// ConflictError carries the revision a rejected write expected.
type ConflictError struct {
	Path     string
	Expected Revision
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote: revision conflict on %s (expected %q)", e.Path, e.Expected)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ClientConfig holds the repository coordinates and credentials.
type ClientConfig struct {
	APIBase string
	Token   string
	Repo    string // owner/name
	Branch  string
}

// Client talks to the contents API of one repository branch.
type Client struct {
	cfg        ClientConfig
	HTTPClient *http.Client
}

// NewClient creates a client. An empty APIBase selects DefaultAPIBase and an
// empty Branch selects "main".
func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	return &Client{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type contentsResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (c *Client) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/contents/%s", c.cfg.APIBase, c.cfg.Repo, escapePath(path))
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) refURL(path string) string {
	q := url.Values{"ref": {c.cfg.Branch}}
	return c.contentsURL(path) + "?" + q.Encode()
}

// Get fetches path. A missing object returns (nil, nil).
func (c *Client) Get(ctx context.Context, path string) (*Object, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.refURL(path), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp, http.MethodGet, path)
	}

	var body contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("remote: decode %s: %w", path, err)
	}

	// Files over 1 MB come back with encoding "none" and no content.
	if body.Encoding != "base64" {
		content, err := c.getRaw(ctx, path)
		if err != nil {
			return nil, err
		}
		return &Object{Path: path, Revision: Revision(body.SHA), Content: content}, nil
	}

	// The API wraps base64 content at 60 columns.
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, body.Content)
	content, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("remote: decode %s content: %w", path, err)
	}

	return &Object{Path: path, Revision: Revision(body.SHA), Content: content}, nil
}

// getRaw fetches the bytes of path through the raw media type.
func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.refURL(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.raw")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp, http.MethodGet, path)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read raw %s: %w", path, err)
	}
	return content, nil
}

// CompareAndSwap writes content to path only if the object is still at
// expected. An empty expected creates the object. The new revision is
// returned on success; a stale expected revision yields a *ConflictError.
func (c *Client) CompareAndSwap(ctx context.Context, path string, expected Revision, content []byte) (Revision, error) {
	payload, err := json.Marshal(putRequest{
		Message: "encrypted chat save",
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.cfg.Branch,
		SHA:     string(expected),
	})
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPut, c.contentsURL(path), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return "", &ConflictError{Path: path, Expected: expected}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// Creating over an existing file without a sha is reported as 422.
		apiErr := apiError(resp, http.MethodPut, path)
		if strings.Contains(strings.ToLower(apiErr.Body), "sha") {
			return "", &ConflictError{Path: path, Expected: expected}
		}
		return "", apiErr
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", apiError(resp, http.MethodPut, path)
	}

	var body putResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("remote: decode put %s: %w", path, err)
	}
	return Revision(body.Content.SHA), nil
}

// Put writes content to path at whatever revision is current: it re-reads
// the object for its revision and then swaps. A writer that lands between
// the two calls makes Put fail with a conflict rather than be overwritten.
func (c *Client) Put(ctx context.Context, path string, content []byte) (Revision, error) {
	existing, err := c.Get(ctx, path)
	if err != nil {
		return "", err
	}
	var rev Revision
	if existing != nil {
		rev = existing.Revision
	}
	return c.CompareAndSwap(ctx, path, rev, content)
}

func apiError(resp *http.Response, method, path string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
