// Package mountapi is the client for a mount server: blob uploads,
// mount lookups and the websocket mount build.
package mountapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tqbf/automount/pkg/pack"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: http.DefaultClient,
	}
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return resp, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf(
			"api %d (%s): %s",
			e.StatusCode, e.Code, e.Message,
		)
	}
	return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func parseAPIError(status int, body []byte) error {
	var parsed struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return &APIError{
			StatusCode: status,
			Message:    parsed.Error,
			Code:       parsed.Code,
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

type PingInfo struct {
	Version string `json:"version"`
	Mounts  int    `json:"mounts"`
}

func (c *Client) Ping(ctx context.Context) (*PingInfo, error) {
	var info PingInfo
	if err := c.getJSON(ctx, "/v1/ping", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PutBlobs streams the named hashes as one gzip tarball, reading each
// from the local file blobs maps it to. It returns the number of blobs
// the server stored.
func (c *Client) PutBlobs(
	ctx context.Context,
	blobs map[string]string,
	hashes []string,
) (int, error) {
	pr, pw := io.Pipe()
	go func() {
		_, err := pack.PackBlobs(pw, blobs, hashes, true)
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(
		ctx, "PUT", c.url("/v1/blobs?compress=1"), pr,
	)
	if err != nil {
		pr.Close()
		return 0, err
	}
	req.Header.Set("Content-Type", "application/gzip")
	resp, err := c.do(req)
	if err != nil {
		pr.CloseWithError(err)
		return 0, err
	}
	defer resp.Body.Close()

	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode blob response: %w", err)
	}
	return out.Count, nil
}

// GetBlob opens the content stored under hash.
func (c *Client) GetBlob(ctx context.Context, hash string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(
		ctx, "GET", c.url("/v1/blobs/"+url.PathEscape(hash)), nil,
	)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type MountInfo struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Deployment string               `json:"deployment,omitempty"`
	Files      []pack.ManifestEntry `json:"files"`
}

// Manifest keys the mount's files by remote path.
func (m *MountInfo) Manifest() pack.Manifest {
	out := make(pack.Manifest, len(m.Files))
	for _, f := range m.Files {
		out[f.Path] = f
	}
	return out
}

func (c *Client) GetMount(ctx context.Context, id string) (*MountInfo, error) {
	var info MountInfo
	if err := c.getJSON(ctx, "/v1/mounts/"+url.PathEscape(id), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PullMount extracts a mount's files into dir, laid out by remote
// path.
func (c *Client) PullMount(ctx context.Context, id, dir string) (int, error) {
	req, err := http.NewRequestWithContext(
		ctx, "GET", c.url("/v1/mounts/"+url.PathEscape(id)+"?archive=1"), nil,
	)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return pack.UnpackTar(resp.Body, dir, true)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url(path), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}
