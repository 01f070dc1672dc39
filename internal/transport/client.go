// Package transport uploads page files to the sync server.
//
// The wire format is a plain POST of the raw page file with the
// document's virtual path and original filename carried in headers,
// authenticated by an API key header. Server-side success is a 200 or
// 201; anything else is a failed upload. Connection-level problems are
// errors, distinct from a non-2xx status.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// maxUploadSize caps page file uploads. Page files are tens of
// kilobytes; anything bigger means we are reading the wrong file.
const maxUploadSize = 10 * 1024 * 1024

const userAgent = "remsync/1.0"

// Client posts page files to a fixed upload endpoint.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

// New returns a Client for the given endpoint. The timeout bounds the
// whole request, connect included.
func New(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

// Upload sends the file at filePath, tagged with its virtual path.
// It returns the server's status code and response body; err is non-nil
// only for transport-level failures (unreadable file, connect/read
// errors), never for a rejecting status code.
func (c *Client) Upload(ctx context.Context, filePath, virtualPath string) (int, []byte, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return 0, nil, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if info.Size() == 0 || info.Size() > maxUploadSize {
		return 0, nil, fmt.Errorf("refusing to upload %s: size %d", filePath, info.Size())
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return 0, nil, fmt.Errorf("read %s: %w", filePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Document-Path", virtualPath)
	req.Header.Set("X-Filename", filepath.Base(filePath))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
