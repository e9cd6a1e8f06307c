package volume

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/keva-io/keva/pkg/types"
)

// ErrWrongStatus marks a volume response with an unexpected status code, as
// opposed to a transport failure. Callers that only care whether an operation
// succeeded can treat both the same.
var ErrWrongStatus = errors.New("wrong status code")

// Client performs typed HTTP operations against volume servers
type Client struct {
	http *http.Client
}

// NewClient creates a volume client. Volume servers sit on the same network
// segment as the master, so connections are pooled aggressively.
func NewClient() *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 100,
			},
		},
	}
}

// WithTimeout sets the per-request timeout
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.http.Timeout = timeout
	return c
}

// RemoteURL builds the full URL for a key path on a volume
func RemoteURL(volume, path string) string {
	return fmt.Sprintf("http://%s%s", volume, path)
}

// Head reports whether the remote path exists (status 200)
func (c *Client) Head(remote string) bool {
	resp, err := c.http.Head(remote)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Get fetches the remote body; any non-200 status is an error
func (c *Client) Get(remote string) ([]byte, error) {
	resp, err := c.http.Get(remote)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", remote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d: %w", remote, resp.StatusCode, ErrWrongStatus)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body from %s: %w", remote, err)
	}
	return body, nil
}

// Put writes body to the remote path; 201 and 204 count as success
func (c *Client) Put(remote string, body []byte) error {
	req, err := http.NewRequest(http.MethodPut, remote, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build put request: %w", err)
	}
	req.ContentLength = int64(len(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", remote, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("put %s: status %d: %w", remote, resp.StatusCode, ErrWrongStatus)
	}
	return nil
}

// Delete removes the remote path; only 204 counts as success
func (c *Client) Delete(remote string) error {
	req, err := http.NewRequest(http.MethodDelete, remote, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", remote, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete %s: status %d: %w", remote, resp.StatusCode, ErrWrongStatus)
	}
	return nil
}

// List fetches and parses a directory listing. Volume servers answer GET on
// any URL ending in / with a JSON array of {name, file_type, time} entries.
func (c *Client) List(dirURL string) ([]types.VolumeFile, error) {
	body, err := c.Get(dirURL)
	if err != nil {
		return nil, err
	}

	var files []types.VolumeFile
	if err := json.Unmarshal(body, &files); err != nil {
		return nil, fmt.Errorf("failed to parse listing from %s: %w", dirURL, err)
	}
	return files, nil
}
