package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/params"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds every request made by a Client
const DefaultTimeout = 2 * time.Minute

// JoinRequest admits a new manager node through the leader
type JoinRequest = params.JoinRequest

// StatusError is a failed API request. Is matches the error kinds the
// server maps to the same status, so callers can keep using errors.Is with
// the errdefs sentinels.
type StatusError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *StatusError) Error() string {
	if e.Details != "" {
		return e.Details
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// Is reports whether the status can carry target
func (e *StatusError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == errdefs.ErrNotFound
	case http.StatusConflict:
		return target == errdefs.ErrNameConflict || target == errdefs.ErrAttachConflict
	case http.StatusBadRequest:
		return target == errdefs.ErrInvalidArgument || target == errdefs.ErrHostUnknown
	case http.StatusServiceUnavailable:
		return target == errdefs.ErrNotLeader || target == errdefs.ErrInsufficientHosts
	case http.StatusPreconditionFailed:
		return target == errdefs.ErrNoBackupTarget
	}
	return false
}

// Client talks to the REST API of a manager node
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the node serving its API on addr. addr is
// host:port or a full http(s) URL.
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// do sends body as JSON and decodes a successful response into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshaling request")
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := params.APIErrorResponse{}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{
			StatusCode: resp.StatusCode,
			Message:    apiErr.Error,
			Details:    apiErr.Details,
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding response of %s %s", method, path)
	}
	return nil
}
