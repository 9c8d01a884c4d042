package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/models"
)

// HTTPEntityClientConfig configures the single-entity transport.
type HTTPEntityClientConfig struct {
	BaseURL   string
	AuthToken string
	DeviceID  string
	Timeout   time.Duration
}

// HTTPEntityClient talks to the server's single-entity endpoints. Status
// codes are folded into the error taxonomy the repository branches on:
// connectivity-class errors queue the write, everything else propagates.
type HTTPEntityClient struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	deviceID   string
}

// NewHTTPEntityClient creates the transport from config.
func NewHTTPEntityClient(config *HTTPEntityClientConfig) *HTTPEntityClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPEntityClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    config.BaseURL,
		authToken:  config.AuthToken,
		deviceID:   config.DeviceID,
	}
}

// Create posts a new entity and returns the server-confirmed copy.
func (c *HTTPEntityClient) Create(ctx context.Context, t models.EntityType, payload json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/entities/%s", t), payload, true)
}

// Update overwrites the addressed entity and returns the confirmed copy.
func (c *HTTPEntityClient) Update(ctx context.Context, t models.EntityType, serverID string, payload json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/entities/%s/%s", t, serverID), payload, true)
}

// Delete tombstones the addressed entity.
func (c *HTTPEntityClient) Delete(ctx context.Context, t models.EntityType, serverID string) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/entities/%s/%s", t, serverID), nil, false)
	return err
}

func (c *HTTPEntityClient) do(ctx context.Context, method, path string, payload json.RawMessage, wantBody bool) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.ErrTimeout, "request timed out", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if !wantBody {
			return nil, nil
		}
		return json.RawMessage(raw), nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s %s: not found", method, path)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, apperrors.Newf(apperrors.ErrValidation, "%s %s: rejected (%d): %s", method, path, resp.StatusCode, raw)
	default:
		// Server-side trouble is transient from the client's seat.
		return nil, apperrors.Newf(apperrors.ErrNetwork, "%s %s: server error (%d)", method, path, resp.StatusCode)
	}
}
