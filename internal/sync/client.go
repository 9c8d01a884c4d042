package sync

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
	"github.com/hearthkeep/hearthkeep/internal/protocol"
)

// BatchClient sends one sync batch and reports whether a parsed response
// came back. Everything short of a parsed body is a connectivity-class
// error; the processor treats those as transient.
type BatchClient interface {
	Sync(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error)
}

// HTTPClientConfig configures the sync transport.
type HTTPClientConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// DefaultHTTPClientConfig returns the default transport settings.
func DefaultHTTPClientConfig(baseURL string) *HTTPClientConfig {
	return &HTTPClientConfig{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// HTTPClient is the production BatchClient over POST /sync.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// NewHTTPClient creates a sync transport from config.
func NewHTTPClient(config *HTTPClientConfig) *HTTPClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    config.BaseURL,
		authToken:  config.AuthToken,
	}
}

// Sync posts the batch. A response body that decodes as a SyncResponse is
// returned regardless of HTTP status; the per-operation arrays carry the
// real outcomes.
func (c *HTTPClient) Sync(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode sync request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build sync request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.ErrTimeout, "sync request timed out", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "sync request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to read sync response", err)
	}

	var parsed protocol.SyncResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork,
			fmt.Sprintf("unparseable sync response (status %d)", resp.StatusCode), err)
	}
	return &parsed, nil
}
