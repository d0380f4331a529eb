package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

// Client is the HTTP detection pipeline client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new pipeline client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ErrorResponse represents a pipeline error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Detect posts the stimulus to {baseURL}/detect.
func (c *Client) Detect(ctx context.Context, s Stimulus) ([]Detection, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stimulus: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Run-ID", s.RunID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.Unavailablef("detection pipeline at %s: %v", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, domain.Unavailablef("detection pipeline returned status %d: %s", resp.StatusCode, errorMessage(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection pipeline rejected stimulus [%d]: %s", resp.StatusCode, errorMessage(respBody))
	}

	var result DetectResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	for i, d := range result.Detections {
		if d.Type == "" {
			return nil, fmt.Errorf("detection %d has no type", i)
		}
	}
	return result.Detections, nil
}

// Health checks {baseURL}/health.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Unavailablef("detection pipeline at %s: %v", c.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return domain.Unavailablef("detection pipeline health returned status %d", resp.StatusCode)
	}
	return nil
}

func errorMessage(body []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(body))
}

// IsUnavailable reports whether err means the pipeline could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrUnavailable)
}
