package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to inference engines over HTTP JSON. Every engine exposes
// POST {endpoint}/predict for inference and GET {endpoint}/health as a
// lightweight liveness path. Deadlines come from the caller's context.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type PredictRequest struct {
	PhotoURL     string            `json:"photo_url"`
	Metadata     map[string]string `json:"metadata"`
	ModelVersion string            `json:"model_version"`
}

type PredictResponse struct {
	ModelVersion string         `json:"model_version"`
	Confidence   float64        `json:"confidence"`
	Results      map[string]any `json:"results"`
}

// Predict sends one inference request to an engine endpoint. Transport
// failures, non-2xx statuses, and malformed payloads all surface as errors;
// the caller decides how they feed the breaker and metrics.
func (c *Client) Predict(ctx context.Context, endpoint string, req PredictRequest) (PredictResponse, error) {
	if req.Metadata == nil {
		req.Metadata = map[string]string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return PredictResponse{}, fmt.Errorf("encode predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return PredictResponse{}, fmt.Errorf("build predict request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return PredictResponse{}, fmt.Errorf("engine call to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return PredictResponse{}, fmt.Errorf("engine at %s returned status %d", endpoint, resp.StatusCode)
	}

	var out PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PredictResponse{}, fmt.Errorf("malformed payload from %s: %w", endpoint, err)
	}
	return out, nil
}

// Probe hits the engine's liveness path and returns the observed latency.
func (c *Client) Probe(ctx context.Context, endpoint string) (time.Duration, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return 0, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return time.Since(start), fmt.Errorf("health probe to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return time.Since(start), fmt.Errorf("health probe to %s returned status %d", endpoint, resp.StatusCode)
	}
	return time.Since(start), nil
}
