// SPDX-License-Identifier: MIT

// Package detect is the HTTP client for the external YOLOv8 detection
// service.
package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
	"github.com/abdliliaai/visiony-guard-sub000/internal/metrics"
	"github.com/abdliliaai/visiony-guard-sub000/internal/types"
)

// Client talks to the detection service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a detection client with a bounded per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  log.WithComponent("detect"),
	}
}

// request is the wire format of POST /detect.
type request struct {
	ImageData  string             `json:"image_data"`
	Classes    []string           `json:"classes,omitempty"`
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

type wireBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type wireDetection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       wireBox `json:"bbox"`
}

type response struct {
	Detections       []wireDetection `json:"detections"`
	ProcessingTimeMS float64         `json:"processing_time_ms"`
}

// Detect submits one JPEG frame with the device's thresholds and returns
// the raw detections. Timeout or any non-200 response is an error; the
// caller treats it as a transient tick failure.
func (c *Client) Detect(ctx context.Context, frame []byte, thresholds types.ThresholdSet) ([]types.Detection, error) {
	reqBody := request{
		ImageData:  base64.StdEncoding.EncodeToString(frame),
		Thresholds: make(map[string]float64, len(thresholds)),
	}
	for class, th := range thresholds {
		if th.Enabled {
			reqBody.Thresholds[class] = th.MinConfidence
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection service call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.DetectDuration.Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("detection service returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	now := time.Now().UTC()
	detections := make([]types.Detection, 0, len(parsed.Detections))
	for _, d := range parsed.Detections {
		detections = append(detections, types.Detection{
			Class:      d.ClassName,
			Confidence: d.Confidence,
			Box: types.BoundingBox{
				X:      d.BBox.X,
				Y:      d.BBox.Y,
				Width:  d.BBox.Width,
				Height: d.BBox.Height,
			},
			Timestamp: now,
		})
	}

	c.logger.Debug().
		Str("event", "detect.response").
		Int("detections", len(detections)).
		Float64("processing_ms", parsed.ProcessingTimeMS).
		Msg("detection service responded")

	return detections, nil
}

// healthResponse is the wire format of GET /health.
type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

// Health probes the detection service. Used by the readiness checker.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("detection service health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detection service unhealthy: %s", resp.Status)
	}

	var parsed healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if !parsed.ModelLoaded {
		return fmt.Errorf("detection model not loaded (status %q)", parsed.Status)
	}
	return nil
}
