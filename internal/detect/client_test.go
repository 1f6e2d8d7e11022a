// SPDX-License-Identifier: MIT
package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdliliaai/visiony-guard-sub000/internal/types"
)

func TestDetect(t *testing.T) {
	frame := []byte("fake-jpeg-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/detect", r.URL.Path)

		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		decoded, err := base64.StdEncoding.DecodeString(req.ImageData)
		require.NoError(t, err)
		assert.Equal(t, frame, decoded)

		// Only enabled classes reach the wire.
		assert.Equal(t, map[string]float64{"person": 0.6}, req.Thresholds)

		_ = json.NewEncoder(w).Encode(response{
			Detections: []wireDetection{
				{
					ClassName:  "person",
					Confidence: 0.92,
					BBox:       wireBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4},
				},
			},
			ProcessingTimeMS: 42.5,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	thresholds := types.ThresholdSet{
		"person": {MinConfidence: 0.6, Enabled: true},
		"car":    {MinConfidence: 0.7, Enabled: false},
	}

	detections, err := c.Detect(context.Background(), frame, thresholds)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, "person", detections[0].Class)
	assert.Equal(t, 0.92, detections[0].Confidence)
	assert.Equal(t, 0.3, detections[0].Box.Width)
	assert.False(t, detections[0].Timestamp.IsZero())
}

func TestDetect_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Detect(context.Background(), []byte("x"), types.ThresholdSet{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestDetect_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond)
	_, err := c.Detect(context.Background(), []byte("x"), types.ThresholdSet{})
	assert.Error(t, err)
}

func TestDetect_EmptyDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(response{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	detections, err := c.Detect(context.Background(), []byte("x"), types.ThresholdSet{})
	require.NoError(t, err)
	assert.Empty(t, detections)
}

func TestHealth(t *testing.T) {
	loaded := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:      "ok",
			ModelLoaded: loaded,
			Device:      "cuda",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	assert.NoError(t, c.Health(context.Background()))

	loaded = false
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}
