// SPDX-License-Identifier: MIT
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCounter int

func (c staticCounter) Count() int { return int(c) }

func TestHealth_Basic(t *testing.T) {
	m := NewManager("1.2.3", staticCounter(4))

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, 4, resp.ActiveStreams)
	assert.Nil(t, resp.Checks)
}

func TestHealth_VerboseAggregatesCheckers(t *testing.T) {
	m := NewManager("test", staticCounter(0))
	m.RegisterChecker(CheckerFunc{
		CheckName: "detection_service",
		Probe:     func(context.Context) error { return nil },
	})
	m.RegisterChecker(CheckerFunc{
		CheckName: "datastore",
		Probe:     func(context.Context) error { return errors.New("connection refused") },
	})

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusHealthy, resp.Checks["detection_service"].Status)
	assert.Equal(t, StatusUnhealthy, resp.Checks["datastore"].Status)
	assert.Contains(t, resp.Checks["datastore"].Error, "connection refused")
}

func TestHealth_NonVerboseSkipsCheckers(t *testing.T) {
	m := NewManager("test", staticCounter(0))
	m.RegisterChecker(CheckerFunc{
		CheckName: "datastore",
		Probe:     func(context.Context) error { return errors.New("down") },
	})

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)
}

func TestServeHealth(t *testing.T) {
	m := NewManager("test", staticCounter(2))
	m.RegisterChecker(CheckerFunc{
		CheckName: "datastore",
		Probe:     func(context.Context) error { return errors.New("down") },
	})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, 2, resp.ActiveStreams)

	// Liveness stays 200 even when a component is down; verbose output
	// carries the component state.
	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
}
