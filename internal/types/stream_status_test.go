// SPDX-License-Identifier: MIT
package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamStatus_IsValid(t *testing.T) {
	for _, s := range []StreamStatus{StreamStarting, StreamRunning, StreamError, StreamStopped} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, StreamStatus("bogus").IsValid())
	assert.False(t, StreamStatus("").IsValid())
}

func TestStreamStatus_IsActive(t *testing.T) {
	assert.True(t, StreamStarting.IsActive())
	assert.True(t, StreamRunning.IsActive())
	assert.False(t, StreamError.IsActive())
	assert.False(t, StreamStopped.IsActive())
}

func TestStreamStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to StreamStatus
		ok       bool
	}{
		{StreamStarting, StreamRunning, true},
		{StreamStarting, StreamError, true},
		{StreamStarting, StreamStopped, true},
		{StreamRunning, StreamError, true},
		{StreamRunning, StreamStopped, true},
		{StreamRunning, StreamStarting, false},
		{StreamError, StreamRunning, false},
		{StreamError, StreamStopped, false},
		{StreamStopped, StreamStarting, false},
		{StreamStopped, StreamRunning, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStreamStatus_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(StreamRunning)
	require.NoError(t, err)
	assert.Equal(t, `"running"`, string(data))

	var s StreamStatus
	require.NoError(t, json.Unmarshal([]byte(`"error"`), &s))
	assert.Equal(t, StreamError, s)

	err = json.Unmarshal([]byte(`"paused"`), &s)
	assert.Error(t, err)
}

func TestParseStreamStatus(t *testing.T) {
	s, err := ParseStreamStatus("stopped")
	require.NoError(t, err)
	assert.Equal(t, StreamStopped, s)

	_, err = ParseStreamStatus("unknown")
	assert.Error(t, err)
}
