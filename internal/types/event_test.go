// SPDX-License-Identifier: MIT
package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityHigh, SeverityFor(0.91))
	assert.Equal(t, SeverityMedium, SeverityFor(0.9))
	assert.Equal(t, SeverityMedium, SeverityFor(0.71))
	assert.Equal(t, SeverityLow, SeverityFor(0.7))
	assert.Equal(t, SeverityLow, SeverityFor(0))
}

func TestSeverity_JSON(t *testing.T) {
	data, err := json.Marshal(SeverityHigh)
	require.NoError(t, err)
	assert.Equal(t, `"high"`, string(data))

	var s Severity
	require.NoError(t, json.Unmarshal([]byte(`"medium"`), &s))
	assert.Equal(t, SeverityMedium, s)

	assert.Error(t, json.Unmarshal([]byte(`"critical"`), &s))
}

func TestEvent_ImageRefOmittedWhenEmpty(t *testing.T) {
	ev := Event{
		ID:       "ev-1",
		DeviceID: "cam-1",
		Type:     EventTypeDetection,
		Severity: SeverityLow,
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "imageRef")

	ev.ImageRef = "s3://snapshots/cam-1/x.jpg"
	data, err = json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), "imageRef")
}
