// SPDX-License-Identifier: MIT
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity classifies an event by the maximum confidence among its
// qualifying detections.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid checks whether the severity is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	sev := Severity(str)
	if !sev.IsValid() {
		return fmt.Errorf("invalid severity: %q", str)
	}
	*s = sev
	return nil
}

// SeverityFor derives the severity for the given maximum confidence.
func SeverityFor(maxConfidence float64) Severity {
	switch {
	case maxConfidence > 0.9:
		return SeverityHigh
	case maxConfidence > 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// EventTypeDetection is the only event type emitted by this pipeline.
const EventTypeDetection = "detection"

// Event is an immutable record of qualifying detections for a device at
// a point in time. Created exactly once per qualifying tick.
type Event struct {
	ID         string      `json:"id"`
	DeviceID   string      `json:"deviceId"`
	TenantID   string      `json:"tenantId"`
	Type       string      `json:"type"`
	Detections []Detection `json:"detections"`
	Severity   Severity    `json:"severity"`
	ImageRef   string      `json:"imageRef,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// DeviceStatus is the status upsert sent to the datastore to keep device
// health in sync.
type DeviceStatus struct {
	DeviceID string    `json:"deviceId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}
