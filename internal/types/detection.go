// SPDX-License-Identifier: MIT
package types

import "time"

// Known detection classes produced by the detection service.
const (
	ClassPerson     = "person"
	ClassBicycle    = "bicycle"
	ClassCar        = "car"
	ClassMotorcycle = "motorcycle"
	ClassTruck      = "truck"
	ClassAnimal     = "animal"
)

// DefaultMinConfidence applies when a class has no configured threshold.
const DefaultMinConfidence = 0.5

// BoundingBox holds normalized (0-1) coordinates of a detection.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is a single object detected in one sampled frame.
// Detections are ephemeral; only qualifying ones are persisted as part
// of an Event.
type Detection struct {
	Class      string      `json:"className"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"boundingBox"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Threshold configures event eligibility for one detection class.
type Threshold struct {
	MinConfidence float64 `json:"minConfidence"`
	Enabled       bool    `json:"enabled"`
}

// ThresholdSet maps class names to their thresholds. It is owned by the
// device registry and fetched read-only per detection tick.
type ThresholdSet map[string]Threshold

// Min returns the effective minimum confidence for class, falling back
// to DefaultMinConfidence when the class has no entry.
func (t ThresholdSet) Min(class string) float64 {
	if th, ok := t[class]; ok {
		return th.MinConfidence
	}
	return DefaultMinConfidence
}

// Allows reports whether class is enabled in the set. Classes without an
// entry are enabled by default.
func (t ThresholdSet) Allows(class string) bool {
	if th, ok := t[class]; ok {
		return th.Enabled
	}
	return true
}
