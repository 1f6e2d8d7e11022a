// SPDX-License-Identifier: MIT

// Package rules decides whether raw detections warrant a security event.
// Evaluation is pure and synchronous so it can be tested without the
// loop or any network calls.
package rules

import "github.com/abdliliaai/visiony-guard-sub000/internal/types"

// Result holds the qualifying subset of a detection list together with
// the derived severity.
type Result struct {
	Detections []types.Detection
	Severity   types.Severity
}

// Evaluate filters detections against thresholds. A detection qualifies
// when its class is enabled and its confidence meets that class's
// minimum. The second return value reports whether an event should be
// raised; when false the Result is zero.
func Evaluate(detections []types.Detection, thresholds types.ThresholdSet) (Result, bool) {
	var qualifying []types.Detection
	maxConfidence := 0.0

	for _, d := range detections {
		if !thresholds.Allows(d.Class) {
			continue
		}
		if d.Confidence < thresholds.Min(d.Class) {
			continue
		}
		qualifying = append(qualifying, d)
		if d.Confidence > maxConfidence {
			maxConfidence = d.Confidence
		}
	}

	if len(qualifying) == 0 {
		return Result{}, false
	}

	return Result{
		Detections: qualifying,
		Severity:   types.SeverityFor(maxConfidence),
	}, true
}
