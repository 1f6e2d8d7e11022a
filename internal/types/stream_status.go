// SPDX-License-Identifier: MIT
package types

import (
	"encoding/json"
	"fmt"
)

// StreamStatus represents the lifecycle state of a device stream.
type StreamStatus string

// Stream status constants define all possible states of a device stream.
const (
	// StreamStarting indicates the stream entry is registered and the
	// transcode process is being launched.
	StreamStarting StreamStatus = "starting"

	// StreamRunning indicates the transcode is producing output and the
	// detection loop is ticking.
	StreamRunning StreamStatus = "running"

	// StreamError indicates the transcode process failed fatally.
	StreamError StreamStatus = "error"

	// StreamStopped indicates the stream was stopped on request.
	StreamStopped StreamStatus = "stopped"
)

// String implements fmt.Stringer.
func (s StreamStatus) String() string {
	return string(s)
}

// IsValid checks whether the stream status is valid.
func (s StreamStatus) IsValid() bool {
	switch s {
	case StreamStarting, StreamRunning, StreamError, StreamStopped:
		return true
	default:
		return false
	}
}

// IsActive checks whether the stream is in an active state.
func (s StreamStatus) IsActive() bool {
	return s == StreamStarting || s == StreamRunning
}

// IsTerminal checks whether the stream has reached a terminal state.
func (s StreamStatus) IsTerminal() bool {
	return s == StreamError || s == StreamStopped
}

// CanTransition reports whether a transition from s to next is legal.
// Transitions are monotonic within a single lifecycle:
// starting -> running -> {error|stopped}, with starting allowed to fail
// or stop directly.
func (s StreamStatus) CanTransition(next StreamStatus) bool {
	switch s {
	case StreamStarting:
		return next == StreamRunning || next == StreamError || next == StreamStopped
	case StreamRunning:
		return next == StreamError || next == StreamStopped
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s StreamStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StreamStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status := StreamStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid stream status: %q", str)
	}

	*s = status
	return nil
}

// ParseStreamStatus parses a string into a StreamStatus.
func ParseStreamStatus(s string) (StreamStatus, error) {
	status := StreamStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid stream status: %q", s)
	}
	return status, nil
}
