// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldDeviceID = "device_id"
	FieldTenantID = "tenant_id"
	FieldEventID  = "event_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"

	// Stream fields
	FieldSource   = "source"
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Detection fields
	FieldClass      = "class"
	FieldConfidence = "confidence"
	FieldSeverity   = "severity"
	FieldImageRef   = "image_ref"
)
