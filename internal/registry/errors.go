// SPDX-License-Identifier: MIT
package registry

import "errors"

var (
	// ErrNotFound is returned by Stop when no stream is registered for
	// the device.
	ErrNotFound = errors.New("stream not found")

	// ErrInvalidSource is returned by Start when the source URI is
	// missing or malformed. Such requests never enter the registry.
	ErrInvalidSource = errors.New("invalid source URI")
)
