// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abdliliaai/visiony-guard-sub000/internal/types"
)

// CreateEvent inserts one event record. Events are immutable; a conflict
// on the primary key is an error rather than an upsert so a partial
// publish can never silently duplicate.
func (s *Store) CreateEvent(ctx context.Context, event types.Event) error {
	detections, err := json.Marshal(event.Detections)
	if err != nil {
		return fmt.Errorf("marshal detections: %w", err)
	}

	imageRef := sqlNullString(event.ImageRef)

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO events (id, device_id, tenant_id, type, detections, severity, image_ref, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		event.ID,
		event.DeviceID,
		event.TenantID,
		event.Type,
		detections,
		string(event.Severity),
		imageRef,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// UpsertDeviceStatus records the device's {online, lastSeen} pair.
func (s *Store) UpsertDeviceStatus(ctx context.Context, status types.DeviceStatus) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO device_status (device_id, online, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET online = $2, last_seen = $3
	`,
		status.DeviceID,
		status.Online,
		status.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert device status: %w", err)
	}

	return nil
}

// Thresholds fetches the per-class thresholds configured for a device.
// Devices without configured rows get an empty set; the evaluator then
// applies its defaults.
func (s *Store) Thresholds(ctx context.Context, deviceID string) (types.ThresholdSet, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT class, min_confidence, enabled
		FROM device_thresholds
		WHERE device_id = $1
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	set := make(types.ThresholdSet)
	for rows.Next() {
		var (
			class string
			th    types.Threshold
		)
		if err := rows.Scan(&class, &th.MinConfidence, &th.Enabled); err != nil {
			return nil, fmt.Errorf("scan threshold row: %w", err)
		}
		set[class] = th
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threshold rows: %w", err)
	}

	return set, nil
}

func sqlNullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
