// SPDX-License-Identifier: MIT

// Package publish turns a qualifying detection set into a durable event:
// snapshot first, then the event record, then a best-effort live
// broadcast.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
	"github.com/abdliliaai/visiony-guard-sub000/internal/metrics"
	"github.com/abdliliaai/visiony-guard-sub000/internal/notify"
	"github.com/abdliliaai/visiony-guard-sub000/internal/rules"
	"github.com/abdliliaai/visiony-guard-sub000/internal/types"
)

// SnapshotStore persists one frame and returns its object reference.
type SnapshotStore interface {
	Save(ctx context.Context, deviceID string, frame []byte, takenAt time.Time) (string, error)
}

// EventStore records events in the external datastore.
type EventStore interface {
	CreateEvent(ctx context.Context, event types.Event) error
}

// Broadcaster fans a notification out to live subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg notify.Notification)
}

// Publisher sequences the side effects of one qualifying tick.
type Publisher struct {
	snapshots SnapshotStore
	events    EventStore
	notifier  Broadcaster
	logger    zerolog.Logger
}

// New creates a publisher. notifier may be nil when live fan-out is
// disabled.
func New(snapshots SnapshotStore, events EventStore, notifier Broadcaster) *Publisher {
	return &Publisher{
		snapshots: snapshots,
		events:    events,
		notifier:  notifier,
		logger:    log.WithComponent("publish"),
	}
}

// Publish persists the frame as a snapshot, submits the event record and
// broadcasts the notification. Snapshot failure never blocks event
// creation: the event is submitted without an image reference. A
// datastore failure fails the tick; nothing is broadcast and no retry is
// attempted, so the event is recorded once or not at all.
func (p *Publisher) Publish(ctx context.Context, deviceID, tenantID string, result rules.Result, frame []byte) (types.Event, error) {
	occurredAt := time.Now().UTC()

	imageRef := ""
	if len(frame) > 0 {
		ref, err := p.snapshots.Save(ctx, deviceID, frame, occurredAt)
		if err != nil {
			metrics.SnapshotFailuresTotal.Inc()
			p.logger.Warn().
				Err(err).
				Str("event", "publish.snapshot_failed").
				Str(log.FieldDeviceID, deviceID).
				Msg("snapshot persistence failed, submitting event without image")
		} else {
			imageRef = ref
		}
	}

	event := types.Event{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		TenantID:   tenantID,
		Type:       types.EventTypeDetection,
		Detections: result.Detections,
		Severity:   result.Severity,
		ImageRef:   imageRef,
		OccurredAt: occurredAt,
	}

	if err := p.events.CreateEvent(ctx, event); err != nil {
		return types.Event{}, fmt.Errorf("submit event: %w", err)
	}

	metrics.EventsPublishedTotal.WithLabelValues(string(event.Severity)).Inc()
	p.logger.Info().
		Str("event", "publish.event").
		Str(log.FieldDeviceID, deviceID).
		Str(log.FieldTenantID, tenantID).
		Str(log.FieldEventID, event.ID).
		Str(log.FieldSeverity, string(event.Severity)).
		Str(log.FieldImageRef, event.ImageRef).
		Int("detections", len(event.Detections)).
		Msg("security event published")

	if p.notifier != nil {
		p.notifier.Broadcast(ctx, notify.Notification{
			DeviceID:   deviceID,
			Detections: event.Detections,
			Timestamp:  occurredAt,
		})
	}

	return event, nil
}
