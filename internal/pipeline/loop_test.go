// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdliliaai/visiony-guard-sub000/internal/rules"
	"github.com/abdliliaai/visiony-guard-sub000/internal/types"
)

type stubGrabber struct {
	frame []byte
	err   error
	delay time.Duration
	calls atomic.Int64
}

func (s *stubGrabber) Grab(ctx context.Context, _ string) ([]byte, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	return s.frame, s.err
}

type stubDetector struct {
	detections []types.Detection
	err        error
}

func (s *stubDetector) Detect(context.Context, []byte, types.ThresholdSet) ([]types.Detection, error) {
	return s.detections, s.err
}

type stubThresholds struct {
	set types.ThresholdSet
	err error
}

func (s *stubThresholds) Thresholds(context.Context, string) (types.ThresholdSet, error) {
	return s.set, s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	events []types.Event
}

func (p *recordingPublisher) Publish(_ context.Context, deviceID, tenantID string, result rules.Result, _ []byte) (types.Event, error) {
	if p.err != nil {
		return types.Event{}, p.err
	}
	event := types.Event{
		ID:         "ev",
		DeviceID:   deviceID,
		TenantID:   tenantID,
		Type:       types.EventTypeDetection,
		Detections: result.Detections,
		Severity:   result.Severity,
		OccurredAt: time.Now().UTC(),
	}
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return event, nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type stubStatus struct {
	mu      sync.Mutex
	last    types.DeviceStatus
	upserts int
}

func (s *stubStatus) UpsertDeviceStatus(_ context.Context, status types.DeviceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = status
	s.upserts++
	return nil
}

func personDetection(confidence float64) []types.Detection {
	return []types.Detection{{Class: types.ClassPerson, Confidence: confidence}}
}

func TestLoop_TickPublishesQualifyingEvent(t *testing.T) {
	pub := &recordingPublisher{}
	status := &stubStatus{}
	l := NewLoop("cam-1", "tenant-1", "rtsp://src", 5*time.Millisecond, Deps{
		Grabber:    &stubGrabber{frame: []byte("jpeg")},
		Detector:   &stubDetector{detections: personDetection(0.95)},
		Thresholds: &stubThresholds{set: types.ThresholdSet{}},
		Publisher:  pub,
		Status:     status,
	})

	l.Run(context.Background())
	require.Eventually(t, func() bool { return pub.count() > 0 }, time.Second, 5*time.Millisecond)
	l.Stop()

	pub.mu.Lock()
	first := pub.events[0]
	pub.mu.Unlock()
	assert.Equal(t, "cam-1", first.DeviceID)
	assert.Equal(t, "tenant-1", first.TenantID)
	assert.Equal(t, types.SeverityHigh, first.Severity)

	status.mu.Lock()
	defer status.mu.Unlock()
	assert.Positive(t, status.upserts)
	assert.True(t, status.last.Online)
}

func TestLoop_NoEventBelowThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	grabber := &stubGrabber{frame: []byte("jpeg")}
	l := NewLoop("cam-1", "t1", "rtsp://src", 5*time.Millisecond, Deps{
		Grabber:    grabber,
		Detector:   &stubDetector{detections: personDetection(0.3)},
		Thresholds: &stubThresholds{set: types.ThresholdSet{}},
		Publisher:  pub,
	})

	l.Run(context.Background())
	require.Eventually(t, func() bool { return grabber.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	l.Stop()

	assert.Zero(t, pub.count())
}

func TestLoop_OverlappingTickDropped(t *testing.T) {
	// Captures take far longer than the tick interval, so most ticks
	// must be dropped rather than queued.
	grabber := &stubGrabber{frame: []byte("jpeg"), delay: 200 * time.Millisecond}
	pub := &recordingPublisher{}
	l := NewLoop("cam-1", "t1", "rtsp://src", 10*time.Millisecond, Deps{
		Grabber:    grabber,
		Detector:   &stubDetector{},
		Thresholds: &stubThresholds{set: types.ThresholdSet{}},
		Publisher:  pub,
	})

	l.Run(context.Background())
	time.Sleep(150 * time.Millisecond)
	l.Stop()

	assert.LessOrEqual(t, grabber.calls.Load(), int64(2))
}

func TestLoop_TransientErrorDoesNotStopLoop(t *testing.T) {
	grabber := &stubGrabber{err: errors.New("connection reset")}
	l := NewLoop("cam-1", "t1", "rtsp://src", 5*time.Millisecond, Deps{
		Grabber:    grabber,
		Detector:   &stubDetector{},
		Thresholds: &stubThresholds{set: types.ThresholdSet{}},
		Publisher:  &recordingPublisher{},
	})

	l.Run(context.Background())
	require.Eventually(t, func() bool { return grabber.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	l.Stop()
}

func TestLoop_NoPublishAfterStop(t *testing.T) {
	// A tick that is still capturing when Stop is called must not
	// publish after Stop returns.
	grabber := &stubGrabber{frame: []byte("jpeg"), delay: 50 * time.Millisecond}
	pub := &recordingPublisher{}
	l := NewLoop("cam-1", "t1", "rtsp://src", 5*time.Millisecond, Deps{
		Grabber:    grabber,
		Detector:   &stubDetector{detections: personDetection(0.95)},
		Thresholds: &stubThresholds{set: types.ThresholdSet{}},
		Publisher:  pub,
	})

	l.Run(context.Background())
	require.Eventually(t, func() bool { return grabber.calls.Load() >= 1 }, time.Second, time.Millisecond)
	l.Stop()

	published := pub.count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, published, pub.count())
}

func TestLoop_StopBeforeRun(t *testing.T) {
	l := NewLoop("cam-1", "t1", "rtsp://src", time.Second, Deps{})
	// Must not block or panic.
	l.Stop()
}

func TestLoop_RunAfterStopNeverTicks(t *testing.T) {
	// Stop latches the loop closed: a Run that loses the race and
	// arrives after Stop has returned must not start ticking.
	grabber := &stubGrabber{frame: []byte("jpeg")}
	pub := &recordingPublisher{}
	l := NewLoop("cam-1", "t1", "rtsp://src", 5*time.Millisecond, Deps{
		Grabber:    grabber,
		Detector:   &stubDetector{detections: personDetection(0.95)},
		Thresholds: &stubThresholds{set: types.ThresholdSet{}},
		Publisher:  pub,
	})

	l.Stop()
	l.Run(context.Background())

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, grabber.calls.Load())
	assert.Zero(t, pub.count())

	// Stop stays safe to call again after the refused Run.
	l.Stop()
}

func TestLoop_RunTwiceIsNoop(t *testing.T) {
	grabber := &stubGrabber{frame: []byte("jpeg")}
	l := NewLoop("cam-1", "t1", "rtsp://src", 5*time.Millisecond, Deps{
		Grabber:    grabber,
		Detector:   &stubDetector{},
		Thresholds: &stubThresholds{set: types.ThresholdSet{}},
		Publisher:  &recordingPublisher{},
	})

	ctx := context.Background()
	l.Run(ctx)
	l.Run(ctx)
	require.Eventually(t, func() bool { return grabber.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	l.Stop()
}
