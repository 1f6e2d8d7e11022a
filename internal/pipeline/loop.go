// SPDX-License-Identifier: MIT

// Package pipeline runs the per-device detection loop: on each tick a
// frame is sampled, sent to the detection service, evaluated against the
// device's thresholds, and published when qualifying.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
	"github.com/abdliliaai/visiony-guard-sub000/internal/metrics"
	"github.com/abdliliaai/visiony-guard-sub000/internal/rules"
	"github.com/abdliliaai/visiony-guard-sub000/internal/types"
)

// FrameGrabber samples one still frame from a source.
type FrameGrabber interface {
	Grab(ctx context.Context, sourceURI string) ([]byte, error)
}

// Detector submits a frame to the detection service.
type Detector interface {
	Detect(ctx context.Context, frame []byte, thresholds types.ThresholdSet) ([]types.Detection, error)
}

// ThresholdSource provides the device's current thresholds, read fresh
// per tick.
type ThresholdSource interface {
	Thresholds(ctx context.Context, deviceID string) (types.ThresholdSet, error)
}

// EventPublisher records and broadcasts a qualifying detection set.
type EventPublisher interface {
	Publish(ctx context.Context, deviceID, tenantID string, result rules.Result, frame []byte) (types.Event, error)
}

// StatusWriter keeps device health state in sync with the datastore.
type StatusWriter interface {
	UpsertDeviceStatus(ctx context.Context, status types.DeviceStatus) error
}

// Deps bundles the collaborators of one detection loop.
type Deps struct {
	Grabber    FrameGrabber
	Detector   Detector
	Thresholds ThresholdSource
	Publisher  EventPublisher
	Status     StatusWriter

	// OnEvent, if set, is invoked after each published event. Used by
	// the registry to track the last snapshot reference.
	OnEvent func(types.Event)
}

// Loop drives detection ticks for a single device. Ticks for the same
// device never overlap: an overlapping tick is dropped and logged, never
// queued. Ticks for different devices are fully independent.
type Loop struct {
	deviceID  string
	tenantID  string
	sourceURI string
	interval  time.Duration
	deps      Deps
	logger    zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool

	inFlight atomic.Bool
	ticks    sync.WaitGroup
	done     chan struct{}
}

// NewLoop creates a loop; it does not tick until Run is called.
func NewLoop(deviceID, tenantID, sourceURI string, interval time.Duration, deps Deps) *Loop {
	return &Loop{
		deviceID:  deviceID,
		tenantID:  tenantID,
		sourceURI: sourceURI,
		interval:  interval,
		deps:      deps,
		logger:    log.WithDevice("pipeline", deviceID),
		done:      make(chan struct{}),
	}
}

// Run starts ticking until the context is cancelled or Stop is called.
// It returns immediately; ticking happens on internal goroutines. A loop
// that was already run, or already stopped, never starts: Stop latches
// the loop closed even when it is called before Run.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	go func() {
		defer close(l.done)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.logger.Info().
			Str("event", "loop.started").
			Dur("interval", l.interval).
			Msg("detection loop started")

		for {
			select {
			case <-ctx.Done():
				l.logger.Info().
					Str("event", "loop.stopped").
					Msg("detection loop stopped")
				return
			case <-ticker.C:
				l.dispatch(ctx)
			}
		}
	}()
}

// Stop cancels the loop and returns once no tick is in flight. After
// Stop returns no further detection tick occurs and nothing publishes,
// including from a Run that arrives late.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	started := l.started
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-l.done
	}
	l.ticks.Wait()
}

// dispatch runs one tick on its own goroutine unless the previous tick
// for this device is still in flight; in that case the tick is dropped.
func (l *Loop) dispatch(ctx context.Context) {
	if !l.inFlight.CompareAndSwap(false, true) {
		metrics.TickSkippedTotal.Inc()
		l.logger.Warn().
			Str("event", "loop.tick_skipped").
			Msg("previous tick still in flight, skipping")
		return
	}

	l.ticks.Add(1)
	go func() {
		defer l.ticks.Done()
		defer l.inFlight.Store(false)

		if err := l.tick(ctx); err != nil {
			metrics.TicksTotal.WithLabelValues("error").Inc()
			l.logger.Warn().
				Err(err).
				Str("event", "loop.tick_failed").
				Msg("detection tick failed")
			return
		}
		metrics.TicksTotal.WithLabelValues("ok").Inc()
	}()
}

// tick performs one capture -> detect -> evaluate -> publish cycle.
// Every failure here is transient: the tick is abandoned, the loop
// continues.
func (l *Loop) tick(ctx context.Context) error {
	frame, err := l.deps.Grabber.Grab(ctx, l.sourceURI)
	if err != nil {
		metrics.TickErrorsTotal.WithLabelValues("capture").Inc()
		return fmt.Errorf("capture: %w", err)
	}

	thresholds, err := l.deps.Thresholds.Thresholds(ctx, l.deviceID)
	if err != nil {
		metrics.TickErrorsTotal.WithLabelValues("thresholds").Inc()
		return fmt.Errorf("thresholds: %w", err)
	}

	detections, err := l.deps.Detector.Detect(ctx, frame, thresholds)
	if err != nil {
		metrics.TickErrorsTotal.WithLabelValues("detect").Inc()
		return fmt.Errorf("detect: %w", err)
	}

	result, raise := rules.Evaluate(detections, thresholds)
	if raise {
		// A tick that lost the race with Stop must not publish.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event, err := l.deps.Publisher.Publish(ctx, l.deviceID, l.tenantID, result, frame)
		if err != nil {
			metrics.TickErrorsTotal.WithLabelValues("publish").Inc()
			return fmt.Errorf("publish: %w", err)
		}
		if l.deps.OnEvent != nil {
			l.deps.OnEvent(event)
		}
	}

	if l.deps.Status != nil {
		status := types.DeviceStatus{
			DeviceID: l.deviceID,
			Online:   true,
			LastSeen: time.Now().UTC(),
		}
		if err := l.deps.Status.UpsertDeviceStatus(ctx, status); err != nil {
			metrics.TickErrorsTotal.WithLabelValues("status").Inc()
			return fmt.Errorf("status upsert: %w", err)
		}
	}

	return nil
}
